// Command meocloudctl drives the storage client with an access token
// obtained from a meodance dance.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meodance/httpclient"
	"meodance/meocloud"
)

const tokenEnv = "MEOCLOUD_ACCESS_TOKEN"

type globalOptions struct {
	token    string
	provider string
	sandbox  bool
	timeout  time.Duration
	logLevel string
}

type cli struct {
	opts globalOptions
	in   io.Reader
	out  io.Writer
	// newClient is swapped in tests to point at a fake API.
	newClient func(opts globalOptions, logger *slog.Logger) (*meocloud.Client, error)
}

func main() {
	root := newCLI(os.Stdin, os.Stdout).rootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newCLI(in io.Reader, out io.Writer) *cli {
	return &cli{in: in, out: out, newClient: defaultClient}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meocloudctl",
		Short:         "MeoCloud and Dropbox storage operations",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.token, "token", os.Getenv(tokenEnv), "Bearer access token (defaults to $"+tokenEnv+")")
	flags.StringVar(&c.opts.provider, "provider", "meo", "Storage provider: meo, meo-dev or dropbox")
	flags.BoolVar(&c.opts.sandbox, "sandbox", true, "Use the application sandbox root instead of the full account root")
	flags.DurationVar(&c.opts.timeout, "timeout", httpclient.DefaultTimeout, "Per-request timeout")
	flags.StringVarP(&c.opts.logLevel, "log-level", "l", "warn", "Logging level (debug, info, warn, error)")

	root.AddCommand(c.accountCmd(), c.mkdirCmd(), c.uploadCmd(), c.statCmd())
	return root
}

func defaultClient(opts globalOptions, logger *slog.Logger) (*meocloud.Client, error) {
	if opts.token == "" {
		return nil, fmt.Errorf("access token required: pass --token or set %s", tokenEnv)
	}
	endpoints, ok := meocloud.EndpointsFor(opts.provider, opts.sandbox)
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", opts.provider)
	}
	return meocloud.NewClient(opts.token,
		meocloud.WithEndpoints(endpoints),
		meocloud.WithHTTPClient(httpclient.New(opts.timeout)),
		meocloud.WithLogger(logger),
	), nil
}

func (c *cli) client() (*meocloud.Client, error) {
	level, err := parseLogLevel(c.opts.logLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return c.newClient(c.opts, logger)
}

func (c *cli) accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show account name and quota usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			info, err := client.GetAccountInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, formatAccount(info))
			return nil
		},
	}
}

func (c *cli) mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			if err := client.CreateDirectory(cmd.Context(), args[0], parents); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "created %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent directories")
	return cmd
}

func (c *cli) uploadCmd() *cobra.Command {
	var opts meocloud.UploadOptions
	cmd := &cobra.Command{
		Use:   "upload <local|-> <remote>",
		Short: "Upload a local file (or stdin) to a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}

			local, remote := args[0], args[1]
			content, closeFn, err := c.openLocal(local)
			if err != nil {
				return err
			}
			defer closeFn()

			if opts.ContentType == "" {
				opts.ContentType = guessContentType(local, remote)
			}

			md, err := client.Upload(cmd.Context(), remote, content, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, formatMetadata(md))
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&opts.CreateParents, "parents", "p", false, "Create missing parent directories")
	f.BoolVar(&opts.Overwrite, "overwrite", false, "Replace an existing file")
	f.StringVar(&opts.ParentRevision, "rev", "", "Only overwrite if the remote file is at this revision")
	f.StringVar(&opts.ContentType, "content-type", "", "Content type sent with the upload")
	return cmd
}

func (c *cli) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata for a remote path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			md, err := client.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if md == nil {
				return fmt.Errorf("%s: not found", args[0])
			}
			fmt.Fprintln(c.out, formatMetadata(md))
			return nil
		},
	}
}

func (c *cli) openLocal(name string) (io.Reader, func(), error) {
	if name == "-" {
		return c.in, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// formatAccount renders the same summary line the original demo logged.
func formatAccount(info *meocloud.AccountInfo) string {
	return fmt.Sprintf("%s total=%s used=%s (%s %%)",
		info.DisplayName,
		humanize.IBytes(uint64(max(info.Quota.Quota, 0))),
		humanize.IBytes(uint64(max(info.Quota.Normal, 0))),
		formatPercent(info.Quota.UsedPercent()),
	)
}

// formatPercent rounds to at most three decimals and drops trailing zeros.
func formatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(p*1000)/1000, 'f', -1, 64)
}

func formatMetadata(md *meocloud.Metadata) string {
	kind := "file"
	if md.IsDir {
		kind = "dir"
	}
	parts := []string{kind, md.Path}
	if !md.IsDir {
		parts = append(parts, humanize.IBytes(uint64(max(md.Size, 0))))
	}
	if md.Revision != "" {
		parts = append(parts, "rev="+md.Revision)
	}
	if md.Modified != "" {
		parts = append(parts, "modified="+md.Modified)
	}
	return strings.Join(parts, " ")
}

func guessContentType(local, remote string) string {
	for _, name := range []string{remote, local} {
		if ext := path.Ext(filepath.ToSlash(name)); ext != "" {
			if ct := mime.TypeByExtension(ext); ct != "" {
				return ct
			}
		}
	}
	return "application/octet-stream"
}

func parseLogLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, errors.New("unknown log level")
	}
	return level, nil
}

