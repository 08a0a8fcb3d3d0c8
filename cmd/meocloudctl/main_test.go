package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meodance/meocloud"
)

func runCLI(t *testing.T, handler http.HandlerFunc, stdin string, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	c := newCLI(strings.NewReader(stdin), &out)
	c.newClient = func(opts globalOptions, logger *slog.Logger) (*meocloud.Client, error) {
		return meocloud.NewClient(opts.token,
			meocloud.WithEndpoints(meocloud.Endpoints{
				Root:         "sandbox",
				AccountInfo:  srv.URL + "/1/Account/Info",
				CreateFolder: srv.URL + "/1/Fileops/CreateFolder",
				Files:        srv.URL + "/1/Files/sandbox",
				Metadata:     srv.URL + "/1/Metadata/sandbox",
			}),
			meocloud.WithHTTPClient(srv.Client()),
			meocloud.WithLogger(logger),
		), nil
	}

	root := c.rootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--token", "tok"}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestAccountCommand(t *testing.T) {
	out, err := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/Account/Info", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"display_name":"Rui","uid":20421111,"quota_info":{"quota":34225520640,"normal":11646663417}}`)
	}, "", "account")

	require.NoError(t, err)
	assert.Equal(t, "Rui total=32 GiB used=11 GiB (34.029 %)\n", out)
}

func TestUploadCommandFromStdin(t *testing.T) {
	var gotBody, gotType, gotPath string
	out, err := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			gotType = r.Header.Get("Content-Type")
			gotPath = r.URL.Path
			_, _ = io.WriteString(w, `{"bytes":16,"rev":"r1","path":"/public/test.txt"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}, "Hello, World 33!", "upload", "-", "/public/test.txt")

	require.NoError(t, err)
	assert.Equal(t, "Hello, World 33!", gotBody)
	assert.Equal(t, "/1/Files/sandbox/public/test.txt", gotPath)
	assert.True(t, strings.HasPrefix(gotType, "text/plain"), gotType)
	assert.Equal(t, "file /public/test.txt 16 B rev=r1\n", out)
}

func TestStatCommandNotFound(t *testing.T) {
	_, err := runCLI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, "", "stat", "/missing.txt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMkdirCommandRequiresToken(t *testing.T) {
	t.Setenv(tokenEnv, "")
	c := newCLI(strings.NewReader(""), io.Discard)
	root := c.rootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"mkdir", "/a"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), tokenEnv)
}

func TestDefaultClientRejectsUnknownProvider(t *testing.T) {
	_, err := defaultClient(globalOptions{token: "tok", provider: "gdrive"}, slog.Default())
	require.Error(t, err)
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "34.029", formatPercent(34.02896))
	assert.Equal(t, "50", formatPercent(50))
	assert.Equal(t, "0", formatPercent(0))
}

func TestFormatMetadataDir(t *testing.T) {
	assert.Equal(t, "dir /a rev=x", formatMetadata(&meocloud.Metadata{Path: "/a", IsDir: true, Revision: "x"}))
}

func TestGuessContentType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", guessContentType("-", "/noext"))
	assert.True(t, strings.HasPrefix(guessContentType("-", "/a/b.txt"), "text/plain"))
}
