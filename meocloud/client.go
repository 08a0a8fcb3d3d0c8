// Package meocloud is a small REST client for the MeoCloud and Dropbox v1
// storage APIs, bound to one access token and one root namespace.
package meocloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meodance/httpclient"
)

const maxErrorBody = 4 << 10

var tracer = otel.Tracer("meodance/meocloud")

// Client talks to the storage API on behalf of one access token.
type Client struct {
	token     string
	endpoints Endpoints
	http      *http.Client
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints selects the provider and root namespace.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

// WithHTTPClient overrides the HTTP client. The legacy media-type filter is
// installed on it.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = httpclient.Wrap(h) }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the MeoCloud sandbox unless overridden.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		token:     accessToken,
		endpoints: MeoCloudEndpoints(true),
		http:      httpclient.New(0),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the endpoints the client is bound to.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// GetAccountInfo fetches the account snapshot.
func (c *Client) GetAccountInfo(ctx context.Context) (info *AccountInfo, err error) {
	ctx, span := tracer.Start(ctx, "meocloud.GetAccountInfo")
	defer func() { endSpan(span, err) }()

	resp, err := c.do(ctx, http.MethodGet, c.endpoints.AccountInfo, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read account info: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &APIError{Op: "account info", StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	return decodeAccountInfo(body)
}

// decodeAccountInfo keeps the uid as its raw digits and decodes the rest
// without it, so uids beyond int64 do not break decoding.
func decodeAccountInfo(body []byte) (*AccountInfo, error) {
	var uid string
	if res := gjson.GetBytes(body, "uid"); res.Exists() {
		uid = res.Raw
		if res.Type == gjson.String {
			uid = res.Str
		}
		stripped, err := sjson.DeleteBytes(body, "uid")
		if err != nil {
			return nil, fmt.Errorf("strip uid: %w", err)
		}
		body = stripped
	}

	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	info.UID = uid
	return &info, nil
}

// CreateDirectory creates path. With createParents every missing ancestor is
// created first, top-down. An already existing directory is not an error.
func (c *Client) CreateDirectory(ctx context.Context, path string, createParents bool) (err error) {
	if err := validatePath(path); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "meocloud.CreateDirectory",
		trace.WithAttributes(attribute.String("meocloud.path", path), attribute.Bool("meocloud.create_parents", createParents)))
	defer func() { endSpan(span, err) }()

	if createParents {
		for _, dir := range ancestors(path) {
			if err := c.createFolder(ctx, dir); err != nil {
				return err
			}
		}
	}
	return c.createFolder(ctx, path)
}

func (c *Client) createFolder(ctx context.Context, path string) error {
	form := url.Values{}
	form.Set("root", c.endpoints.Root)
	form.Set("path", path)

	resp, err := c.do(ctx, http.MethodPost, c.endpoints.CreateFolder, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 200 created it, 403 means it already existed.
	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("meocloud.create_folder", "path", path, "status", resp.StatusCode)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: "create directory", Path: path, StatusCode: resp.StatusCode, Body: string(body)}
}

// Upload stores content at path and returns the new revision's metadata.
func (c *Client) Upload(ctx context.Context, path string, content io.Reader, opts UploadOptions) (md *Metadata, err error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "meocloud.Upload",
		trace.WithAttributes(attribute.String("meocloud.path", path), attribute.Bool("meocloud.overwrite", opts.Overwrite)))
	defer func() { endSpan(span, err) }()

	if opts.CreateParents {
		if dir := parentDir(path); dir != "" {
			if err := c.CreateDirectory(ctx, dir, true); err != nil {
				return nil, err
			}
		}
	}

	overwrite := opts.Overwrite
	parentRev := opts.ParentRevision
	if overwrite && parentRev == "" {
		current, err := c.GetMetadata(ctx, path)
		if err != nil {
			return nil, err
		}
		if current != nil {
			parentRev = current.Revision
		} else {
			// Nothing to conflict with.
			overwrite = false
		}
	}

	target := c.endpoints.Files + escapePath(path)
	if overwrite {
		target += "?overwrite=true&parent_rev=" + url.QueryEscape(parentRev)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.do(ctx, http.MethodPut, target, content, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Op: "upload", Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out Metadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload metadata: %w", err)
	}
	c.logger.Debug("meocloud.upload", "path", path, "bytes", out.Size, "rev", out.Revision)
	return &out, nil
}

// GetMetadata returns the metadata for path, or nil when it does not exist.
func (c *Client) GetMetadata(ctx context.Context, path string) (md *Metadata, err error) {
	if err := validateMetadataPath(path); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "meocloud.GetMetadata", trace.WithAttributes(attribute.String("meocloud.path", path)))
	defer func() { endSpan(span, err) }()

	target := c.endpoints.Metadata + escapePath(path)
	if path == "/" {
		target = c.endpoints.Metadata + "/"
	}

	resp, err := c.do(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Op: "metadata", Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out Metadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(target), err)
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

// redact drops the query string, which may carry revisions.
func redact(target string) string {
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return target[:idx]
	}
	return target
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", apiErr.StatusCode))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
