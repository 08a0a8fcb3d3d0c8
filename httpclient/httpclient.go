// Package httpclient builds the outbound HTTP clients used to talk to OAuth
// providers and storage APIs.
package httpclient

import (
	"mime"
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// legacyJSONMediaTypes are served by older Dropbox endpoints for JSON bodies.
var legacyJSONMediaTypes = map[string]bool{
	"text/javascript": true,
}

// LegacyJSONTransport rewrites legacy JSON media types on responses to
// application/json before any caller sees them.
type LegacyJSONTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *LegacyJSONTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return resp, nil
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || !legacyJSONMediaTypes[mediaType] {
		return resp, nil
	}
	resp.Header.Set("Content-Type", mime.FormatMediaType("application/json", params))
	return resp, nil
}

// New returns a client with the legacy media-type filter installed and the
// given timeout. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &LegacyJSONTransport{Base: http.DefaultTransport},
	}
}

// Wrap installs the legacy media-type filter on an existing client, keeping
// its timeout and redirect policy. A nil client yields New(0).
func Wrap(client *http.Client) *http.Client {
	if client == nil {
		return New(0)
	}
	if _, ok := client.Transport.(*LegacyJSONTransport); ok {
		return client
	}
	wrapped := *client
	wrapped.Transport = &LegacyJSONTransport{Base: client.Transport}
	return &wrapped
}
