package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const anyClientError = -1

// TestSecurityMalformedRequests checks that hostile input never produces a 5xx.
func TestSecurityMalformedRequests(t *testing.T) {
	app := newTestApp(t, StateModeSession, "http://127.0.0.1:1/token")

	tests := []struct {
		name           string
		method         string
		path           string
		headers        map[string]string
		body           string
		expectedStatus int
	}{
		{
			name:           "extremely_long_header",
			method:         "GET",
			path:           "/healthz",
			headers:        map[string]string{"X-Custom-Header": strings.Repeat("A", 100000)},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "dance_via_get",
			method:         "GET",
			path:           "/dance",
			expectedStatus: anyClientError,
		},
		{
			name:           "callback_via_post",
			method:         "POST",
			path:           "/callback?code=c&state=s",
			expectedStatus: anyClientError,
		},
		{
			name:           "text_plain_dance",
			method:         "POST",
			path:           "/dance",
			headers:        map[string]string{"Content-Type": "text/plain"},
			body:           "provider=meo",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "oversized_dance_body",
			method:         "POST",
			path:           "/dance",
			headers:        map[string]string{"Content-Type": "application/json"},
			body:           `{"provider":"` + strings.Repeat("m", maxDanceBody+1) + `"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "script_in_provider",
			method:         "POST",
			path:           "/dance",
			headers:        map[string]string{"Content-Type": "application/json"},
			body:           `{"provider":"<script>","credentials":{"clientId":"a","clientSecret":"b"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "excessive_url_encoding",
			method:         "GET",
			path:           "/callback?state=%25%32%35%32%35%32%35&code=x",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			app.Routes().ServeHTTP(w, req)

			if w.Code >= 500 {
				t.Fatalf("server error %d, should handle gracefully", w.Code)
			}
			if tt.expectedStatus == anyClientError {
				if w.Code < 400 {
					t.Fatalf("expected a 4xx, got %d", w.Code)
				}
				return
			}
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

// TestSecurityFakeCookies ensures forged legacy cookies cannot skip the CSRF check.
func TestSecurityFakeCookies(t *testing.T) {
	ts := newTokenServer(t, grantToken)
	app := newTestApp(t, StateModeCookies, ts.srv.URL+"/token")

	tests := []struct {
		name  string
		state string
		csrf  string
	}{
		{name: "state_without_cookie", state: "abc"},
		{name: "cookie_without_state", csrf: "abc"},
		{name: "prefix_match", state: "abc", csrf: "abcd"},
		{name: "case_mismatch", state: "ABC", csrf: "abc"},
		{name: "sql_injection", state: "' OR '1'='1", csrf: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cookies := []*http.Cookie{
				{Name: "clientId", Value: "abc"},
				{Name: "clientSecret", Value: "xyz"},
				{Name: "provider", Value: "meo"},
			}
			if tt.csrf != "" {
				cookies = append(cookies, &http.Cookie{Name: "csfr", Value: tt.csrf})
			}
			w := callback(app, "code=c&state="+url.QueryEscape(tt.state), cookies)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
	if len(ts.calls()) != 0 {
		t.Fatalf("forged cookies reached the token endpoint")
	}
}

// TestSecurityForwardedHostIgnoredByDefault guards the redirect_uri against
// spoofed proxy headers.
func TestSecurityForwardedHostIgnoredByDefault(t *testing.T) {
	app := newTestApp(t, StateModeSession, "http://127.0.0.1:1/token")

	req := httptest.NewRequest(http.MethodPost, "/dance", strings.NewReader(abcDance))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Host", "evil.example")
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, req)

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Query().Get("redirect_uri"); strings.Contains(got, "evil.example") {
		t.Fatalf("redirect_uri follows untrusted header: %q", got)
	}
}

// TestSecurityRandomnessQuality checks CSRF tokens do not repeat.
func TestSecurityRandomnessQuality(t *testing.T) {
	seen := make(map[string]bool)
	iterations := 1000

	for i := 0; i < iterations; i++ {
		token, err := GenerateCSRFToken()
		if err != nil {
			t.Fatalf("GenerateCSRFToken failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token detected: %s", token)
		}
		seen[token] = true
	}
}

// TestSecurityInformationDisclosure checks secrets never appear in redirects or error bodies.
func TestSecurityInformationDisclosure(t *testing.T) {
	app := newTestApp(t, StateModeSession, "http://127.0.0.1:1/token")

	w := startDance(t, app, abcDance)
	if strings.Contains(w.Header().Get("Location"), "xyz") {
		t.Fatalf("client secret leaked into authorize URL")
	}

	w = startDance(t, app, `{"provider":"nope","credentials":{"clientId":"abc","clientSecret":"xyz"}}`)
	if strings.Contains(w.Body.String(), "xyz") {
		t.Fatalf("client secret leaked into error body")
	}
}

func TestSecurityHeadersInProduction(t *testing.T) {
	app := newTestApp(t, StateModeSession, "http://127.0.0.1:1/token")
	app.Config.Server.DevMode = false
	app.Config.Server.TLS.HSTSMaxAge = 600

	req := httptest.NewRequest(http.MethodGet, "https://dance.example.org/healthz", nil)
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=600; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	app := newTestApp(t, StateModeSession, "http://127.0.0.1:1/token")
	h := RecoveryMiddleware(app.Logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
