package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meodance/server"
)

func stubRegistry(authorizeURL string) *server.Registry {
	return server.NewRegistry(server.Provider{
		Name:         "stub",
		AuthorizeURL: authorizeURL,
		TokenURL:     authorizeURL + "/token",
	})
}

func TestRunConnectSuccess(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			gotClientID = r.URL.Query().Get("client_id")
			http.Redirect(w, r, "/login", http.StatusFound)
		case "/login":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("login"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := server.DefaultConfig()

	if err := runConnect(context.Background(), cfg, logger, stubRegistry(srv.URL+"/start"), "stub", "abc", nil); err != nil {
		t.Fatalf("runConnect returned error: %v", err)
	}
	if gotClientID != "abc" {
		t.Fatalf("client_id = %q, want abc", gotClientID)
	}
}

func TestRunConnectFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := server.DefaultConfig()

	if err := runConnect(context.Background(), cfg, logger, stubRegistry(srv.URL), "stub", connectClientID, nil); err == nil {
		t.Fatalf("expected error but got nil")
	}
}

func TestRunConnectMissingProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := server.DefaultConfig()

	if err := runConnect(context.Background(), cfg, logger, server.NewRegistry(), "missing", connectClientID, nil); err == nil {
		t.Fatalf("expected error for missing provider")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestRunSetupWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// dev mode, default listen address, explicit public URL, legacy cookies.
	input := "y\n\nhttp://localhost:8008/\nn\n"
	cfg, err := runSetup(bufio.NewReader(strings.NewReader(input)), path, logger)
	if err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.Server.PublicURL != "http://localhost:8008" {
		t.Fatalf("public_url = %q", cfg.Server.PublicURL)
	}
	if cfg.Dance.StateMode != server.StateModeCookies {
		t.Fatalf("state_mode = %q, want cookies", cfg.Dance.StateMode)
	}
	if cfg.Dance.TTL != server.DefaultDanceTTL {
		t.Fatalf("ttl did not round-trip: %s", cfg.Dance.TTL)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), logger)
	if err == nil || !strings.Contains(err.Error(), "-config-cmd=init") {
		t.Fatalf("expected init hint, got %v", err)
	}
}

func TestNormalizeList(t *testing.T) {
	got := normalizeList(" a.example.com, ,b.example.com ", nil)
	if len(got) != 2 || got[0] != "a.example.com" || got[1] != "b.example.com" {
		t.Fatalf("normalizeList = %v", got)
	}
	if got := normalizeList("  ", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("fallback not used: %v", got)
	}
}
