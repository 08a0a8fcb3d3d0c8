package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults for the dance and outbound HTTP.
const (
	DefaultDanceTTL      = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultHTTPTimeout   = 30 * time.Second
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server     ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Dance      DanceConfig         `yaml:"dance" envPrefix:"DANCE_"`
	HTTPClient HTTPClientConfig    `yaml:"http_client" envPrefix:"HTTP_CLIENT_"`
	Providers  map[string]Provider `yaml:"providers,omitempty"`
	Telemetry  TelemetryConfig     `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	// PublicURL, when set, is the base of the redirect_uri sent to
	// providers. Otherwise it is derived from each request.
	PublicURL         string    `yaml:"public_url" env:"PUBLIC_URL"`
	ListenAddr        string    `yaml:"listen_addr" env:"LISTEN_ADDR"`
	HTTPListenAddr    string    `yaml:"http_listen_addr" env:"HTTP_LISTEN_ADDR"`
	HTTPSListenAddr   string    `yaml:"https_listen_addr" env:"HTTPS_LISTEN_ADDR"`
	DevMode           bool      `yaml:"dev_mode" env:"DEV_MODE"`
	CookieDomain      string    `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	TrustProxyHeaders bool      `yaml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS"`
	TLS               TLSConfig `yaml:"tls" envPrefix:"TLS_"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains    []string `yaml:"domains" env:"DOMAINS" envSeparator:","`
	Email      string   `yaml:"email" env:"EMAIL"`
	CacheDir   string   `yaml:"cache_dir" env:"CACHE_DIR"`
	HSTSMaxAge int      `yaml:"hsts_max_age" env:"HSTS_MAX_AGE"`
}

// DanceConfig controls how dance state survives between initiate and callback.
type DanceConfig struct {
	// StateMode is "session" (server-side, one signed cookie) or "cookies"
	// (four plain cookies, including the client secret).
	StateMode     string        `yaml:"state_mode" env:"STATE_MODE"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	CookieSecret  string        `yaml:"cookie_secret" env:"COOKIE_SECRET"`
}

// HTTPClientConfig bounds calls to providers.
type HTTPClientConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

const envPrefix = "MEODANCE_"

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8008",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				CacheDir:   ".secrets/tls",
				HSTSMaxAge: 31536000,
			},
		},
		Dance: DanceConfig{
			StateMode:     StateModeSession,
			TTL:           DefaultDanceTTL,
			SweepInterval: DefaultSweepInterval,
		},
		HTTPClient: HTTPClientConfig{
			Timeout: DefaultHTTPTimeout,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "meodance",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// applyEnvOverrides sets any field whose MEODANCE_* variable is present.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must be an absolute http(s) URL")
			return fmt.Errorf("server.public_url must be an absolute http:// or https:// URL, got: %s", c.Server.PublicURL)
		}
	}

	if c.Server.DevMode && c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required in dev mode")
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	switch c.Dance.StateMode {
	case StateModeSession, StateModeCookies:
	default:
		slog.Error("Invalid dance state mode", "field", "dance.state_mode", "value", c.Dance.StateMode, "valid_values", []string{StateModeSession, StateModeCookies})
		return fmt.Errorf("dance.state_mode must be %q or %q, got: %q", StateModeSession, StateModeCookies, c.Dance.StateMode)
	}

	if c.Dance.TTL <= 0 {
		return fmt.Errorf("dance.ttl must be positive, got: %s", c.Dance.TTL)
	}

	if c.HTTPClient.Timeout <= 0 {
		return fmt.Errorf("http_client.timeout must be positive, got: %s", c.HTTPClient.Timeout)
	}

	if c.Dance.StateMode == StateModeSession && c.Dance.CookieSecret != "" && len(c.Dance.CookieSecret) < 32 {
		return errors.New("dance.cookie_secret must be at least 32 bytes")
	}

	for name, p := range c.Providers {
		for field, raw := range map[string]string{"authorize_url": p.AuthorizeURL, "token_url": p.TokenURL} {
			if raw == "" {
				continue
			}
			if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
				return fmt.Errorf("providers.%s.%s must start with http:// or https://, got: %s", name, field, raw)
			}
		}
	}

	if c.Server.CookieDomain != "" && c.Server.PublicURL != "" {
		u, _ := url.Parse(c.Server.PublicURL)
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(u.Hostname(), cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", u.Hostname(),
				"reason", "cookie_domain must be a suffix of public_url domain")
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, u.Hostname())
		}
	}

	return nil
}
