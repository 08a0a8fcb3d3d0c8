package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"meodance/httpclient"
)

const (
	dancePath    = "/dance"
	callbackPath = "/callback"

	maxDanceBody = 64 << 10
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config     Config
	Logger     *slog.Logger
	Store      *InMemoryStore
	Providers  *Registry
	DanceState DanceStateStore
	Exchanger  TokenExchanger
}

// NewApp wires together the application state from configuration. ctx bounds
// background work such as the expired-dance sweeper.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	store := NewInMemoryStore()

	providers, err := BuildRegistry(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	danceState, err := NewDanceStateStore(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Dance.StateMode != StateModeCookies {
		store.StartSweeper(ctx, cfg.Dance.SweepInterval)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Providers:  providers,
		DanceState: danceState,
		Exchanger:  NewOAuth2Exchanger(httpclient.New(cfg.HTTPClient.Timeout), logger),
	}, nil
}

func (a *App) handleDance(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDanceRequest(w, r)
	if err != nil {
		a.Logger.Warn("dance invalid request", "error", err)
		http.Error(w, "invalid dance request", http.StatusBadRequest)
		return
	}

	provider, err := a.Providers.Lookup(req.Provider)
	if err != nil {
		a.Logger.Warn("dance unknown provider", "provider", req.Provider)
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}

	creds := req.Credentials
	if creds.ClientID == "" || creds.ClientSecret == "" {
		http.Error(w, "credentials required", http.StatusBadRequest)
		return
	}

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		a.Logger.Error("csrf token", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	redirectURI := a.callbackURL(r)
	authorizeURL := a.Exchanger.AuthCodeURL(provider, creds.ClientID, redirectURI, csrfToken)

	state := DanceState{
		CSRFToken:    csrfToken,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Provider:     provider.Name,
	}
	if err := a.DanceState.Save(w, r, state); err != nil {
		a.Logger.Error("dance save state", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	a.Logger.Info("dance.start", "provider", provider.Name, "redirect_uri", redirectURI)
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := a.DanceState.Load(r)
	a.DanceState.Clear(w, r)

	q := r.URL.Query()
	code := q.Get("code")
	returnedState := q.Get("state")

	if state.CSRFToken == "" || subtle.ConstantTimeCompare([]byte(state.CSRFToken), []byte(returnedState)) != 1 {
		a.Logger.Warn("dance.callback rejected", "reason", "csrf")
		http.Error(w, "Possible CSRF attack.", http.StatusUnauthorized)
		return
	}

	if state.ClientID == "" || state.ClientSecret == "" {
		a.Logger.Warn("dance.callback rejected", "reason", "credentials")
		http.Error(w, "No credentials.", http.StatusUnauthorized)
		return
	}

	if state.Provider == "" {
		a.Logger.Warn("dance.callback rejected", "reason", "provider")
		http.Error(w, "No provider.", http.StatusUnauthorized)
		return
	}

	provider, err := a.Providers.Lookup(state.Provider)
	if err != nil {
		// Only registered providers are ever saved at initiate.
		a.Logger.Error("dance.callback provider vanished", "provider", state.Provider, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	creds := Credentials{ClientID: state.ClientID, ClientSecret: state.ClientSecret}
	redirectURI := a.callbackURL(r)

	// The exchange outlives a dropped browser connection; the code is single
	// use and the outcome is logged either way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.Config.HTTPClient.Timeout)
	defer cancel()

	result, err := a.Exchanger.Exchange(ctx, provider, creds, redirectURI, code)
	if err != nil {
		var tokenErr *ProviderTokenError
		if errors.As(err, &tokenErr) {
			a.Logger.Warn("dance.exchange rejected",
				"provider", provider.Name,
				"upstream_status", tokenErr.StatusCode,
				"error", tokenErr.ErrorCode,
				"error_description", tokenErr.ErrorDescription,
			)
			writeJSONStatus(w, http.StatusInternalServerError, providerErrorBody{
				Error:            tokenErr.ErrorCode,
				ErrorDescription: tokenErr.ErrorDescription,
			})
			return
		}
		a.Logger.Error("dance.exchange failed", "provider", provider.Name, "error", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	a.Logger.Info("dance.exchange", "provider", provider.Name, "token_type", result.TokenType)
	writeJSON(w, result)
}

func (a *App) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"providers": a.Providers.Names()})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// callbackURL is the absolute redirect_uri. initiate and callback must agree
// on it byte for byte.
func (a *App) callbackURL(r *http.Request) string {
	if a.Config.Server.PublicURL != "" {
		return strings.TrimSuffix(a.Config.Server.PublicURL, "/") + callbackPath
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if a.Config.Server.TrustProxyHeaders {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
			host = fwdHost
		}
	}
	return scheme + "://" + host + callbackPath
}

// decodeDanceRequest accepts the JSON body or the equivalent HTML form.
func decodeDanceRequest(w http.ResponseWriter, r *http.Request) (DanceRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDanceBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return DanceRequest{}, fmt.Errorf("parse form: %w", err)
		}
		return DanceRequest{
			Provider: r.PostForm.Get("provider"),
			Credentials: Credentials{
				ClientID:     r.PostForm.Get("clientId"),
				ClientSecret: r.PostForm.Get("clientSecret"),
			},
		}, nil
	}

	var req DanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return DanceRequest{}, fmt.Errorf("decode json: %w", err)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
