package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the dance endpoints and the static front-end.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(TraceContextMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Post(dancePath, a.handleDance)
	r.Get(callbackPath, a.handleCallback)

	r.Get("/healthz", a.handleHealth)
	r.Get("/providers", a.handleProviders)

	r.Handle("/*", staticHandler())

	return r
}
