// Package server exposes the relay over HTTP: the sync socket, the operator
// API and the Prometheus scrape endpoint. The operator API requires a bearer
// token whose role the Casbin policy allows on the requested path.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/auth/authorization"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
)

// ConnectionStats reports live connection counts.
type ConnectionStats interface {
	Stats() (connections, users int)
}

// Authenticator resolves bearer tokens to their stored records.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*api.TokenRecord, error)
}

// Authorizer decides whether a role may act on a request path.
type Authorizer interface {
	Enforce(role authorization.Role, object string, action authorization.Action) (bool, error)
}

// Dependencies are the collaborators served by the Router.
type Dependencies struct {
	Sockets       http.Handler
	Registry      ConnectionStats
	DeadLetters   database.DeadLetterRepository
	Authenticator Authenticator
	Authorizer    Authorizer
	Metrics       http.Handler
	Logger        *slog.Logger
}

// Router routes relay HTTP traffic.
type Router struct {
	router        *chi.Mux
	registry      ConnectionStats
	deadLetters   database.DeadLetterRepository
	authenticator Authenticator
	authorizer    Authorizer
	logger        *slog.Logger
}

// NewRouter creates a chi router with every relay route configured.
func NewRouter(deps Dependencies) *Router {
	r := chi.NewRouter()
	router := &Router{
		router:        r,
		registry:      deps.Registry,
		deadLetters:   deps.DeadLetters,
		authenticator: deps.Authenticator,
		authorizer:    deps.Authorizer,
		logger:        deps.Logger,
	}

	r.Use(middleware.RequestID)
	r.Use(router.requestIDMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(setContentTypeJSONMiddleware)
		r.Use(router.requestLoggingMiddleware)
		r.Use(router.authenticateRequestMiddleware)
		r.Use(router.authorizeRequestMiddleware)
		r.Get("/health", router.handleHealth)
		r.Get("/dead-letters", router.handleListDeadLetters)
	})

	if deps.Metrics != nil {
		r.Handle(constants.MetricsPath, deps.Metrics)
	}
	if deps.Sockets != nil {
		r.Handle(constants.UpdatesPath, deps.Sockets)
	}

	return router
}

// ServeHTTP implements http.Handler for use with chi router
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// Handler returns an http.Handler for the router
func (r *Router) Handler() http.Handler {
	return r.router
}

// GetLoggerFromContext extracts the logger from request context
// Returns the request-scoped logger (with request ID if available) or falls back to the base logger
func (r *Router) GetLoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return r.logger
}
