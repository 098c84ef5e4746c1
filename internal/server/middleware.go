package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/auth"
	"github.com/enflame-media/syncrelay/internal/auth/authorization"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	loggerPkg "github.com/enflame-media/syncrelay/internal/logger"
)

type contextKey string

const (
	loggerContextKey contextKey = "logger"
	tokenContextKey  contextKey = "token"
)

// requestIDMiddleware propagates chi's request ID to the logger context and
// echoes it back in the response headers.
func (r *Router) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := middleware.GetReqID(req.Context())
		if requestID == "" {
			next.ServeHTTP(w, req)
			return
		}

		w.Header().Set(constants.RequestIDHeader, requestID)
		ctx := loggerPkg.WithRequestID(req.Context(), requestID)
		log := loggerPkg.DeriveRequestLogger(ctx, r.logger)
		ctx = context.WithValue(ctx, loggerContextKey, log)

		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// setContentTypeJSONMiddleware sets Content-Type to application/json for all responses
func setContentTypeJSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set(constants.ContentTypeHeader, "application/json")
		next.ServeHTTP(w, req)
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggingMiddleware logs incoming requests and their responses.
// It is not mounted on the socket path: the wrapper cannot be hijacked.
func (r *Router) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := r.GetLoggerFromContext(req.Context())
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		logger.Debug("processing incoming client request", "request", map[string]string{
			"method":     req.Method,
			"path":       req.URL.Path,
			"remoteAddr": req.RemoteAddr,
		})

		next.ServeHTTP(wrapped, req)

		logger.Info("response sent to client", "response", map[string]any{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start).String(),
		})
	})
}

// handleAuthError handles authentication errors and writes appropriate responses.
func handleAuthError(w http.ResponseWriter, err error) {
	statusCode := apperrors.GetStatusCode(err)
	errorCode := apperrors.GetErrorCode(err)
	errorMsg := apperrors.GetErrorMessage(err)

	if statusCode < 400 || statusCode >= 600 {
		statusCode = http.StatusUnauthorized
	}

	messagePrefix := "Unauthorized"
	if statusCode >= http.StatusInternalServerError {
		messagePrefix = "Server error"
	}

	writeErrorResponseWithCode(w, statusCode, errorCode, messagePrefix, errorMsg)
}

// authenticateRequestMiddleware resolves the bearer token and adds its record
// to the request context.
func (r *Router) authenticateRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := r.GetLoggerFromContext(req.Context())
		token := auth.TokenFromRequest(req)

		if token == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "bearer token is required")
			return
		}
		if r.authenticator == nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "authentication is not configured")
			return
		}

		record, err := r.authenticator.Authenticate(req.Context(), token)
		if err != nil {
			handleAuthError(w, err)
			return
		}

		logger.Debug("request authenticated", "context", map[string]string{
			"user_id": record.UserID,
			"role":    record.Role,
		})

		ctx := context.WithValue(req.Context(), tokenContextKey, record)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// authorizeRequestMiddleware checks the token role against the Casbin policy
// for the request path.
func (r *Router) authorizeRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := r.GetLoggerFromContext(req.Context())

		record, ok := req.Context().Value(tokenContextKey).(*api.TokenRecord)
		if !ok || record == nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "token not found in context")
			return
		}

		role, err := authorization.ParseRole(record.Role)
		if err != nil {
			writeErrorResponseWithCode(w, http.StatusForbidden, apperrors.ErrCodeForbidden, "forbidden", err.Error())
			return
		}

		if r.authorizer == nil {
			writeErrorResponseWithCode(w, http.StatusForbidden, apperrors.ErrCodeForbidden,
				"forbidden", "authorization is not configured")
			return
		}

		allowed, err := r.authorizer.Enforce(role, req.URL.Path, authorization.ActionRead)
		if err != nil {
			r.handleAndLogError(w, req, apperrors.ErrInternalError("authorization check failed", err), "authorize request")
			return
		}
		if !allowed {
			logger.Info("authorization denied", "context", map[string]string{
				"user_id": record.UserID,
				"role":    string(role),
				"path":    req.URL.Path,
			})
			writeErrorResponseWithCode(w, http.StatusForbidden, apperrors.ErrCodeForbidden,
				"forbidden", "role "+string(role)+" cannot read "+req.URL.Path)
			return
		}

		next.ServeHTTP(w, req)
	})
}
