package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/enflame-media/syncrelay/internal/constants"
)

type contextKey string

const (
	requestIDContextKey    contextKey = "requestID"
	connectionIDContextKey contextKey = "connectionID"
)

// ContextExtractor pulls a correlation ID out of a context that was not
// populated through WithRequestID, for example socket goroutines that carry
// a connection ID instead of an HTTP request ID.
type ContextExtractor interface {
	ExtractRequestID(ctx context.Context) (string, bool)
}

var (
	extractorsMu      sync.RWMutex
	contextExtractors []ContextExtractor
)

// RegisterContextExtractor appends an extractor consulted by DeriveRequestLogger.
func RegisterContextExtractor(extractor ContextExtractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	contextExtractors = append(contextExtractors, extractor)
}

// ClearContextExtractors removes every registered extractor.
func ClearContextExtractors() {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	contextExtractors = nil
}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// GetRequestID extracts the request ID from the context.
// The request ID is set by server middleware when available.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey).(string); ok {
		return requestID
	}
	return ""
}

// WithConnectionID returns a context carrying the socket connection ID.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDContextKey, connectionID)
}

// GetConnectionID extracts the socket connection ID from the context.
func GetConnectionID(ctx context.Context) string {
	if connectionID, ok := ctx.Value(connectionIDContextKey).(string); ok {
		return connectionID
	}
	return ""
}

// ConnectionIDExtractor exposes the connection ID as the correlation ID for
// log lines emitted outside an HTTP request.
type ConnectionIDExtractor struct{}

// ExtractRequestID implements ContextExtractor.
func (ConnectionIDExtractor) ExtractRequestID(ctx context.Context) (string, bool) {
	id := GetConnectionID(ctx)
	return id, id != ""
}

// ExtractRequestIDFromContext returns the request ID set with WithRequestID,
// falling back to the registered extractors in registration order.
func ExtractRequestIDFromContext(ctx context.Context) string {
	if requestID := GetRequestID(ctx); requestID != "" {
		return requestID
	}

	extractorsMu.RLock()
	defer extractorsMu.RUnlock()
	for _, extractor := range contextExtractors {
		if id, ok := extractor.ExtractRequestID(ctx); ok && id != "" {
			return id
		}
	}

	return ""
}

// DeriveRequestLogger returns a logger enriched with request-scoped fields
// available in the provided context.
func DeriveRequestLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		return slog.Default()
	}

	logger := base
	if requestID := ExtractRequestIDFromContext(ctx); requestID != "" {
		logger = logger.With(constants.RequestIDLogField, requestID)
	}
	if connectionID := GetConnectionID(ctx); connectionID != "" {
		logger = logger.With(constants.ConnectionIDLogField, connectionID)
	}

	return logger
}

// GetDeadlineInfo returns logging attributes for context deadline information.
// Returns the absolute deadline time and remaining duration if set, or "none" if no deadline.
func GetDeadlineInfo(ctx context.Context) []any {
	deadline, ok := ctx.Deadline()
	if !ok {
		return []any{"deadline", "none", "deadline_remaining", "none"}
	}

	remaining := time.Until(deadline)
	return []any{
		"deadline", deadline.Format(time.RFC3339),
		"deadline_remaining", remaining.String(),
	}
}

// SliceToMap converts a slice of alternating key-value pairs to a map[string]any.
// It expects the slice to have an even number of elements with string keys.
// Non-string keys are skipped.
func SliceToMap(args []any) map[string]any {
	argsMap := make(map[string]any)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if key, ok := args[i].(string); ok {
				argsMap[key] = args[i+1]
			}
		}
	}
	return argsMap
}
