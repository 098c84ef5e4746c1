package server

import (
	"encoding/json"
	"net/http"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
)

// writeErrorResponse writes a JSON error body with the given status.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, details string) {
	writeErrorResponseWithCode(w, statusCode, "", message, details)
}

func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	w.Header().Set(constants.ContentTypeHeader, "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleAndLogError logs an error and writes a standardized error response.
func (r *Router) handleAndLogError(w http.ResponseWriter, req *http.Request, err error, operationName string) {
	logger := r.GetLoggerFromContext(req.Context())
	statusCode := apperrors.GetStatusCode(err)
	errorCode := apperrors.GetErrorCode(err)

	logger.Error("operation failed", "context", map[string]any{
		"operation":   operationName,
		"error":       err.Error(),
		"status_code": statusCode,
		"error_code":  errorCode,
	})

	writeErrorResponseWithCode(w, statusCode, errorCode, "failed to "+operationName, apperrors.GetErrorDetails(err))
}
