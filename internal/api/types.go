// Package api defines the wire and domain types shared across syncrelay.
// It contains the socket message shapes, the update and ephemeral unions and
// the request and response structures of the operator HTTP API.
package api

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the response to a health check request
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

// DeadLetterListResponse is returned by GET /api/v1/dead-letters.
type DeadLetterListResponse struct {
	DeadLetters []AlarmDeadLetterEntry `json:"deadLetters"`
}
