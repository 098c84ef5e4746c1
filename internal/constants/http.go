package constants

// AuthorizationHeader is the HTTP header carrying the bearer token on the handshake.
const AuthorizationHeader = "Authorization"

// BearerPrefix is the scheme prefix expected in the Authorization header.
const BearerPrefix = "Bearer "

// ContentTypeHeader is the HTTP Content-Type header name.
const ContentTypeHeader = "Content-Type"

// RequestIDHeader is the HTTP header used to propagate request IDs.
const RequestIDHeader = "X-Request-ID"

// HTTPStatusServerError is the HTTP status code for server errors (500)
const HTTPStatusServerError = 500

// DeadLetterListDefaultLimit is the default page size for the dead-letter endpoint.
const DeadLetterListDefaultLimit = 50

// DeadLetterListMaxLimit caps the dead-letter endpoint page size.
const DeadLetterListMaxLimit = 500

// MetricsPath is the Prometheus scrape endpoint.
const MetricsPath = "/metrics"
