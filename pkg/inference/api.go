package inference

// ModelsPrefix is the route prefix for the registry HTTP surface
// (/api/models/...).
const ModelsPrefix = "/api/models"

// RequestIDHeader carries the correlation ID assigned to a request back to
// the client, so it can be matched against server logs.
const RequestIDHeader = "X-Request-Id"

// DefaultContextLength is used for a ModelSpec that does not specify one.
const DefaultContextLength = 4096

// DefaultMaxTokensCeiling bounds GenerationOptions.MaxTokens regardless of
// what a client requests.
const DefaultMaxTokensCeiling = 4096

// CancellationGraceTokens is the number of additional tokens a backend is
// permitted to emit after a cancel signal before it must stop.
const CancellationGraceTokens = 8

// DefaultRequestTimeout is the per-request wall-clock ceiling.
const DefaultRequestTimeout = 600

// DefaultLoadTimeout is the per-load ceiling, in seconds.
const DefaultLoadTimeout = 120
