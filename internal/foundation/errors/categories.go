package errors

import (
	"maps"
	"net/http"
)

// ErrorCategory classifies a failure by the subsystem that reports it. The
// category decides the HTTP status and the default machine-readable code.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryProxy      ErrorCategory = "proxy"
	CategoryBuild      ErrorCategory = "build"
	CategoryStorage    ErrorCategory = "storage"
	CategoryTelemetry  ErrorCategory = "telemetry"
	CategoryInternal   ErrorCategory = "internal"
)

var categoryStatus = map[ErrorCategory]int{
	CategoryConfig:     http.StatusInternalServerError,
	CategoryValidation: http.StatusBadRequest,
	CategoryNotFound:   http.StatusNotFound,
	CategoryProxy:      http.StatusInternalServerError,
	CategoryBuild:      http.StatusInternalServerError,
	CategoryStorage:    http.StatusInternalServerError,
	CategoryTelemetry:  http.StatusInternalServerError,
	CategoryInternal:   http.StatusInternalServerError,
}

// HTTPStatus is the response status for errors of this category. Unknown
// categories map to 500; the proxy never blames the client for them.
func (c ErrorCategory) HTTPStatus() int {
	if s, ok := categoryStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Stable error codes carried in HTTP error bodies.
const (
	CodeRouterBadRequest   = "RouterBadRequest"
	CodeRouterNotFound     = "RouterNotFound"
	CodeProxyUpstreamError = "ProxyUpstreamError"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // the process stops
	SeverityError   ErrorSeverity = "error"   // the operation fails
	SeverityWarning ErrorSeverity = "warning" // caller error, service healthy
	SeverityInfo    ErrorSeverity = "info"
)

// ErrorContext carries structured details; adapters surface it as log
// attributes and as the "details" object of HTTP error bodies.
type ErrorContext map[string]any

// Set adds or updates a value, allocating on first use.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, exists := c[key]
	return value, exists
}

// GetString retrieves a string value.
func (c ErrorContext) GetString(key string) (string, bool) {
	str, ok := c[key].(string)
	return str, ok
}

// Merge returns a new context holding both, with other winning on conflicts.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	result := make(ErrorContext, len(c)+len(other))
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
