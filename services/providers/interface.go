package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/upb/market-routes/models"
)

// Provider represents a unified routing provider interface
type Provider interface {
	// Name returns the provider name (e.g., "google", "osrm")
	Name() string

	// Route asks the provider for the driving route between two points.
	// Implementations never retry and never mutate the query.
	Route(ctx context.Context, query models.RouteQuery) (*Estimate, error)
}

// Estimate is a provider answer before it is tagged with a precision tier
type Estimate struct {
	DistanceMeters  float64
	DurationSeconds float64

	// Raw is the provider payload, kept for diagnostics only
	Raw json.RawMessage
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for a single call
	Timeout time.Duration

	// Additional headers
	Headers map[string]string

	// HTTPClient is shared by adapters; a default client is used when nil
	HTTPClient *http.Client
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 5 * time.Second,
		Headers: make(map[string]string),
	}
}

// Client returns the configured HTTP client or a default one
func (c ProviderConfig) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Error codes shared by every adapter
const (
	CodeRequest   = "REQUEST_ERROR"
	CodeHTTP      = "HTTP_ERROR"
	CodeRead      = "READ_ERROR"
	CodeStatus    = "STATUS_ERROR"
	CodeUnmarshal = "UNMARSHAL_ERROR"
	CodeNoRoute   = "NO_ROUTE"
	CodeTimeout   = "TIMEOUT"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if a later call could succeed
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// NoRoute reports a well-formed answer that contains no usable route
func NoRoute(provider, message string) *ProviderError {
	return NewProviderError(provider, CodeNoRoute, message, http.StatusOK, false, nil)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// AsProviderError normalizes any adapter failure into a *ProviderError
func AsProviderError(provider string, err error) *ProviderError {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}
	return NewProviderError(provider, CodeHTTP, "provider call failed", 0, true, err)
}
