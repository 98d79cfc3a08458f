package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category classifies a provider failure for user-facing messaging.
type Category string

// Failure categories.
const (
	CategoryAuth      Category = "auth"
	CategoryRateLimit Category = "rate_limit"
	CategoryTimeout   Category = "timeout"
	CategoryOther     Category = "other"
)

// APIError is a non-success response from a model provider. Body holds
// the provider's error payload for logs only.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Category maps the HTTP status to a failure category.
func (e *APIError) Category() Category {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return CategoryAuth
	case http.StatusTooManyRequests:
		return CategoryRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CategoryTimeout
	}
	// Anthropic reports overload as 529.
	if e.StatusCode == 529 {
		return CategoryRateLimit
	}
	return CategoryOther
}

// Classify returns the failure category of an error returned by a
// [Client]. Deadline expiry and network timeouts are [CategoryTimeout].
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	return CategoryOther
}
