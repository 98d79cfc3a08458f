package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func errorsAs(err error, target any) bool { return errors.As(err, target) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"401", &APIError{StatusCode: 401}, CategoryAuth},
		{"403", &APIError{StatusCode: 403}, CategoryAuth},
		{"429", &APIError{StatusCode: 429}, CategoryRateLimit},
		{"529 overloaded", &APIError{StatusCode: 529}, CategoryRateLimit},
		{"504", &APIError{StatusCode: 504}, CategoryTimeout},
		{"500", &APIError{StatusCode: 500}, CategoryOther},
		{"wrapped 401", fmt.Errorf("chat: %w", &APIError{StatusCode: 401}), CategoryAuth},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"wrapped deadline", fmt.Errorf("request failed: %w", context.DeadlineExceeded), CategoryTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, CategoryTimeout},
		{"plain", errors.New("connection refused"), CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIError_MessageCarriesStatus(t *testing.T) {
	err := &APIError{Provider: "anthropic", StatusCode: 500, Body: "overloaded"}
	if got := err.Error(); got != "anthropic API error 500: overloaded" {
		t.Errorf("Error() = %q", got)
	}
}
