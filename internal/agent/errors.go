package agent

import (
	"fmt"

	"github.com/smartfinance/ledgerbot/internal/llm"
	"github.com/smartfinance/ledgerbot/internal/prompts"
)

// ModelError is a failure at the language-model boundary.
type ModelError struct {
	Stage    string // decide or synthesize
	Category llm.Category
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s (%s): %v", e.Stage, e.Category, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func newModelError(stage string, err error) *ModelError {
	return &ModelError{Stage: stage, Category: llm.Classify(err), Err: err}
}

// reply returns the fixed user-facing message for the category.
func (e *ModelError) reply() string {
	switch e.Category {
	case llm.CategoryAuth:
		return prompts.ModelAuthFailed
	case llm.CategoryRateLimit:
		return prompts.ModelRateLimited
	case llm.CategoryTimeout:
		return prompts.ModelTimedOut
	}
	return prompts.FallbackApology
}
