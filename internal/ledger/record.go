// Package ledger stores per-user income and expense records. It is the
// only component that touches the records table; the agent tools and the
// REST API both go through [Store].
package ledger

import (
	"errors"
	"math"
	"time"
)

// Type is the direction of a record.
type Type string

// Record types.
const (
	Expense Type = "expense"
	Income  Type = "income"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return t == Expense || t == Income }

// Source records which surface created a record.
type Source string

// Record sources.
const (
	SourceWeb  Source = "web"
	SourceLINE Source = "line"
	SourceChat Source = "chat"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return s == SourceWeb || s == SourceLINE || s == SourceChat }

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// TSLayout is the minute-resolution sort key stored with each record.
const TSLayout = "2006-01-02T15:04"

// Errors returned by [Store].
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidAmount = errors.New("amount must be a finite number greater than zero")
	ErrInvalidDate   = errors.New("date must be a real calendar date in YYYY-MM-DD form")
	ErrInvalidType   = errors.New("type must be income or expense")
)

// Record is one ledger entry.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	Amount    float64   `json:"amount"`
	Category  *string   `json:"category"`
	Note      string    `json:"note"`
	Date      string    `json:"date"`
	TS        string    `json:"ts"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord is the input to [Store.Create]. Empty Date means today in
// the store's timezone; empty Type means expense.
type NewRecord struct {
	UserID   string
	Type     Type
	Amount   float64
	Category *string
	Note     string
	Date     string
	Source   Source
}

// Patch holds the fields [Store.Update] changes. Nil fields are kept.
// Setting Date also resets the sort key to that day at noon.
type Patch struct {
	Type     *Type
	Amount   *float64
	Category **string
	Note     *string
	Date     *string
}

// Filter narrows [Store.List]. Zero values match everything.
type Filter struct {
	Type   Type
	Start  string
	End    string
	Limit  int
	Offset int
}

// Summary is the income/expense split over a date range. Total is
// income minus expense.
type Summary struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Total   float64 `json:"total"`
}

// RoundAmount rounds a to cents. SQL sums of doubles carry binary
// noise (45.7+12.1+30.3 = 88.10000000000001) that must not reach users.
func RoundAmount(a float64) float64 {
	return math.Round(a*100) / 100
}

// ValidAmount reports whether a is usable as a record amount.
func ValidAmount(a float64) bool {
	return a > 0 && !math.IsInf(a, 0) && !math.IsNaN(a)
}

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
