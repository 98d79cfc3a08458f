package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smartfinance/ledgerbot/internal/ledger"
)

// ParamType is the JSON type of a parameter.
type ParamType string

// Parameter types.
const (
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
)

// Param describes one tool parameter and the checks applied to it.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Nullable    bool
	Default     any

	// Positive requires a finite number greater than zero.
	Positive bool
	// Date requires a real calendar date in YYYY-MM-DD form.
	Date bool
	// Min and Max bound integers when Max > 0.
	Min, Max int

	// Kind is reported when this parameter fails validation. Empty
	// means KindExecution.
	Kind ErrorKind
}

func (p Param) failKind() ErrorKind {
	if p.Kind == "" {
		return KindExecution
	}
	return p.Kind
}

// schema renders the JSON-schema property for p.
func (p Param) schema() map[string]any {
	prop := map[string]any{}
	if p.Nullable {
		prop["type"] = []string{string(p.Type), "null"}
	} else {
		prop["type"] = string(p.Type)
	}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if p.Default != nil {
		prop["default"] = p.Default
	}
	if p.Positive {
		prop["exclusiveMinimum"] = 0
	}
	if p.Date {
		prop["pattern"] = `^\d{4}-\d{2}-\d{2}$`
	}
	if p.Max > 0 {
		prop["minimum"] = p.Min
		prop["maximum"] = p.Max
	}
	return prop
}

// Args are validated arguments with defaults applied. Values are
// float64 for numbers, int for integers, string for strings, and nil
// for explicit nulls.
type Args map[string]any

// Float returns a number argument.
func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// Int returns an integer argument.
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// String returns a string argument, or "" when absent or null.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// StringPtr returns a nullable string argument.
func (a Args) StringPtr(name string) *string {
	v, ok := a[name].(string)
	if !ok {
		return nil
	}
	return &v
}

// validate checks raw against the parameter list. Undeclared keys,
// including any user_id the model invents, are dropped.
func validate(tool string, params []Param, raw map[string]any) (Args, error) {
	out := make(Args, len(params))
	for _, p := range params {
		v, present := raw[p.Name]
		if !present || (v == nil && !p.Nullable) || isBlank(v) {
			if p.Required {
				return nil, newError(p.failKind(), tool, "missing required parameter %q", p.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if v == nil {
			out[p.Name] = nil
			continue
		}

		val, err := coerce(p, v)
		if err != nil {
			return nil, newError(p.failKind(), tool, "parameter %q: %v", p.Name, err)
		}
		out[p.Name] = val
	}
	return out, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeNumber:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("not a finite number")
		}
		if p.Positive && f <= 0 {
			return nil, fmt.Errorf("must be greater than zero, got %v", f)
		}
		return f, nil

	case TypeInteger:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("not an integer: %v", f)
		}
		n := int(f)
		if p.Max > 0 && (n < p.Min || n > p.Max) {
			return nil, fmt.Errorf("must be between %d and %d, got %d", p.Min, p.Max, n)
		}
		return n, nil

	case TypeString:
		var s string
		switch x := v.(type) {
		case string:
			s = strings.TrimSpace(x)
		case float64, bool, json.Number:
			s = fmt.Sprint(x)
		default:
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if p.Date && !ledger.ValidDate(s) {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

// toFloat accepts JSON numbers and numeric strings, which small models
// emit for amounts.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", "")), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
