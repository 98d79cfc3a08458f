// Package tools defines the operations the model may request and runs
// them against the ledger. Every call goes through Resolve, ValidateArgs
// and Invoke; model output is never trusted past the parameter schema.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartfinance/ledgerbot/internal/prompts"
)

// Handler runs a validated call for userID and returns the result data.
type Handler func(ctx context.Context, userID string, args Args) (any, error)

// Definition is one callable tool. Definitions are immutable once the
// registry is built.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	// Mutates marks tools that change the ledger.
	Mutates bool
	// Destructive marks irreversible tools that need confirmation.
	Destructive bool

	handler Handler
}

// Schema returns the JSON-schema object for the parameters.
func (d *Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		props[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Invocation is one tool call requested by the model. Arguments are
// raw and untrusted. ID correlates the call with its result.
type Invocation struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// NewInvocation builds an invocation, generating an ID when the
// provider supplied none.
func NewInvocation(id, name string, args map[string]any) Invocation {
	if id == "" {
		id = uuid.NewString()
	}
	if args == nil {
		args = map[string]any{}
	}
	return Invocation{ID: id, Name: name, Arguments: args}
}

// Result is the outcome of one invocation. Message is safe to show the
// user; internal causes are only logged.
type Result struct {
	CallID  string    `json:"-"`
	Tool    string    `json:"-"`
	OK      bool      `json:"ok"`
	Data    any       `json:"data,omitempty"`
	Kind    ErrorKind `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// JSON renders the result for the model.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"execution_error"}`
	}
	return string(b)
}

// Registry holds the tool catalog.
type Registry struct {
	defs        map[string]*Definition
	order       []string
	sink        EventSink
	toolTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a [Registry].
type Option func(*Registry)

// WithEventSink sets the sink notified after successful mutations.
func WithEventSink(s EventSink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithToolTimeout bounds each handler call.
func WithToolTimeout(d time.Duration) Option {
	return func(r *Registry) { r.toolTimeout = d }
}

// NewRegistry creates a registry with the ledger tools bound to l.
func NewRegistry(l Ledger, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		defs:        make(map[string]*Definition),
		toolTimeout: 10 * time.Second,
		now:         time.Now,
		logger:      logger.With("component", "tools"),
	}
	for _, o := range opts {
		o(r)
	}
	r.registerLedgerTools(l)
	return r
}

// register adds a definition. Only called while building the registry.
func (r *Registry) register(d *Definition) {
	if _, dup := r.defs[d.Name]; !dup {
		r.order = append(r.order, d.Name)
	}
	r.defs[d.Name] = d
}

// Definitions returns the catalog in registration order.
func (r *Registry) Definitions() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// List returns the catalog in OpenAI function format for [llm.Client].
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, d := range r.Definitions() {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Schema(),
			},
		})
	}
	return result
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, newError(KindUnknownTool, name, "not in catalog")
	}
	return d, nil
}

// ValidateArgs checks raw arguments against the definition's schema.
func (r *Registry) ValidateArgs(d *Definition, raw map[string]any) (Args, error) {
	return validate(d.Name, d.Params, raw)
}

// Invoke runs a validated call under the tool timeout. A handler error
// or timeout becomes execution_error.
func (r *Registry) Invoke(ctx context.Context, d *Definition, userID string, args Args) Result {
	ctx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	data, err := d.handler(ctx, userID, args)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			te = &Error{Kind: KindExecution, Tool: d.Name, Err: err}
		}
		return r.failure(te)
	}

	if d.Mutates && r.sink != nil {
		r.sink.LedgerChanged(ctx, Event{
			UserID: userID,
			Tool:   d.Name,
			Data:   data,
			At:     r.now(),
		})
	}
	return Result{Tool: d.Name, OK: true, Data: data}
}

// Execute resolves, validates, and invokes one invocation for userID.
func (r *Registry) Execute(ctx context.Context, userID string, inv Invocation) Result {
	start := time.Now()

	var res Result
	d, err := r.Resolve(inv.Name)
	if err == nil {
		var args Args
		args, err = r.ValidateArgs(d, inv.Arguments)
		if err == nil {
			res = r.Invoke(ctx, d, userID, args)
		}
	}
	if err != nil {
		var te *Error
		errors.As(err, &te)
		res = r.failure(te)
	}
	res.CallID = inv.ID

	log := r.logger.With("tool", inv.Name, "call_id", inv.ID, "user", userID, "elapsed", time.Since(start).Round(time.Millisecond))
	if res.OK {
		log.Info("tool executed")
	} else {
		log.Warn("tool failed", "kind", res.Kind)
	}
	return res
}

func (r *Registry) failure(e *Error) Result {
	if e == nil {
		e = &Error{Kind: KindExecution, Err: fmt.Errorf("unknown failure")}
	}
	r.logger.Debug("tool error detail", "tool", e.Tool, "kind", e.Kind, "error", e.Err)
	return Result{
		Tool:    e.Tool,
		OK:      false,
		Kind:    e.Kind,
		Message: prompts.ToolErrorMessage(string(e.Kind)),
	}
}
