// Package agent implements the conversational turn loop: it turns one
// chat message into validated ledger operations and a reply.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smartfinance/ledgerbot/internal/llm"
	"github.com/smartfinance/ledgerbot/internal/memory"
	"github.com/smartfinance/ledgerbot/internal/prompts"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

const dateLayout = "2006-01-02"

// History is the conversation store the loop reads and appends to.
type History interface {
	Append(ctx context.Context, userID, role, content string) error
	Recent(ctx context.Context, userID string, limit int) ([]memory.Message, error)
}

// Tools is the tool catalog the loop offers the model and executes.
type Tools interface {
	List() []map[string]any
	Resolve(name string) (*tools.Definition, error)
	Execute(ctx context.Context, userID string, inv tools.Invocation) tools.Result
}

// Config tunes the loop. Zero values take the defaults in [NewLoop].
type Config struct {
	Model          string
	HistoryLimit   int
	MaxToolCalls   int
	ModelTimeout   time.Duration
	PersistTimeout time.Duration
	Location       *time.Location
	// ConfirmClear requires a second request before a destructive tool
	// runs. ConfirmWindow bounds how long the first request stays valid.
	ConfirmClear  bool
	ConfirmWindow time.Duration
}

// Result describes a finished turn.
type Result struct {
	Reply   string          `json:"reply"`
	Tools   []string        `json:"tools,omitempty"`
	Failed  tools.ErrorKind `json:"failed,omitempty"`
	Outcome Outcome         `json:"outcome,omitempty"`
	Rules   []string        `json:"rules,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Loop runs conversational turns.
type Loop struct {
	llm     llm.Client
	tools   Tools
	history History
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	locks   *userLocks
	confirm *confirmations
}

// Option configures a [Loop].
type Option func(*Loop)

// WithClock replaces time.Now for date anchors and confirmation expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a turn loop.
func NewLoop(client llm.Client, registry Tools, history History, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 2
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 60 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 5 * time.Minute
	}

	l := &Loop{
		llm:     client,
		tools:   registry,
		history: history,
		cfg:     cfg,
		logger:  logger.With("component", "agent"),
		now:     time.Now,
		locks:   newUserLocks(),
		confirm: newConfirmations(cfg.ConfirmWindow),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// HandleTurn processes one user message and returns the reply. It never
// fails: every error path resolves to a user-safe message.
func (l *Loop) HandleTurn(ctx context.Context, userID, text string) string {
	return l.Run(ctx, userID, text).Reply
}

// Run processes one user message and reports what happened.
func (l *Loop) Run(ctx context.Context, userID, text string) *Result {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.Elapsed = time.Since(start)
		l.logger.Info("turn completed",
			"user", userID,
			"tools", res.Tools,
			"failed", res.Failed,
			"outcome", res.Outcome,
			"rules", res.Rules,
			"elapsed", res.Elapsed.Round(time.Millisecond),
		)
	}()

	release, err := l.locks.acquire(ctx, userID)
	if err != nil {
		l.logger.Warn("turn abandoned waiting for user lock", "user", userID, "error", err)
		res.Reply = prompts.FallbackApology
		return res
	}
	defer release()

	t := l.loadHistory(ctx, userID, text)
	res.Reply = l.respond(ctx, t, res)
	l.persist(ctx, t, res.Reply)
	return res
}

// respond runs the decide, execute, synthesize and validate stages and
// returns the reply to send.
func (l *Loop) respond(ctx context.Context, t *turn, res *Result) string {
	d, err := l.decide(ctx, t)
	if err != nil {
		return l.modelFailure(t, err)
	}

	if !d.UsesTools() {
		l.confirm.cancel(t.userID)
		if d.Reply == "" {
			return prompts.NotUnderstood
		}
		v := Validate(d.Reply, nil)
		res.Outcome, res.Rules = v.Outcome, v.Rules
		return v.Reply
	}

	if l.needsConfirmation(t, d) {
		return prompts.ClearConfirm
	}

	ex := l.execute(ctx, t, d)
	res.Tools = ex.toolNames()
	if ex.failed != nil {
		res.Failed = ex.failed.Kind
		return ex.failed.Message
	}

	reply, err := l.synthesize(ctx, t, d, ex)
	if err != nil {
		// The ledger already changed; the validator builds the reply
		// from the results instead of reporting a failure.
		l.logger.Warn("synthesis failed, replying from tool results", "user", t.userID, "error", err)
		reply = ""
	}

	v := Validate(reply, ex.results)
	res.Outcome, res.Rules = v.Outcome, v.Rules
	if v.Outcome == Replaced {
		l.logger.Info("reply replaced by validator", "user", t.userID, "rules", v.Rules)
	}
	return v.Reply
}

// needsConfirmation gates destructive invocations. The first request
// records a pending confirmation and nothing runs; a repeat inside the
// window proceeds. A turn without a destructive call cancels any
// pending confirmation.
func (l *Loop) needsConfirmation(t *turn, d Decision) bool {
	destructive := false
	for _, inv := range d.Invocations {
		if def, err := l.tools.Resolve(inv.Name); err == nil && def.Destructive {
			destructive = true
			break
		}
	}
	if !destructive {
		l.confirm.cancel(t.userID)
		return false
	}
	if !l.cfg.ConfirmClear {
		return false
	}
	if l.confirm.take(t.userID, t.started) {
		l.logger.Info("destructive request confirmed", "user", t.userID)
		return false
	}
	l.confirm.request(t.userID, t.started)
	l.logger.Info("destructive request awaiting confirmation", "user", t.userID)
	return true
}

func (l *Loop) modelFailure(t *turn, err error) string {
	var me *ModelError
	if !errors.As(err, &me) {
		me = newModelError("decide", err)
	}
	l.logger.Error("model call failed",
		"user", t.userID,
		"stage", me.Stage,
		"category", me.Category,
		"error", me.Err,
	)
	return me.reply()
}
