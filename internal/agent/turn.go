package agent

import (
	"context"
	"time"

	"github.com/smartfinance/ledgerbot/internal/ledger"
	"github.com/smartfinance/ledgerbot/internal/llm"
	"github.com/smartfinance/ledgerbot/internal/prompts"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

// turn is the state assembled at the start of a turn. The date anchors
// are fixed here so both model calls see the same "today".
type turn struct {
	userID    string
	text      string
	started   time.Time
	today     string
	yesterday string
	messages  []llm.Message
}

// Decision is the parsed first model response: either a direct reply or
// a list of tool invocations, never both.
type Decision struct {
	Reply       string
	Invocations []tools.Invocation
	// Dropped counts invocations cut by the per-turn cap.
	Dropped int
}

// UsesTools reports whether the decision requests tool calls.
func (d Decision) UsesTools() bool { return len(d.Invocations) > 0 }

// execution is the outcome of running a decision's invocations.
type execution struct {
	results []tools.Result
	// failed is the first unsuccessful result; later invocations are
	// not run.
	failed *tools.Result
}

func (e execution) toolNames() []string {
	names := make([]string, 0, len(e.results))
	for _, r := range e.results {
		names = append(names, r.Tool)
	}
	return names
}

// loadHistory builds the turn context. A history read failure degrades
// to an empty history.
func (l *Loop) loadHistory(ctx context.Context, userID, text string) *turn {
	now := l.now().In(l.cfg.Location)
	t := &turn{
		userID:    userID,
		text:      text,
		started:   now,
		today:     now.Format(dateLayout),
		yesterday: now.AddDate(0, 0, -1).Format(dateLayout),
	}

	t.messages = append(t.messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.SystemPrompt(userID, t.today, t.yesterday),
	})

	history, err := l.history.Recent(ctx, userID, l.cfg.HistoryLimit)
	if err != nil {
		l.logger.Warn("history unavailable, continuing without it", "user", userID, "error", err)
		history = nil
	}
	for _, m := range history {
		t.messages = append(t.messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	t.messages = append(t.messages, llm.Message{Role: llm.RoleUser, Content: text})

	l.logger.Debug("history loaded", "user", userID, "messages", len(history))
	return t
}

// decide makes the first model call and parses its answer.
func (l *Loop) decide(ctx context.Context, t *turn) (Decision, error) {
	resp, err := l.chat(ctx, t.messages)
	if err != nil {
		return Decision{}, newModelError("decide", err)
	}

	calls := resp.Message.ToolCalls
	if len(calls) == 0 {
		return Decision{Reply: resp.Message.Content}, nil
	}

	var d Decision
	if max := l.cfg.MaxToolCalls; max > 0 && len(calls) > max {
		d.Dropped = len(calls) - max
		for _, c := range calls[max:] {
			l.logger.Warn("tool call dropped over per-turn cap",
				"user", t.userID, "tool", c.Function.Name, "cap", max)
		}
		calls = calls[:max]
	}
	for _, c := range calls {
		d.Invocations = append(d.Invocations, tools.NewInvocation(c.ID, c.Function.Name, c.Function.Arguments))
	}
	return d, nil
}

// execute runs invocations in order and stops at the first failure.
func (l *Loop) execute(ctx context.Context, t *turn, d Decision) execution {
	// Undated writes use the turn's start, matching the prompt's "today".
	ctx = ledger.WithAsOf(ctx, t.started)

	var ex execution
	for _, inv := range d.Invocations {
		res := l.tools.Execute(ctx, t.userID, inv)
		ex.results = append(ex.results, res)
		if !res.OK {
			ex.failed = &ex.results[len(ex.results)-1]
			if skipped := len(d.Invocations) - len(ex.results); skipped > 0 {
				l.logger.Info("remaining tool calls skipped after failure",
					"user", t.userID, "skipped", skipped, "kind", res.Kind)
			}
			break
		}
	}
	return ex
}

// synthesize makes the second model call with the tool call message and
// every result correlated by call ID.
func (l *Loop) synthesize(ctx context.Context, t *turn, d Decision, ex execution) (string, error) {
	msgs := make([]llm.Message, len(t.messages), len(t.messages)+1+len(ex.results))
	copy(msgs, t.messages)

	call := llm.Message{Role: llm.RoleAssistant}
	for _, inv := range d.Invocations {
		call.ToolCalls = append(call.ToolCalls, llm.ToolCall{
			ID:       inv.ID,
			Function: llm.FunctionCall{Name: inv.Name, Arguments: inv.Arguments},
		})
	}
	msgs = append(msgs, call)
	for _, r := range ex.results {
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    r.JSON(),
			ToolCallID: r.CallID,
			ToolName:   r.Tool,
		})
	}

	resp, err := l.chat(ctx, msgs)
	if err != nil {
		return "", newModelError("synthesize", err)
	}
	// The catalog is still sent because providers reject tool results
	// without tool definitions; any calls that come back are not run.
	if n := len(resp.Message.ToolCalls); n > 0 {
		l.logger.Warn("tool calls in synthesis ignored", "user", t.userID, "count", n)
	}
	return resp.Message.Content, nil
}

// chat runs one model call under the model timeout.
func (l *Loop) chat(ctx context.Context, msgs []llm.Message) (*llm.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ModelTimeout)
	defer cancel()

	start := time.Now()
	resp, err := l.llm.Chat(ctx, l.cfg.Model, msgs, l.tools.List())
	if err != nil {
		return nil, err
	}
	l.logger.Debug("model call completed",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp, nil
}

// persist appends the user message and reply. It runs detached from the
// caller's cancellation and never reports failure.
func (l *Loop) persist(ctx context.Context, t *turn, reply string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.PersistTimeout)
	defer cancel()

	if err := l.history.Append(ctx, t.userID, llm.RoleUser, t.text); err != nil {
		l.logger.Warn("user message not persisted", "user", t.userID, "error", err)
		return
	}
	if err := l.history.Append(ctx, t.userID, llm.RoleAssistant, reply); err != nil {
		l.logger.Warn("reply not persisted", "user", t.userID, "error", err)
	}
}
