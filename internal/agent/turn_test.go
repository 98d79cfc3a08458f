package agent

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartfinance/ledgerbot/internal/database"
	"github.com/smartfinance/ledgerbot/internal/ledger"
	"github.com/smartfinance/ledgerbot/internal/memory"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

func TestRun_UndatedExpenseKeepsTurnDate(t *testing.T) {
	taipei, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	db, err := database.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// The turn starts before midnight; by the time the tool runs the
	// store clock has moved to the next day.
	turnStart := time.Date(2026, 10, 14, 23, 59, 50, 0, taipei)
	store, err := ledger.NewStore(ctx, db,
		ledger.WithLocation(taipei),
		ledger.WithClock(func() time.Time { return turnStart.Add(30 * time.Second) }),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	hist := memory.NewStore(memory.NewInMemory(), logger)
	t.Cleanup(func() { hist.Close() })

	mock := &mockLLM{responses: []mockReply{
		toolCalls(call("a", tools.AddExpense, map[string]any{"amount": 90.0, "note": "宵夜"})),
		text("已記錄宵夜 90 元"),
	}}
	loop := NewLoop(mock, tools.NewRegistry(store, logger), hist,
		Config{Model: "test-model", Location: taipei}, logger,
		WithClock(func() time.Time { return turnStart }))

	res := loop.Run(ctx, "u1", "宵夜90")
	if res.Failed != "" {
		t.Fatalf("turn failed: %+v", res)
	}

	recs, err := store.All(ctx, "u1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Date != "2026-10-14" {
		t.Errorf("record date = %q, want the day the turn started", recs[0].Date)
	}
}
