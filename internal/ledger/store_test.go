package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartfinance/ledgerbot/internal/database"
)

var taipei = time.FixedZone("CST", 8*3600)

// fixedNow is 2026-10-15 09:30 in Taipei.
var fixedNow = time.Date(2026, 10, 15, 1, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	db, err := database.Open(context.Background(), driver, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(context.Background(), db,
		WithLocation(taipei),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestStore_AddRecord(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s := newTestStore(t, driver)
			ctx := context.Background()

			r, err := s.AddRecord(ctx, "u1", 200, strPtr("飲食"), "午餐", "")
			if err != nil {
				t.Fatalf("AddRecord: %v", err)
			}
			if r.Date != "2026-10-15" {
				t.Errorf("Date = %q, want today in Taipei", r.Date)
			}
			if r.TS != "2026-10-15T09:30" {
				t.Errorf("TS = %q, want current minute", r.TS)
			}
			if r.Type != Expense || r.Source != SourceChat {
				t.Errorf("type/source = %s/%s", r.Type, r.Source)
			}

			got, err := s.Get(ctx, "u1", r.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Category == nil || *got.Category != "飲食" || got.Note != "午餐" || got.Amount != 200 {
				t.Errorf("round trip = %+v", got)
			}
		})
	}
}

func TestStore_AddRecordWithDate(t *testing.T) {
	s := newTestStore(t, "sqlite3")
	r, err := s.AddRecord(context.Background(), "u1", 80, nil, "", "2026-10-14")
	if err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if r.TS != "2026-10-14T12:00" {
		t.Errorf("TS = %q, want noon of the given date", r.TS)
	}
	if r.Category != nil {
		t.Errorf("Category = %v, want nil", *r.Category)
	}
}

func TestStore_AddRecordUsesContextAnchor(t *testing.T) {
	s := newTestStore(t, "sqlite")
	// The turn started just before midnight; the store clock is already
	// on the 15th.
	anchor := time.Date(2026, 10, 14, 23, 59, 40, 0, taipei)
	ctx := WithAsOf(context.Background(), anchor)

	r, err := s.AddRecord(ctx, "u1", 60, nil, "宵夜", "")
	if err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if r.Date != "2026-10-14" || r.TS != "2026-10-14T23:59" {
		t.Errorf("date/ts = %s/%s, want the anchored minute", r.Date, r.TS)
	}
	if !r.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want the store clock", r.CreatedAt)
	}

	explicit, err := s.AddRecord(ctx, "u1", 60, nil, "", "2026-10-10")
	if err != nil {
		t.Fatalf("AddRecord with date: %v", err)
	}
	if explicit.Date != "2026-10-10" {
		t.Errorf("explicit date = %q, want it to win over the anchor", explicit.Date)
	}

	total, err := s.TotalInRange(context.Background(), "u1", "2026-10-14", "2026-10-14")
	if err != nil {
		t.Fatalf("TotalInRange: %v", err)
	}
	if total != 60 {
		t.Errorf("total on the 14th = %v, want 60", total)
	}
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewRecord
		want error
	}{
		{"zero amount", NewRecord{UserID: "u1", Amount: 0}, ErrInvalidAmount},
		{"negative amount", NewRecord{UserID: "u1", Amount: -5}, ErrInvalidAmount},
		{"NaN amount", NewRecord{UserID: "u1", Amount: math.NaN()}, ErrInvalidAmount},
		{"infinite amount", NewRecord{UserID: "u1", Amount: math.Inf(1)}, ErrInvalidAmount},
		{"bad date", NewRecord{UserID: "u1", Amount: 1, Date: "2026/10/15"}, ErrInvalidDate},
		{"impossible date", NewRecord{UserID: "u1", Amount: 1, Date: "2026-02-30"}, ErrInvalidDate},
		{"bad type", NewRecord{UserID: "u1", Amount: 1, Type: "transfer"}, ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Create() err = %v, want %v", err, tt.want)
			}
			if !IsValidation(tt.want) {
				t.Errorf("IsValidation(%v) = false", tt.want)
			}
		})
	}

	all, err := s.All(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("invalid input wrote %d records", len(all))
	}
}

func TestStore_TotalInRangeSumsExpensesOnly(t *testing.T) {
	s := newTestStore(t, "sqlite3")
	ctx := context.Background()

	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 200, Date: "2026-10-15"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 150, Date: "2026-10-15"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 999, Date: "2026-10-15", Type: Income})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 40, Date: "2026-10-14"})
	mustCreate(t, s, NewRecord{UserID: "u2", Amount: 70, Date: "2026-10-15"})

	total, err := s.TotalInRange(ctx, "u1", "2026-10-15", "2026-10-15")
	if err != nil {
		t.Fatalf("TotalInRange: %v", err)
	}
	if total != 350 {
		t.Errorf("total = %v, want 350", total)
	}

	sum, err := s.Summary(ctx, "u1", "2026-10-01", "2026-10-31")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Income != 999 || sum.Expense != 390 || sum.Total != 609 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := s.TotalInRange(ctx, "u1", "yesterday", "2026-10-15"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("bad range err = %v, want ErrInvalidDate", err)
	}

	empty, err := s.TotalInRange(ctx, "nobody", "2026-10-15", "2026-10-15")
	if err != nil || empty != 0 {
		t.Errorf("empty total = %v, %v", empty, err)
	}
}

func TestStore_TotalsRoundedToCents(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s := newTestStore(t, driver)
			ctx := context.Background()

			for _, amt := range []float64{45.7, 12.1, 30.3} {
				if _, err := s.AddRecord(ctx, "u1", amt, nil, "", ""); err != nil {
					t.Fatalf("AddRecord(%v): %v", amt, err)
				}
			}
			mustCreate(t, s, NewRecord{UserID: "u1", Amount: 100.2, Date: "2026-10-15", Type: Income})

			total, err := s.TotalInRange(ctx, "u1", "2026-10-15", "2026-10-15")
			if err != nil {
				t.Fatalf("TotalInRange: %v", err)
			}
			if total != 88.1 {
				t.Errorf("total = %v, want 88.1", total)
			}

			sum, err := s.Summary(ctx, "u1", "2026-10-15", "2026-10-15")
			if err != nil {
				t.Fatalf("Summary: %v", err)
			}
			if sum.Expense != 88.1 || sum.Income != 100.2 || sum.Total != 12.1 {
				t.Errorf("summary = %+v, want cents precision", sum)
			}
		})
	}
}

func TestStore_RecentAndAllOrdering(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 1, Date: "2026-10-12"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 2, Date: "2026-10-14"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 3, Date: "2026-10-13"})

	recent, err := s.Recent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Amount != 2 || recent[1].Amount != 3 {
		t.Errorf("Recent = %v, want newest first [2 3]", amounts(recent))
	}

	all, err := s.All(ctx, "u1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if got := amounts(all); len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 2 {
		t.Errorf("All = %v, want oldest first [1 3 2]", got)
	}
}

func TestStore_ListFilter(t *testing.T) {
	s := newTestStore(t, "sqlite3")
	ctx := context.Background()

	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 1, Date: "2026-10-01"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 2, Date: "2026-10-10", Type: Income})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 3, Date: "2026-10-20"})

	got, err := s.List(ctx, "u1", Filter{Type: Expense, Start: "2026-10-05"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if a := amounts(got); len(a) != 1 || a[0] != 3 {
		t.Errorf("List = %v, want [3]", a)
	}

	page, err := s.List(ctx, "u1", Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if a := amounts(page); len(a) != 1 || a[0] != 2 {
		t.Errorf("page = %v, want [2]", a)
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t, "sqlite3")
	ctx := context.Background()
	r := mustCreate(t, s, NewRecord{UserID: "u1", Amount: 100, Category: strPtr("交通")})

	amount, date := 120.0, "2026-10-01"
	var noCategory *string
	updated, err := s.Update(ctx, "u1", r.ID, Patch{Amount: &amount, Date: &date, Category: &noCategory})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Amount != 120 || updated.TS != "2026-10-01T12:00" || updated.Category != nil {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := s.Update(ctx, "u2", r.ID, Patch{Amount: &amount}); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user update err = %v, want ErrNotFound", err)
	}
	bad := -1.0
	if _, err := s.Update(ctx, "u1", r.ID, Patch{Amount: &bad}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("bad amount err = %v", err)
	}

	if err := s.Delete(ctx, "u2", r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user delete err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "u1", r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "u1", r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}

func TestStore_DeleteLast(t *testing.T) {
	s := newTestStore(t, "sqlite")
	ctx := context.Background()

	if _, err := s.DeleteLast(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty DeleteLast err = %v", err)
	}
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 1, Date: "2026-10-01"})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 2, Date: "2026-10-02"})

	gone, err := s.DeleteLast(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteLast: %v", err)
	}
	if gone.Amount != 2 {
		t.Errorf("deleted amount = %v, want 2", gone.Amount)
	}
}

func TestStore_ClearTwice(t *testing.T) {
	s := newTestStore(t, "sqlite3")
	ctx := context.Background()
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 1})
	mustCreate(t, s, NewRecord{UserID: "u1", Amount: 2})
	mustCreate(t, s, NewRecord{UserID: "u2", Amount: 3})

	n, err := s.Clear(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("first Clear = %d, %v; want 2", n, err)
	}
	n, err = s.Clear(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("second Clear = %d, %v; want 0", n, err)
	}
	others, _ := s.All(ctx, "u2")
	if len(others) != 1 {
		t.Errorf("other user's records touched: %d left", len(others))
	}
}

func TestValidDate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2026-10-15", true},
		{"2024-02-29", true},
		{"2025-02-29", false},
		{"2026-13-01", false},
		{"2026-1-5", false},
		{"2026-10-15T12:00", false},
		{"", false},
		{"今天", false},
	}
	for _, tt := range tests {
		if got := ValidDate(tt.in); got != tt.want {
			t.Errorf("ValidDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func mustCreate(t *testing.T, s *Store, in NewRecord) *Record {
	t.Helper()
	r, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create(%+v): %v", in, err)
	}
	return r
}

func amounts(recs []Record) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = r.Amount
	}
	return out
}
