package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartfinance/ledgerbot/internal/ledger"
)

// Tool names.
const (
	AddExpense   = "add_expense"
	QueryTotal   = "query_total"
	ListRecent   = "list_recent_expenses"
	ListAll      = "list_all_expenses"
	ClearAll     = "clear_expenses"
	maxListLimit = 20
)

// Ledger is the subset of [ledger.Store] the tools call.
type Ledger interface {
	AddRecord(ctx context.Context, userID string, amount float64, category *string, note, date string) (*ledger.Record, error)
	TotalInRange(ctx context.Context, userID, start, end string) (float64, error)
	Recent(ctx context.Context, userID string, limit int) ([]ledger.Record, error)
	All(ctx context.Context, userID string) ([]ledger.Record, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

// AddedExpense is the data returned by add_expense.
type AddedExpense struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Category *string `json:"category"`
	Note     string  `json:"note"`
	Date     string  `json:"date"`
	TS       string  `json:"ts"`
}

// RangeTotal is the data returned by query_total.
type RangeTotal struct {
	Total     float64 `json:"total"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
}

// ExpenseItem is one row in a list result.
type ExpenseItem struct {
	Amount   float64 `json:"amount"`
	Category *string `json:"category"`
	Note     string  `json:"note"`
	Date     string  `json:"date"`
	TS       string  `json:"ts"`
}

// ExpenseList is the data returned by the list tools.
type ExpenseList struct {
	Count    int           `json:"count"`
	Expenses []ExpenseItem `json:"expenses"`
}

// Cleared is the data returned by clear_expenses.
type Cleared struct {
	Deleted int64 `json:"deleted"`
}

func (r *Registry) registerLedgerTools(l Ledger) {
	r.register(&Definition{
		Name:        AddExpense,
		Description: "新增一筆消費紀錄。金額必須大於 0；日期省略時為今天。",
		Mutates:     true,
		Params: []Param{
			{Name: "amount", Type: TypeNumber, Description: "消費金額，大於 0", Required: true, Positive: true, Kind: KindInvalidAmount},
			{Name: "category", Type: TypeString, Description: "類別，例如 飲食、交通；不確定時為 null", Nullable: true},
			{Name: "note", Type: TypeString, Description: "備註", Default: ""},
			{Name: "date", Type: TypeString, Description: "消費日期 YYYY-MM-DD，可省略", Date: true, Kind: KindInvalidDate},
		},
		handler: func(ctx context.Context, userID string, a Args) (any, error) {
			rec, err := l.AddRecord(ctx, userID, a.Float("amount"), a.StringPtr("category"), a.String("note"), a.String("date"))
			if err != nil {
				return nil, ledgerError(AddExpense, err)
			}
			return AddedExpense{
				ID:       rec.ID,
				Amount:   rec.Amount,
				Category: rec.Category,
				Note:     rec.Note,
				Date:     rec.Date,
				TS:       rec.TS,
			}, nil
		},
	})

	r.register(&Definition{
		Name:        QueryTotal,
		Description: "查詢日期區間（含起訖日）的支出總額。",
		Params: []Param{
			{Name: "start_date", Type: TypeString, Description: "開始日期 YYYY-MM-DD", Required: true, Date: true, Kind: KindInvalidDate},
			{Name: "end_date", Type: TypeString, Description: "結束日期 YYYY-MM-DD", Required: true, Date: true, Kind: KindInvalidDate},
		},
		handler: func(ctx context.Context, userID string, a Args) (any, error) {
			start, end := a.String("start_date"), a.String("end_date")
			if start > end {
				return nil, newError(KindInvalidDate, QueryTotal, "start %s after end %s", start, end)
			}
			total, err := l.TotalInRange(ctx, userID, start, end)
			if err != nil {
				return nil, ledgerError(QueryTotal, err)
			}
			return RangeTotal{Total: total, StartDate: start, EndDate: end}, nil
		},
	})

	r.register(&Definition{
		Name:        ListRecent,
		Description: "列出最近幾筆消費（新到舊）。",
		Params: []Param{
			{Name: "limit", Type: TypeInteger, Description: "筆數 1 到 20", Default: 5, Min: 1, Max: maxListLimit, Kind: KindInvalidLimit},
		},
		handler: func(ctx context.Context, userID string, a Args) (any, error) {
			recs, err := l.Recent(ctx, userID, a.Int("limit"))
			if err != nil {
				return nil, ledgerError(ListRecent, err)
			}
			return toList(recs), nil
		},
	})

	r.register(&Definition{
		Name:        ListAll,
		Description: "列出所有消費紀錄（舊到新）。",
		handler: func(ctx context.Context, userID string, _ Args) (any, error) {
			recs, err := l.All(ctx, userID)
			if err != nil {
				return nil, ledgerError(ListAll, err)
			}
			return toList(recs), nil
		},
	})

	r.register(&Definition{
		Name:        ClearAll,
		Description: "清空使用者的所有紀錄。無法復原，只有在使用者明確要求時才使用。",
		Mutates:     true,
		Destructive: true,
		handler: func(ctx context.Context, userID string, _ Args) (any, error) {
			n, err := l.Clear(ctx, userID)
			if err != nil {
				return nil, ledgerError(ClearAll, err)
			}
			return Cleared{Deleted: n}, nil
		},
	})
}

func toList(recs []ledger.Record) ExpenseList {
	items := make([]ExpenseItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, ExpenseItem{
			Amount:   r.Amount,
			Category: r.Category,
			Note:     r.Note,
			Date:     r.Date,
			TS:       r.TS,
		})
	}
	return ExpenseList{Count: len(items), Expenses: items}
}

// ledgerError maps store errors onto tool error kinds. The store
// re-validates amounts and dates, so its sentinels keep their kind.
func ledgerError(tool string, err error) error {
	kind := KindExecution
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		kind = KindInvalidAmount
	case errors.Is(err, ledger.ErrInvalidDate):
		kind = KindInvalidDate
	}
	return &Error{Kind: kind, Tool: tool, Err: fmt.Errorf("ledger: %w", err)}
}
