package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartfinance/ledgerbot/internal/database"
)

// Store is the SQL-backed ledger. All methods are safe for concurrent use.
type Store struct {
	db  *database.DB
	loc *time.Location
	now func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithLocation sets the timezone used to resolve "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a ledger store on db. The schema is created
// automatically on first use.
func NewStore(ctx context.Context, db *database.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	t := s.db.Types()
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS ledger_records (
		id         %[1]s PRIMARY KEY,
		user_id    %[1]s NOT NULL,
		type       %[2]s NOT NULL,
		amount     %[3]s NOT NULL,
		category   %[2]s,
		note       %[2]s NOT NULL DEFAULT '',
		entry_date %[2]s NOT NULL,
		entry_ts   %[2]s NOT NULL,
		source     %[2]s NOT NULL,
		created_at %[4]s NOT NULL,
		updated_at %[4]s NOT NULL
	)`, t.Key, t.Text, t.Float, t.Int)

	if err := s.db.ExecAll(ctx, schema); err != nil {
		return err
	}
	if err := s.db.CreateIndex(ctx, "idx_ledger_user_ts", "ledger_records", "user_id, entry_ts"); err != nil {
		return err
	}
	return s.db.CreateIndex(ctx, "idx_ledger_user_date", "ledger_records", "user_id, entry_date")
}

type asOfKey struct{}

// WithAsOf returns a context whose writes treat t as "now". A chat turn
// sets its start time so a record added without a date lands on the day
// the model was told is today, even if the turn crosses midnight.
func WithAsOf(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, asOfKey{}, t)
}

// today returns the current time in the store's timezone.
func (s *Store) today() time.Time {
	return s.now().In(s.loc)
}

// asOf is today unless ctx carries an anchor from [WithAsOf].
func (s *Store) asOf(ctx context.Context) time.Time {
	if t, ok := ctx.Value(asOfKey{}).(time.Time); ok && !t.IsZero() {
		return t.In(s.loc)
	}
	return s.today()
}

// Today returns today's date in YYYY-MM-DD form.
func (s *Store) Today() string {
	return s.today().Format(DateLayout)
}

// AddRecord inserts one expense entered through chat. Empty date means
// today. Exactly one record is written per successful call.
func (s *Store) AddRecord(ctx context.Context, userID string, amount float64, category *string, note, date string) (*Record, error) {
	return s.Create(ctx, NewRecord{
		UserID:   userID,
		Type:     Expense,
		Amount:   amount,
		Category: category,
		Note:     note,
		Date:     date,
		Source:   SourceChat,
	})
}

// Create validates and inserts a record.
func (s *Store) Create(ctx context.Context, in NewRecord) (*Record, error) {
	if !ValidAmount(in.Amount) {
		return nil, ErrInvalidAmount
	}
	if in.Type == "" {
		in.Type = Expense
	}
	if !in.Type.Valid() {
		return nil, ErrInvalidType
	}
	if in.Source == "" {
		in.Source = SourceWeb
	}

	now := s.asOf(ctx)
	date, ts := now.Format(DateLayout), now.Format(TSLayout)
	if in.Date != "" {
		if !ValidDate(in.Date) {
			return nil, ErrInvalidDate
		}
		// A bare date sorts at noon of that day.
		date, ts = in.Date, in.Date+"T12:00"
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	r := &Record{
		ID:        id.String(),
		UserID:    in.UserID,
		Type:      in.Type,
		Amount:    in.Amount,
		Category:  in.Category,
		Note:      in.Note,
		Date:      date,
		TS:        ts,
		Source:    in.Source,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	r.UpdatedAt = r.CreatedAt

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO ledger_records
		 (id, user_id, type, amount, category, note, entry_date, entry_ts, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, string(r.Type), r.Amount, nullString(r.Category), r.Note,
		r.Date, r.TS, string(r.Source), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return r, nil
}

// TotalInRange sums expense amounts with start <= date <= end.
func (s *Store) TotalInRange(ctx context.Context, userID, start, end string) (float64, error) {
	sum, err := s.Summary(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	return sum.Expense, nil
}

// Summary returns income and expense totals with start <= date <= end.
func (s *Store) Summary(ctx context.Context, userID, start, end string) (Summary, error) {
	if !ValidDate(start) || !ValidDate(end) {
		return Summary{}, ErrInvalidDate
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT type, COALESCE(SUM(amount), 0) FROM ledger_records
		 WHERE user_id = ? AND entry_date >= ? AND entry_date <= ?
		 GROUP BY type`),
		userID, start, end,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("sum records: %w", err)
	}
	defer rows.Close()

	var out Summary
	for rows.Next() {
		var typ string
		var total float64
		if err := rows.Scan(&typ, &total); err != nil {
			return Summary{}, fmt.Errorf("scan sum: %w", err)
		}
		switch Type(typ) {
		case Income:
			out.Income = total
		case Expense:
			out.Expense = total
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	out.Income = RoundAmount(out.Income)
	out.Expense = RoundAmount(out.Expense)
	out.Total = RoundAmount(out.Income - out.Expense)
	return out, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	return s.List(ctx, userID, Filter{Limit: limit})
}

// All returns every record for userID, oldest first.
func (s *Store) All(ctx context.Context, userID string) ([]Record, error) {
	return s.query(ctx,
		`WHERE user_id = ? ORDER BY entry_ts ASC, created_at ASC, id ASC`,
		userID,
	)
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, userID string, f Filter) ([]Record, error) {
	where, args := []string{"user_id = ?"}, []any{userID}
	if f.Type != "" {
		where, args = append(where, "type = ?"), append(args, string(f.Type))
	}
	if f.Start != "" {
		where, args = append(where, "entry_date >= ?"), append(args, f.Start)
	}
	if f.End != "" {
		where, args = append(where, "entry_date <= ?"), append(args, f.End)
	}

	clause := "WHERE " + strings.Join(where, " AND ") +
		" ORDER BY entry_ts DESC, created_at DESC, id DESC"
	if f.Limit > 0 {
		clause += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			clause += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	return s.query(ctx, clause, args...)
}

// Get returns one record owned by userID.
func (s *Store) Get(ctx context.Context, userID, id string) (*Record, error) {
	recs, err := s.query(ctx, `WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// Update applies p to a record owned by userID and returns the result.
func (s *Store) Update(ctx context.Context, userID, id string, p Patch) (*Record, error) {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, ErrInvalidType
		}
		r.Type = *p.Type
	}
	if p.Amount != nil {
		if !ValidAmount(*p.Amount) {
			return nil, ErrInvalidAmount
		}
		r.Amount = *p.Amount
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	if p.Date != nil {
		if !ValidDate(*p.Date) {
			return nil, ErrInvalidDate
		}
		r.Date, r.TS = *p.Date, *p.Date+"T12:00"
	}
	r.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE ledger_records
		 SET type = ?, amount = ?, category = ?, note = ?, entry_date = ?, entry_ts = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`),
		string(r.Type), r.Amount, nullString(r.Category), r.Note, r.Date, r.TS, r.UpdatedAt.UnixMilli(),
		userID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r, nil
}

// Delete removes one record owned by userID.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM ledger_records WHERE user_id = ? AND id = ?`), userID, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLast removes the newest record for userID and returns it.
func (s *Store) DeleteLast(ctx context.Context, userID string) (*Record, error) {
	recs, err := s.Recent(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	if err := s.Delete(ctx, userID, recs[0].ID); err != nil {
		return nil, err
	}
	return &recs[0], nil
}

// Clear removes every record for userID and returns how many were removed.
func (s *Store) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM ledger_records WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, clause string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, user_id, type, amount, category, note, entry_date, entry_ts, source, created_at, updated_at
		 FROM ledger_records `+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                Record
			typ, src         string
			category         sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &typ, &r.Amount, &category, &r.Note,
			&r.Date, &r.TS, &src, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Type, r.Source = Type(typ), Source(src)
		if category.Valid {
			c := category.String
			r.Category = &c
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidDate) || errors.Is(err, ErrInvalidType)
}
