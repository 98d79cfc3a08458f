package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/smartfinance/ledgerbot/internal/ledger"
)

// Record list paging bounds.
const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// RecordInput is the body of POST and PUT /v1/records. On PUT, absent
// fields are left unchanged; "category": null clears the category.
type RecordInput struct {
	Type     *ledger.Type    `json:"type"`
	Amount   *float64        `json:"amount"`
	Category json.RawMessage `json:"category"`
	Note     *string         `json:"note"`
	Date     *string         `json:"date"`
}

// category decodes the category field: nil when absent, a nil inner
// pointer for an explicit null.
func (in RecordInput) category() (**string, error) {
	if len(in.Category) == 0 {
		return nil, nil
	}
	var c *string
	if err := json.Unmarshal(in.Category, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Server) handleRecordList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := ledger.Filter{
		Type:  ledger.Type(q.Get("type")),
		Start: q.Get("start"),
		End:   q.Get("end"),
		Limit: defaultRecordLimit,
	}
	if f.Type != "" && !f.Type.Valid() {
		s.errorResponse(w, http.StatusBadRequest, ledger.ErrInvalidType.Error())
		return
	}
	for _, d := range []string{f.Start, f.End} {
		if d != "" && !ledger.ValidDate(d) {
			s.errorResponse(w, http.StatusBadRequest, ledger.ErrInvalidDate.Error())
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRecordLimit {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxRecordLimit))
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}

	recs, err := s.records.List(r.Context(), userID, f)
	if err != nil {
		s.storeError(w, "list", err)
		return
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	writeJSON(w, map[string]any{
		"records": recs,
		"count":   len(recs),
	}, s.logger)
}

func (s *Server) handleRecordCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var in RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Amount == nil {
		s.errorResponse(w, http.StatusBadRequest, "amount is required")
		return
	}
	cat, err := in.category()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "category must be a string or null")
		return
	}

	nr := ledger.NewRecord{
		UserID: userID,
		Amount: *in.Amount,
		Source: ledger.SourceWeb,
	}
	if in.Type != nil {
		nr.Type = *in.Type
	}
	if cat != nil {
		nr.Category = *cat
	}
	if in.Note != nil {
		nr.Note = *in.Note
	}
	if in.Date != nil {
		nr.Date = *in.Date
	}

	rec, err := s.records.Create(r.Context(), nr)
	if err != nil {
		s.storeError(w, "create", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleRecordGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	rec, err := s.records.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.storeError(w, "get", err)
		return
	}
	writeJSON(w, rec, s.logger)
}

func (s *Server) handleRecordUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var in RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cat, err := in.category()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "category must be a string or null")
		return
	}

	rec, err := s.records.Update(r.Context(), userID, r.PathValue("id"), ledger.Patch{
		Type:     in.Type,
		Amount:   in.Amount,
		Category: cat,
		Note:     in.Note,
		Date:     in.Date,
	})
	if err != nil {
		s.storeError(w, "update", err)
		return
	}
	writeJSON(w, rec, s.logger)
}

func (s *Server) handleRecordDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.records.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		s.storeError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordDeleteLast(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	rec, err := s.records.DeleteLast(r.Context(), userID)
	if err != nil {
		s.storeError(w, "delete last", err)
		return
	}
	writeJSON(w, map[string]any{"deleted": rec}, s.logger)
}

// handleRecordSummary defaults to the current month through today.
func (s *Server) handleRecordSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if end == "" {
		end = s.records.Today()
	}
	if start == "" {
		if t, err := time.Parse(ledger.DateLayout, end); err == nil {
			start = t.AddDate(0, 0, 1-t.Day()).Format(ledger.DateLayout)
		}
	}

	sum, err := s.records.Summary(r.Context(), userID, start, end)
	if err != nil {
		s.storeError(w, "summary", err)
		return
	}
	writeJSON(w, map[string]any{
		"start":   start,
		"end":     end,
		"income":  sum.Income,
		"expense": sum.Expense,
		"total":   sum.Total,
	}, s.logger)
}
