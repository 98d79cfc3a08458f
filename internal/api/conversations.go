package api

import (
	"net/http"

	"github.com/smartfinance/ledgerbot/internal/memory"
)

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	sess, err := s.history.Session(r.Context(), userID)
	if err != nil {
		s.logger.Warn("conversation load failed", "user", userID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation history unavailable")
		return
	}
	if sess == nil {
		sess = &memory.Session{UserID: userID, Messages: []memory.Message{}}
	}
	writeJSON(w, sess, s.logger)
}

func (s *Server) handleConversationClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.history.Clear(r.Context(), userID); err != nil {
		s.logger.Warn("conversation clear failed", "user", userID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation history unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
