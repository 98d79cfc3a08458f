// Package api implements the ledgerbot HTTP API: chat, records, and
// conversation history.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartfinance/ledgerbot/internal/buildinfo"
	"github.com/smartfinance/ledgerbot/internal/ledger"
	"github.com/smartfinance/ledgerbot/internal/memory"
)

// UserHeader carries the caller's identity. Resolving it (sessions,
// login) happens in front of this server.
const UserHeader = "X-User-ID"

// Turner runs one conversational turn.
type Turner interface {
	HandleTurn(ctx context.Context, userID, text string) string
}

// RecordStore is the ledger surface the records endpoints use.
type RecordStore interface {
	Create(ctx context.Context, in ledger.NewRecord) (*ledger.Record, error)
	List(ctx context.Context, userID string, f ledger.Filter) ([]ledger.Record, error)
	Get(ctx context.Context, userID, id string) (*ledger.Record, error)
	Update(ctx context.Context, userID, id string, p ledger.Patch) (*ledger.Record, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteLast(ctx context.Context, userID string) (*ledger.Record, error)
	Summary(ctx context.Context, userID, start, end string) (ledger.Summary, error)
	Today() string
}

// Conversations is the history surface the conversation endpoints use.
type Conversations interface {
	Session(ctx context.Context, userID string) (*memory.Session, error)
	Clear(ctx context.Context, userID string) error
}

// Routes is implemented by packages that add endpoints to the server.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     Turner
	records  RecordStore
	history  Conversations
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates the API server and registers its routes.
func NewServer(address string, port int, loop Turner, records RecordStore, history Conversations, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address: address,
		port:    port,
		loop:    loop,
		records: records,
		history: history,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Chat
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	// Records
	s.mux.HandleFunc("GET /v1/records", s.handleRecordList)
	s.mux.HandleFunc("POST /v1/records", s.handleRecordCreate)
	s.mux.HandleFunc("GET /v1/records/summary", s.handleRecordSummary)
	s.mux.HandleFunc("DELETE /v1/records/last", s.handleRecordDeleteLast)
	s.mux.HandleFunc("GET /v1/records/{id}", s.handleRecordGet)
	s.mux.HandleFunc("PUT /v1/records/{id}", s.handleRecordUpdate)
	s.mux.HandleFunc("DELETE /v1/records/{id}", s.handleRecordDelete)

	// Conversation history
	s.mux.HandleFunc("GET /v1/conversations/me", s.handleConversationGet)
	s.mux.HandleFunc("DELETE /v1/conversations/me", s.handleConversationClear)

	// Health endpoints
	s.mux.HandleFunc("GET /v1/version", s.handleVersion)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

// Mount adds another package's routes to the server.
func (s *Server) Mount(r Routes) {
	r.RegisterRoutes(s.mux)
}

// Handler returns the server's root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown, including when Shutdown ran first.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, fmt.Sprint(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // Long enough for two model calls
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack supports the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "ledgerbot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// userID returns the caller identity or writes a 401.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		s.errorResponse(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return "", false
	}
	return id, true
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// storeError maps ledger errors to HTTP responses. Unexpected errors are
// logged and reported without detail.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "record not found")
	case ledger.IsValidation(err):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", "op", op, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}
