package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/smartfinance/ledgerbot/internal/prompts"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Line-Signature"

// maxWebhookBody bounds a webhook request body.
const maxWebhookBody = 1 << 20

// Turner runs one conversational turn.
type Turner interface {
	HandleTurn(ctx context.Context, userID, text string) string
}

// Replier sends a text reply to a webhook event.
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Webhook serves the LINE endpoints.
type Webhook struct {
	secret      []byte
	loop        Turner
	replier     Replier
	bindURL     string
	turnTimeout time.Duration
	logger      *slog.Logger
}

// NewWebhook creates the LINE webhook handler. bindURL may contain a
// "{user}" placeholder; when empty the QR endpoint is not registered.
func NewWebhook(secret string, loop Turner, replier Replier, bindURL string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		secret:      []byte(secret),
		loop:        loop,
		replier:     replier,
		bindURL:     bindURL,
		turnTimeout: 2 * time.Minute,
		logger:      logger.With("component", "line"),
	}
}

// RegisterRoutes adds the LINE endpoints to mux.
func (h *Webhook) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /line/webhook", h.handleWebhook)
	mux.HandleFunc("GET /line/webhook", h.handleLiveness)
	if h.bindURL != "" {
		mux.HandleFunc("GET /line/bind.png", h.handleBindQR)
	}
}

type webhookBody struct {
	Events []event `json:"events"`
}

type event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// ValidSignature reports whether signature is the base64 HMAC-SHA256
// of body under secret.
func ValidSignature(secret, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (h *Webhook) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signature"})
		return
	}
	if !ValidSignature(h.secret, body, sig) {
		h.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	for _, ev := range payload.Events {
		h.handleEvent(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEvent answers one text message event. Other events are ignored.
func (h *Webhook) handleEvent(ctx context.Context, ev event) {
	if ev.Type != "message" || ev.Message.Type != "text" {
		return
	}
	userID := ev.Source.UserID
	if userID == "" {
		h.logger.Warn("message event without user id", "message_id", ev.Message.ID)
		return
	}
	text := strings.TrimSpace(ev.Message.Text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()

	reply := h.runTurn(ctx, userID, text)
	if err := h.replier.ReplyText(ctx, ev.ReplyToken, reply); err != nil {
		h.logger.Error("LINE reply failed", "user", userID, "error", err)
	}
}

// runTurn shields the webhook from a panicking turn; the user still gets
// the apology.
func (h *Webhook) runTurn(ctx context.Context, userID, text string) (reply string) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("turn panicked", "user", userID, "panic", p)
			reply = prompts.FallbackApology
		}
	}()
	return h.loop.HandleTurn(ctx, userID, text)
}

func (h *Webhook) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "LINE Webhook endpoint"})
}

// handleBindQR renders a QR code that opens the account-binding page
// for the given web user.
func (h *Webhook) handleBindQR(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user is required"})
		return
	}

	png, err := qrcode.Encode(BindLink(h.bindURL, user), qrcode.Medium, 256)
	if err != nil {
		h.logger.Error("QR encode failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "qr encode failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		h.logger.Debug("QR write failed", "error", err)
	}
}

// BindLink fills the "{user}" placeholder in tmpl with the escaped user
// id, or appends it as a user query parameter when there is none.
func BindLink(tmpl, user string) string {
	if strings.Contains(tmpl, "{user}") {
		return strings.ReplaceAll(tmpl, "{user}", url.QueryEscape(user))
	}
	u, err := url.Parse(tmpl)
	if err != nil {
		return tmpl
	}
	q := u.Query()
	q.Set("user", user)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
