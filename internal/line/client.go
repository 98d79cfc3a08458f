// Package line connects ledgerbot to the LINE Messaging API: the
// webhook that receives chat messages, the reply client, and the
// account-binding QR code.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smartfinance/ledgerbot/internal/httpkit"
)

// maxTextRunes is the LINE limit for one text message.
const maxTextRunes = 5000

// ReplyClient sends reply messages with a channel access token.
type ReplyClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReplyClient creates a client for the API at baseURL
// (https://api.line.me in production).
func NewReplyClient(baseURL, token string, logger *slog.Logger) *ReplyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(httpkit.DefaultResponseHeader),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// ReplyText answers the event identified by replyToken.
func (c *ReplyClient) ReplyText(ctx context.Context, replyToken, text string) error {
	body, err := json.Marshal(replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: truncateRunes(text, maxTextRunes)}},
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 1024)
		return fmt.Errorf("LINE reply API error %d: %s", resp.StatusCode, msg)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
