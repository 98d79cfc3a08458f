package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string // First tool name if wantCount > 0
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text no JSON", content: "已幫你記下午餐 200 元。", wantCount: 0},
		{
			name:      "single tool call object",
			content:   `{"name": "add_expense", "arguments": {"amount": 200}}`,
			wantCount: 1,
			wantName:  "add_expense",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "add_expense", "arguments": {"amount": 200}}, {"name": "query_total", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "add_expense",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "query_total", "arguments": {"start_date": "2026-10-15", "end_date": "2026-10-15"}}</tool_call>`,
			wantCount: 1,
			wantName:  "query_total",
		},
		{
			name:      "tagged tool call without closing tag",
			content:   `<tool_call>{"name": "list_recent_expenses", "arguments": {"limit": 5}}`,
			wantCount: 1,
			wantName:  "list_recent_expenses",
		},
		{
			name:      "concatenated objects",
			content:   `{"name": "add_expense", "arguments": {"amount": 200}}{"name": "add_expense", "arguments": {"amount": 150}}`,
			wantCount: 2,
			wantName:  "add_expense",
		},
		{
			name:      "object with trailing text",
			content:   `{"name": "list_all_expenses", "arguments": {}} done`,
			wantCount: 1,
			wantName:  "list_all_expenses",
		},
		{name: "object without name", content: `{"amount": 200}`, wantCount: 0},
		{name: "broken JSON", content: `{"name": "add_expense", "arguments": {`, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call = %q, want %q", got[0].Function.Name, tt.wantName)
			}
			for _, c := range got {
				if c.Function.Arguments == nil {
					t.Error("arguments should never be nil")
				}
			}
		})
	}
}

func TestOllamaWireResponse_BasicChat(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {"role": "assistant", "content": "今天總共花了 350 元。"},
		"done": true,
		"total_duration": 1234567890,
		"load_duration": 100000000,
		"prompt_eval_count": 42,
		"eval_count": 15,
		"eval_duration": 600000000
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if resp.Model != "qwen3:4b" {
		t.Errorf("Model = %q, want %q", resp.Model, "qwen3:4b")
	}
	if resp.CreatedAt.Year() != 2026 || resp.CreatedAt.Month() != time.February {
		t.Errorf("CreatedAt = %v, expected 2026-02", resp.CreatedAt)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.LoadDuration != 100*time.Millisecond {
		t.Errorf("LoadDuration = %v, want 100ms", resp.LoadDuration)
	}
}

func TestOllamaWireResponse_MissingTimestamp(t *testing.T) {
	wire := ollamaWireResponse{Model: "qwen3:4b"}
	if !wire.toChatResponse().CreatedAt.IsZero() {
		t.Error("missing created_at should yield zero time")
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"qwen3:4b","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"add_expense","arguments":{"amount":200,"category":"飲食"}}}]},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "add_expense"}}}
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{{Role: "user", Content: "午餐200元，飲食"}}, tools)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got.Stream {
		t.Error("request should not stream")
	}
	if len(got.Tools) != 1 {
		t.Errorf("tools sent = %d, want 1", len(got.Tools))
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Arguments["category"] != "飲食" {
		t.Errorf("arguments = %v", resp.Message.ToolCalls[0].Function.Arguments)
	}
}

func TestOllamaClient_ChatTextToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"qwen3:4b","message":{"role":"assistant","content":"{\"name\":\"query_total\",\"arguments\":{}}"},"done":true}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "qwen3:4b", nil, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.Content != "" {
		t.Errorf("text tool call not lifted: %+v", resp.Message)
	}
}

func TestOllamaClient_ChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "missing", nil, nil)
	var apiErr *APIError
	if !errorsAs(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want *APIError 404", err)
	}
}

func TestOllamaClientImplementsInterface(t *testing.T) {
	var _ Client = (*OllamaClient)(nil)
}
