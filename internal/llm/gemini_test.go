package llm

import (
	"testing"

	"google.golang.org/genai"
)

func TestConvertToGemini(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "午餐200、晚餐150"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "c1", Function: FunctionCall{Name: "add_expense", Arguments: map[string]any{"amount": 200}}},
			{ID: "c2", Function: FunctionCall{Name: "add_expense", Arguments: map[string]any{"amount": 150}}},
		}},
		{Role: "tool", ToolCallID: "c1", ToolName: "add_expense", Content: `{"ok":true}`},
		{Role: "tool", ToolCallID: "c2", ToolName: "add_expense", Content: `{"ok":true}`},
	}

	contents, system := convertToGemini(messages)

	if system != "sys" {
		t.Errorf("system = %q, want sys", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != "model" || len(contents[1].Parts) != 2 {
		t.Fatalf("model content = %+v", contents[1])
	}
	if contents[1].Parts[0].FunctionCall.Name != "add_expense" {
		t.Errorf("function call name = %q", contents[1].Parts[0].FunctionCall.Name)
	}
	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("function responses = %d, want 2 in one content", len(responses))
	}
	if responses[1].FunctionResponse.ID != "c2" || responses[1].FunctionResponse.Name != "add_expense" {
		t.Errorf("second response = %+v", responses[1].FunctionResponse)
	}
}

func TestConvertToolsToGemini(t *testing.T) {
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "query_total",
			"description": "Sum expenses",
			"parameters":  map[string]any{"type": "object"},
		},
	}}

	got := convertToolsToGemini(tools)
	if len(got) != 1 || len(got[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tools: %+v", got)
	}
	decl := got[0].FunctionDeclarations[0]
	if decl.Name != "query_total" || decl.ParametersJsonSchema == nil {
		t.Errorf("declaration = %+v", decl)
	}
	if convertToolsToGemini(nil) != nil {
		t.Error("no tools should convert to nil")
	}
}

func TestConvertFromGemini(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		ModelVersion: "gemini-2.5-flash",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "thinking...", Thought: true},
					{Text: "好的"},
					{FunctionCall: &genai.FunctionCall{Name: "list_recent_expenses", Args: map[string]any{"limit": 3.0}}},
				},
			},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 4,
		},
	}

	got := convertFromGemini(resp)

	if got.Message.Content != "好的" {
		t.Errorf("content = %q, thought parts must be skipped", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(got.Message.ToolCalls))
	}
	if got.Message.ToolCalls[0].ID == "" {
		t.Error("missing function call ID should be generated")
	}
	if got.InputTokens != 12 || got.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d", got.InputTokens, got.OutputTokens)
	}
}

func TestConvertFromGemini_NoCandidates(t *testing.T) {
	got := convertFromGemini(&genai.GenerateContentResponse{})
	if got.Message.Content != "" || len(got.Message.ToolCalls) != 0 {
		t.Errorf("empty response should yield empty message, got %+v", got.Message)
	}
}

func TestWrapGeminiError(t *testing.T) {
	err := wrapGeminiError(genai.APIError{Code: 429, Message: "quota"})
	if Classify(err) != CategoryRateLimit {
		t.Errorf("Classify() = %q, want rate_limit", Classify(err))
	}
}

func TestGeminiClientImplementsInterface(t *testing.T) {
	var _ Client = (*GeminiClient)(nil)
}
