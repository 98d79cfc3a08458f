package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const geminiMaxTokens = 1024

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client    *genai.Client
	pingModel string
	logger    *slog.Logger
}

// NewGeminiClient creates a Gemini client for the Gemini API backend.
// pingModel is the model Ping looks up.
func NewGeminiClient(ctx context.Context, apiKey, pingModel string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiClient{
		client:    gc,
		pingModel: pingModel,
		logger:    logger.With("provider", "gemini"),
	}, nil
}

// Chat sends a GenerateContent request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: geminiMaxTokens,
		Tools:           convertToolsToGemini(tools),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(contents),
		"tools", len(tools),
		"system_len", len(system),
	)

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapGeminiError(err)
	}

	result := convertFromGemini(resp)
	if result.Model == "" {
		result.Model = model
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping looks up the configured model to verify the API key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.pingModel, nil); err != nil {
		return wrapGeminiError(err)
	}
	return nil
}

// wrapGeminiError converts SDK API errors to [*APIError] so callers can
// classify them like the HTTP providers.
func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}

// convertToGemini converts internal messages to genai contents. System
// messages become the system instruction. Consecutive tool results are
// grouped into one user content.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var system string
	var result []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleUser:
			result = append(result, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Args: tc.Function.Arguments,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, &genai.Content{Role: "model", Parts: parts})

		case RoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"output": msg.Content},
				},
			}
			if n := len(result); n > 0 && result[n-1].Role == "user" && isFunctionResponse(result[n-1]) {
				result[n-1].Parts = append(result[n-1].Parts, part)
				continue
			}
			result = append(result, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}
	return result, system
}

func isFunctionResponse(c *genai.Content) bool {
	return len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// convertToolsToGemini converts OpenAI-format tool entries to one genai
// tool holding every function declaration.
func convertToolsToGemini(tools []map[string]any) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		name, desc, params, ok := splitToolEntry(tool)
		if !ok {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 name,
			Description:          desc,
			ParametersJsonSchema: params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertFromGemini reads the first candidate. Thought parts are skipped.
// Function calls without an ID get a generated one so tool results can
// be correlated.
func convertFromGemini(resp *genai.GenerateContentResponse) *ChatResponse {
	out := &ChatResponse{
		Model:   resp.ModelVersion,
		Message: Message{Role: RoleAssistant},
		Done:    true,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:       id,
				Function: FunctionCall{Name: part.FunctionCall.Name, Arguments: args},
			})
			continue
		}
		out.Message.Content += part.Text
	}
	return out
}
