package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	result := SystemPrompt("U123", "2026-10-15", "2026-10-14")

	for _, want := range []string{"U123", "2026-10-15", "2026-10-14", "YYYY-MM-DD", "1-20"} {
		if !strings.Contains(result, want) {
			t.Errorf("prompt should contain %q", want)
		}
	}
}

func TestToolErrorMessage(t *testing.T) {
	kinds := []string{"invalid_amount", "invalid_date", "invalid_limit", "unknown_tool", "execution_error"}
	seen := map[string]string{}
	for _, k := range kinds {
		msg := ToolErrorMessage(k)
		if msg == "" {
			t.Errorf("ToolErrorMessage(%q) is empty", k)
		}
		if prev, dup := seen[msg]; dup && k != "execution_error" {
			t.Errorf("kinds %q and %q share a message", prev, k)
		}
		seen[msg] = k
	}
	if ToolErrorMessage("bogus") != FallbackApology {
		t.Error("unknown kind should fall back to the apology")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[float64]string{200: "200", 12.5: "12.5", 0.1: "0.1", 1e6: "1000000", 88.10000000000001: "88.1", 3.456: "3.46"}
	for in, want := range tests {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatAmount_RuntimeSum(t *testing.T) {
	a, b := 0.1, 0.2
	if got := FormatAmount(a + b); got != "0.3" {
		t.Errorf("FormatAmount(0.1+0.2) = %q, want 0.3", got)
	}
}

func TestAddConfirmation(t *testing.T) {
	cat := "飲食"
	tests := []struct {
		name     string
		category *string
		note     string
		want     string
	}{
		{"all fields", &cat, "午餐", "已記錄一筆 200 元的支出（類別：飲食，備註：午餐）。"},
		{"category only", &cat, "", "已記錄一筆 200 元的支出（類別：飲食）。"},
		{"bare", nil, "", "已記錄一筆 200 元的支出。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddConfirmation(200, tt.category, tt.note); got != tt.want {
				t.Errorf("AddConfirmation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTotalSentence(t *testing.T) {
	if got := TotalSentence("2026-10-15", "2026-10-15", 350); got != "2026-10-15 的支出總額為 350 元。" {
		t.Errorf("single day = %q", got)
	}
	if got := TotalSentence("2026-10-01", "2026-10-15", 1200.5); !strings.Contains(got, "至") || !strings.Contains(got, "1200.5") {
		t.Errorf("range = %q", got)
	}
}
