package prompts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Fixed replies for turn-level outcomes.
const (
	// FallbackApology is the reply for any failure without a more
	// specific message.
	FallbackApology = "記帳系統目前有點問題，晚點再試試看 QQ"

	// NotUnderstood replaces an empty first model reply.
	NotUnderstood = "抱歉，我無法理解您的需求。"

	// Completed replaces an empty or near-empty synthesized reply.
	Completed = "處理完成。"

	// ModelAuthFailed is shown when the model provider rejects our
	// credentials.
	ModelAuthFailed = "記帳助理暫時無法連線到模型服務（授權失敗），請通知管理員。"

	// ModelRateLimited is shown when the provider throttles us.
	ModelRateLimited = "目前使用的人有點多，請稍等一下再試 QQ"

	// ModelTimedOut is shown when the model call exceeds its deadline.
	ModelTimedOut = "回應時間太長了，請再試一次。"

	// ClearConfirm asks the user to repeat a clear request.
	ClearConfirm = "確定要清空所有記帳紀錄嗎？這個動作無法復原。如果確定，請再說一次「清空紀錄」。"
)

// Tool failure replies, one per error kind.
var toolErrorMessages = map[string]string{
	"invalid_amount":  "金額必須大於 0，請再確認一次金額。",
	"invalid_date":    "日期格式不正確，請使用 YYYY-MM-DD（例如 2026-01-31）。",
	"invalid_limit":   "筆數必須介於 1 到 20 之間。",
	"unknown_tool":    "抱歉，我沒有辦法執行這個操作。",
	"execution_error": FallbackApology,
}

// ToolErrorMessage returns the user-facing sentence for a tool error
// kind. Unknown kinds get the fallback apology.
func ToolErrorMessage(kind string) string {
	if msg, ok := toolErrorMessages[kind]; ok {
		return msg
	}
	return FallbackApology
}

// FormatAmount renders an amount in cents precision without trailing
// zeros: 200, 12.5, 88.1.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// AddConfirmation is the deterministic reply after an expense is added.
func AddConfirmation(amount float64, category *string, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "已記錄一筆 %s 元的支出", FormatAmount(amount))

	var details []string
	if category != nil && *category != "" {
		details = append(details, "類別："+*category)
	}
	if note != "" {
		details = append(details, "備註："+note)
	}
	if len(details) > 0 {
		b.WriteString("（" + strings.Join(details, "，") + "）")
	}
	b.WriteString("。")
	return b.String()
}

// TotalSentence states an expense total for a date range.
func TotalSentence(start, end string, total float64) string {
	if start == end {
		return fmt.Sprintf("%s 的支出總額為 %s 元。", start, FormatAmount(total))
	}
	return fmt.Sprintf("%s 至 %s 的支出總額為 %s 元。", start, end, FormatAmount(total))
}
