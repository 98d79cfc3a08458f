package agent

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/smartfinance/ledgerbot/internal/prompts"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

// Reply length thresholds, in runes after trimming.
const (
	minInformativeRunes = 20
	minReplyRunes       = 2
)

// Outcome is the validator's decision on a reply.
type Outcome string

// Validator outcomes.
const (
	Accepted Outcome = "accepted"
	Replaced Outcome = "replaced"
)

// Verdict is the validated reply. Rules names every rule that fired.
type Verdict struct {
	Reply   string
	Outcome Outcome
	Rules   []string
}

// Validate checks a synthesized reply against the results of the tools
// that ran this turn and repairs it when it under-reports them. It only
// looks at structured results, never at the user's wording.
func Validate(reply string, results []tools.Result) Verdict {
	v := Verdict{Reply: strings.TrimSpace(reply), Outcome: Accepted}

	for _, r := range results {
		if !r.OK {
			continue
		}
		switch data := r.Data.(type) {
		case tools.AddedExpense:
			if runeLen(v.Reply) < minInformativeRunes && !mentionsAmount(v.Reply, data.Amount) {
				v.replace("add_confirmation", prompts.AddConfirmation(data.Amount, data.Category, data.Note))
			}
		case tools.RangeTotal:
			if !mentionsAmount(v.Reply, data.Total) {
				sentence := prompts.TotalSentence(data.StartDate, data.EndDate, data.Total)
				if v.Reply != "" {
					sentence += "\n" + v.Reply
				}
				v.replace("total_prepended", sentence)
			}
		}
	}

	if runeLen(v.Reply) < minReplyRunes {
		v.replace("too_short", prompts.Completed)
	}
	return v
}

func (v *Verdict) replace(rule, reply string) {
	v.Reply = reply
	v.Outcome = Replaced
	v.Rules = append(v.Rules, rule)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// mentionsAmount reports whether reply contains amount at cents
// precision, written plainly or with thousands separators. Fractional
// amounts also match with two decimals (88.10).
func mentionsAmount(reply string, amount float64) bool {
	if reply == "" {
		return false
	}
	forms := []string{prompts.FormatAmount(amount)}
	if cents := strconv.FormatFloat(amount, 'f', 2, 64); !strings.HasSuffix(cents, ".00") {
		forms = append(forms, cents)
	}
	for _, f := range forms {
		if containsNumber(reply, f) || containsNumber(reply, groupThousands(f)) {
			return true
		}
	}
	return false
}

// containsNumber finds num in s where it is not part of a longer
// number, so 350 does not match inside 3500.
func containsNumber(s, num string) bool {
	for i := 0; i <= len(s)-len(num); {
		j := strings.Index(s[i:], num)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(num)
		before := start == 0 || !isDigit(s[start-1])
		after := end == len(s) || !(isDigit(s[end]) || (s[end] == '.' || s[end] == ',') && end+1 < len(s) && isDigit(s[end+1]))
		if before && after {
			return true
		}
		i = start + 1
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// groupThousands inserts commas into the integer part of a formatted
// number: 1200.5 -> 1,200.5.
func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")
	if _, err := strconv.Atoi(intPart); err != nil || len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteString("." + frac)
	}
	return b.String()
}
