// Package ascii enforces 7-bit ASCII on every string crossing a
// subprocess boundary. The host terminal encoding cannot be assumed, so
// prompts and outputs are both passed through Sanitize.
package ascii

import (
	"fmt"
	"strings"
)

// replacements maps known non-ASCII sequences to their ASCII stand-ins.
// Multi-rune sequences (emoji with variation selectors) are listed before
// their single-rune prefixes so the replacer matches them first.
var replacements = []string{
	// Arrows and comparison operators.
	"→", "->",
	"←", "<-",
	"⇒", "=>",
	"≤", "<=",
	"≥", ">=",
	"≠", "!=",
	"≡", "==",
	"∴", "// therefore",
	"∵", "// because",

	// Status symbols.
	"✅", "[PASS]",
	"❌", "[FAIL]",
	"⚠️", "[WARN]",
	"⚠", "[WARN]",
	"\U0001F504", "[PROGRESS]",
	"\U0001F4CB", "[INFO]",
	"⏳", "[PENDING]",
	"\U0001F3AF", "[TARGET]",
	"\U0001F6A8", "[ALERT]",
	"\U0001F4A1", "[IDEA]",
	"\U0001F4CA", "[DATA]",
	"\U0001F50D", "[SEARCH]",
	"⭐", "[STAR]",
	"\U0001F389", "[SUCCESS]",
	"\U0001F4A5", "[ERROR]",
	"✓", "OK",
	"✗", "X",
	"ℹ", "i",

	// UI symbols.
	"\U0001F4C4", "[DOC]",
	"\U0001F680", "[START]",
	"\U0001F527", "[CONFIG]",
	"⏹️", "[STOP]",
	"⏹", "[STOP]",
	"\U0001F9EA", "[TEST]",
	"\U0001F4C1", "[FOLDER]",
	"\U0001F310", "[WEB]",
	"\U0001F4F1", "[MOBILE]",
}

var replacer = strings.NewReplacer(replacements...)

// Violation records one non-ASCII character found by Validate.
type Violation struct {
	// Line is the 1-based line number.
	Line int
	// Column is the 1-based rune column within the line.
	Column int
	// Char is the offending rune.
	Char rune
	// Code is the U+XXXX notation of the rune.
	Code string
	// Suggestion is the replacement-table entry, if any.
	Suggestion string
}

// suggestion returns the mapped replacement for a single rune, or "".
func suggestion(r rune) string {
	s := string(r)
	for i := 0; i < len(replacements); i += 2 {
		if replacements[i] == s {
			return replacements[i+1]
		}
	}
	return ""
}

// Sanitize maps every known non-ASCII sequence through the replacement
// table and turns any remaining rune above 127 into '?'. The output is
// pure 7-bit ASCII, so Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	text = replacer.Replace(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r > 127 {
			b.WriteByte('?')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate scans text for non-ASCII characters and reports each one.
// Returns true with no violations for clean input.
func Validate(text string) (bool, []Violation) {
	var violations []Violation
	for lineNum, line := range strings.Split(text, "\n") {
		col := 0
		for _, r := range line {
			col++
			if r > 127 {
				violations = append(violations, Violation{
					Line:       lineNum + 1,
					Column:     col,
					Char:       r,
					Code:       fmt.Sprintf("U+%04X", r),
					Suggestion: suggestion(r),
				})
			}
		}
	}
	return len(violations) == 0, violations
}

// promptSuffix is appended to every prompt sent to an LLM CLI so the
// model itself avoids emitting characters the sanitizer would mangle.
const promptSuffix = `

CRITICAL ASCII-ONLY REQUIREMENT:
- Generate ONLY ASCII characters (codes 0-127)
- NO Unicode symbols, emojis, or extended characters
- Use -> <- => <= >= != instead of arrow and comparison symbols
- Use [PASS] [FAIL] [WARN] [PROGRESS] [INFO] [PENDING] instead of status symbols
- This prevents terminal encoding errors in subprocess communication

VERIFY: All output must pass ASCII-only validation before submission.
`

// EnforcePrompt appends the ASCII-only instruction block to a prompt.
func EnforcePrompt(prompt string) string {
	return prompt + promptSuffix
}
