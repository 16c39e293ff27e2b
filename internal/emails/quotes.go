package emails

import (
	"regexp"
	"strings"
)

// QuoteRule detects the start of a quoted reply chain at line i. Rules are
// evaluated per line in precedence order; the first line where any rule
// fires cuts the body there. Keeping them as an ordered list means a new
// provider quirk is one more entry, not a rewrite.
type QuoteRule struct {
	Name  string
	Match func(lines []string, i int) bool
}

var (
	// "On Mon, Jan 2, 2006 at 3:04 PM ... wrote:". The attribution line
	// can wrap, so "wrote:" may land a few lines further down.
	onDatePattern = regexp.MustCompile(`(?i)^On\s+((Mon|Tue|Wed|Thu|Fri|Sat|Sun)[a-z]*,?\s|` +
		`(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s|\d{1,2}[/. ])`)

	separatorPattern = regexp.MustCompile(`(?i)^-{3,}\s*(Original Message|Forwarded message)`)
)

// DefaultQuoteRules is the precedence-ordered marker list used by
// StripQuotedText.
var DefaultQuoteRules = []QuoteRule{
	{
		Name: "on-date-wrote",
		Match: func(lines []string, i int) bool {
			if !onDatePattern.MatchString(lines[i]) {
				return false
			}
			// "wrote:" must appear on this line or within the next 4.
			end := i + 4
			if end >= len(lines) {
				end = len(lines) - 1
			}
			for j := i; j <= end; j++ {
				if strings.Contains(lines[j], "wrote:") {
					return true
				}
			}
			return false
		},
	},
	{
		Name: "wrote-suffix",
		Match: func(lines []string, i int) bool {
			return strings.HasSuffix(strings.TrimSpace(lines[i]), "wrote:")
		},
	},
	{
		Name: "separator",
		Match: func(lines []string, i int) bool {
			return separatorPattern.MatchString(strings.TrimSpace(lines[i]))
		},
	},
	{
		Name: "quote-run",
		Match: func(lines []string, i int) bool {
			// A run of at least 3 consecutive ">" lines marks the quoted
			// chain; the run itself is the marker, so the cut lands on its
			// first line.
			if i+2 >= len(lines) {
				return false
			}
			return strings.HasPrefix(lines[i], ">") &&
				strings.HasPrefix(lines[i+1], ">") &&
				strings.HasPrefix(lines[i+2], ">")
		},
	},
}

// StripQuotedText returns only the lines preceding the first recognized
// quote marker, preserving original newlines, with surrounding whitespace
// trimmed. Bodies with no marker come back whole.
func StripQuotedText(body string) string {
	return StripQuotedTextWith(body, DefaultQuoteRules)
}

// StripQuotedTextWith runs the given rule set instead of the default one.
func StripQuotedTextWith(body string, rules []QuoteRule) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	cut := len(lines)
	for i := range lines {
		for _, rule := range rules {
			if rule.Match(lines, i) {
				cut = i
				break
			}
		}
		if cut != len(lines) {
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[:cut], "\n"))
}
