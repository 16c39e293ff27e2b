package emails

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptPattern = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	stylePattern  = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	headPattern   = regexp.MustCompile(`(?is)<head\b.*?</head>`)

	// Block-level boundaries must become newlines before tags are stripped:
	// quote-marker detection depends on line boundaries surviving the
	// conversion.
	brPattern         = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphPattern  = regexp.MustCompile(`(?i)</p>`)
	blockClosePattern = regexp.MustCompile(`(?i)</(div|tr|li|h[1-6]|blockquote|table)>`)
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)

	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)
)

// HTMLToText converts an HTML body part to plain text. Block-level closing
// tags and <br> map to newlines first, then remaining tags are stripped,
// entities decoded and whitespace collapsed.
func HTMLToText(htmlBody string) string {
	text := scriptPattern.ReplaceAllString(htmlBody, "")
	text = stylePattern.ReplaceAllString(text, "")
	text = headPattern.ReplaceAllString(text, "")

	text = brPattern.ReplaceAllString(text, "\n")
	text = paragraphPattern.ReplaceAllString(text, "\n\n")
	text = blockClosePattern.ReplaceAllString(text, "\n")

	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	// Collapse runs without destroying the line structure.
	text = spaceRunPattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
