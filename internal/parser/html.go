package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block-level elements that start a new line in the text rendering
const blockSelector = "p, div, br, h1, h2, h3, h4, h5, h6, li, tr, blockquote"

var (
	// Horizontal whitespace runs, newlines kept
	spaceRun = regexp.MustCompile(`[^\S\n]+`)
	// Zero-width and other invisible characters used as tracking padding
	invisibleChars = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}]+`)
	// A known tag name right after "<" or "</", attributes only as name=value
	htmlTag = regexp.MustCompile(`(?i)</?(html|body|div|p|br|span|table|a|b|i|strong|em|ul|ol|li|h[1-6])(\s+[\w-]+\s*=\s*("[^"]*"|'[^']*'|[^\s"'>]+))*\s*/?>`)
)

// HTMLParser renders HTML bodies as plain text
type HTMLParser struct{}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// LooksLikeHTML reports whether s contains recognizable HTML markup
func (p *HTMLParser) LooksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// Parse converts HTML to clean plain text
func (p *HTMLParser) Parse(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := invisibleChars.ReplaceAllString(doc.Text(), "")
	text = spaceRun.ReplaceAllString(text, " ")

	return collapseLines(text), nil
}

// collapseLines trims every line and drops the empty ones
func collapseLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
