package discovery

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// skipped holds elements whose text is never shown to a reader.
var skipped = map[string]bool{
	"head":     true,
	"noscript": true,
	"script":   true,
	"style":    true,
	"template": true,
}

// blocks holds elements that separate words even without surrounding
// whitespace in the markup.
var blocks = map[string]bool{
	"article": true, "blockquote": true, "br": true, "dd": true, "div": true,
	"dl": true, "dt": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

// HTMLToText converts an HTML fragment to plain text without trying to
// preserve the visual layout: block elements become word breaks, runs of
// whitespace are collapsed, and the result is NFC-normalized.
func HTMLToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return norm.NFC.String(normalizeSpace(fragment))
	}

	var sb strings.Builder
	for _, n := range doc.Nodes {
		writeText(&sb, n)
	}

	return norm.NFC.String(normalizeSpace(sb.String()))
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.Data] {
			return
		}
	}

	block := n.Type == html.ElementNode && blocks[n.Data]
	if block {
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}
	if block {
		sb.WriteByte(' ')
	}
}

// normalizeSpace collapses runs of whitespace into single spaces and trims
// the ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
