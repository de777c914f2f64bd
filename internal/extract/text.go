// Package extract turns raw HTML markup into cleaned plain text suitable for
// chunking and indexing. Structural boundaries (paragraphs, headings, list
// items, table rows) are preserved as newlines so downstream splitters do not
// glue unrelated sentences together.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"iframe":   {},
	"head":     {},
	"meta":     {},
	"link":     {},
}

var blockLevelTags = map[string]struct{}{
	"p":          {},
	"div":        {},
	"section":    {},
	"article":    {},
	"header":     {},
	"footer":     {},
	"h1":         {},
	"h2":         {},
	"h3":         {},
	"h4":         {},
	"h5":         {},
	"h6":         {},
	"li":         {},
	"ul":         {},
	"ol":         {},
	"table":      {},
	"tr":         {},
	"figure":     {},
	"figcaption": {},
}

// Text extracts whitespace-normalized plain text from HTML markup.
// Returns "" when the markup yields no visible text.
func Text(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	acc := &accumulator{}
	walk(findContentRoot(root), acc)

	return collapseBlankLines(sanitize(acc.String()))
}

func findContentRoot(node *html.Node) *html.Node {
	if body := findFirstElement(node, "body"); body != nil {
		return body
	}
	if htmlNode := findFirstElement(node, "html"); htmlNode != nil {
		return htmlNode
	}
	return node
}

func findFirstElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, tag) {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirstElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

type accumulator struct {
	builder   strings.Builder
	lastRune  rune
	hasLast   bool
	lastWasNL bool
}

func (a *accumulator) String() string { return a.builder.String() }

func (a *accumulator) append(value string) {
	if value == "" {
		return
	}
	a.builder.WriteString(value)
	for _, r := range value {
		a.lastRune = r
		a.hasLast = true
		a.lastWasNL = r == '\n'
	}
}

func (a *accumulator) ensureSpace() {
	if !a.hasLast || a.lastRune == ' ' || a.lastRune == '\n' {
		return
	}
	a.append(" ")
}

func (a *accumulator) ensureNewline() {
	if !a.hasLast || a.lastWasNL {
		return
	}
	a.append("\n")
}

func walk(node *html.Node, acc *accumulator) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		text := normalizeWhitespace(node.Data)
		if text == "" {
			return
		}
		acc.ensureSpace()
		acc.append(text)
	case html.ElementNode:
		tag := strings.ToLower(node.Data)
		if _, skip := skippedTags[tag]; skip {
			return
		}
		if tag == "br" {
			acc.ensureNewline()
			return
		}
		_, block := blockLevelTags[tag]
		if block {
			acc.ensureNewline()
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child, acc)
		}
		switch tag {
		case "td", "th":
			acc.ensureSpace()
		default:
			if block {
				acc.ensureNewline()
			}
		}
	default:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child, acc)
		}
	}
}

// sanitize strips control characters and maps typographic punctuation to
// ASCII so the corpus stays readable across encodings.
func sanitize(s string) string {
	replacer := strings.NewReplacer(
		"—", "-", "–", "-",
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"…", "...", "•", "*",
	)
	s = replacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 0x20 && r != 0x7f && (r < 0x80 || r > 0x9f) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
