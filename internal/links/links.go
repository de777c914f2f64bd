package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Canonicalize normalizes a URL to its canonical form: fragment removed,
// trailing slash trimmed unless the path is the root, query string preserved
// verbatim. The operation is idempotent.
func Canonicalize(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)

	path := parsed.EscapedPath()
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimRight(path, "/")
	}
	canonical := scheme + "://" + host + path
	if parsed.RawQuery != "" {
		canonical += "?" + parsed.RawQuery
	}
	return canonical, nil
}

// HostPath returns the scheme+host+path portion of a URL, dropping the query.
// Two URLs with equal HostPath are the same page for crawl-completion
// purposes even when their query strings differ.
func HostPath(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := parsed.EscapedPath()
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimRight(path, "/")
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
}

// MatchesAny reports whether the URL contains any of the terms,
// case-insensitively.
func MatchesAny(raw string, terms []string) bool {
	lower := strings.ToLower(raw)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Prioritize partitions links into a front group matching any priority term
// and a back group with the remainder, preserving relative order within each
// group.
func Prioritize(urls []string, terms []string) []string {
	if len(terms) == 0 || len(urls) == 0 {
		return urls
	}
	front := make([]string, 0, len(urls))
	back := make([]string, 0, len(urls))
	for _, u := range urls {
		if MatchesAny(u, terms) {
			front = append(front, u)
		} else {
			back = append(back, u)
		}
	}
	return append(front, back...)
}

var onclickPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:window\.location|location\.href)\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`href=['"](https?://[^'"]+)['"]`),
	regexp.MustCompile(`openWindow\(['"]([^'"]+)['"]`),
}

var menuClassTerms = []string{"menu", "nav", "dropdown", "header-links", "footer-links"}

// Extract discovers same-host links in the markup: anchor hrefs, links inside
// navigation/menu/dropdown containers (script-driven mega-menus often render
// these server-side even when top-level anchors are injected later), URLs
// embedded in onclick handlers, and form actions. The result is canonical,
// deduplicated, and keeps insertion order.
func Extract(markup, baseURL string) []string {
	if strings.TrimSpace(markup) == "" {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	baseHost := strings.ToLower(base.Host)
	// A bare-fragment link navigates within the base page; it contributes the
	// page itself so anchor-only navigation does not drop it from discovery.
	basePage := strings.ToLower(base.Scheme) + "://" + baseHost + trimSlash(base.EscapedPath())

	seen := make(map[string]struct{})
	var out []string
	add := func(candidate string) {
		canonical, err := Canonicalize(candidate)
		if err != nil {
			return
		}
		parsed, err := url.Parse(canonical)
		if err != nil || !strings.EqualFold(parsed.Host, baseHost) {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	collect := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		if strings.HasPrefix(href, "#") {
			add(basePage)
			return
		}
		if strings.HasPrefix(href, "/") {
			add(base.Scheme + "://" + base.Host + href)
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		add(resolved.String())
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			collect(href)
		}
	})

	doc.Find("nav, ul, div").Each(func(_ int, s *goquery.Selection) {
		class, ok := s.Attr("class")
		if !ok || !containsAny(strings.ToLower(class), menuClassTerms) {
			return
		}
		s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok {
				collect(href)
			}
		})
	})

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		onclick, _ := s.Attr("onclick")
		for _, pat := range onclickPatterns {
			for _, match := range pat.FindAllStringSubmatch(onclick, -1) {
				if len(match) > 1 && match[1] != "" {
					collect(match[1])
				}
			}
		}
	})

	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		action = strings.TrimSpace(action)
		if action == "" || action == "#" {
			return
		}
		collect(action)
	})

	return out
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func trimSlash(path string) string {
	if strings.HasSuffix(path, "/") && path != "/" {
		return strings.TrimRight(path, "/")
	}
	return path
}
