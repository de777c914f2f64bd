package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

type stubFetcher struct {
	pages map[string]types.PageResult
	log   []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string, _ bool) types.PageResult {
	s.log = append(s.log, rawURL)
	if res, ok := s.pages[rawURL]; ok {
		res.URL = rawURL
		return res
	}
	return types.PageResult{URL: rawURL, Kind: types.KindNone, Err: errors.New("no route")}
}

type stubRenderer struct {
	closed int32
}

func (s *stubRenderer) Render(context.Context, string) (string, error) {
	return "", errors.New("render unavailable")
}

func (s *stubRenderer) Close() { atomic.AddInt32(&s.closed, 1) }

// renderingStub serves canned markup for rendered pages and records which
// URLs went through the browser.
type renderingStub struct {
	stubRenderer
	pages map[string]string
	calls []string
}

func (s *renderingStub) Render(_ context.Context, rawURL string) (string, error) {
	s.calls = append(s.calls, rawURL)
	if markup, ok := s.pages[rawURL]; ok {
		return markup, nil
	}
	return "", errors.New("render unavailable")
}

type stubLoader struct {
	text string
	err  error
}

func (s *stubLoader) Load(context.Context, string, types.ContentKind) (string, error) {
	return s.text, s.err
}

// campusPage builds markup whose vocabulary classifies as an education site,
// keeping budget selection in tests deterministic.
func campusPage(body string, hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Campus</title></head><body>")
	b.WriteString("<p>university course student program faculty</p>")
	b.WriteString("<p>" + body + "</p>")
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href=%q>link</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// bankPage builds markup whose vocabulary classifies as a banking site,
// selecting the render-aggressive budget.
func bankPage(body string, hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Bank</title></head><body>")
	b.WriteString("<p>bank loan mortgage credit finance investment</p>")
	b.WriteString("<p>" + body + "</p>")
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href=%q>link</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func htmlResult(markup string) types.PageResult {
	return types.PageResult{Kind: types.KindHTML, Content: markup}
}

func newScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(opts)
}

func TestCrawlCollectsSite(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":          htmlResult(campusPage("welcome", "/admissions", "/contact")),
		"https://example.com/admissions": htmlResult(campusPage("apply here")),
		"https://example.com/contact":    htmlResult(campusPage("reach us")),
	}}
	renderer := &stubRenderer{}
	sched := newScheduler(t, Options{Fetcher: fetch, Renderer: renderer})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if outcome.PagesProcessed != 3 {
		t.Errorf("pages processed = %d, want 3", outcome.PagesProcessed)
	}
	if len(outcome.Corpus) != 3 {
		t.Errorf("corpus size = %d, want 3", len(outcome.Corpus))
	}
	if outcome.Categories == nil || outcome.Categories.PrimaryIndustry != "education" {
		t.Errorf("categories = %+v, want education industry", outcome.Categories)
	}
	if got := atomic.LoadInt32(&renderer.closed); got != 1 {
		t.Errorf("renderer closed %d times, want 1", got)
	}
}

func TestCrawlRendersMainPageOnAggressiveSites(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://bank.example":          htmlResult(bankPage("welcome", "/loans", "/cards", "/savings")),
		"https://bank.example/loans":    htmlResult(bankPage("loan terms")),
		"https://bank.example/cards":    htmlResult(bankPage("card perks")),
		"https://bank.example/savings":  htmlResult(bankPage("rates table")),
		"https://bank.example/branches": htmlResult(bankPage("find a branch")),
	}}
	renderer := &renderingStub{pages: map[string]string{
		"https://bank.example": bankPage("welcome", "/loans", "/cards", "/savings", "/branches"),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch, Renderer: renderer})

	outcome := sched.Crawl(context.Background(), "https://bank.example")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if outcome.Categories == nil || outcome.Categories.PrimaryIndustry != "banking" {
		t.Fatalf("categories = %+v, want banking industry", outcome.Categories)
	}
	if len(renderer.calls) != 1 || renderer.calls[0] != "https://bank.example" {
		t.Errorf("rendered URLs = %v, want the main page only", renderer.calls)
	}
	var found bool
	for _, u := range fetch.log {
		if u == "https://bank.example/branches" {
			found = true
		}
	}
	if !found {
		t.Errorf("script-only link never crawled; fetched %v", fetch.log)
	}
}

func TestCrawlRendersSparseMainPage(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":            htmlResult(campusPage("welcome", "/admissions", "/contact", "/library", "/visit")),
		"https://example.com/admissions": htmlResult(campusPage("apply here")),
		"https://example.com/contact":    htmlResult(campusPage("reach us")),
		"https://example.com/library":    htmlResult(campusPage("stacks")),
		"https://example.com/visit":      htmlResult(campusPage("directions")),
		"https://example.com/labs":       htmlResult(campusPage("open positions")),
	}}
	renderer := &renderingStub{pages: map[string]string{
		"https://example.com": campusPage("welcome", "/admissions", "/contact", "/library", "/visit", "/labs"),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch, Renderer: renderer})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if len(renderer.calls) == 0 || renderer.calls[0] != "https://example.com" {
		t.Errorf("rendered URLs = %v, want the main page first", renderer.calls)
	}
	var found bool
	for _, u := range fetch.log {
		if u == "https://example.com/labs" {
			found = true
		}
	}
	if !found {
		t.Errorf("rendered-only link never crawled; fetched %v", fetch.log)
	}
}

func TestCrawlOrdersPriorityLinksFirst(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":                htmlResult(campusPage("welcome", "/contact", "/course-catalog")),
		"https://example.com/contact":        htmlResult(campusPage("reach us")),
		"https://example.com/course-catalog": htmlResult(campusPage("catalog")),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	want := []string{"https://example.com", "https://example.com/course-catalog", "https://example.com/contact"}
	if len(fetch.log) != len(want) {
		t.Fatalf("fetch order = %v, want %v", fetch.log, want)
	}
	for i, u := range want {
		if fetch.log[i] != u {
			t.Errorf("fetch[%d] = %s, want %s", i, fetch.log[i], u)
		}
	}
}

func TestCrawlRejectsBadScheme(t *testing.T) {
	sched := newScheduler(t, Options{Fetcher: &stubFetcher{}})
	outcome := sched.Crawl(context.Background(), "ftp://example.com/files")
	if outcome.Success || outcome.Reason != "invalid URL scheme" {
		t.Fatalf("outcome = %+v, want invalid URL scheme failure", outcome)
	}
}

func TestCrawlMainPageUnreachable(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{}}
	renderer := &stubRenderer{}
	sched := newScheduler(t, Options{Fetcher: fetch, Renderer: renderer})

	outcome := sched.Crawl(context.Background(), "https://down.example.com")
	if outcome.Success {
		t.Fatal("expected failure for unreachable main page")
	}
	if !strings.HasPrefix(outcome.Reason, "main page unreachable: ") {
		t.Errorf("reason = %q, want main page unreachable prefix", outcome.Reason)
	}
	if got := atomic.LoadInt32(&renderer.closed); got != 1 {
		t.Errorf("renderer closed %d times, want 1", got)
	}
}

func TestCrawlAbortDiscardsCorpus(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":   htmlResult(campusPage("welcome", "/one", "/two")),
		"https://example.com/one": htmlResult(campusPage("first")),
		"https://example.com/two": htmlResult(campusPage("second")),
	}}
	renderer := &stubRenderer{}
	var polls int
	sched := newScheduler(t, Options{
		Fetcher:  fetch,
		Renderer: renderer,
		Abort: func() bool {
			polls++
			return polls >= 2
		},
	})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if outcome.Success {
		t.Fatal("expected aborted crawl to fail")
	}
	if outcome.Reason != "processing aborted by user" {
		t.Errorf("reason = %q, want processing aborted by user", outcome.Reason)
	}
	if len(outcome.Corpus) != 0 {
		t.Errorf("aborted crawl kept %d corpus entries, want 0", len(outcome.Corpus))
	}
	if got := atomic.LoadInt32(&renderer.closed); got != 1 {
		t.Errorf("renderer closed %d times, want 1", got)
	}
}

func TestCrawlSkipsVisitedPathWithDifferentQuery(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":             htmlResult(campusPage("welcome", "/page", "/page?lang=en", "/other")),
		"https://example.com/page":        htmlResult(campusPage("page")),
		"https://example.com/page?lang=en": htmlResult(campusPage("page en")),
		"https://example.com/other":       htmlResult(campusPage("other")),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	for _, fetched := range fetch.log {
		if fetched == "https://example.com/page?lang=en" {
			t.Fatal("query variant of a visited path was fetched")
		}
	}
	if outcome.PagesProcessed != 3 {
		t.Errorf("pages processed = %d, want 3", outcome.PagesProcessed)
	}
}

func TestCrawlRespectsDepthBound(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":   htmlResult(campusPage("root", "/a")),
		"https://example.com/a": htmlResult(campusPage("a", "/b")),
		"https://example.com/b": htmlResult(campusPage("b", "/c")),
		"https://example.com/c": htmlResult(campusPage("c", "/d")),
		"https://example.com/d": htmlResult(campusPage("d", "/e")),
		"https://example.com/e": htmlResult(campusPage("e")),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	// Education budget allows depth 4: link extraction stops at depth 3,
	// so /e is never discovered.
	if outcome.PagesProcessed != 5 {
		t.Errorf("pages processed = %d, want 5", outcome.PagesProcessed)
	}
	for _, fetched := range fetch.log {
		if fetched == "https://example.com/e" {
			t.Fatal("page beyond the depth bound was fetched")
		}
	}
}

func TestCrawlDocumentMainPage(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com/report.pdf": {Kind: types.KindPDF, Content: "/tmp/report.pdf"},
	}}
	sched := newScheduler(t, Options{
		Fetcher:   fetch,
		Documents: &stubLoader{text: "annual report contents"},
	})

	outcome := sched.Crawl(context.Background(), "https://example.com/report.pdf")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if outcome.PagesProcessed != 1 {
		t.Errorf("pages processed = %d, want 1", outcome.PagesProcessed)
	}
	if len(outcome.Corpus) != 1 || outcome.Corpus[0] != "annual report contents" {
		t.Errorf("corpus = %v, want the loaded document text", outcome.Corpus)
	}
}

func TestCrawlDocumentMainPageWithoutLoader(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com/report.pdf": {Kind: types.KindPDF, Content: "/tmp/report.pdf"},
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com/report.pdf")
	if outcome.Success || outcome.Reason != "no extractable text content" {
		t.Fatalf("outcome = %+v, want no extractable text content failure", outcome)
	}
}

func TestCrawlEmptySiteFails(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com": htmlResult("<html><body><script>init()</script></body></html>"),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if outcome.Success || outcome.Reason != "no extractable text content" {
		t.Fatalf("outcome = %+v, want no extractable text content failure", outcome)
	}
}

func TestCrawlAbsorbsPageFailures(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":      htmlResult(campusPage("welcome", "/broken", "/fine")),
		"https://example.com/fine": htmlResult(campusPage("fine")),
	}}
	sched := newScheduler(t, Options{Fetcher: fetch})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if outcome.PagesProcessed != 2 {
		t.Errorf("pages processed = %d, want 2", outcome.PagesProcessed)
	}
}

func TestCrawlReportsProgress(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]types.PageResult{
		"https://example.com":     htmlResult(campusPage("welcome", "/one", "/two")),
		"https://example.com/one": htmlResult(campusPage("first")),
		"https://example.com/two": htmlResult(campusPage("second")),
	}}
	var updates []types.Progress
	sched := newScheduler(t, Options{
		Fetcher:  fetch,
		Progress: func(p types.Progress) { updates = append(updates, p) },
	})

	outcome := sched.Crawl(context.Background(), "https://example.com")
	if !outcome.Success {
		t.Fatalf("crawl failed: %s", outcome.Reason)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d progress updates, want 2", len(updates))
	}
	prev := 0
	for _, p := range updates {
		if p.PagesDone < prev {
			t.Errorf("pages done went backwards: %d after %d", p.PagesDone, prev)
		}
		prev = p.PagesDone
		if p.TotalEstimate < p.PagesDone {
			t.Errorf("estimate %d below pages done %d", p.TotalEstimate, p.PagesDone)
		}
		if p.MaxDepth != 4 {
			t.Errorf("max depth = %d, want 4", p.MaxDepth)
		}
	}
}
