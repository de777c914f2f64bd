package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/priynshgupta/zentra-web-chatbot/internal/classify"
	"github.com/priynshgupta/zentra-web-chatbot/internal/extract"
	"github.com/priynshgupta/zentra-web-chatbot/internal/links"
	"github.com/priynshgupta/zentra-web-chatbot/internal/robots"
	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

const (
	// Pages with fewer static links than this, or whose URL looks like a
	// landing page, get one render pass to surface script-injected links.
	sparseLinkThreshold = 3
	mainLinkThreshold   = 5

	// Upper bound on how many links an aggressive budget marks for
	// rendering up front.
	aggressiveRenderCap = 50

	// Initial guess added on top of the main page link count when
	// estimating total crawl size for progress reporting.
	estimateHeadroom = 50
)

var landingPageTerms = []string{"index", "home", "main", "about"}

// Fetcher retrieves one page. Implemented by fetcher.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, allowRender bool) types.PageResult
}

// Renderer drives a browser to produce a rendered DOM. Implemented by
// fetcher.Browser. Close must be safe to call more than once.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
	Close()
}

// DocumentLoader turns a downloaded PDF or Word file into plain text. The
// scheduler stores documents to disk via the fetcher and hands the path
// here; a nil loader makes document pages contribute nothing.
type DocumentLoader interface {
	Load(ctx context.Context, path string, kind types.ContentKind) (string, error)
}

// Options wires the scheduler's collaborators. Fetcher is required;
// everything else degrades gracefully when absent.
type Options struct {
	Fetcher   Fetcher
	Renderer  Renderer
	Documents DocumentLoader
	Robots    *robots.Agent
	Limiter   *DomainLimiter

	// Abort is polled before each page; returning true cancels the crawl
	// and discards everything gathered so far.
	Abort func() bool

	// Progress receives advisory updates after each processed page.
	Progress func(types.Progress)

	Logger *slog.Logger
}

// Scheduler runs the breadth-first crawl of a single website: classify the
// main page, derive a budget, then drain the frontier depth by depth until
// the budget or the site is exhausted.
type Scheduler struct {
	fetch     Fetcher
	renderer  Renderer
	documents DocumentLoader
	robots    *robots.Agent
	limiter   *DomainLimiter
	abort     func() bool
	progress  func(types.Progress)
	logger    *slog.Logger
}

// New creates a Scheduler from Options. Options.Fetcher must be set.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	abort := opts.Abort
	if abort == nil {
		abort = func() bool { return false }
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(types.Progress) {}
	}
	return &Scheduler{
		fetch:     opts.Fetcher,
		renderer:  opts.Renderer,
		documents: opts.Documents,
		robots:    opts.Robots,
		limiter:   opts.Limiter,
		abort:     abort,
		progress:  progress,
		logger:    logger,
	}
}

// Crawl processes one website starting at seedURL and returns the gathered
// corpus together with the classification that shaped the crawl. The
// renderer, when present, is closed before Crawl returns on every path.
func (s *Scheduler) Crawl(ctx context.Context, seedURL string) types.CrawlOutcome {
	if s.renderer != nil {
		defer s.renderer.Close()
	}

	parsed, err := url.Parse(strings.TrimSpace(seedURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return types.CrawlOutcome{Reason: "invalid URL scheme"}
	}
	seed, err := links.Canonicalize(parsed.String())
	if err != nil {
		return types.CrawlOutcome{Reason: "invalid URL scheme"}
	}

	s.logger.Info("starting crawl", "url", seed)

	main := s.fetch.Fetch(ctx, seed, true)
	if main.Err != nil || main.Kind == types.KindNone {
		detail := "empty response"
		if main.Err != nil {
			detail = main.Err.Error()
		}
		return types.CrawlOutcome{Reason: fmt.Sprintf("main page unreachable: %s", detail)}
	}

	if main.Kind.Document() || main.Kind == types.KindText {
		return s.documentOutcome(ctx, main)
	}

	categories := classify.Classify(main.Content)
	budget := classify.BudgetFor(categories)
	s.logger.Info("site classified",
		"industry", categories.PrimaryIndustry,
		"type", categories.WebsiteType,
		"max_pages", budget.MaxPages,
		"max_depth", budget.MaxDepth)

	front := newFrontier()
	var corpus []string

	if text := extract.Text(main.Content); text != "" {
		corpus = append(corpus, text)
	}
	front.markVisited(seed)

	mainLinks := s.extractMainLinks(ctx, seed, main.Content, budget)
	mainLinks = links.Prioritize(mainLinks, budget.PriorityTerms)
	s.seedRenderPriority(front, mainLinks, budget)
	front.seed(mainLinks)

	estimate := len(mainLinks) + estimateHeadroom
	if estimate > budget.MaxPages {
		estimate = budget.MaxPages
	}

	depth := 0
	for depth < budget.MaxDepth && len(front.visited) < budget.MaxPages {
		pageURL, ok := front.pop()
		if !ok {
			if !front.promote() {
				break
			}
			depth++
			continue
		}

		if s.abort() {
			s.logger.Info("crawl aborted", "url", seed, "pages", len(front.visited))
			return types.CrawlOutcome{Reason: "processing aborted by user"}
		}
		if front.seen(pageURL) {
			continue
		}
		if s.robots != nil && !s.robots.Allowed(ctx, pageURL) {
			s.logger.Debug("skipping disallowed url", "url", pageURL)
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, hostOf(pageURL)); err != nil {
				break
			}
		}

		allowRender := budget.RenderAggressive || front.isRenderPriority(pageURL)
		res := s.fetch.Fetch(ctx, pageURL, allowRender)
		if res.Err != nil || res.Kind == types.KindNone {
			s.logger.Warn("page fetch failed", "url", pageURL, "error", res.Err)
			continue
		}

		switch res.Kind {
		case types.KindHTML:
			if text := extract.Text(res.Content); text != "" {
				corpus = append(corpus, text)
			}
			front.markVisited(pageURL)
			if depth < budget.MaxDepth-1 {
				extra := s.extractLinks(ctx, pageURL, res.Content, !allowRender)
				extra = links.Prioritize(extra, budget.PriorityTerms)
				for _, link := range extra {
					if !front.offer(link) {
						continue
					}
					if budget.RenderAggressive || links.MatchesAny(link, budget.PriorityTerms) {
						front.markRenderPriority(link)
					}
				}
			}
		case types.KindPDF, types.KindDOCX:
			if text := s.loadDocument(ctx, res); text != "" {
				corpus = append(corpus, text)
			}
			front.markVisited(pageURL)
		case types.KindText:
			if res.Content != "" {
				corpus = append(corpus, res.Content)
			}
			front.markVisited(pageURL)
		default:
			continue
		}

		if guess := len(front.visited) + front.queuedCount(); guess > estimate {
			estimate = guess
		}
		if estimate > budget.MaxPages {
			estimate = budget.MaxPages
		}
		s.progress(types.Progress{
			CurrentURL:    pageURL,
			PagesDone:     len(front.visited),
			TotalEstimate: estimate,
			Depth:         depth + 1,
			MaxDepth:      budget.MaxDepth,
		})
	}

	if len(corpus) == 0 {
		return types.CrawlOutcome{Reason: "no extractable text content"}
	}
	s.logger.Info("crawl finished", "url", seed, "pages", len(front.visited), "documents", len(corpus))
	return types.CrawlOutcome{
		Success:        true,
		Corpus:         corpus,
		PagesProcessed: len(front.visited),
		Categories:     categories,
	}
}

// documentOutcome handles a main URL that points straight at a document or
// plain text file rather than an HTML site.
func (s *Scheduler) documentOutcome(ctx context.Context, main types.PageResult) types.CrawlOutcome {
	var text string
	if main.Kind == types.KindText {
		text = main.Content
	} else {
		text = s.loadDocument(ctx, main)
	}
	if strings.TrimSpace(text) == "" {
		return types.CrawlOutcome{Reason: "no extractable text content"}
	}
	return types.CrawlOutcome{
		Success:        true,
		Corpus:         []string{text},
		PagesProcessed: 1,
	}
}

func (s *Scheduler) loadDocument(ctx context.Context, res types.PageResult) string {
	if s.documents == nil {
		s.logger.Warn("no document loader configured", "url", res.URL, "kind", res.Kind)
		return ""
	}
	text, err := s.documents.Load(ctx, res.Content, res.Kind)
	if err != nil {
		s.logger.Warn("document load failed", "url", res.URL, "error", err)
		return ""
	}
	return text
}

// extractLinks pulls same-host links out of markup. When the static pass
// yields few links, or the page looks like a landing page that typically
// builds its navigation with scripts, one render pass supplements it.
func (s *Scheduler) extractLinks(ctx context.Context, pageURL, markup string, allowSupplement bool) []string {
	found := links.Extract(markup, pageURL)
	if !allowSupplement || s.renderer == nil {
		return found
	}
	if len(found) >= sparseLinkThreshold && !links.MatchesAny(pageURL, landingPageTerms) {
		return found
	}
	return s.supplementLinks(ctx, pageURL, found)
}

// extractMainLinks handles the seed page, whose navigation matters most.
// Script-heavy industries hide their mega-menus from static fetches, so a
// render-aggressive budget always gets a rendered pass, as does any main page
// with a thin static link set.
func (s *Scheduler) extractMainLinks(ctx context.Context, seed, markup string, budget types.CrawlBudget) []string {
	found := links.Extract(markup, seed)
	if s.renderer == nil {
		return found
	}
	if !budget.RenderAggressive && len(found) >= mainLinkThreshold {
		return found
	}
	return s.supplementLinks(ctx, seed, found)
}

func (s *Scheduler) supplementLinks(ctx context.Context, pageURL string, found []string) []string {
	rendered, err := s.renderer.Render(ctx, pageURL)
	if err != nil {
		s.logger.Debug("supplementary render failed", "url", pageURL, "error", err)
		return found
	}
	seen := make(map[string]struct{}, len(found))
	for _, link := range found {
		seen[link] = struct{}{}
	}
	for _, link := range links.Extract(rendered, pageURL) {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		found = append(found, link)
	}
	return found
}

// seedRenderPriority marks which frontier links get browser rendering. An
// aggressive budget renders a leading slice of the queue; otherwise only
// links matching the budget's priority terms qualify.
func (s *Scheduler) seedRenderPriority(front *frontier, mainLinks []string, budget types.CrawlBudget) {
	if budget.RenderAggressive {
		limit := budget.MaxPages / 2
		if limit > aggressiveRenderCap {
			limit = aggressiveRenderCap
		}
		if limit > len(mainLinks) {
			limit = len(mainLinks)
		}
		for _, link := range mainLinks[:limit] {
			front.markRenderPriority(link)
		}
		return
	}
	for _, link := range mainLinks {
		if links.MatchesAny(link, budget.PriorityTerms) {
			front.markRenderPriority(link)
		}
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
