package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
	"github.com/priynshgupta/zentra-web-chatbot/internal/crawler"
	"github.com/priynshgupta/zentra-web-chatbot/internal/fetcher"
	"github.com/priynshgupta/zentra-web-chatbot/internal/retrieval"
	"github.com/priynshgupta/zentra-web-chatbot/internal/robots"
	"github.com/priynshgupta/zentra-web-chatbot/internal/storage"
	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

var (
	// ErrSessionRunning is returned when the website already has an active run.
	ErrSessionRunning = errors.New("session already running")
	// ErrMaxConcurrency signals that the session concurrency limit is reached.
	ErrMaxConcurrency = errors.New("maximum concurrent sessions reached")
	// ErrSessionNotReady is returned for queries against an unindexed session.
	ErrSessionNotReady = errors.New("session has no indexed corpus yet")
)

// VectorIndex is the slice of the vector store the manager needs.
// Implemented by storage.QdrantStore.
type VectorIndex interface {
	IndexCorpus(ctx context.Context, collection, sourceURL string, corpus []string) error
	CollectionSearcher(collection string) retrieval.SimilaritySearch
	DropCollection(ctx context.Context, collection string) error
}

// crawlRunner executes one website crawl. Swapped out in tests.
type crawlRunner func(ctx context.Context, websiteURL string, abort func() bool, progress func(types.Progress)) types.CrawlOutcome

// ManagerOptions wires the session manager's collaborators.
type ManagerOptions struct {
	Config    config.Config
	Vector    VectorIndex
	Archive   storage.PageArchive
	Mapping   storage.MappingStore
	Documents crawler.DocumentLoader
	Logger    *slog.Logger
	RootCtx   context.Context
}

// SessionManager coordinates chatbot sessions keyed by website host: one
// crawl-and-index pipeline per site, then retrieval queries against the
// resulting collection.
type SessionManager struct {
	cfg       config.Config
	vector    VectorIndex
	archive   storage.PageArchive
	mapping   storage.MappingStore
	documents crawler.DocumentLoader
	logger    *slog.Logger
	rootCtx   context.Context
	runner    crawlRunner

	mu             sync.RWMutex
	sessions       map[string]*Session
	maxConcurrency int
	running        int
}

// NewSessionManager constructs a manager with the provided collaborators.
func NewSessionManager(opts ManagerOptions) *SessionManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rootCtx := opts.RootCtx
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	maxConcurrency := opts.Config.API.MaxSessions
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	archive := opts.Archive
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	mapping := opts.Mapping
	if mapping == nil {
		mapping = storage.NewMemoryMappingStore()
	}
	m := &SessionManager{
		cfg:            opts.Config,
		vector:         opts.Vector,
		archive:        archive,
		mapping:        mapping,
		documents:      opts.Documents,
		logger:         logger,
		rootCtx:        rootCtx,
		sessions:       make(map[string]*Session),
		maxConcurrency: maxConcurrency,
	}
	m.runner = m.runCrawl
	return m
}

// StartSession validates the request and launches the crawl-and-index
// pipeline, or revives the session instantly when the website is already
// indexed and no re-crawl was requested.
func (m *SessionManager) StartSession(req CreateSessionRequest) (*Session, error) {
	websiteURL := strings.TrimSpace(req.WebsiteURL)
	if websiteURL == "" {
		return nil, fmt.Errorf("website_url is required")
	}
	parsed, err := url.Parse(websiteURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid website_url %q", req.WebsiteURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("website_url must use http or https")
	}
	sessionID := strings.ToLower(parsed.Hostname())

	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		session = newSession(sessionID, m)
		m.sessions[sessionID] = session
	}
	if session.isActive() {
		m.mu.Unlock()
		return nil, ErrSessionRunning
	}
	if !req.Reindex {
		if collection, ok, err := m.mapping.Get(m.rootCtx, websiteURL); err == nil && ok {
			session.reuse(websiteURL, collection)
			m.mu.Unlock()
			m.logger.Info("session reusing indexed corpus", "session", sessionID, "collection", collection)
			return session, nil
		}
	}
	if m.running >= m.maxConcurrency {
		m.mu.Unlock()
		return nil, ErrMaxConcurrency
	}
	m.running++
	m.mu.Unlock()

	session.startRun(m.rootCtx, websiteURL)
	return session, nil
}

// ListSessions captures current summaries for all sessions.
func (m *SessionManager) ListSessions() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]SessionSummary, 0, len(m.sessions))
	for _, session := range m.sessions {
		summaries = append(summaries, session.Snapshot())
	}
	return summaries
}

// GetSession returns the backing session by id.
func (m *SessionManager) GetSession(id string) (*Session, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// CancelSession requests cancellation of an active crawl.
func (m *SessionManager) CancelSession(id string) error {
	session, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	if !session.Cancel("cancel requested via API") {
		return fmt.Errorf("session %q not running", id)
	}
	return nil
}

// DeleteSession removes a session together with its vector collection and
// mapping entry.
func (m *SessionManager) DeleteSession(ctx context.Context, id string) error {
	session, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	session.Cancel("session deleted")

	websiteURL, collection := session.identity()
	if collection != "" && m.vector != nil {
		if err := m.vector.DropCollection(ctx, collection); err != nil {
			m.logger.Warn("drop collection failed", "session", id, "error", err)
		}
	}
	if websiteURL != "" {
		if err := m.mapping.Delete(ctx, websiteURL); err != nil {
			m.logger.Warn("mapping delete failed", "session", id, "error", err)
		}
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Query retrieves grounding snippets for a question against a session's
// indexed corpus.
func (m *SessionManager) Query(ctx context.Context, id, question string) (QueryResponse, error) {
	session, ok := m.GetSession(id)
	if !ok {
		return QueryResponse{}, fmt.Errorf("session %q not found", id)
	}
	_, collection := session.identity()
	if collection == "" || m.vector == nil {
		return QueryResponse{}, ErrSessionNotReady
	}

	cascade := retrieval.NewCascade(m.vector.CollectionSearcher(collection), m.logger)
	snippets, err := cascade.Retrieve(ctx, question)
	if err != nil {
		return QueryResponse{}, err
	}
	resp := QueryResponse{Found: len(snippets) > 0, Snippets: make([]QuerySnippet, 0, len(snippets))}
	for _, s := range snippets {
		resp.Snippets = append(resp.Snippets, QuerySnippet{Content: s.Content, Source: s.Source, Score: s.Score})
	}
	return resp, nil
}

// Shutdown stops all active sessions.
func (m *SessionManager) Shutdown() {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, session := range snapshot {
		session.Cancel("manager shutdown")
	}
}

func (m *SessionManager) notifyCompletion() {
	m.mu.Lock()
	if m.running > 0 {
		m.running--
	}
	m.mu.Unlock()
}

// runCrawl builds the per-run crawl stack from configuration and executes
// it. Each run owns its browser handle; the scheduler closes it on exit.
func (m *SessionManager) runCrawl(ctx context.Context, websiteURL string, abort func() bool, progress func(types.Progress)) types.CrawlOutcome {
	var renderer crawler.Renderer
	var fetchRenderer fetcher.Renderer
	if m.cfg.Browser.Enabled {
		browser := fetcher.NewBrowser(fetcher.BrowserOptions{
			UserAgent:       m.cfg.Fetch.UserAgent,
			Wait:            m.cfg.Browser.Wait.Duration,
			Settle:          m.cfg.Browser.Settle.Duration,
			DisableHeadless: m.cfg.Browser.DisableHeadless,
		}, m.logger)
		renderer = browser
		fetchRenderer = browser
	}

	fetch, err := fetcher.New(fetcher.Options{
		UserAgent:    m.cfg.Fetch.UserAgent,
		Headers:      m.cfg.Fetch.Headers,
		Timeout:      m.cfg.Fetch.Timeout.Duration,
		MaxAttempts:  m.cfg.Fetch.MaxAttempts,
		MaxBodyBytes: m.cfg.Fetch.MaxBodyBytes,
		ProxyURL:     m.cfg.Fetch.ProxyURL,
	}, fetchRenderer, m.logger)
	if err != nil {
		if renderer != nil {
			renderer.Close()
		}
		return types.CrawlOutcome{Reason: fmt.Sprintf("main page unreachable: %v", err)}
	}

	sched := crawler.New(crawler.Options{
		Fetcher:   fetch,
		Renderer:  renderer,
		Documents: m.documents,
		Robots:    robots.NewAgent(m.cfg.Robots, &http.Client{Timeout: 10 * time.Second}),
		Limiter: crawler.NewDomainLimiter(m.cfg.Fetch.PerDomainDelay.Duration, crawler.RateLimiterSettings{
			Requests: m.cfg.Fetch.RateLimit.Requests,
			Window:   m.cfg.Fetch.RateLimit.Window.Duration,
		}),
		Abort:    abort,
		Progress: progress,
		Logger:   m.logger,
	})
	return sched.Crawl(ctx, websiteURL)
}

// Session tracks the lifecycle of one website's chatbot: crawl, index,
// then answer queries.
type Session struct {
	id string

	mu            sync.Mutex
	websiteURL    string
	collection    string
	status        SessionStatus
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time
	pagesDone     int
	totalEstimate int
	lastURL       string
	industry      string
	websiteType   string
	message       string
	lastError     string
	cancel        context.CancelFunc

	aborted atomic.Bool

	subMu       sync.RWMutex
	subscribers map[chan SSEEvent]struct{}

	manager *SessionManager
}

func newSession(id string, manager *SessionManager) *Session {
	return &Session{
		id:          id,
		status:      SessionStatusPending,
		createdAt:   time.Now(),
		subscribers: make(map[chan SSEEvent]struct{}),
		manager:     manager,
	}
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == SessionStatusRunning || s.status == SessionStatusIndexing || s.status == SessionStatusCancelling
}

// reuse marks the session ready against an existing collection without
// crawling.
func (s *Session) reuse(websiteURL, collection string) {
	now := time.Now()
	s.mu.Lock()
	s.websiteURL = websiteURL
	s.collection = collection
	s.status = SessionStatusReady
	s.completedAt = &now
	s.message = "reusing indexed corpus"
	s.lastError = ""
	s.mu.Unlock()
	s.broadcast("session_ready", nil)
}

func (s *Session) startRun(parentCtx context.Context, websiteURL string) {
	runCtx, cancel := context.WithCancel(parentCtx)
	started := time.Now()

	s.mu.Lock()
	s.websiteURL = websiteURL
	s.status = SessionStatusRunning
	s.startedAt = &started
	s.completedAt = nil
	s.pagesDone = 0
	s.totalEstimate = 0
	s.lastURL = ""
	s.industry = ""
	s.websiteType = ""
	s.message = "crawling"
	s.lastError = ""
	s.cancel = cancel
	s.mu.Unlock()
	s.aborted.Store(false)

	s.broadcast("session_started", nil)

	go s.run(runCtx, websiteURL)
}

func (s *Session) run(ctx context.Context, websiteURL string) {
	defer s.manager.notifyCompletion()

	outcome := s.manager.runner(ctx, websiteURL, s.aborted.Load, s.reportProgress)

	if !outcome.Success {
		if s.aborted.Load() || ctx.Err() != nil {
			s.finish(SessionStatusCancelled, "cancelled", "")
			return
		}
		s.finish(SessionStatusFailed, "crawl failed", outcome.Reason)
		return
	}

	s.mu.Lock()
	s.status = SessionStatusIndexing
	s.message = "indexing corpus"
	s.pagesDone = outcome.PagesProcessed
	if outcome.Categories != nil {
		s.industry = outcome.Categories.PrimaryIndustry
		s.websiteType = outcome.Categories.WebsiteType
	}
	s.mu.Unlock()
	s.broadcast("session_indexing", nil)

	collection := storage.CollectionName(websiteURL)
	if s.manager.vector != nil {
		if err := s.manager.vector.IndexCorpus(ctx, collection, websiteURL, outcome.Corpus); err != nil {
			if s.aborted.Load() || ctx.Err() != nil {
				s.finish(SessionStatusCancelled, "cancelled", "")
				return
			}
			s.finish(SessionStatusFailed, "indexing failed", err.Error())
			return
		}
	}
	if err := s.manager.mapping.Put(ctx, websiteURL, collection); err != nil {
		s.manager.logger.Warn("mapping store write failed", "session", s.id, "error", err)
	}
	s.archiveOutcome(ctx, websiteURL, collection, outcome)

	s.mu.Lock()
	s.collection = collection
	s.mu.Unlock()
	s.finish(SessionStatusReady, "ready", "")
}

func (s *Session) archiveOutcome(ctx context.Context, websiteURL, collection string, outcome types.CrawlOutcome) {
	site := storage.SiteRecord{
		WebsiteURL: websiteURL,
		Collection: collection,
		Pages:      outcome.PagesProcessed,
		CrawledAt:  time.Now(),
	}
	if outcome.Categories != nil {
		site.Industry = outcome.Categories.PrimaryIndustry
		site.WebsiteType = outcome.Categories.WebsiteType
	}
	if err := s.manager.archive.SaveSite(ctx, site); err != nil {
		s.manager.logger.Warn("archive site write failed", "session", s.id, "error", err)
		return
	}
	for i, content := range outcome.Corpus {
		page := storage.PageRecord{
			WebsiteURL:  websiteURL,
			PageOrdinal: i,
			Content:     content,
			RetrievedAt: time.Now(),
		}
		if err := s.manager.archive.SavePage(ctx, page); err != nil {
			s.manager.logger.Warn("archive page write failed", "session", s.id, "page", i, "error", err)
			return
		}
	}
}

func (s *Session) reportProgress(p types.Progress) {
	s.mu.Lock()
	s.pagesDone = p.PagesDone
	s.totalEstimate = p.TotalEstimate
	if p.CurrentURL != "" {
		s.lastURL = p.CurrentURL
	}
	s.mu.Unlock()

	progress := p
	s.broadcast("progress", &progress)
}

func (s *Session) finish(status SessionStatus, message, errorText string) {
	now := time.Now()
	s.mu.Lock()
	s.status = status
	s.completedAt = &now
	s.message = message
	s.lastError = errorText
	s.cancel = nil
	s.mu.Unlock()

	eventType := "session_ready"
	switch status {
	case SessionStatusCancelled:
		eventType = "session_cancelled"
	case SessionStatusFailed:
		eventType = "session_failed"
	}
	s.broadcast(eventType, nil)
}

// Cancel flags the crawl for abort and cancels its context. The scheduler
// observes the flag before each page and discards the partial corpus.
func (s *Session) Cancel(reason string) bool {
	s.mu.Lock()
	if (s.status != SessionStatusRunning && s.status != SessionStatusIndexing) || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	s.status = SessionStatusCancelling
	s.message = reason
	cancel := s.cancel
	s.mu.Unlock()

	s.aborted.Store(true)
	s.broadcast("session_cancelling", nil)
	cancel()
	return true
}

func (s *Session) identity() (websiteURL, collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.websiteURL, s.collection
}

// Snapshot returns a copy of the public session state.
func (s *Session) Snapshot() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := SessionSummary{
		SessionID:     s.id,
		WebsiteURL:    s.websiteURL,
		Status:        s.status,
		PagesDone:     s.pagesDone,
		TotalEstimate: s.totalEstimate,
		LastURL:       s.lastURL,
		Industry:      s.industry,
		WebsiteType:   s.websiteType,
		Collection:    s.collection,
		CreatedAt:     s.createdAt,
		Message:       s.message,
		Error:         s.lastError,
	}
	if s.startedAt != nil {
		started := *s.startedAt
		summary.StartedAt = &started
	}
	if s.completedAt != nil {
		completed := *s.completedAt
		summary.CompletedAt = &completed
	}
	return summary
}

// Subscribe registers an SSE subscriber for the session. The returned
// cancel func must be called to release the channel.
func (s *Session) Subscribe() (<-chan SSEEvent, func()) {
	ch := make(chan SSEEvent, 16)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	initial := SSEEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Session:   s.Snapshot(),
	}
	select {
	case ch <- initial:
	default:
	}

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(eventType string, progress *types.Progress) {
	envelope := SSEEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Session:   s.Snapshot(),
		Progress:  progress,
	}
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- envelope:
		default:
		}
	}
}
