package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
	"github.com/priynshgupta/zentra-web-chatbot/internal/retrieval"
	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

type fakeVector struct {
	mu      sync.Mutex
	indexed map[string][]string
	dropped []string
}

func newFakeVector() *fakeVector {
	return &fakeVector{indexed: make(map[string][]string)}
}

func (f *fakeVector) IndexCorpus(_ context.Context, collection, _ string, corpus []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[collection] = corpus
	return nil
}

func (f *fakeVector) CollectionSearcher(collection string) retrieval.SimilaritySearch {
	return fakeSearcher{vector: f, collection: collection}
}

func (f *fakeVector) DropCollection(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, collection)
	delete(f.indexed, collection)
	return nil
}

// blockingVector holds indexing open until the session context is cancelled,
// so tests can cancel a session mid-indexing.
type blockingVector struct {
	*fakeVector
	started chan struct{}
}

func (b *blockingVector) IndexCorpus(ctx context.Context, _, _ string, _ []string) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

type fakeSearcher struct {
	vector     *fakeVector
	collection string
}

func (s fakeSearcher) Search(_ context.Context, query string, _ int) ([]retrieval.Snippet, error) {
	s.vector.mu.Lock()
	defer s.vector.mu.Unlock()
	corpus, ok := s.vector.indexed[s.collection]
	if !ok || len(corpus) == 0 {
		return nil, nil
	}
	return []retrieval.Snippet{{Content: corpus[0], Source: "https://example.com", Score: 0.9}}, nil
}

func testManager(t *testing.T, vector VectorIndex, runner crawlRunner) *SessionManager {
	t.Helper()
	cfg := config.Default()
	cfg.Browser.Enabled = false
	manager := NewSessionManager(ManagerOptions{
		Config: cfg,
		Vector: vector,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if runner != nil {
		manager.runner = runner
	}
	t.Cleanup(manager.Shutdown)
	return manager
}

func successfulRunner(corpus ...string) crawlRunner {
	return func(_ context.Context, _ string, _ func() bool, progress func(types.Progress)) types.CrawlOutcome {
		progress(types.Progress{CurrentURL: "https://example.com/about", PagesDone: 1, TotalEstimate: 3, Depth: 1, MaxDepth: 3})
		return types.CrawlOutcome{
			Success:        true,
			Corpus:         corpus,
			PagesProcessed: len(corpus),
			Categories:     &types.Categorization{PrimaryIndustry: "technology", WebsiteType: "corporate"},
		}
	}
}

func waitForStatus(t *testing.T, manager *SessionManager, id string, want SessionStatus) SessionSummary {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		session, ok := manager.GetSession(id)
		if ok {
			snapshot := session.Snapshot()
			if snapshot.Status == want {
				return snapshot
			}
			if snapshot.Status == SessionStatusFailed && want != SessionStatusFailed {
				t.Fatalf("session failed: %s", snapshot.Error)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %q never reached status %q", id, want)
	return SessionSummary{}
}

func TestServerHandlers(t *testing.T) {
	server := NewServer(testManager(t, newFakeVector(), nil))

	assertRoute(t, server, http.MethodGet, "/health", http.StatusOK, "application/json")
	assertRoute(t, server, http.MethodGet, "/openapi.yaml", http.StatusOK, "application/yaml")
	assertRoute(t, server, http.MethodGet, "/docs", http.StatusOK, "text/html; charset=utf-8")
}

func TestSessionLifecycle(t *testing.T) {
	vector := newFakeVector()
	manager := testManager(t, vector, successfulRunner("we are open 9 to 5", "contact us anytime"))
	server := NewServer(manager)

	body := bytes.NewBufferString(`{"website_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chatbot/sessions", body)
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rr.Code, rr.Body.String())
	}

	summary := waitForStatus(t, manager, "example.com", SessionStatusReady)
	if summary.Collection == "" {
		t.Error("ready session has no collection")
	}
	if summary.Industry != "technology" {
		t.Errorf("industry = %q, want technology", summary.Industry)
	}

	queryBody := bytes.NewBufferString(`{"question":"When are you open?"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/chatbot/sessions/example.com/query", queryBody)
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("query: status %d body %s", rr.Code, rr.Body.String())
	}
	var resp QueryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if !resp.Found || len(resp.Snippets) == 0 {
		t.Errorf("query response = %+v, want found snippets", resp)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	server := NewServer(testManager(t, newFakeVector(), nil))

	for _, payload := range []string{
		`{"website_url":""}`,
		`{"website_url":"ftp://example.com"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/chatbot/sessions", bytes.NewBufferString(payload))
		rr := httptest.NewRecorder()
		server.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %s: status %d, want 400", payload, rr.Code)
		}
	}
}

func TestSessionReuseSkipsCrawl(t *testing.T) {
	vector := newFakeVector()
	var crawls atomic.Int32
	runner := func(ctx context.Context, url string, abort func() bool, progress func(types.Progress)) types.CrawlOutcome {
		crawls.Add(1)
		return successfulRunner("page text")(ctx, url, abort, progress)
	}
	manager := testManager(t, vector, runner)

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://example.com"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitForStatus(t, manager, "example.com", SessionStatusReady)
	if got := crawls.Load(); got != 1 {
		t.Fatalf("crawls = %d, want 1", got)
	}

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://example.com"}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitForStatus(t, manager, "example.com", SessionStatusReady)
	if got := crawls.Load(); got != 1 {
		t.Errorf("crawls = %d after reuse, want still 1", got)
	}
}

func TestFailedCrawlMarksSessionFailed(t *testing.T) {
	runner := func(context.Context, string, func() bool, func(types.Progress)) types.CrawlOutcome {
		return types.CrawlOutcome{Reason: "main page unreachable: connection refused"}
	}
	manager := testManager(t, newFakeVector(), runner)

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://down.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	summary := waitForStatus(t, manager, "down.example.com", SessionStatusFailed)
	if summary.Error != "main page unreachable: connection refused" {
		t.Errorf("error = %q", summary.Error)
	}
}

func TestCancelSession(t *testing.T) {
	release := make(chan struct{})
	runner := func(ctx context.Context, _ string, abort func() bool, _ func(types.Progress)) types.CrawlOutcome {
		select {
		case <-release:
		case <-ctx.Done():
		}
		if abort() {
			return types.CrawlOutcome{Reason: "processing aborted by user"}
		}
		return types.CrawlOutcome{Success: true, Corpus: []string{"text"}, PagesProcessed: 1}
	}
	manager := testManager(t, newFakeVector(), runner)

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := manager.CancelSession("example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)
	waitForStatus(t, manager, "example.com", SessionStatusCancelled)

	if err := manager.CancelSession("example.com"); err == nil {
		t.Error("cancelling a finished session succeeded")
	}
}

func TestCancelDuringIndexingMarksCancelled(t *testing.T) {
	vector := &blockingVector{fakeVector: newFakeVector(), started: make(chan struct{})}
	manager := testManager(t, vector, successfulRunner("page text"))

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-vector.started:
	case <-time.After(3 * time.Second):
		t.Fatal("indexing never started")
	}
	if err := manager.CancelSession("example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	summary := waitForStatus(t, manager, "example.com", SessionStatusCancelled)
	if summary.Error != "" {
		t.Errorf("cancelled session carries error %q", summary.Error)
	}
}

func TestQueryUnknownSession(t *testing.T) {
	server := NewServer(testManager(t, newFakeVector(), nil))
	req := httptest.NewRequest(http.MethodPost, "/api/chatbot/sessions/nowhere.example.com/query",
		bytes.NewBufferString(`{"question":"hello?"}`))
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteSessionDropsCollection(t *testing.T) {
	vector := newFakeVector()
	manager := testManager(t, vector, successfulRunner("page text"))

	if _, err := manager.StartSession(CreateSessionRequest{WebsiteURL: "https://example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	summary := waitForStatus(t, manager, "example.com", SessionStatusReady)

	if err := manager.DeleteSession(context.Background(), "example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	vector.mu.Lock()
	dropped := append([]string(nil), vector.dropped...)
	vector.mu.Unlock()
	if len(dropped) != 1 || dropped[0] != summary.Collection {
		t.Errorf("dropped = %v, want [%s]", dropped, summary.Collection)
	}
	if _, ok := manager.GetSession("example.com"); ok {
		t.Error("session still listed after delete")
	}
}

func assertRoute(t *testing.T, h http.Handler, method, path string, wantStatus int, wantContentType string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (body=%s)", method, path, wantStatus, rr.Code, rr.Body.String())
	}
	if wantContentType != "" {
		if got := rr.Header().Get("Content-Type"); got != wantContentType {
			t.Fatalf("%s %s: expected content-type %s, got %s", method, path, wantContentType, got)
		}
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("%s %s: expected non-empty body", method, path)
	}
}
