package crawler

import (
	"github.com/priynshgupta/zentra-web-chatbot/internal/links"
)

// frontier holds the BFS crawl state for one invocation: the queue for the
// current depth, the queue for the next depth, every canonical URL ever
// discovered, and the set of visited pages. It is destroyed with the crawl.
type frontier struct {
	current []string
	next    []string

	discovered     map[string]struct{}
	visited        map[string]struct{}
	visitedPaths   map[string]struct{}
	renderPriority map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{
		discovered:     make(map[string]struct{}),
		visited:        make(map[string]struct{}),
		visitedPaths:   make(map[string]struct{}),
		renderPriority: make(map[string]struct{}),
	}
}

// seed loads the depth-zero queue. Every URL is recorded as discovered so
// later extraction passes do not re-enqueue it.
func (f *frontier) seed(urls []string) {
	f.current = append(f.current, urls...)
	for _, u := range urls {
		f.discovered[u] = struct{}{}
	}
}

// pop removes and returns the head of the current-depth queue.
func (f *frontier) pop() (string, bool) {
	if len(f.current) == 0 {
		return "", false
	}
	head := f.current[0]
	f.current = f.current[1:]
	return head, true
}

// promote advances to the next depth. Returns false when the frontier is
// fully drained.
func (f *frontier) promote() bool {
	if len(f.next) == 0 {
		return false
	}
	f.current = f.next
	f.next = nil
	return true
}

// offer appends a newly discovered link to the next-depth queue unless it
// was already visited, already queued at any depth, already discovered, or
// shares host+path with a visited page.
func (f *frontier) offer(canonical string) bool {
	if _, ok := f.visited[canonical]; ok {
		return false
	}
	if _, ok := f.discovered[canonical]; ok {
		return false
	}
	if _, ok := f.visitedPaths[links.HostPath(canonical)]; ok {
		return false
	}
	f.discovered[canonical] = struct{}{}
	f.next = append(f.next, canonical)
	return true
}

// markVisited records a processed page. A canonical URL is added at most
// once; the host+path index backs the query-string-tolerant skip.
func (f *frontier) markVisited(canonical string) {
	if _, ok := f.visited[canonical]; ok {
		return
	}
	f.visited[canonical] = struct{}{}
	f.visitedPaths[links.HostPath(canonical)] = struct{}{}
}

// seen reports whether the URL, or another URL with the same host+path,
// was already visited. Query-string variants of a visited page count as
// seen here even though they were distinct for discovery.
func (f *frontier) seen(canonical string) bool {
	if _, ok := f.visited[canonical]; ok {
		return true
	}
	_, ok := f.visitedPaths[links.HostPath(canonical)]
	return ok
}

func (f *frontier) markRenderPriority(canonical string) {
	f.renderPriority[canonical] = struct{}{}
}

func (f *frontier) isRenderPriority(canonical string) bool {
	_, ok := f.renderPriority[canonical]
	return ok
}

func (f *frontier) queuedCount() int {
	return len(f.current) + len(f.next)
}
