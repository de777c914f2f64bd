// Package retrieval answers questions against a crawled corpus using
// progressive query relaxation: the raw question first, then a simplified
// form, then individual keywords, widening only while results stay thin.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

const (
	// searchK is how many candidates each similarity search requests.
	searchK = 5

	// maxSnippets caps the merged result set across all strategies.
	maxSnippets = 8

	// keywordMinLen filters which tokens become standalone keyword
	// queries.
	keywordMinLen = 4

	// tokenMinLen filters which tokens survive simplification at all.
	tokenMinLen = 3
)

// Snippet is one retrieved chunk of crawled content.
type Snippet struct {
	Content string
	Source  string
	Score   float64
}

// SimilaritySearch finds the k nearest snippets for a query. Implemented
// by the vector store.
type SimilaritySearch interface {
	Search(ctx context.Context, query string, k int) ([]Snippet, error)
}

// strategy is one rung of the cascade. It runs only while the merged
// result count is below its threshold, and contributes the queries it
// derives from the original question.
type strategy struct {
	name      string
	threshold int
	queries   func(question string) []string
}

// Cascade retrieves grounding snippets for chatbot answers. Strategies
// run in order; each widens the search only when the previous rungs left
// the result set too thin.
type Cascade struct {
	store      SimilaritySearch
	logger     *slog.Logger
	strategies []strategy
}

// NewCascade builds the default three-rung cascade over the given store.
func NewCascade(store SimilaritySearch, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{
		store:  store,
		logger: logger,
		strategies: []strategy{
			{
				name:      "raw",
				threshold: maxSnippets,
				queries:   func(q string) []string { return []string{q} },
			},
			{
				name:      "simplified",
				threshold: 2,
				queries: func(q string) []string {
					if simplified := Simplify(q); simplified != "" && simplified != q {
						return []string{simplified}
					}
					return nil
				},
			},
			{
				name:      "keywords",
				threshold: 3,
				queries: func(q string) []string {
					var queries []string
					for _, kw := range Keywords(q) {
						if len(kw) >= keywordMinLen {
							queries = append(queries, kw)
						}
					}
					return queries
				},
			},
		},
	}
}

// Retrieve runs the cascade for a question. An empty result with a nil
// error means the corpus holds nothing relevant; an error is returned only
// when every search attempt failed.
func (c *Cascade) Retrieve(ctx context.Context, question string) ([]Snippet, error) {
	var (
		merged   []Snippet
		seen     = make(map[string]struct{})
		firstErr error
	)

	for _, strat := range c.strategies {
		if len(merged) >= strat.threshold {
			continue
		}
		for _, query := range strat.queries(question) {
			if len(merged) >= maxSnippets {
				break
			}
			found, err := c.store.Search(ctx, query, searchK)
			if err != nil {
				c.logger.Warn("similarity search failed",
					"strategy", strat.name, "query", query, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for _, snippet := range found {
				if len(merged) >= maxSnippets {
					break
				}
				if _, dup := seen[snippet.Content]; dup {
					continue
				}
				seen[snippet.Content] = struct{}{}
				merged = append(merged, snippet)
			}
		}
		c.logger.Debug("cascade stage done", "strategy", strat.name, "results", len(merged))
	}

	if len(merged) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return merged, nil
}

// Simplify lowercases a question and strips punctuation, keeping letters,
// digits and spaces.
func Simplify(question string) string {
	var b strings.Builder
	b.Grow(len(question))
	for _, r := range strings.ToLower(question) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Keywords extracts the content-bearing tokens of a question: simplified,
// stop words removed, short tokens dropped.
func Keywords(question string) []string {
	var keywords []string
	for _, token := range strings.Fields(Simplify(question)) {
		if len(token) < tokenMinLen {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		keywords = append(keywords, token)
	}
	return keywords
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to",
		"for", "of", "with", "by", "is", "are", "was", "were", "be",
		"been", "being", "have", "has", "had", "do", "does", "did",
		"will", "would", "could", "should", "may", "might", "must",
		"can", "this", "that", "these", "those", "i", "you", "he",
		"she", "it", "we", "they", "what", "which", "who", "when",
		"where", "why", "how",
	} {
		stopWords[w] = struct{}{}
	}
}
