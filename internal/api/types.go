package api

import (
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

// CreateSessionRequest launches a crawl-and-index run for one website.
type CreateSessionRequest struct {
	WebsiteURL string `json:"website_url"`

	// Reindex forces a fresh crawl even when the website already has an
	// indexed collection.
	Reindex bool `json:"reindex,omitempty"`
}

// QueryRequest asks a question against a session's indexed corpus.
type QueryRequest struct {
	Question string `json:"question"`
}

// QuerySnippet is one retrieved grounding chunk.
type QuerySnippet struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// QueryResponse carries retrieval results for a question.
type QueryResponse struct {
	Found    bool           `json:"found"`
	Snippets []QuerySnippet `json:"snippets"`
}

// SessionStatus captures the lifecycle stage of a session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusIndexing   SessionStatus = "indexing"
	SessionStatusCancelling SessionStatus = "cancelling"
	SessionStatusReady      SessionStatus = "ready"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusFailed     SessionStatus = "failed"
)

// SessionSummary surfaces the high-level state of a chatbot session.
type SessionSummary struct {
	SessionID     string        `json:"session_id"`
	WebsiteURL    string        `json:"website_url"`
	Status        SessionStatus `json:"status"`
	PagesDone     int           `json:"pages_done"`
	TotalEstimate int           `json:"total_estimate"`
	LastURL       string        `json:"last_url,omitempty"`
	Industry      string        `json:"industry,omitempty"`
	WebsiteType   string        `json:"website_type,omitempty"`
	Collection    string        `json:"collection,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Message       string        `json:"message,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// SSEEvent envelopes session state for Server-Sent Event clients.
type SSEEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Session   SessionSummary  `json:"session"`
	Progress  *types.Progress `json:"progress,omitempty"`
}
