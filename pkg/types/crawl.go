package types

// ContentKind tags the payload a fetch produced.
type ContentKind string

const (
	KindHTML ContentKind = "html"
	KindPDF  ContentKind = "pdf"
	KindDOCX ContentKind = "docx"
	KindText ContentKind = "text"
	KindNone ContentKind = "none"
)

// Document reports whether the kind is a binary document persisted to disk.
func (k ContentKind) Document() bool {
	return k == KindPDF || k == KindDOCX
}

// PageResult is the tagged outcome of fetching one URL. For html and text
// kinds Content holds the decoded body; for pdf and docx it holds the path
// of a temporary file containing the raw bytes. Err is set instead of being
// raised: fetch failures are data, not faults.
type PageResult struct {
	URL     string
	Kind    ContentKind
	Content string
	Err     error
}

// CrawlBudget parameterizes one crawl. Derived once from the site
// classification before BFS starts and immutable afterwards.
type CrawlBudget struct {
	MaxPages         int
	MaxDepth         int
	PriorityTerms    []string
	RenderAggressive bool
}

// Progress is emitted after each successfully processed page. Delivery is
// advisory; sinks must not influence crawl control flow.
type Progress struct {
	CurrentURL    string `json:"current_url"`
	PagesDone     int    `json:"pages_done"`
	TotalEstimate int    `json:"total_estimate"`
	Depth         int    `json:"depth"`
	MaxDepth      int    `json:"max_depth"`
}

// Categorization is the site classifier output used to select a CrawlBudget.
type Categorization struct {
	PrimaryIndustry    string             `json:"primary_industry"`
	IndustryConfidence float64            `json:"industry_confidence"`
	WebsiteType        string             `json:"website_type"`
	TypeConfidence     float64            `json:"type_confidence"`
	Functionality      []string           `json:"functionality"`
	TargetAudience     string             `json:"target_audience"`
	Meta               map[string]string  `json:"meta_information,omitempty"`
	IndustryScores     map[string]float64 `json:"-"`
	TypeScores         map[string]float64 `json:"-"`
}

// CrawlOutcome is the structured result of a whole crawl operation.
// Per-page faults never surface here; only whole-operation conditions do.
type CrawlOutcome struct {
	Success        bool
	Corpus         []string
	PagesProcessed int
	Categories     *Categorization
	Reason         string
}
