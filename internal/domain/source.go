package domain

// SourceHit is one normalized passage retrieved from the document index.
// Identity is ID: the same passage retrieved through different sub-queries
// carries the same ID and must be merged keeping the higher score.
type SourceHit struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Code           string  `json:"code,omitempty"`
	SourceType     string  `json:"sourceType,omitempty"`
	Snippet        string  `json:"snippet"`
	FullText       string  `json:"fullText,omitempty"`
	RelevanceScore float64 `json:"relevanceScore"`
	PageCitation   string  `json:"pageCitation,omitempty"`
	SourceURL      string  `json:"sourceUrl,omitempty"`
	HeaderPath     string  `json:"headerPath,omitempty"`
}

// SubQuery is one decomposed facet of the user question.
type SubQuery struct {
	ID     string `json:"id"`
	Query  string `json:"query"`
	Intent string `json:"intent"`
	Status string `json:"status"`
}

// Sub-query lifecycle states.
const (
	SubQueryPending   = "pending"
	SubQuerySearching = "searching"
	SubQueryComplete  = "complete"
)

// SearchRequest is the inbound pipeline request. Immutable for the run.
type SearchRequest struct {
	Query       string `json:"query"`
	SourcesOnly bool   `json:"sourcesOnly"`
}
