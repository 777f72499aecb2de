// Package thought implements the Thought Repository and the Metadata &
// Feedback components: persistence, chain retrieval, text/semantic search,
// and feedback-driven boost scoring.
package thought

import "time"

// Thought is a single entry in an instance's thought stream.
type Thought struct {
	ID         string    `json:"id"`
	Instance   string    `json:"instance"`
	Content    string    `json:"content"`
	Number     int       `json:"number"`
	Total      int       `json:"total"`
	Timestamp  time.Time `json:"timestamp"`
	ChainID    string    `json:"chain_id,omitempty"`
	NextNeeded bool      `json:"next_needed"`

	// Similarity is transient: populated only by ranked-search results.
	Similarity *float32 `json:"similarity,omitempty"`
}

// ChainMetadata describes a chain of thoughts sharing (instance, chain_id).
type ChainMetadata struct {
	ChainID      string    `json:"chain_id"`
	Instance     string    `json:"instance"`
	CreatedAt    time.Time `json:"created_at"`
	ThoughtCount int       `json:"thought_count"`
}

// Metadata is the optional per-thought metadata record ( "Thought metadata").
type Metadata struct {
	ThoughtID  string    `json:"thought_id"`
	Instance   string    `json:"instance"`
	Importance *int      `json:"importance,omitempty"` // 1..10
	Relevance  *int      `json:"relevance,omitempty"`  // 1..10
	Tags       []string  `json:"tags,omitempty"`
	Category   string    `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedbackAction is the closed set of feedback actions.
type FeedbackAction string

const (
	ActionViewed     FeedbackAction = "viewed"
	ActionUsed       FeedbackAction = "used"
	ActionIrrelevant FeedbackAction = "irrelevant"
	ActionHelpful    FeedbackAction = "helpful"
)

// FeedbackEvent is relevance feedback recorded against a search result.
type FeedbackEvent struct {
	SearchID        string         `json:"search_id"`
	ThoughtID       string         `json:"thought_id"`
	Instance        string         `json:"instance"`
	Action          FeedbackAction `json:"action"`
	DwellTime       *int           `json:"dwell_time,omitempty"`
	RelevanceRating *int           `json:"relevance_rating,omitempty"`
	Timestamp       time.Time      `json:"ts"`
}

// SearchMethod tags how a recall's results were produced.
type SearchMethod string

const (
	MethodSemanticVector    SearchMethod = "semantic_vector"
	MethodEnhancedSemantic  SearchMethod = "enhanced_semantic"
	MethodTextIndex         SearchMethod = "text_index"
	MethodFallbackScan      SearchMethod = "fallback_scan"
)

// MetadataFilter narrows a search by tags, importance/relevance floors, and
// category.
type MetadataFilter struct {
	Tags          []string
	MinImportance *int
	MinRelevance  *int
	Category      string
}

func (f MetadataFilter) empty() bool {
	return len(f.Tags) == 0 && f.MinImportance == nil && f.MinRelevance == nil && f.Category == ""
}

// Empty reports whether the filter applies no constraints at all.
func (f MetadataFilter) Empty() bool { return f.empty() }
