package monitor

import "sync"

// retrievalEMA is the smoothing factor for strategy-effectiveness updates:
// new = 0.8*old + 0.2*observed avg_relevance.
const retrievalEMA = 0.2

// Retrieval strategies a pattern kind can be routed to.
const (
	SimilarIssues       = "SimilarIssues"
	FrameworkExamples   = "FrameworkExamples"
	RecentConversations = "RecentConversations"
	ContextualMemories  = "ContextualMemories"
)

// defaultStrategies is the starting-point routing table before any
// learning has occurred, keyed by pattern kind name.
var defaultStrategies = map[string]string{
	"problem_solving": SimilarIssues,
	"debugging":       SimilarIssues,
	"uncertainty":     SimilarIssues,
	"system_design":   FrameworkExamples,
	"concept_exploration": FrameworkExamples,
	"learning":        RecentConversations,
	"interaction":     RecentConversations,
}

func defaultStrategyFor(patternKind string) string {
	if s, ok := defaultStrategies[patternKind]; ok {
		return s
	}
	return ContextualMemories
}

// strategyStats is the per-(kind,strategy) effectiveness record.
type strategyStats struct {
	avgRelevance float64
	usageCount   int
	successCount int
}

func (s strategyStats) successRate() float64 {
	if s.usageCount == 0 {
		return 0
	}
	return float64(s.successCount) / float64(s.usageCount)
}

// Outcome is one observed retrieval-strategy result fed back into the
// learner.
type Outcome struct {
	PatternKind string
	Strategy    string
	Relevance   float64 // 0..1, how relevant the retrieved memories turned out to be
	Success     bool
}

// RetrievalLearner tracks, per pattern kind, which retrieval strategy has
// historically produced the most relevant results, and adapts query
// parameters (threshold/limit) from the observed relevance trend.
type RetrievalLearner struct {
	mu sync.Mutex

	stats map[string]map[string]*strategyStats
}

func NewRetrievalLearner() *RetrievalLearner {
	return &RetrievalLearner{stats: map[string]map[string]*strategyStats{}}
}

// Suggest returns the best-known strategy for a pattern kind (highest
// avg_relevance among the top-5 tracked strategies), falling back to the
// default table when nothing has been learned yet.
func (l *RetrievalLearner) Suggest(patternKind string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	best, bestScore := "", -1.0
	for strategy, st := range l.stats[patternKind] {
		if st.avgRelevance > bestScore {
			best, bestScore = strategy, st.avgRelevance
		}
	}
	if best != "" {
		return best
	}
	return defaultStrategyFor(patternKind)
}

const maxTrackedStrategies = 5

// Learn folds one observed outcome into the effectiveness EMA and keeps
// only the top 5 strategies per pattern kind.
func (l *RetrievalLearner) Learn(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stats[o.PatternKind] == nil {
		l.stats[o.PatternKind] = map[string]*strategyStats{}
	}
	st, ok := l.stats[o.PatternKind][o.Strategy]
	if !ok {
		st = &strategyStats{}
		l.stats[o.PatternKind][o.Strategy] = st
	}
	st.avgRelevance = (1-retrievalEMA)*st.avgRelevance + retrievalEMA*o.Relevance
	st.usageCount++
	if o.Success {
		st.successCount++
	}

	l.trimTop(o.PatternKind)
}

func (l *RetrievalLearner) trimTop(patternKind string) {
	byKind := l.stats[patternKind]
	if len(byKind) <= maxTrackedStrategies {
		return
	}
	type entry struct {
		name string
		rel  float64
	}
	entries := make([]entry, 0, len(byKind))
	for name, st := range byKind {
		entries = append(entries, entry{name, st.avgRelevance})
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].rel > entries[i].rel {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	for _, e := range entries[maxTrackedStrategies:] {
		delete(byKind, e.name)
	}
}

// OptimizeParams nudges a search threshold and limit: threshold
// moves ±10% when avg_relevance is outside [0.5, 0.8]; limit grows 20%
// (capped at 50) when success_rate <= 0.8. threshold is clamped to
// [0.5, 0.95].
func (l *RetrievalLearner) OptimizeParams(patternKind, strategy string, threshold float32, limit int) (float32, int) {
	l.mu.Lock()
	st, ok := l.stats[patternKind][strategy]
	l.mu.Unlock()
	if !ok {
		return threshold, limit
	}

	switch {
	case st.avgRelevance > 0.8:
		threshold *= 1.1
	case st.avgRelevance < 0.5:
		threshold *= 0.9
	}
	if threshold < 0.5 {
		threshold = 0.5
	}
	if threshold > 0.95 {
		threshold = 0.95
	}

	if st.successRate() <= 0.8 {
		limit = int(float64(limit) * 1.2)
		if limit < 1 {
			limit = 1
		}
	}
	if limit > 50 {
		limit = 50
	}
	return threshold, limit
}
