package pattern

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/store"
)

const learningRate = 0.1 // η in the confidence update step

// Engine holds the in-memory pattern map, read-mostly and rebuildable
// from the store, guarded by a readers/writer mutex so concurrent
// lookups share the read lock.
type Engine struct {
	gw *store.Gateway

	mu       sync.RWMutex
	patterns map[string]*Pattern
}

func NewEngine(gw *store.Gateway) *Engine {
	return &Engine{gw: gw, patterns: map[string]*Pattern{}}
}

func patternKey(id string) string { return "pattern:" + id }

// Load scans pattern:* and fills the in-memory map.
func (e *Engine) Load(ctx context.Context) error {
	loaded := map[string]*Pattern{}
	err := e.gw.Scan(ctx, "pattern:*", 100, func(keys []string) bool {
		for _, key := range keys {
			raw, err := e.gw.HGet(ctx, key, "doc")
			if err != nil || raw == "" {
				continue
			}
			var p Pattern
			if json.Unmarshal([]byte(raw), &p) == nil {
				loaded[p.ID] = &p
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.patterns = loaded
	e.mu.Unlock()
	log.Printf("[PATTERN] loaded %d patterns", len(loaded))
	return nil
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

func containsAny(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// triggerScore is |matched triggers| / |triggers|.
func triggerScore(tokens []string, triggers []string) float64 {
	if len(triggers) == 0 {
		return 0
	}
	matched := 0
	for _, trig := range triggers {
		if containsAny(tokens, strings.ToLower(trig)) {
			matched++
		}
	}
	return float64(matched) / float64(len(triggers))
}

// contextScore averages: 0 for an exact example hit, 0.5 for a category
// mention, 0.3 per matched tag.
func contextScore(contextLower string, meta Metadata) float64 {
	var parts []float64
	for _, ex := range meta.Examples {
		if ex != "" && strings.Contains(contextLower, strings.ToLower(ex)) {
			parts = append(parts, 0)
		}
	}
	if meta.Category != "" && strings.Contains(contextLower, strings.ToLower(meta.Category)) {
		parts = append(parts, 0.5)
	}
	for _, tag := range meta.Tags {
		if tag != "" && strings.Contains(contextLower, strings.ToLower(tag)) {
			parts = append(parts, 0.3)
		}
	}
	if len(parts) == 0 {
		return 0
	}
	var sum float64
	for _, v := range parts {
		sum += v
	}
	return sum / float64(len(parts))
}

// Find scores every loaded pattern (optionally filtered by kind) against
// context, returning matches above 0.5, sorted descending.
func (e *Engine) Find(context_ string, kind Kind) []Match {
	lower := strings.ToLower(context_)
	tokens := tokenize(context_)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []Match
	for _, p := range e.patterns {
		if kind != "" && p.Kind != kind {
			continue
		}
		ts := triggerScore(tokens, p.Triggers)
		cs := contextScore(lower, p.Metadata)
		combined := 0.4*ts + 0.3*cs + 0.3*p.Confidence
		if combined > 0.5 {
			matches = append(matches, Match{Pattern: p, Score: combined})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

var uncertaintyPhrases = []string{
	"not sure", "maybe", "might be", "perhaps", "i think", "possibly",
	"uncertain", "not certain", "i guess", "could be wrong",
}

// DetectUncertainty accumulates +0.2 per phrase hit; returns a synthetic
// match when the total exceeds 0.3.
func DetectUncertainty(text string) *Match {
	lower := strings.ToLower(text)
	var level float64
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			level += 0.2
		}
	}
	if level <= 0.3 {
		return nil
	}
	return &Match{
		Synthetic:        true,
		Score:            level,
		UncertaintyLevel: level,
		SuggestedActions: []ActionSpec{
			{Type: "retrieve_similar_memories", Params: map[string]interface{}{"k": 5, "min_similarity": 0.6}, Priority: 2},
			{Type: "search_context", Params: map[string]interface{}{"scope": "recent"}, Priority: 1},
		},
	}
}

var frameworkPhrases = map[string]string{
	"first principles":  "first-principles",
	"ooda":               "OODA",
	"socratic":           "socratic",
	"systems thinking":   "systems",
	"design thinking":    "design",
	"critical thinking":  "critical",
}

// DetectFramework maps an exact phrase to a framework name.
func DetectFramework(text string) (string, bool) {
	lower := strings.ToLower(text)
	for phrase, name := range frameworkPhrases {
		if strings.Contains(lower, phrase) {
			return name, true
		}
	}
	return "", false
}

func (e *Engine) get(id string) (*Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patterns[id]
	return p, ok
}

// persist stores a pattern as a hash (HSET key "doc" <json>), the same
// core-command storage thought/identity/chain documents use, so Load
// doesn't depend on a Redis Stack module.
func (e *Engine) persist(ctx context.Context, p *Pattern) error {
	body, err := json.Marshal(p)
	if err != nil {
		return cogerr.New(cogerr.KindInternal, "pattern", "marshal", err)
	}
	return e.gw.HSet(ctx, patternKey(p.ID), "doc", string(body))
}

// Update applies one feedback-driven adjustment and persists the result.
func (e *Engine) Update(ctx context.Context, u Update) error {
	p, ok := e.get(u.PatternID)
	if !ok {
		return cogerr.NewKey(cogerr.KindNotFound, "pattern", u.PatternID, errPatternNotFound(u.PatternID))
	}

	e.mu.Lock()
	switch u.Type {
	case SuccessReinforcement:
		p.SuccessCount++
		p.Confidence = clamp01(p.Confidence + learningRate*(u.Score-p.Confidence))
	case FailureAdjustment:
		p.FailureCount++
		p.Confidence = clamp01(p.Confidence - learningRate*(1-u.Score))
	case ExtendExamples:
		p.Metadata.Examples = append(p.Metadata.Examples, u.Values...)
	case ExtendTriggers:
		p.Triggers = append(p.Triggers, u.Values...)
	}
	p.Frequency++
	p.LastMatched = time.Now().UTC()
	e.mu.Unlock()

	return e.persist(ctx, p)
}

type errPatternNotFound string

func (e errPatternNotFound) Error() string { return "pattern not found: " + string(e) }

// Decay applies weekly confidence decay to every pattern untouched for 7+
// days: confidence *= 0.95^floor(days/7).
func (e *Engine) Decay(ctx context.Context) error {
	now := time.Now().UTC()

	e.mu.RLock()
	snapshot := make([]*Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		snapshot = append(snapshot, p)
	}
	e.mu.RUnlock()

	for _, p := range snapshot {
		days := int(now.Sub(p.LastMatched).Hours() / 24)
		if days < 7 {
			continue
		}
		weeks := days / 7
		factor := 1.0
		for i := 0; i < weeks; i++ {
			factor *= 0.95
		}
		e.mu.Lock()
		p.Confidence = clamp01(p.Confidence * factor)
		e.mu.Unlock()
		if err := e.persist(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

var retrievalPhrases = []string{"remember", "recall", "previous"}
var analyticalVerbs = []string{"analyze", "evaluate", "compare", "reason", "deduce"}

// LearnNew infers a kind from content that matched nothing, seeds a
// pattern at confidence 0.6 with one or two default actions, and persists it.
func (e *Engine) LearnNew(ctx context.Context, content string) (*Pattern, error) {
	lower := strings.ToLower(content)

	kind := KindInteraction
	switch {
	case DetectUncertainty(content) != nil:
		kind = KindUncertainty
	case containsPhrase(lower, retrievalPhrases):
		kind = KindRetrieval
	case containsPhrase(lower, analyticalVerbs):
		kind = KindThinking
	}

	actions := []ActionSpec{{Type: "retrieve_similar_memories", Priority: 1}}
	if kind == KindUncertainty {
		actions = append(actions, ActionSpec{Type: "search_context", Priority: 1})
	}

	p := &Pattern{
		ID:         uuid.NewString(),
		Kind:       kind,
		Triggers:   tokenize(content),
		Confidence: 0.6,
		CreatedAt:  time.Now().UTC(),
		Actions:    actions,
	}

	e.mu.Lock()
	e.patterns[p.ID] = p
	e.mu.Unlock()

	if err := e.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func containsPhrase(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
