package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
)

const (
	cooldown       = 30 * time.Second
	resultTTL      = 5 * time.Minute
	cognitiveAlpha = 0.1 // EMA smoothing factor for cognitive-state updates
)

// EventPublisher is the subset of the event bus the Monitor needs.
type EventPublisher interface {
	Publish(subject string, payload interface{}) error
}

// Retriever is the subset of thought.Repository the Monitor needs to
// execute a MemoryRetrieval-class intervention.
type Retriever interface {
	SearchSemantic(ctx context.Context, instance, query string, limit int, threshold float32) ([]thought.Thought, error)
}

// Monitor owns the per-instance intervention queue, cognitive state, and
// the Retrieval Learner.
type Monitor struct {
	mu sync.Mutex

	instance string
	queue    deque
	learner  *RetrievalLearner

	lastExecuted time.Time
	state        CognitiveState
	lastTag      string

	gw        *store.Gateway
	events    EventPublisher
	retriever Retriever
}

func New(instance string, gw *store.Gateway, events EventPublisher, retriever Retriever) *Monitor {
	return &Monitor{
		instance:  instance,
		learner:   NewRetrievalLearner(),
		gw:        gw,
		events:    events,
		retriever: retriever,
		state:     CognitiveState{Focus: 0.5, WorkingMemory: 0.5},
	}
}

// Enqueue adds an intervention to the priority queue.
func (m *Monitor) Enqueue(trigger InterventionTrigger, suggestion, reason string) *Intervention {
	m.mu.Lock()
	defer m.mu.Unlock()

	priority := Normal
	switch {
	case trigger.UncertaintyDetected && trigger.UncertaintyLevel > 0.6:
		priority = Urgent
	case trigger.PatternMatchStrength > 0.7:
		priority = High
	case trigger.MemoryRelevance > 0.6:
		priority = High
	}

	iv := &Intervention{
		ID:         "iv_" + uuid.NewString()[:8],
		Ts:         time.Now().UTC(),
		Type:       SelectType(trigger),
		Priority:   priority,
		Suggestion: suggestion,
		Reason:     reason,
		Confidence: trigger.Confidence,
		Context: map[string]interface{}{
			"patterns":               trigger.Patterns,
			"pattern_match_strength": trigger.PatternMatchStrength,
			"memory_relevance":       trigger.MemoryRelevance,
		},
	}
	m.queue.Enqueue(iv)
	return iv
}

// Ready reports whether the cooldown since the last executed intervention
// has elapsed.
func (m *Monitor) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastExecuted) >= cooldown
}

// QueueLen reports the number of queued interventions.
func (m *Monitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Queued returns a snapshot of the queue, highest priority first.
func (m *Monitor) Queued() []*Intervention {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// Execute dequeues and runs the next ready intervention, if cooldown has
// elapsed and the queue is non-empty. For a MemoryRetrieval-class
// suggestion whose Context carries a non-empty "query" string it runs the
// retrieval through the Repository; Enqueue does not set that key, so an
// intervention queued through Enqueue runs no retrieval. Otherwise it
// just records the nudge. The result is stored with a 5-minute TTL keyed
// by intervention id, and an intervention_executed event is published.
func (m *Monitor) Execute(ctx context.Context) (*Intervention, error) {
	m.mu.Lock()
	if time.Since(m.lastExecuted) < cooldown {
		m.mu.Unlock()
		return nil, nil
	}
	iv, ok := m.queue.Dequeue()
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}
	m.lastExecuted = time.Now().UTC()
	m.mu.Unlock()

	result := map[string]interface{}{
		"intervention": iv,
	}

	if iv.Type == MemoryRetrieval || iv.Type == SubconsciousRecall {
		if query, ok := iv.Context["query"].(string); ok && query != "" && m.retriever != nil {
			thoughts, err := m.retriever.SearchSemantic(ctx, m.instance, query, 5, 0.6)
			if err != nil {
				log.Printf("[MONITOR] retrieval intervention %s failed: %v", iv.ID, err)
			} else {
				result["retrieved"] = thoughts
			}
		}
	}

	if m.gw != nil {
		if raw, err := json.Marshal(result); err == nil {
			key := fmt.Sprintf("%s:intervention_results:%s", m.instance, iv.ID)
			if err := m.gw.Set(ctx, key, string(raw), resultTTL); err != nil {
				log.Printf("[MONITOR] failed to store intervention result %s: %v", iv.ID, err)
			}
		}
	}

	if m.events != nil {
		if err := m.events.Publish("intervention_executed", map[string]interface{}{
			"instance": m.instance,
			"id":       iv.ID,
			"type":     iv.Type,
			"priority": iv.Priority.String(),
		}); err != nil {
			log.Printf("[MONITOR] failed to publish intervention_executed: %v", err)
		}
	}

	return iv, nil
}

// UpdateCognitiveState folds a new flow-state observation into the
// cognitive state via exponential smoothing (new = 0.9*old + 0.1*target),
// incrementing context_switches when the attention tag changes and bumping
// fatigue when the flow state is Stuck.
func (m *Monitor) UpdateCognitiveState(flowState string, attentionTag string) CognitiveState {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := stateTargets[flowState]
	if !ok {
		target = CognitiveState{Load: 0.4, Uncertainty: 0.3, Focus: 0.5}
	}

	m.state.Load = ema(m.state.Load, target.Load)
	m.state.Uncertainty = ema(m.state.Uncertainty, target.Uncertainty)
	m.state.Focus = ema(m.state.Focus, target.Focus)
	m.state.Confidence = ema(m.state.Confidence, 1-target.Uncertainty)
	m.state.ThinkingVelocity = ema(m.state.ThinkingVelocity, target.Load)

	if flowState == "Stuck" {
		m.state.Fatigue = clampState(m.state.Fatigue + fatigueIncrementOnStuck)
	}

	if attentionTag != "" {
		if m.lastTag != "" && m.lastTag != attentionTag {
			m.state.ContextSwitches++
		}
		m.lastTag = attentionTag
		m.state.AttentionFocus = appendAttention(m.state.AttentionFocus, attentionTag)
	}

	return m.state
}

// State returns the current cognitive state.
func (m *Monitor) State() CognitiveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Learner exposes the Retrieval Learner for tool handlers that need to
// record outcomes or request strategy suggestions.
func (m *Monitor) Learner() *RetrievalLearner { return m.learner }

func ema(old, target float64) float64 {
	return (1-cognitiveAlpha)*old + cognitiveAlpha*target
}

func clampState(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func appendAttention(focus []string, tag string) []string {
	const maxFocus = 5
	focus = append(focus, tag)
	if len(focus) > maxFocus {
		focus = focus[len(focus)-maxFocus:]
	}
	return focus
}
