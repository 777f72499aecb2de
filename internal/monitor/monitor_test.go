package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
)

type fakeRetriever struct{}

func (fakeRetriever) SearchSemantic(ctx context.Context, instance, query string, limit int, threshold float32) ([]thought.Thought, error) {
	return []thought.Thought{{ID: "t1", Instance: instance, Content: "recalled"}}, nil
}

type fakeEvents struct{ published []string }

func (f *fakeEvents) Publish(subject string, payload interface{}) error {
	f.published = append(f.published, subject)
	return nil
}

func setupMonitor(t *testing.T) (*Monitor, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, time.Second, time.Second)
	m := New("testinstance", gw, &fakeEvents{}, fakeRetriever{})
	return m, func() { mr.Close() }
}

func TestSelectTypeRules(t *testing.T) {
	if got := SelectType(InterventionTrigger{UncertaintyDetected: true}); got != GutFeeling {
		t.Errorf("expected GutFeeling, got %s", got)
	}
	if got := SelectType(InterventionTrigger{PatternMatchStrength: 0.8}); got != PatternRecognition {
		t.Errorf("expected PatternRecognition, got %s", got)
	}
	if got := SelectType(InterventionTrigger{MemoryRelevance: 0.7}); got != SubconsciousRecall {
		t.Errorf("expected SubconsciousRecall, got %s", got)
	}
	if got := SelectType(InterventionTrigger{}); got != IntuitiveSuggestion {
		t.Errorf("expected IntuitiveSuggestion, got %s", got)
	}
}

// TestDequeueNeverBelowLowerPriorityWhileHigherQueued verifies the priority
// property: once enqueued, a dequeued intervention is never of lower
// priority than any item still sitting in the queue.
func TestDequeueNeverBelowLowerPriorityWhileHigherQueued(t *testing.T) {
	m, cleanup := setupMonitor(t)
	defer cleanup()

	m.Enqueue(InterventionTrigger{}, "s1", "r1")                                  // Normal
	m.Enqueue(InterventionTrigger{PatternMatchStrength: 0.9}, "s2", "r2")         // High
	m.Enqueue(InterventionTrigger{UncertaintyDetected: true, UncertaintyLevel: 0.9}, "s3", "r3") // Urgent

	queued := m.Queued()
	for i := 1; i < len(queued); i++ {
		if queued[i].Priority > queued[i-1].Priority {
			t.Fatalf("queue not sorted descending: %v before %v", queued[i-1].Priority, queued[i].Priority)
		}
	}
	if queued[0].Priority != Urgent {
		t.Errorf("expected Urgent at head, got %s", queued[0].Priority)
	}
}

func TestExecuteRespectsCooldown(t *testing.T) {
	m, cleanup := setupMonitor(t)
	defer cleanup()

	m.Enqueue(InterventionTrigger{PatternMatchStrength: 0.9}, "s1", "r1")
	m.Enqueue(InterventionTrigger{PatternMatchStrength: 0.9}, "s2", "r2")

	iv, err := m.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if iv == nil {
		t.Fatal("expected an executed intervention")
	}

	iv2, err := m.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if iv2 != nil {
		t.Fatal("expected cooldown to block the second execution")
	}
	if m.QueueLen() != 1 {
		t.Errorf("expected 1 item still queued, got %d", m.QueueLen())
	}
}

func TestUpdateCognitiveStateSmoothsAndCountsSwitches(t *testing.T) {
	m, cleanup := setupMonitor(t)
	defer cleanup()

	s1 := m.UpdateCognitiveState("Stuck", "auth-bug")
	if s1.Load <= 0 {
		t.Error("expected load to move toward the Stuck target")
	}
	if s1.Fatigue <= 0 {
		t.Error("expected fatigue to increment on Stuck")
	}

	m.UpdateCognitiveState("Debugging", "auth-bug")
	s3 := m.UpdateCognitiveState("Debugging", "payments-bug")
	if s3.ContextSwitches != 1 {
		t.Errorf("expected 1 context switch, got %d", s3.ContextSwitches)
	}
}

func TestRetrievalLearnerSuggestsDefaultThenLearned(t *testing.T) {
	l := NewRetrievalLearner()
	if got := l.Suggest("uncertainty"); got != SimilarIssues {
		t.Errorf("expected default strategy, got %s", got)
	}

	l.Learn(Outcome{PatternKind: "uncertainty", Strategy: RecentConversations, Relevance: 0.95, Success: true})
	l.Learn(Outcome{PatternKind: "uncertainty", Strategy: RecentConversations, Relevance: 0.95, Success: true})

	if got := l.Suggest("uncertainty"); got != RecentConversations {
		t.Errorf("expected learned strategy to win, got %s", got)
	}
}
