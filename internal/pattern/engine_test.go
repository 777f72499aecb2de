package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
)

func setupTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 10*time.Second)
	return NewEngine(gw), func() {
		gw.Close()
		mr.Close()
	}
}

func TestDetectUncertaintyThreshold(t *testing.T) {
	if m := DetectUncertainty("the weather is fine today"); m != nil {
		t.Errorf("expected no uncertainty match, got %+v", m)
	}

	m := DetectUncertainty("I'm not sure this is right, maybe it's the fsync.")
	if m == nil {
		t.Fatal("expected an uncertainty match")
	}
	if m.UncertaintyLevel <= 0.3 {
		t.Errorf("expected uncertainty_level > 0.3, got %f", m.UncertaintyLevel)
	}
	if len(m.SuggestedActions) != 2 {
		t.Errorf("expected 2 suggested actions, got %d", len(m.SuggestedActions))
	}
}

func TestDetectFramework(t *testing.T) {
	if name, ok := DetectFramework("let's apply first principles here"); !ok || name != "first-principles" {
		t.Errorf("expected first-principles, got %s %v", name, ok)
	}
	if _, ok := DetectFramework("just a normal sentence"); ok {
		t.Error("expected no framework match")
	}
}

func TestUpdateClampsConfidence(t *testing.T) {
	eng, cleanup := setupTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	eng.mu.Lock()
	eng.patterns["p1"] = &Pattern{ID: "p1", Kind: KindThinking, Confidence: 0.95, LastMatched: time.Now()}
	eng.mu.Unlock()

	for i := 0; i < 20; i++ {
		if err := eng.Update(ctx, Update{PatternID: "p1", Type: SuccessReinforcement, Score: 1.0}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	p, _ := eng.get("p1")
	if p.Confidence > 1.0 || p.Confidence < 0 {
		t.Errorf("confidence escaped [0,1]: %f", p.Confidence)
	}
	if p.successRate() != 1.0 {
		t.Errorf("expected success_rate 1.0 after only reinforcements, got %f", p.successRate())
	}
}

func TestFindScoresAboveThreshold(t *testing.T) {
	eng, cleanup := setupTestEngine(t)
	defer cleanup()

	eng.mu.Lock()
	eng.patterns["p1"] = &Pattern{
		ID: "p1", Kind: KindProblemSolving,
		Triggers:   []string{"bug", "error", "crash"},
		Confidence: 0.9,
		Metadata:   Metadata{Category: "debugging", Tags: []string{"crash"}},
	}
	eng.mu.Unlock()

	matches := eng.Find("there is a bug causing a crash in debugging mode", "")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestLearnNewInfersKind(t *testing.T) {
	eng, cleanup := setupTestEngine(t)
	defer cleanup()

	p, err := eng.LearnNew(context.Background(), "can you recall what we discussed previously?")
	if err != nil {
		t.Fatalf("LearnNew failed: %v", err)
	}
	if p.Kind != KindRetrieval {
		t.Errorf("expected retrieval kind, got %s", p.Kind)
	}
	if p.Confidence != 0.6 {
		t.Errorf("expected seeded confidence 0.6, got %f", p.Confidence)
	}
}
