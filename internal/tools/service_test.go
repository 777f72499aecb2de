package tools

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/flow"
	"github.com/legacymind/cogmem/internal/identity"
	"github.com/legacymind/cogmem/internal/monitor"
	"github.com/legacymind/cogmem/internal/pattern"
	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
)

func setupTestService(t *testing.T) (*Service, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 10*time.Second)

	ctx := context.Background()
	scripts, err := gw.NewScripts(ctx)
	if err != nil {
		t.Fatalf("NewScripts: %v", err)
	}

	repo := thought.NewRepository(gw, scripts, nil, nil, 10000, 128)
	docs := identity.NewDocuments(gw, nil)
	patEngine := pattern.NewEngine(gw)
	mon := monitor.New("testinstance", gw, nil, repo)

	svc := NewService(repo, docs, mon, patEngine, nil, 100)
	return svc, func() { gw.Close(); mr.Close() }
}

func TestValidateThinkRejectsBadRange(t *testing.T) {
	err := validateThink(ThinkRequest{Instance: "i", Content: "hi", Number: 2, Total: 1}, 100)
	if err == nil {
		t.Fatal("expected error for number > total")
	}
}

func TestValidateThinkRejectsBadChainID(t *testing.T) {
	err := validateThink(ThinkRequest{Instance: "i", Content: "hi", Number: 1, Total: 1, ChainID: "not-a-uuid"}, 100)
	if err == nil {
		t.Fatal("expected error for invalid chain_id")
	}
}

func TestValidateRecallRejectsBothQueryAndChain(t *testing.T) {
	err := validateRecall(RecallRequest{Query: "q", ChainID: "c"})
	if err == nil {
		t.Fatal("expected error when both query and chain_id set")
	}
}

func TestValidateRecallRejectsOutOfRangeLimitAndThreshold(t *testing.T) {
	if err := validateRecall(RecallRequest{Limit: 500}); err == nil {
		t.Error("expected error for limit > 200")
	}
	if err := validateRecall(RecallRequest{Threshold: 1.5}); err == nil {
		t.Error("expected error for threshold > 1")
	}
}

func TestValidateFeedbackRejectsBadAction(t *testing.T) {
	err := validateFeedback(FeedbackRequest{Action: thought.FeedbackAction("bogus")})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestValidateFeedbackRejectsOutOfRangeRating(t *testing.T) {
	bad := 11
	err := validateFeedback(FeedbackRequest{Action: thought.ActionHelpful, RelevanceRating: &bad})
	if err == nil {
		t.Fatal("expected error for relevance_rating > 10")
	}
}

func TestThinkThenRecallRoundTrip(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	out, err := svc.Think(ctx, ThinkRequest{
		Instance: "inst1", Content: "investigating a fsync bug in the storage layer", Number: 1, Total: 1,
	})
	if err != nil {
		t.Fatalf("Think: %v", err)
	}
	if out["id"] == "" {
		t.Fatal("expected a thought id")
	}

	recall, err := svc.Recall(ctx, RecallRequest{Instance: "inst1", Query: "fsync bug", Limit: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recall["search_id"] == "" {
		t.Fatal("expected a search_id")
	}
	thoughts, ok := recall["thoughts"].([]thought.Thought)
	if !ok || len(thoughts) == 0 {
		t.Fatalf("expected at least one recalled thought, got %#v", recall["thoughts"])
	}
}

func TestRecallFeedbackUpdatesBoost(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	delta, err := svc.RecallFeedback(ctx, FeedbackRequest{
		SearchID: "search_1_aaaaaaaa", ThoughtID: "t1", Instance: "inst1", Action: thought.ActionHelpful,
	})
	if err != nil {
		t.Fatalf("RecallFeedback: %v", err)
	}
	if delta["boost_delta"].(float64) <= 0 {
		t.Error("expected a positive boost delta for helpful feedback")
	}
}

func TestIdentityAddViewRoundTrip(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.Identity(ctx, IdentityRequest{
		Instance: "inst1", Op: "add", Category: identity.TechnicalProfile, Field: "preferred_languages", Value: "Go",
	})
	if err != nil {
		t.Fatalf("Identity add: %v", err)
	}

	out, err := svc.Identity(ctx, IdentityRequest{Instance: "inst1", Op: "view"})
	if err != nil {
		t.Fatalf("Identity view: %v", err)
	}
	if len(out["identity"].(map[string]map[string]interface{})) == 0 {
		t.Error("expected the added identity field to be visible")
	}
}

func TestEntityTrackingDetectsEntities(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()

	out := svc.EntityTracking("I hit a NullPointerException in handlers/main.go")
	if len(out["entities"].([]flow.Entity)) == 0 {
		t.Fatal("expected at least one detected entity")
	}
}
