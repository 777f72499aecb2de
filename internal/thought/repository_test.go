package thought

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
)

func setupTestRepo(t *testing.T) (*Repository, *store.Gateway, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 10*time.Second)

	ctx := context.Background()
	scripts, err := gw.NewScripts(ctx)
	if err != nil {
		t.Fatalf("NewScripts failed: %v", err)
	}

	repo := NewRepository(gw, scripts, nil, nil, 10000, 128)

	return repo, gw, func() {
		gw.Close()
		mr.Close()
	}
}

func newThought(instance, content string, number, total int) Thought {
	return Thought{
		ID:        NewThoughtID(),
		Instance:  instance,
		Content:   content,
		Number:    number,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}
}

func TestSaveAndGet(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	th := newThought("alice", "first thought about the bug", 1, 1)
	if err := repo.Save(context.Background(), th); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(context.Background(), "alice", th.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != th.Content {
		t.Errorf("expected content %q, got %q", th.Content, got.Content)
	}
}

func TestSaveDedupIsIdempotent(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	th1 := newThought("bob", "the same content twice", 1, 2)
	if err := repo.Save(ctx, th1); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	th2 := newThought("bob", "the same content twice", 2, 2)
	if err := repo.Save(ctx, th2); err != nil {
		t.Fatalf("second save (duplicate content) should succeed idempotently, got: %v", err)
	}

	// The duplicate write must leave the original thought in place and
	// retrievable.
	if _, err := repo.Get(ctx, "bob", th1.ID); err != nil {
		t.Fatalf("original thought should remain retrievable: %v", err)
	}
}

func TestSaveRejectsInvalidNumber(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	th := newThought("carol", "bad sequencing", 5, 2)
	if err := repo.Save(context.Background(), th); err == nil {
		t.Fatal("expected validation error for number > total")
	}
}

func TestGetChainPreservesOrder(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	chainID := "chain-1"
	var ids []string
	for i := 1; i <= 3; i++ {
		th := newThought("dave", "step content variant", i, 3)
		th.ChainID = chainID
		th.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := repo.Save(ctx, th); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		ids = append(ids, th.ID)
	}

	chain, err := repo.GetChain(ctx, "dave", chainID)
	if err != nil {
		t.Fatalf("GetChain failed: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 thoughts in chain, got %d", len(chain))
	}
	for i, th := range chain {
		if th.ID != ids[i] {
			t.Errorf("position %d: expected id %s, got %s", i, ids[i], th.ID)
		}
	}
}

func TestSearchTextFallbackScan(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	if err := repo.Save(ctx, newThought("erin", "debugging a race condition in the scheduler", 1, 1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.Save(ctx, newThought("erin", "unrelated note about lunch", 1, 1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	results, method, err := repo.SearchText(ctx, "erin", "race condition", 10)
	if err != nil {
		t.Fatalf("SearchText failed: %v", err)
	}
	if method != MethodFallbackScan {
		t.Fatalf("expected fallback scan (no search index in miniredis), got %s", method)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
}

func TestApplyBoostReordersBySimilarityAndBoost(t *testing.T) {
	repo, gw, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	low := newThought("fay", "low similarity but boosted", 1, 1)
	high := newThought("fay", "high similarity no boost", 1, 1)

	lowSim := float32(0.5)
	highSim := float32(0.9)
	low.Similarity = &lowSim
	high.Similarity = &highSim

	if err := gw.ZAdd(ctx, "fay:boost_scores", 10.0, low.ID); err != nil {
		t.Fatalf("seed boost failed: %v", err)
	}

	ranked, err := repo.ApplyBoost(ctx, "fay", []Thought{high, low})
	if err != nil {
		t.Fatalf("ApplyBoost failed: %v", err)
	}
	if ranked[0].ID != low.ID {
		t.Errorf("expected heavily-boosted thought first, got %s", ranked[0].ID)
	}
}

func TestRecordFeedbackUpdatesBoost(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	th := newThought("gus", "something helpful", 1, 1)
	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	score, err := repo.RecordFeedback(ctx, FeedbackEvent{
		SearchID: "search_1_aaaaaaaa", ThoughtID: th.ID, Instance: "gus", Action: ActionHelpful,
	})
	if err != nil {
		t.Fatalf("RecordFeedback failed: %v", err)
	}
	if score != 2.0 {
		t.Errorf("expected boost 2.0 for helpful, got %f", score)
	}

	rating := 5
	score, err = repo.RecordFeedback(ctx, FeedbackEvent{
		ThoughtID: th.ID, Instance: "gus", Action: ActionHelpful, RelevanceRating: &rating,
	})
	if err != nil {
		t.Fatalf("second RecordFeedback failed: %v", err)
	}
	if score != 3.0 { // 2.0 + (2.0 * 5/10)
		t.Errorf("expected boost 3.0 after rated helpful feedback, got %f", score)
	}
}

func TestSaveMetadataAndFilter(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	th := newThought("hank", "a tagged thought", 1, 1)
	if err := repo.Save(ctx, th); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	importance := 8
	if err := repo.SaveMetadata(ctx, Metadata{
		ThoughtID: th.ID, Instance: "hank", Importance: &importance, Tags: []string{"urgent"},
	}); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	got, err := repo.GetMetadata(ctx, "hank", th.ID)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if got == nil || got.Importance == nil || *got.Importance != 8 {
		t.Fatalf("expected importance 8, got %+v", got)
	}

	min := 5
	filtered := repo.applyMetadataFilter(ctx, []Thought{th}, MetadataFilter{MinImportance: &min}, func(Thought) string { return "hank" })
	if len(filtered) != 1 {
		t.Fatalf("expected thought to survive min_importance=5 filter, got %d", len(filtered))
	}

	tooHigh := 9
	filtered = repo.applyMetadataFilter(ctx, []Thought{th}, MetadataFilter{MinImportance: &tooHigh}, func(Thought) string { return "hank" })
	if len(filtered) != 0 {
		t.Fatalf("expected thought to be filtered out by min_importance=9, got %d", len(filtered))
	}
}
