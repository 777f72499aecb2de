package vectorsvc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
)

type fakeProvider struct {
	calls int
	vec   []float32
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vec, nil
}

func (f *fakeProvider) Dimensions() int { return len(f.vec) }

type fakeFetcher struct{}

func (fakeFetcher) Get(ctx context.Context, instance, id string) (*thought.Thought, error) {
	return &thought.Thought{ID: id, Instance: instance, Content: "stub"}, nil
}

func setupTestService(t *testing.T, provider *fakeProvider) (*Service, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 10*time.Second)

	svc := NewService(gw, provider, fakeFetcher{}, 4, 64)
	return svc, func() {
		gw.Close()
		mr.Close()
	}
}

func TestEmbedIsCachedByContentHash(t *testing.T) {
	provider := &fakeProvider{vec: []float32{0.1, 0.2, 0.3, 0.4}}
	svc, cleanup := setupTestService(t, provider)
	defer cleanup()

	ctx := context.Background()
	if _, err := svc.embed(ctx, "repeated text"); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if _, err := svc.embed(ctx, "repeated text"); err != nil {
		t.Fatalf("embed (cached) failed: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call for repeated text, got %d", provider.calls)
	}

	if _, err := svc.embed(ctx, "different text"); err != nil {
		t.Fatalf("embed (different text) failed: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 provider calls after a distinct text, got %d", provider.calls)
	}
}

func TestSearchDegradesWhenVectorCapabilityAbsent(t *testing.T) {
	provider := &fakeProvider{vec: []float32{0.1, 0.2, 0.3, 0.4}}
	svc, cleanup := setupTestService(t, provider)
	defer cleanup()

	// miniredis has no Redis 8 vector set support; Search must degrade to
	// an empty result rather than error.
	results, err := svc.Search(context.Background(), "mona", "anything", 5, 0.5)
	if err != nil {
		t.Fatalf("expected graceful degradation, got error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results without vector capability, got %d", len(results))
	}
}
