// Package vectorsvc implements the Vector Service: one vector
// collection per (instance, kind), an embedding cache with a 7-day TTL,
// and k-NN semantic search over thoughts collections. The identity
// collection is created but neither written nor searched.
package vectorsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/embedding"
	"github.com/legacymind/cogmem/internal/events"
	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
)

// ThoughtFetcher resolves a thought id to its full record; the embedding
// worker needs the full content, not the truncated preview carried on the
// thought_created event.
type ThoughtFetcher interface {
	Get(ctx context.Context, instance, id string) (*thought.Thought, error)
}

const embeddingTTL = 7 * 24 * time.Hour

type embeddingEntry struct {
	vec     []float32
	expires time.Time
}

// Service implements SemanticSearcher for the Thought Repository and
// drives vector upserts off thought_created events.
type Service struct {
	gw       *store.Gateway
	provider embedding.Provider
	fetcher  ThoughtFetcher
	dim      int

	mu    sync.Mutex
	cache *lru.Cache[string, embeddingEntry]
}

func NewService(gw *store.Gateway, provider embedding.Provider, fetcher ThoughtFetcher, dim, cacheSize int) *Service {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, _ := lru.New[string, embeddingEntry](cacheSize)
	return &Service{gw: gw, provider: provider, fetcher: fetcher, dim: dim, cache: c}
}

func thoughtsCollection(instance string) string { return instance + "_thoughts" }
func identityCollection(instance string) string { return instance + "_identity" }

// EnsureCollections probes (creates, if supported) both collections for an
// instance. Failure is non-fatal: the gateway reports capability-absent
// and callers degrade to text search.
func (s *Service) EnsureCollections(ctx context.Context, instance string) {
	if err := s.gw.VectorCreate(ctx, thoughtsCollection(instance), s.dim, "cosine", 0); err != nil {
		log.Printf("[VECTOR] thoughts collection unavailable for %s: %v", instance, err)
	}
	if err := s.gw.VectorCreate(ctx, identityCollection(instance), s.dim, "cosine", 0); err != nil {
		log.Printf("[VECTOR] identity collection unavailable for %s: %v", instance, err)
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	s.mu.Lock()
	if entry, ok := s.cache.Get(key); ok && time.Now().Before(entry.expires) {
		s.mu.Unlock()
		return entry.vec, nil
	}
	s.mu.Unlock()

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, cogerr.New(cogerr.KindCapabilityAbsent, "vector", "embed", err)
	}

	s.mu.Lock()
	s.cache.Add(key, embeddingEntry{vec: vec, expires: time.Now().Add(embeddingTTL)})
	s.mu.Unlock()
	return vec, nil
}

// UpsertThought embeds content and writes it into the instance's thoughts
// collection, keyed by thought id.
func (s *Service) UpsertThought(ctx context.Context, instance, thoughtID, content string) error {
	vec, err := s.embed(ctx, content)
	if err != nil {
		return err
	}
	return s.gw.VectorUpsert(ctx, thoughtsCollection(instance), thoughtID, vec)
}

// HandleEvent is the events.Bus subscription callback for instance event
// subjects; it ignores every event but thought_created, for which it
// embeds the full thought (re-fetched via
// fetcher, since the event payload only carries a truncated preview) and
// upserts its vector.
func (s *Service) HandleEvent(ctx context.Context, msg events.Message) {
	var payload struct {
		Event     string `json:"event"`
		ThoughtID string `json:"thought_id"`
		Instance  string `json:"instance"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return
	}
	if payload.Event != events.EventThoughtCreated || s.fetcher == nil {
		return
	}

	t, err := s.fetcher.Get(ctx, payload.Instance, payload.ThoughtID)
	if err != nil {
		log.Printf("[VECTOR] could not fetch thought %s/%s for embedding: %v", payload.Instance, payload.ThoughtID, err)
		return
	}
	if err := s.UpsertThought(ctx, payload.Instance, t.ID, t.Content); err != nil {
		log.Printf("[VECTOR] upsert failed for %s/%s: %v", payload.Instance, t.ID, err)
	}
}

func withSimilarity(t thought.Thought, sim float32) thought.Thought {
	t.Similarity = &sim
	return t
}

// Search runs k-NN over one instance's thoughts collection.
func (s *Service) Search(ctx context.Context, instance, query string, limit int, threshold float32) ([]thought.Thought, error) {
	if s.fetcher == nil {
		return nil, nil
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, nil // capability absent: caller falls back to text search
	}

	matches, err := s.gw.VectorKNN(ctx, thoughtsCollection(instance), vec, limit, 0, "")
	if err != nil {
		if cogerr.IsCapabilityAbsent(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]thought.Thought, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		t, err := s.fetcher.Get(ctx, instance, m.ID)
		if err != nil {
			continue
		}
		out = append(out, withSimilarity(*t, m.Similarity))
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Similarity > *out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchGlobal runs k-NN across every discoverable thoughts collection,
// merging results by similarity.
func (s *Service) SearchGlobal(ctx context.Context, query string, limit int, threshold float32) ([]thought.Thought, error) {
	if s.fetcher == nil {
		return nil, nil
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, nil
	}

	var instances []string
	err = s.gw.Scan(ctx, "*_thoughts", 100, func(keys []string) bool {
		for _, k := range keys {
			if idx := len(k) - len("_thoughts"); idx > 0 {
				instances = append(instances, k[:idx])
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	var out []thought.Thought
	for _, inst := range instances {
		matches, err := s.gw.VectorKNN(ctx, thoughtsCollection(inst), vec, limit, 0, "")
		if err != nil {
			continue
		}
		for _, m := range matches {
			if m.Similarity < threshold {
				continue
			}
			t, err := s.fetcher.Get(ctx, inst, m.ID)
			if err != nil {
				continue
			}
			out = append(out, withSimilarity(*t, m.Similarity))
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Similarity > *out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
