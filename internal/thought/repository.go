package thought

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/store"
)

// EventPublisher is the narrow publish surface the repository needs. It is
// satisfied by the events bus; kept as an interface here so this package
// never imports it directly (components only talk through their own
// caches and the store, per the no-cross-mutation rule).
type EventPublisher interface {
	Publish(subject string, payload interface{}) error
}

// SemanticSearcher is the Vector Service's search surface, as consumed by
// search_semantic/search_semantic_global.
type SemanticSearcher interface {
	Search(ctx context.Context, instance, query string, limit int, threshold float32) ([]Thought, error)
	SearchGlobal(ctx context.Context, query string, limit int, threshold float32) ([]Thought, error)
}

// Repository implements the Thought Repository component: the
// atomic write path, chain/metadata reads, and hybrid text/semantic/
// metadata-filtered search.
type Repository struct {
	gw      *store.Gateway
	scripts *store.Scripts
	events  EventPublisher
	vector  SemanticSearcher

	maxContent int
	cache      *searchCache
}

// NewRepository wires a Repository over an already-pinged Gateway.
func NewRepository(gw *store.Gateway, scripts *store.Scripts, events EventPublisher, vector SemanticSearcher, maxContent, cacheSize int) *Repository {
	return &Repository{
		gw:         gw,
		scripts:    scripts,
		events:     events,
		vector:     vector,
		maxContent: maxContent,
		cache:      newSearchCache(cacheSize, 5*time.Minute),
	}
}

// SetSemanticSearcher wires the Vector Service after construction, since
// the Vector Service itself needs a way to fetch full thoughts back (a
// circular runtime dependency with no import cycle: vectorsvc imports
// this package for types, this package never imports vectorsvc).
func (r *Repository) SetSemanticSearcher(v SemanticSearcher) { r.vector = v }

// SearchAvailable reports whether the backing store's full-text search
// module was detected, rather than the repository having silently
// degraded to a fallback scan.
func (r *Repository) SearchAvailable() bool { return r.gw.SearchAvailable() }

func thoughtKey(instance, id string) string    { return instance + ":Thoughts:" + id }
func bloomKey(instance string) string          { return instance + ":bloom:thoughts" }
func metricsKey(instance string) string        { return instance + ":metrics:thoughts" }
func chainKey(instance, chainID string) string { return instance + ":chains:" + chainID }
func chainMetaKey(chainID string) string       { return "Chains:metadata:" + chainID }
func accessCountKey(instance, id string) string { return instance + ":access_count:" + id }
func lastAccessKey(instance, id string) string  { return instance + ":last_access:" + id }
func tagSetKey(instance, tag string) string     { return instance + ":tags:" + tag }
func metaKey(instance, id string) string        { return instance + ":thought_meta:" + id }
func boostKey(instance string) string           { return instance + ":boost_scores" }

func contentPreview(content string) string {
	r := []rune(content)
	if len(r) <= 100 {
		return content
	}
	return string(r[:100])
}

// Save runs the atomic store_thought script; DUPLICATE is treated as
// success, matching a client that double-submits the same content.
func (r *Repository) Save(ctx context.Context, t Thought) error {
	if strings.TrimSpace(t.Content) == "" {
		return cogerr.New(cogerr.KindValidation, "thought", "content", fmt.Errorf("content must not be empty"))
	}
	if len(t.Content) > r.maxContent {
		return cogerr.New(cogerr.KindValidation, "thought", "content", fmt.Errorf("content exceeds max length %d", r.maxContent))
	}
	if t.Number < 1 || t.Number > t.Total {
		return cogerr.New(cogerr.KindValidation, "thought", "number", fmt.Errorf("number %d out of range [1,%d]", t.Number, t.Total))
	}

	body, err := json.Marshal(t)
	if err != nil {
		return cogerr.New(cogerr.KindInternal, "thought", "marshal", err)
	}

	var ck string
	if t.ChainID != "" {
		ck = chainKey(t.Instance, t.ChainID)
	}

	res, err := r.scripts.StoreThought(ctx,
		thoughtKey(t.Instance, t.ID), bloomKey(t.Instance), metricsKey(t.Instance), ck,
		string(body), t.ID, t.Timestamp.Unix(), t.Content, t.Instance, t.ChainID)
	if err != nil {
		return err
	}

	if res == store.StoreDuplicate {
		log.Printf("[THOUGHT] duplicate content for instance=%s id=%s, treated as success", t.Instance, t.ID)
		return nil
	}

	if t.ChainID != "" {
		if err := r.touchChainMetadata(ctx, t.Instance, t.ChainID); err != nil {
			log.Printf("[THOUGHT] chain metadata update failed for %s/%s: %v", t.Instance, t.ChainID, err)
		}
	}

	if r.events != nil {
		_ = r.events.Publish(t.Instance+":events", map[string]interface{}{
			"event":           "thought_created",
			"thought_id":      t.ID,
			"instance":        t.Instance,
			"ts":              t.Timestamp.Unix(),
			"content_preview": contentPreview(t.Content),
		})
	}
	log.Printf("[THOUGHT] thought_created instance=%s id=%s number=%d/%d preview=%q",
		t.Instance, t.ID, t.Number, t.Total, contentPreview(t.Content))
	return nil
}

// touchChainMetadata creates a chain's metadata hash on first use and
// bumps its thought_count. The create-once fields (chain_id, instance,
// created_at) live in a "doc" field written with HSETNX so a concurrent
// first writer can't lose to another; thought_count lives in its own
// field incremented with HINCRBY, Redis's atomic counter command, so
// concurrent Save calls on the same chain never lose an update the way a
// HGET-then-HSET read-modify-write would.
func (r *Repository) touchChainMetadata(ctx context.Context, instance, chainID string) error {
	key := chainMetaKey(chainID)
	body, err := json.Marshal(ChainMetadata{ChainID: chainID, Instance: instance, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := r.gw.HSetNX(ctx, key, "doc", string(body)); err != nil {
		return err
	}
	_, err = r.gw.HIncrBy(ctx, key, "thought_count", 1)
	return err
}

// GetChainMetadata fetches a chain's create-once fields and its current
// thought_count, assembled from the two hash fields touchChainMetadata
// writes independently.
func (r *Repository) GetChainMetadata(ctx context.Context, chainID string) (*ChainMetadata, error) {
	key := chainMetaKey(chainID)
	raw, err := r.gw.HGet(ctx, key, "doc")
	if err != nil {
		return nil, err
	}
	var meta ChainMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "thought", "chain_metadata_unmarshal", err)
	}
	count, err := r.gw.HIncrBy(ctx, key, "thought_count", 0)
	if err != nil {
		return nil, err
	}
	meta.ThoughtCount = int(count)
	return &meta, nil
}

// MergeIntoChain appends ids to chainID's sorted set in the given order
// (score = position, not wall-clock time, so the merge order is exactly
// preserved) and writes chain metadata reflecting the merge. Thoughts
// remain immutable; a merge creates a new chain id, never rewrites an
// existing thought's chain_id.
func (r *Repository) MergeIntoChain(ctx context.Context, instance, newChainID string, ids []string) error {
	ck := chainKey(instance, newChainID)
	for i, id := range ids {
		if _, err := r.scripts.UpdateChain(ctx, ck, "add", id, int64(i)); err != nil {
			return err
		}
	}
	meta := ChainMetadata{ChainID: newChainID, Instance: instance, CreatedAt: time.Now().UTC()}
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := r.gw.HSet(ctx, chainMetaKey(newChainID), "doc", string(body)); err != nil {
		return err
	}
	_, err = r.gw.HIncrBy(ctx, chainMetaKey(newChainID), "thought_count", int64(len(ids)))
	return err
}

// Get fetches a thought and bumps its access counters.
func (r *Repository) Get(ctx context.Context, instance, id string) (*Thought, error) {
	raw, ok, err := r.scripts.GetThought(ctx,
		thoughtKey(instance, id), accessCountKey(instance, id), lastAccessKey(instance, id), time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cogerr.NewKey(cogerr.KindNotFound, "thought", id, fmt.Errorf("thought not found"))
	}
	var t Thought
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "thought", "unmarshal", err)
	}
	if r.events != nil {
		_ = r.events.Publish(instance+":events", map[string]interface{}{
			"event": "thought_accessed", "thought_id": id, "instance": instance, "ts": time.Now().Unix(),
		})
	}
	return &t, nil
}

// GetChain resolves every thought in a chain, preserving insertion order.
func (r *Repository) GetChain(ctx context.Context, instance, chainID string) ([]Thought, error) {
	raws, err := r.scripts.GetChainThoughts(ctx, chainKey(instance, chainID), instance)
	if err != nil {
		return nil, err
	}
	out := make([]Thought, 0, len(raws))
	for _, raw := range raws {
		var t Thought
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeThoughtsFromKeys(ctx context.Context, gw *store.Gateway, keys []string, limit int) []Thought {
	out := make([]Thought, 0, len(keys))
	for _, k := range keys {
		raw, err := gw.HGet(ctx, k, "doc")
		if err != nil {
			continue
		}
		var t Thought
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetInstanceThoughts scans an instance's thought keys up to limit.
func (r *Repository) GetInstanceThoughts(ctx context.Context, instance string, limit int) ([]Thought, error) {
	var out []Thought
	err := r.gw.Scan(ctx, instance+":Thoughts:*", 100, func(keys []string) bool {
		out = append(out, decodeThoughtsFromKeys(ctx, r.gw, keys, 0)...)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAllThoughts scans every instance's thought keys, sorted newest first.
func (r *Repository) GetAllThoughts(ctx context.Context, limit int) ([]Thought, error) {
	var out []Thought
	err := r.gw.Scan(ctx, "*:Thoughts:*", 100, func(keys []string) bool {
		out = append(out, decodeThoughtsFromKeys(ctx, r.gw, keys, 0)...)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func escapeFTQuery(q string) string {
	q = strings.ReplaceAll(q, `"`, `\"`)
	return q
}

// SearchText runs the hybrid text search (index, falling back to scan) for
// one instance.
func (r *Repository) SearchText(ctx context.Context, instance, query string, limit int) ([]Thought, SearchMethod, error) {
	return r.searchText(ctx, instance, query, limit)
}

// SearchTextGlobal is SearchText without an instance filter.
func (r *Repository) SearchTextGlobal(ctx context.Context, query string, limit int) ([]Thought, SearchMethod, error) {
	return r.searchText(ctx, "", query, limit)
}

func (r *Repository) searchText(ctx context.Context, instance, query string, limit int) ([]Thought, SearchMethod, error) {
	cacheKey := fmt.Sprintf("%s|%s|%d", query, instance, limit)
	if cached, ok := r.cache.get(cacheKey); ok {
		if !r.gw.SearchAvailable() {
			return cached, MethodFallbackScan, nil
		}
		return cached, MethodTextIndex, nil
	}

	if r.gw.SearchAvailable() {
		var ftq string
		if instance != "" {
			ftq = fmt.Sprintf("(@content:%s) (@instance:{%s})", escapeFTQuery(query), instance)
		} else {
			ftq = fmt.Sprintf("(@content:%s)", escapeFTQuery(query))
		}
		ids, err := r.gw.FTSearch(ctx, "idx:thoughts", ftq, limit)
		if err == nil {
			raws, serr := r.scripts.SearchThoughts(ctx, ids)
			if serr == nil {
				out := make([]Thought, 0, len(raws))
				for _, raw := range raws {
					var t Thought
					if json.Unmarshal([]byte(raw), &t) == nil {
						out = append(out, t)
					}
				}
				r.cache.put(cacheKey, out)
				return out, MethodTextIndex, nil
			}
		}
	}

	out, err := r.fallbackScan(ctx, instance, query, limit)
	if err != nil {
		return nil, "", err
	}
	r.cache.put(cacheKey, out)
	return out, MethodFallbackScan, nil
}

func (r *Repository) fallbackScan(ctx context.Context, instance, query string, limit int) ([]Thought, error) {
	pattern := "*:Thoughts:*"
	if instance != "" {
		pattern = instance + ":Thoughts:*"
	}
	needle := strings.ToLower(query)
	var out []Thought
	err := r.gw.Scan(ctx, pattern, 100, func(keys []string) bool {
		for _, t := range decodeThoughtsFromKeys(ctx, r.gw, keys, 0) {
			if strings.Contains(strings.ToLower(t.Content), needle) {
				out = append(out, t)
				if limit > 0 && len(out) >= limit {
					return false
				}
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchSemantic delegates to the Vector Service for one instance.
func (r *Repository) SearchSemantic(ctx context.Context, instance, query string, limit int, threshold float32) ([]Thought, error) {
	if r.vector == nil {
		return nil, nil
	}
	return r.vector.Search(ctx, instance, query, limit, threshold)
}

// SearchSemanticGlobal delegates to the Vector Service across instances.
func (r *Repository) SearchSemanticGlobal(ctx context.Context, query string, limit int, threshold float32) ([]Thought, error) {
	if r.vector == nil {
		return nil, nil
	}
	return r.vector.SearchGlobal(ctx, query, limit, threshold)
}

// SearchSemanticEnhanced runs semantic search at 2x limit, applies metadata
// filters, and truncates back to limit.
func (r *Repository) SearchSemanticEnhanced(ctx context.Context, instance, query string, limit int, threshold float32, filter MetadataFilter) ([]Thought, error) {
	results, err := r.SearchSemantic(ctx, instance, query, limit*2, threshold)
	if err != nil {
		return nil, err
	}
	filtered := r.applyMetadataFilter(ctx, results, filter, func(t Thought) string { return instance })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// SearchSemanticGlobalEnhanced is the global counterpart; tag filtering
// uses each result's own instance since results can span instances.
func (r *Repository) SearchSemanticGlobalEnhanced(ctx context.Context, query string, limit int, threshold float32, filter MetadataFilter) ([]Thought, error) {
	results, err := r.SearchSemanticGlobal(ctx, query, limit*2, threshold)
	if err != nil {
		return nil, err
	}
	filtered := r.applyMetadataFilter(ctx, results, filter, func(t Thought) string { return t.Instance })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// applyMetadataFilter narrows a result set: tag intersection first (most
// selective), then importance/relevance/category lookups per survivor.
func (r *Repository) applyMetadataFilter(ctx context.Context, thoughts []Thought, filter MetadataFilter, instanceOf func(Thought) string) []Thought {
	if filter.empty() {
		return thoughts
	}

	var tagIDs map[string]struct{}
	if len(filter.Tags) > 0 {
		tagIDs = map[string]struct{}{}
		byInstance := map[string][]string{}
		for _, t := range thoughts {
			byInstance[instanceOf(t)] = append(byInstance[instanceOf(t)], t.ID)
		}
		for inst := range byInstance {
			keys := make([]string, len(filter.Tags))
			for i, tag := range filter.Tags {
				keys[i] = tagSetKey(inst, tag)
			}
			ids, err := r.gw.SInter(ctx, keys...)
			if err != nil {
				continue
			}
			for _, id := range ids {
				tagIDs[id] = struct{}{}
			}
		}
	}

	out := make([]Thought, 0, len(thoughts))
	for _, t := range thoughts {
		if tagIDs != nil {
			if _, ok := tagIDs[t.ID]; !ok {
				continue
			}
		}
		if filter.MinImportance != nil || filter.MinRelevance != nil || filter.Category != "" {
			m, err := r.GetMetadata(ctx, instanceOf(t), t.ID)
			if err != nil || m == nil {
				continue
			}
			if filter.MinImportance != nil && (m.Importance == nil || *m.Importance < *filter.MinImportance) {
				continue
			}
			if filter.MinRelevance != nil && (m.Relevance == nil || *m.Relevance < *filter.MinRelevance) {
				continue
			}
			if filter.Category != "" && m.Category != filter.Category {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// ApplyBoost re-ranks thoughts by 0.9*similarity + 0.1*boost (similarity
// present) or boost alone, descending.
func (r *Repository) ApplyBoost(ctx context.Context, instance string, thoughts []Thought) ([]Thought, error) {
	type scored struct {
		t     Thought
		score float64
	}
	ranked := make([]scored, 0, len(thoughts))
	for _, t := range thoughts {
		boost, err := r.gw.ZScore(ctx, boostKey(instance), t.ID)
		if err != nil && !cogerr.IsNotFound(err) {
			return nil, err
		}
		var score float64
		if t.Similarity != nil {
			score = 0.9*float64(*t.Similarity) + 0.1*boost
		} else {
			score = boost
		}
		ranked = append(ranked, scored{t: t, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]Thought, len(ranked))
	for i, s := range ranked {
		out[i] = s.t
	}
	return out, nil
}

// NewThoughtID generates a fresh thought id.
func NewThoughtID() string { return uuid.NewString() }
