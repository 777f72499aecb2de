// Package store implements the Store Gateway: pooled, typed access to the
// backing key/value + JSON + streams + vector store, plus the atomic
// server-side scripts the write path depends on.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/config"
)

// Gateway wraps a pooled backing-store client with the operation timeouts
// and capability-degradation behavior spec'd for the Store Gateway.
type Gateway struct {
	client *redis.Client

	opTimeout     time.Duration
	searchTimeout time.Duration

	searchAvailable bool
}

// New creates a Gateway from store configuration. It does not verify
// connectivity; callers should call Ping.
func New(cfg config.StoreConfig) *Gateway {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  time.Duration(cfg.DialTimeoutMS) * time.Millisecond,
		PoolTimeout:  time.Duration(cfg.PoolTimeoutMS) * time.Millisecond,
	})

	return &Gateway{
		client:        client,
		opTimeout:     time.Duration(cfg.OpTimeoutMS) * time.Millisecond,
		searchTimeout: time.Duration(cfg.SearchOpMS) * time.Millisecond,
	}
}

// NewFromClient wraps an existing *redis.Client (used by tests against
// miniredis).
func NewFromClient(client *redis.Client, opTimeout, searchTimeout time.Duration) *Gateway {
	return &Gateway{client: client, opTimeout: opTimeout, searchTimeout: searchTimeout}
}

// Ping verifies connectivity and probes for the full-text search module,
// recording the result in SearchAvailable.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	if err := g.client.Ping(ctx).Err(); err != nil {
		return cogerr.NewKey(cogerr.KindStoreUnavailable, "store", "ping", err)
	}
	g.searchAvailable = g.probeSearch(ctx)
	return nil
}

// SearchAvailable reports whether the last probe found a working full-text
// search module.
func (g *Gateway) SearchAvailable() bool { return g.searchAvailable }

func (g *Gateway) withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.opTimeout)
}

func (g *Gateway) withSearchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.searchTimeout)
}

func isCapabilityAbsent(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unknown command") || strings.Contains(s, "unknown subcommand")
}

func classify(component, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return cogerr.NewKey(cogerr.KindNotFound, component, key, err)
	}
	if isCapabilityAbsent(err) {
		return cogerr.NewKey(cogerr.KindCapabilityAbsent, component, key, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cogerr.NewTimeout(component, key, 0)
	}
	return cogerr.NewKey(cogerr.KindStoreUnavailable, component, key, err)
}

// ================================================
// Strings
// ================================================

func (g *Gateway) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", cogerr.NewKey(cogerr.KindNotFound, "store", key, err)
	}
	if err != nil {
		return "", classify("store", key, err)
	}
	return v, nil
}

func (g *Gateway) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.Set(ctx, key, value, ttl).Err())
}

// HGet fetches one field from a hash, used for thought and identity
// documents stored via HSET so idx:thoughts (built ON HASH) can index
// thoughts directly, and so identity documents don't depend on a Redis
// Stack module that core-command-only deployments (and miniredis in
// tests) don't carry.
func (g *Gateway) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", cogerr.NewKey(cogerr.KindNotFound, "store", key, err)
	}
	if err != nil {
		return "", classify("store", key, err)
	}
	return v, nil
}

// HSet sets one field on a hash, creating it if absent.
func (g *Gateway) HSet(ctx context.Context, key, field, value string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.HSet(ctx, key, field, value).Err())
}

// HSetNX sets one field on a hash only if it doesn't already exist,
// reporting whether the set happened. Used to write a record's
// create-once fields (e.g. created_at) without a race against concurrent
// first-writers.
func (g *Gateway) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	ok, err := g.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, classify("store", key, err)
	}
	return ok, nil
}

// HIncrBy atomically increments one integer field on a hash, creating it
// (starting from 0) if absent. Used for counters a read-modify-write over
// HGet/HSet would race on under concurrent writers.
func (g *Gateway) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, classify("store", key, err)
	}
	return v, nil
}

func (g *Gateway) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", strings.Join(keys, ","), g.client.Del(ctx, keys...).Err())
}

func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	n, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		return false, classify("store", key, err)
	}
	return n > 0, nil
}

// ================================================
// Sets
// ================================================

func (g *Gateway) SAdd(ctx context.Context, key string, members ...string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return classify("store", key, g.client.SAdd(ctx, key, args...).Err())
}

func (g *Gateway) SInter(ctx context.Context, keys ...string) ([]string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, classify("store", strings.Join(keys, ","), err)
	}
	return v, nil
}

func (g *Gateway) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, classify("store", strings.Join(keys, ","), err)
	}
	return v, nil
}

// ================================================
// Sorted sets
// ================================================

func (g *Gateway) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (g *Gateway) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.ZIncrBy(ctx, key, increment, member).Result()
	if err != nil {
		return 0, classify("store", key, err)
	}
	return v, nil
}

func (g *Gateway) ZScore(ctx context.Context, key, member string) (float64, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, cogerr.NewKey(cogerr.KindNotFound, "store", key, err)
	}
	if err != nil {
		return 0, classify("store", key, err)
	}
	return v, nil
}

// ZRevRangeWithScores returns members in descending score order.
func (g *Gateway) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify("store", key, err)
	}
	return v, nil
}

func (g *Gateway) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	v, err := g.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, classify("store", key, err)
	}
	return v, nil
}

// ================================================
// Scan
// ================================================

// Scan walks all keys matching pattern in batches of batch, invoking fn for
// each page. fn may return false to stop early.
func (g *Gateway) Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) bool) error {
	var cursor uint64
	for {
		ctx2, cancel := g.withOpTimeout(ctx)
		keys, next, err := g.client.Scan(ctx2, cursor, pattern, batch).Result()
		cancel()
		if err != nil {
			return classify("store", pattern, err)
		}
		if len(keys) > 0 && !fn(keys) {
			return nil
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// ================================================
// Streams
// ================================================

func (g *Gateway) StreamInit(ctx context.Context, key string, maxLen int64) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	// XADD with NOMKSTREAM on a throwaway id would fail on empty streams;
	// instead we lazily create the stream on first XAdd and only trim here.
	err := g.client.XTrimMaxLenApprox(ctx, key, maxLen, 100).Err()
	if err != nil && !isCapabilityAbsent(err) {
		// Stream may not exist yet; that's fine, it is created on first XAdd.
		return nil
	}
	return nil
}

func (g *Gateway) XAdd(ctx context.Context, key string, maxLen int64, fields map[string]interface{}) (string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	id, err := g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", classify("store", key, err)
	}
	return id, nil
}

// StreamRead is the result of a blocking multi-stream read.
type StreamRead struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// XReadBlock performs a blocking read across the given streams (keyed by
// stream name -> last-seen id), returning new entries in arrival order.
func (g *Gateway) XReadBlock(ctx context.Context, streams map[string]string, block time.Duration, count int64) ([]StreamRead, error) {
	keys := make([]string, 0, len(streams)*2)
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	for _, name := range names {
		keys = append(keys, name)
	}
	for _, name := range names {
		keys = append(keys, streams[name])
	}

	res, err := g.client.XRead(ctx, &redis.XReadArgs{
		Streams: keys,
		Block:   block,
		Count:   count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("store", "xread", err)
	}

	var out []StreamRead
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, StreamRead{Stream: s.Stream, ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// ================================================
// JSON
// ================================================

// JSONGet fetches a JSON document at path, decoding one-element arrays that
// RedisJSON returns for the "$" path transparently. raw holds the decoded
// JSON text ready for json.Unmarshal, or "" if the key does not exist.
func (g *Gateway) JSONGet(ctx context.Context, key, path string) (string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	res, err := g.client.Do(ctx, "JSON.GET", key, path).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", cogerr.NewKey(cogerr.KindNotFound, "store", key, err)
		}
		return "", classify("store", key, err)
	}
	if path == "$" {
		return unwrapRootArray(res), nil
	}
	return res, nil
}

func unwrapRootArray(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']' {
		inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		if inner == "" {
			return ""
		}
		return inner
	}
	return raw
}

func (g *Gateway) JSONSet(ctx context.Context, key, path, json string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.Do(ctx, "JSON.SET", key, path, json).Err())
}

func (g *Gateway) JSONDel(ctx context.Context, key, path string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.Do(ctx, "JSON.DEL", key, path).Err())
}

func (g *Gateway) JSONNumIncr(ctx context.Context, key, path string, delta float64) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	return classify("store", key, g.client.Do(ctx, "JSON.NUMINCRBY", key, path, delta).Err())
}

// ================================================
// Vectors (Redis 8 vector sets)
// ================================================

func (g *Gateway) VectorCreate(ctx context.Context, key string, dim int, metric string, capacity int) error {
	// Vector sets are created implicitly on first VADD; nothing to do
	// up-front besides recording intent, so this is a capability probe.
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	err := g.client.Do(ctx, "VCARD", key).Err()
	if err != nil && isCapabilityAbsent(err) {
		return cogerr.NewKey(cogerr.KindCapabilityAbsent, "vector", key, err)
	}
	return nil
}

func (g *Gateway) VectorUpsert(ctx context.Context, key, id string, vec []float32) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	args := []interface{}{"VADD", key, "VALUES", len(vec)}
	for _, f := range vec {
		args = append(args, f)
	}
	args = append(args, id)
	return classify("vector", key, g.client.Do(ctx, args...).Err())
}

// VectorMatch is a single k-NN result.
type VectorMatch struct {
	ID         string
	Similarity float32
}

// VectorKNN runs a k-NN query over the named vector set, returning the top
// k matches with similarity >= 0. filter is an optional VSIM FILTER
// expression (empty to disable).
func (g *Gateway) VectorKNN(ctx context.Context, key string, vec []float32, k, ef int, filter string) ([]VectorMatch, error) {
	ctx, cancel := g.withSearchTimeout(ctx)
	defer cancel()

	args := []interface{}{"VSIM", key, "VALUES", len(vec)}
	for _, f := range vec {
		args = append(args, f)
	}
	args = append(args, "WITHSCORES", "COUNT", k)
	if ef > 0 {
		args = append(args, "EF", ef)
	}
	if filter != "" {
		args = append(args, "FILTER", filter)
	}

	res, err := g.client.Do(ctx, args...).Result()
	if err != nil {
		if isCapabilityAbsent(err) {
			return nil, cogerr.NewKey(cogerr.KindCapabilityAbsent, "vector", key, err)
		}
		return nil, classify("vector", key, err)
	}

	return parseVSimResult(res)
}

func parseVSimResult(res interface{}) ([]VectorMatch, error) {
	slice, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected VSIM reply type %T", res)
	}
	var matches []VectorMatch
	for i := 0; i+1 < len(slice); i += 2 {
		id, _ := slice[i].(string)
		var score float64
		switch v := slice[i+1].(type) {
		case string:
			fmt.Sscanf(v, "%f", &score)
		case float64:
			score = v
		}
		matches = append(matches, VectorMatch{ID: id, Similarity: float32(score)})
	}
	return matches, nil
}

// ================================================
// Scripts
// ================================================

func (g *Gateway) ScriptLoad(ctx context.Context, src string) (string, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	sha, err := g.client.ScriptLoad(ctx, src).Result()
	if err != nil {
		return "", cogerr.New(cogerr.KindInternal, "store", "script_load", err)
	}
	return sha, nil
}

// ScriptEval runs EVALSHA, reloading and retrying once on NOSCRIPT.
func (g *Gateway) ScriptEval(ctx context.Context, sha, src string, keys []string, args ...interface{}) (interface{}, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()

	res, err := g.client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		newSha, loadErr := g.client.ScriptLoad(ctx, src).Result()
		if loadErr != nil {
			return nil, cogerr.New(cogerr.KindInternal, "store", "script_reload", loadErr)
		}
		res, err = g.client.EvalSha(ctx, newSha, keys, args...).Result()
	}
	if err != nil {
		return nil, classify("store", strings.Join(keys, ","), err)
	}
	return res, nil
}

// ================================================
// Bloom filters
// ================================================

func (g *Gateway) BloomReserve(ctx context.Context, key string, errorRate float64, capacity int) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	err := g.client.Do(ctx, "BF.RESERVE", key, errorRate, capacity).Err()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "item exists") {
			return nil
		}
		if isCapabilityAbsent(err) {
			return cogerr.NewKey(cogerr.KindCapabilityAbsent, "bloom", key, err)
		}
		return classify("bloom", key, err)
	}
	return nil
}

func (g *Gateway) BloomAdd(ctx context.Context, key, item string) error {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	err := g.client.Do(ctx, "BF.ADD", key, item).Err()
	if isCapabilityAbsent(err) {
		return cogerr.NewKey(cogerr.KindCapabilityAbsent, "bloom", key, err)
	}
	if err != nil {
		return classify("bloom", key, err)
	}
	return nil
}

func (g *Gateway) BloomExists(ctx context.Context, key, item string) (bool, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	n, err := g.client.Do(ctx, "BF.EXISTS", key, item).Int()
	if err != nil {
		if isCapabilityAbsent(err) {
			return false, cogerr.NewKey(cogerr.KindCapabilityAbsent, "bloom", key, err)
		}
		return false, classify("bloom", key, err)
	}
	return n == 1, nil
}

// BloomInfo returns best-effort BF.INFO telemetry, or nil if the module is
// absent. It never fabricates values.
func (g *Gateway) BloomInfo(ctx context.Context, key string) (map[string]int64, error) {
	ctx, cancel := g.withOpTimeout(ctx)
	defer cancel()
	res, err := g.client.Do(ctx, "BF.INFO", key).Result()
	if err != nil {
		if isCapabilityAbsent(err) {
			return nil, nil
		}
		return nil, classify("bloom", key, err)
	}
	pairs, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	out := map[string]int64{}
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case int64:
			out[name] = v
		}
	}
	return out, nil
}

// ================================================
// Full-text search
// ================================================

func (g *Gateway) probeSearch(ctx context.Context) bool {
	res, err := g.client.Do(ctx, "FT._LIST").Result()
	if err != nil {
		return false
	}
	list, ok := res.([]interface{})
	if !ok {
		return false
	}
	for _, v := range list {
		if s, _ := v.(string); s == "idx:thoughts" {
			return true
		}
	}
	return false
}

// EnsureSearchIndex creates the thoughts full-text index if missing,
// tolerating failure (the module may not be installed).
func (g *Gateway) EnsureSearchIndex(ctx context.Context) bool {
	if g.probeSearch(ctx) {
		g.searchAvailable = true
		return true
	}
	// Thought keys are "<instance>:Thoughts:<id>" — there is no single
	// literal prefix shared by every instance, so the index is built over
	// the whole keyspace and narrowed by the schema fields instead.
	// Thoughts are persisted via HSET (see store_thought.lua), so the
	// index is built ON HASH over the same field names, not ON JSON.
	err := g.client.Do(ctx, "FT.CREATE", "idx:thoughts", "ON", "HASH",
		"PREFIX", "1", "",
		"SCHEMA", "content", "TEXT",
		"instance", "TAG",
		"chain_id", "TAG",
	).Err()
	g.searchAvailable = err == nil
	return g.searchAvailable
}

// FTSearch runs a RediSearch query, returning matched document ids.
func (g *Gateway) FTSearch(ctx context.Context, index, query string, limit int) ([]string, error) {
	ctx, cancel := g.withSearchTimeout(ctx)
	defer cancel()
	res, err := g.client.Do(ctx, "FT.SEARCH", index, query, "LIMIT", "0", limit, "NOCONTENT").Result()
	if err != nil {
		return nil, cogerr.NewKey(cogerr.KindCapabilityAbsent, "search", index, err)
	}
	slice, ok := res.([]interface{})
	if !ok || len(slice) == 0 {
		return nil, nil
	}
	var ids []string
	for _, v := range slice[1:] {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Raw exposes the underlying client for operations this wrapper doesn't
// cover yet (e.g. ad-hoc debugging).
func (g *Gateway) Raw() *redis.Client { return g.client }

// Close releases pooled connections.
func (g *Gateway) Close() error { return g.client.Close() }
