package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/legacymind/cogmem/internal/cogerr"
)

//go:embed lua/store_thought.lua
var storeThoughtScript string

//go:embed lua/get_thought.lua
var getThoughtScript string

//go:embed lua/update_chain.lua
var updateChainScript string

//go:embed lua/get_chain_thoughts.lua
var getChainThoughtsScript string

//go:embed lua/search_thoughts.lua
var searchThoughtsScript string

//go:embed lua/cleanup_expired.lua
var cleanupExpiredScript string

// Scripts holds the SHA1 hashes of the six loaded atomic scripts.
type Scripts struct {
	gw *Gateway

	storeThought     string
	getThought       string
	updateChain      string
	getChainThoughts string
	searchThoughts   string
	cleanupExpired   string
}

// NewScripts loads all six atomic scripts once at startup.
func (g *Gateway) NewScripts(ctx context.Context) (*Scripts, error) {
	s := &Scripts{gw: g}
	var err error
	if s.storeThought, err = g.ScriptLoad(ctx, storeThoughtScript); err != nil {
		return nil, err
	}
	if s.getThought, err = g.ScriptLoad(ctx, getThoughtScript); err != nil {
		return nil, err
	}
	if s.updateChain, err = g.ScriptLoad(ctx, updateChainScript); err != nil {
		return nil, err
	}
	if s.getChainThoughts, err = g.ScriptLoad(ctx, getChainThoughtsScript); err != nil {
		return nil, err
	}
	if s.searchThoughts, err = g.ScriptLoad(ctx, searchThoughtsScript); err != nil {
		return nil, err
	}
	if s.cleanupExpired, err = g.ScriptLoad(ctx, cleanupExpiredScript); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreThoughtResult is the outcome of the store_thought script.
type StoreThoughtResult string

const (
	StoreOK        StoreThoughtResult = "OK"
	StoreDuplicate StoreThoughtResult = "DUPLICATE"
)

// StoreThought runs the store_thought atomic script: dedup-check, store,
// chain-append, metric bump.
func (s *Scripts) StoreThought(ctx context.Context, thoughtKey, bloomKey, metricsKey, chainKey, json, id string, ts int64, content, instance, chainID string) (StoreThoughtResult, error) {
	res, err := s.gw.ScriptEval(ctx, s.storeThought, storeThoughtScript,
		[]string{thoughtKey, bloomKey, metricsKey, chainKey},
		json, id, strconv.FormatInt(ts, 10), content, instance, chainID)
	if err != nil {
		return "", err
	}
	str, _ := res.(string)
	if str == string(StoreDuplicate) {
		return StoreDuplicate, nil
	}
	return StoreOK, nil
}

// GetThought runs the get_thought atomic script: fetch JSON, bump
// access_count, set last_access.
func (s *Scripts) GetThought(ctx context.Context, thoughtKey, accessCountKey, lastAccessKey string, ts int64) (string, bool, error) {
	res, err := s.gw.ScriptEval(ctx, s.getThought, getThoughtScript,
		[]string{thoughtKey, accessCountKey, lastAccessKey}, strconv.FormatInt(ts, 10))
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	str, ok := res.(string)
	if !ok {
		return "", false, cogerr.New(cogerr.KindInternal, "scripts", "get_thought", fmt.Errorf("unexpected script result type %T", res))
	}
	return str, true, nil
}

// UpdateChain adds or removes a thought id from a chain sorted set.
func (s *Scripts) UpdateChain(ctx context.Context, chainKey, op, id string, score int64) (int64, error) {
	res, err := s.gw.ScriptEval(ctx, s.updateChain, updateChainScript,
		[]string{chainKey}, op, id, strconv.FormatInt(score, 10))
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(res)
	return n, nil
}

// GetChainThoughts resolves every id in a chain to its JSON, in score order.
func (s *Scripts) GetChainThoughts(ctx context.Context, chainKey, instance string) ([]string, error) {
	res, err := s.gw.ScriptEval(ctx, s.getChainThoughts, getChainThoughtsScript, []string{chainKey}, instance)
	if err != nil {
		return nil, err
	}
	return toStringSlice(res), nil
}

// SearchThoughts resolves a pre-narrowed set of keys to JSON in one round trip.
func (s *Scripts) SearchThoughts(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := s.gw.ScriptEval(ctx, s.searchThoughts, searchThoughtsScript, keys)
	if err != nil {
		return nil, err
	}
	return toStringSlice(res), nil
}

// CleanupExpired sweeps TTL-expired helper keys.
func (s *Scripts) CleanupExpired(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.gw.ScriptEval(ctx, s.cleanupExpired, cleanupExpiredScript, keys)
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(res)
	return n, nil
}

func toStringSlice(res interface{}) []string {
	slice, ok := res.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt64(res interface{}) (int64, bool) {
	switch v := res.(type) {
	case int64:
		return v, true
	default:
		return 0, false
	}
}
