package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/thought"
)

// runRecallAction performs one post-search operation over a recall's
// result set. Thoughts are immutable once written; merge and branch never
// rewrite an existing thought's chain_id, they create a new chain id.
func (s *Service) runRecallAction(ctx context.Context, req RecallRequest, results []thought.Thought) (map[string]interface{}, error) {
	switch req.Action {
	case ActionAnalyze:
		return analyzeThoughts(results), nil
	case ActionMerge:
		return s.mergeChains(ctx, req, results)
	case ActionBranch:
		return branchFromThought(req.ActionParams)
	case ActionContinue:
		return continueChain(req.ActionParams)
	default:
		return nil, cogerr.New(cogerr.KindValidation, "tools", "action", fmt.Errorf("unsupported recall action %q", req.Action))
	}
}

func actionParamString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", cogerr.New(cogerr.KindValidation, "tools", "action_params", fmt.Errorf("%s is required", key))
	}
	return v, nil
}

// analyzeThoughts summarizes a result set: average content length, the ten
// most frequent words longer than 3 characters, and a count of thoughts
// per chain.
func analyzeThoughts(results []thought.Thought) map[string]interface{} {
	wordFreq := map[string]int{}
	var totalLen int
	chainCounts := map[string]int{}

	for _, t := range results {
		totalLen += len(t.Content)
		for _, word := range strings.Fields(t.Content) {
			word = strings.ToLower(word)
			if len(word) > 3 {
				wordFreq[word]++
			}
		}
		if t.ChainID != "" {
			chainCounts[t.ChainID]++
		}
	}

	type wordCount struct {
		Word  string
		Count int
	}
	top := make([]wordCount, 0, len(wordFreq))
	for w, c := range wordFreq {
		top = append(top, wordCount{w, c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Word < top[j].Word
	})
	if len(top) > 10 {
		top = top[:10]
	}

	avgLen := 0.0
	if len(results) > 0 {
		avgLen = float64(totalLen) / float64(len(results))
	}

	return map[string]interface{}{
		"total_thoughts":     len(results),
		"average_length":     avgLen,
		"top_keywords":       top,
		"chain_distribution": chainCounts,
	}
}

// mergeChains writes every thought in the result set into a brand-new
// chain, in result order, and records chain metadata for it. A global
// search can return thoughts from multiple instances; since a chain
// belongs to exactly one instance, merge requires every retrieved
// thought to share the same instance (the caller's own, when set, or
// else the result set's single common instance) rather than guessing
// which one should own the new chain.
func (s *Service) mergeChains(ctx context.Context, req RecallRequest, results []thought.Thought) (map[string]interface{}, error) {
	newChainName, err := actionParamString(req.ActionParams, "new_chain_name")
	if err != nil {
		return nil, err
	}

	owner := req.Instance
	ids := make([]string, len(results))
	for i, t := range results {
		ids[i] = t.ID
		switch {
		case owner == "":
			owner = t.Instance
		case t.Instance != owner:
			return nil, cogerr.New(cogerr.KindValidation, "tools", "action", fmt.Errorf("merge requires all retrieved thoughts to belong to one instance, got %q and %q", owner, t.Instance))
		}
	}
	if owner == "" {
		return nil, cogerr.New(cogerr.KindValidation, "tools", "instance", fmt.Errorf("merge requires an instance to own the new chain"))
	}

	newChainID := uuid.NewString()
	if err := s.Repo.MergeIntoChain(ctx, owner, newChainID, ids); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"new_chain_id":   newChainID,
		"new_chain_name": newChainName,
		"thought_count":  len(ids),
	}, nil
}

// branchFromThought mints a new chain id descending from an existing
// thought. It does not write anything itself — the caller applies it by
// passing the returned chain_id to a subsequent think call.
func branchFromThought(params map[string]interface{}) (map[string]interface{}, error) {
	thoughtID, err := actionParamString(params, "thought_id")
	if err != nil {
		return nil, err
	}
	newChainName, err := actionParamString(params, "new_chain_name")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"new_chain_id":   uuid.NewString(),
		"new_chain_name": newChainName,
		"branched_from":  thoughtID,
		"message":        "use think with this chain_id to continue the branched chain",
	}, nil
}

// continueChain validates an existing chain id is ready to receive more
// thoughts; like branch, it performs no write of its own.
func continueChain(params map[string]interface{}) (map[string]interface{}, error) {
	chainID, err := actionParamString(params, "chain_id")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"chain_id": chainID,
		"message":  "use think with this chain_id to add more thoughts",
	}, nil
}
