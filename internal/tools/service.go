package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legacymind/cogmem/internal/flow"
	"github.com/legacymind/cogmem/internal/identity"
	"github.com/legacymind/cogmem/internal/monitor"
	"github.com/legacymind/cogmem/internal/pattern"
	"github.com/legacymind/cogmem/internal/thought"
)

// EventPublisher is the subset of the event bus the tool surface needs to
// publish search_performed events for offline feedback learning.
type EventPublisher interface {
	Publish(subject string, payload interface{}) error
}

// Service wires every tool handler to the components that implement it.
// One Service instance is shared across instances (tenants); per-instance
// state (flow analyzer) is looked up by instance id.
type Service struct {
	Repo     *thought.Repository
	Identity *identity.Documents
	Monitor  *monitor.Monitor
	Pattern  *pattern.Engine
	Events   EventPublisher

	maxTotal int

	flowMu  chan struct{}
	flowsBy map[string]*flow.Analyzer
}

func NewService(repo *thought.Repository, docs *identity.Documents, mon *monitor.Monitor, pat *pattern.Engine, events EventPublisher, maxTotal int) *Service {
	return &Service{
		Repo: repo, Identity: docs, Monitor: mon, Pattern: pat, Events: events,
		maxTotal: maxTotal,
		flowMu:   make(chan struct{}, 1),
		flowsBy:  map[string]*flow.Analyzer{},
	}
}

func (s *Service) flowFor(instance string) *flow.Analyzer {
	s.flowMu <- struct{}{}
	defer func() { <-s.flowMu }()
	a, ok := s.flowsBy[instance]
	if !ok {
		a = flow.NewAnalyzer()
		s.flowsBy[instance] = a
	}
	return a
}

// Think persists one thought in a chain of thoughts.
func (s *Service) Think(ctx context.Context, req ThinkRequest) (map[string]interface{}, error) {
	if err := validateThink(req, s.maxTotal); err != nil {
		return nil, err
	}

	t := thought.Thought{
		ID:         thought.NewThoughtID(),
		Instance:   req.Instance,
		Content:    req.Content,
		Number:     req.Number,
		Total:      req.Total,
		Timestamp:  time.Now().UTC(),
		ChainID:    req.ChainID,
		NextNeeded: req.NextNeeded,
	}
	if err := s.Repo.Save(ctx, t); err != nil {
		return nil, err
	}

	state, momentum, rec, entities := s.analyzeMessage(req.Instance, req.Content, pattern.KindThinking)

	resp := map[string]interface{}{
		"id":          t.ID,
		"chain_id":    t.ChainID,
		"next_needed": t.NextNeeded,
		"flow_state":  state,
		"momentum":    momentum,
		"entities":    entities,
	}
	if rec != nil {
		resp["intervention_recommendation"] = rec
	}
	return resp, nil
}

func firstEntityText(entities []flow.Entity) string {
	if len(entities) == 0 {
		return ""
	}
	return entities[0].Text
}

// analyzeMessage runs flow analysis, entity detection, and pattern/
// uncertainty matching over one message, feeding a resulting trigger to
// the monitor. Shared by Think and Dispatch so a thought and a
// plain conversation message are analyzed identically.
func (s *Service) analyzeMessage(instance, text string, kind pattern.Kind) (flow.State, flow.Momentum, *flow.InterventionRecommendation, []flow.Entity) {
	analyzer := s.flowFor(instance)
	state, momentum, rec := analyzer.OnMessage(text)
	entities := flow.DetectEntities(text)
	uncertainty := pattern.DetectUncertainty(text)

	if s.Monitor != nil {
		trigger := monitor.InterventionTrigger{}
		if uncertainty != nil {
			trigger.UncertaintyDetected = true
			trigger.UncertaintyLevel = uncertainty.UncertaintyLevel
			trigger.Confidence = uncertainty.Score
		}
		if s.Pattern != nil {
			matches := s.Pattern.Find(text, kind)
			if len(matches) > 0 {
				trigger.Patterns = []string{matches[0].Pattern.ID}
				trigger.PatternMatchStrength = matches[0].Score
			}
		}
		if trigger.Confidence > 0.4 {
			s.Monitor.Enqueue(trigger, "review related memories", "message triggered a pattern/uncertainty match")
		}
		s.Monitor.UpdateCognitiveState(string(state), firstEntityText(entities))
	}

	return state, momentum, rec, entities
}

// Dispatch implements stream.Dispatcher: the Stream Consumers component
// feeds every conversation message through the same flow/entity/
// pattern analysis a thought gets, without persisting it.
func (s *Service) Dispatch(ctx context.Context, instance, text string, _ time.Time) {
	s.analyzeMessage(instance, text, pattern.KindInteraction)
}

// Recall searches thoughts by text, semantic similarity, or chain lookup,
// optionally runs a post-search action (analyze/merge/branch/continue)
// over the result set, and returns a search_id for later feedback.
//
// semantic_search defaults to false: recall hits the text index (or its
// fallback scan) unless a caller opts into embedding-based ranking.
// Requesting enhanced mode or passing a metadata filter is itself an
// opt-in to the embedding-ranked path, since text search has no way to
// apply either.
func (s *Service) Recall(ctx context.Context, req RecallRequest) (map[string]interface{}, error) {
	if err := validateRecall(req); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Threshold == 0 {
		req.Threshold = 0.5
	}

	var (
		results []thought.Thought
		method  thought.SearchMethod
		err     error
	)

	switch {
	case req.ChainID != "":
		results, err = s.Repo.GetChain(ctx, req.Instance, req.ChainID)
		method = thought.MethodTextIndex
	case req.Query != "":
		switch {
		case req.Enhanced || !req.Filter.Empty():
			if req.Global {
				results, err = s.Repo.SearchSemanticGlobalEnhanced(ctx, req.Query, req.Limit, req.Threshold, req.Filter)
			} else {
				results, err = s.Repo.SearchSemanticEnhanced(ctx, req.Instance, req.Query, req.Limit, req.Threshold, req.Filter)
			}
			method = thought.MethodEnhancedSemantic
		case req.SemanticSearch:
			if req.Global {
				results, err = s.Repo.SearchSemanticGlobal(ctx, req.Query, req.Limit, req.Threshold)
			} else {
				results, err = s.Repo.SearchSemantic(ctx, req.Instance, req.Query, req.Limit, req.Threshold)
			}
			method = thought.MethodSemanticVector
			if len(results) == 0 && err == nil {
				if req.Global {
					results, method, err = s.Repo.SearchTextGlobal(ctx, req.Query, req.Limit)
				} else {
					results, method, err = s.Repo.SearchText(ctx, req.Instance, req.Query, req.Limit)
				}
			}
		default:
			if req.Global {
				results, method, err = s.Repo.SearchTextGlobal(ctx, req.Query, req.Limit)
			} else {
				results, method, err = s.Repo.SearchText(ctx, req.Instance, req.Query, req.Limit)
			}
		}
	default:
		results, err = s.Repo.GetInstanceThoughts(ctx, req.Instance, req.Limit)
		method = thought.MethodTextIndex
	}
	if err != nil {
		return nil, err
	}

	results, err = s.Repo.ApplyBoost(ctx, req.Instance, results)
	if err != nil {
		return nil, err
	}

	searchID := fmt.Sprintf("search_%d_%s", time.Now().UTC().Unix(), uuid.NewString()[:8])
	if s.Events != nil {
		_ = s.Events.Publish("search_performed", map[string]interface{}{
			"search_id": searchID,
			"instance":  req.Instance,
			"query":     req.Query,
			"method":    method,
			"count":     len(results),
		})
	}

	out := map[string]interface{}{
		"thoughts":         results,
		"total_found":      len(results),
		"search_method":    method,
		"search_available": s.Repo.SearchAvailable(),
		"search_id":        searchID,
	}

	if req.Action != "" && req.Action != ActionSearch {
		result, err := s.runRecallAction(ctx, req, results)
		if err != nil {
			return nil, err
		}
		out["action"] = req.Action
		out["action_result"] = result
	}

	return out, nil
}

// RecallFeedback records a feedback event against a prior search result.
func (s *Service) RecallFeedback(ctx context.Context, req FeedbackRequest) (map[string]interface{}, error) {
	if err := validateFeedback(req); err != nil {
		return nil, err
	}
	delta, err := s.Repo.RecordFeedback(ctx, thought.FeedbackEvent{
		SearchID:        req.SearchID,
		ThoughtID:       req.ThoughtID,
		Instance:        req.Instance,
		Action:          req.Action,
		DwellTime:       req.DwellTime,
		RelevanceRating: req.RelevanceRating,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"boost_delta": delta}, nil
}

// IdentityRequest is the validated input to the identity tool, covering
// all four operations (add/modify/delete/view).
type IdentityRequest struct {
	Instance string
	Op       string // "add", "modify", "delete", "view"
	Category identity.Category
	Field    string
	Value    interface{}
	OldValue *string
}

// Identity dispatches to the Identity Documents store.
func (s *Service) Identity(ctx context.Context, req IdentityRequest) (map[string]interface{}, error) {
	switch req.Op {
	case "view":
		out, err := s.Identity.View(ctx, req.Instance)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"identity": out}, nil
	case "add":
		doc, err := s.Identity.Add(ctx, req.Instance, req.Category, req.Field, req.Value)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"document": doc}, nil
	case "modify":
		doc, err := s.Identity.Modify(ctx, req.Instance, req.Category, req.Field, req.Value)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"document": doc}, nil
	case "delete":
		if err := s.Identity.Delete(ctx, req.Instance, req.Category, req.Field, req.OldValue); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": true}, nil
	default:
		return nil, validationErr("op", "unknown identity operation")
	}
}

// MonitorStatus reports the live cognitive state and queue depth.
func (s *Service) MonitorStatus(ctx context.Context, detailed bool) map[string]interface{} {
	state := s.Monitor.State()
	out := map[string]interface{}{
		"cognitive_state": state,
		"queue_length":    s.Monitor.QueueLen(),
		"ready":           s.Monitor.Ready(),
	}
	if detailed {
		out["queued"] = s.Monitor.Queued()
	}
	return out
}

// CognitiveMetrics reports the raw cognitive-state metrics for
// dashboards/telemetry.
func (s *Service) CognitiveMetrics() monitor.CognitiveState {
	return s.Monitor.State()
}

// InterventionQueue reports the pending interventions, highest priority
// first.
func (s *Service) InterventionQueue() []*monitor.Intervention {
	return s.Monitor.Queued()
}

// ConversationInsights surfaces the flow state, transition history, and
// momentum snapshot for one instance.
func (s *Service) ConversationInsights(instance string) map[string]interface{} {
	analyzer := s.flowFor(instance)
	return map[string]interface{}{
		"flow_state":  analyzer.State(),
		"transitions": analyzer.Transitions(),
	}
}

// EntityTracking runs entity detection over a message and flags anything
// that still needs enrichment.
func (s *Service) EntityTracking(text string) map[string]interface{} {
	entities := flow.DetectEntities(text)
	needsEnrichment := make([]flow.Entity, 0)
	for _, e := range entities {
		if flow.NeedsEnrichment(e) {
			needsEnrichment = append(needsEnrichment, e)
		}
	}
	return map[string]interface{}{
		"entities":         entities,
		"needs_enrichment": needsEnrichment,
	}
}
