package thought

import (
	"context"
	"encoding/json"
	"time"

	"github.com/legacymind/cogmem/internal/cogerr"
)

// SaveMetadata writes a thought's metadata document (as a hash, the same
// core-command storage thought bodies use, see store_thought.lua) and
// indexes its tags.
func (r *Repository) SaveMetadata(ctx context.Context, m Metadata) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(m)
	if err != nil {
		return cogerr.New(cogerr.KindInternal, "metadata", "marshal", err)
	}
	if err := r.gw.HSet(ctx, metaKey(m.Instance, m.ThoughtID), "doc", string(body)); err != nil {
		return err
	}
	for _, tag := range m.Tags {
		if err := r.gw.SAdd(ctx, tagSetKey(m.Instance, tag), m.ThoughtID); err != nil {
			return err
		}
	}
	return nil
}

// GetMetadata fetches a thought's metadata document, or nil if absent.
func (r *Repository) GetMetadata(ctx context.Context, instance, thoughtID string) (*Metadata, error) {
	raw, err := r.gw.HGet(ctx, metaKey(instance, thoughtID), "doc")
	if err != nil {
		if cogerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "metadata", "unmarshal", err)
	}
	return &m, nil
}

// boostDelta computes the base boost increment for a feedback action,
// before any relevance_rating scaling.
func boostDelta(f FeedbackEvent) float64 {
	switch f.Action {
	case ActionHelpful:
		return 2.0
	case ActionUsed:
		return 1.5
	case ActionIrrelevant:
		return -1.0
	case ActionViewed:
		switch {
		case f.DwellTime != nil && *f.DwellTime >= 30:
			return 0.5
		case f.DwellTime != nil && *f.DwellTime >= 15:
			return 0.3
		default:
			return 0.1
		}
	default:
		return 0
	}
}

// RecordFeedback publishes a feedback event to the instance's feedback
// stream, then applies update_boost synchronously.
func (r *Repository) RecordFeedback(ctx context.Context, f FeedbackEvent) (float64, error) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"search_id":  f.SearchID,
		"thought_id": f.ThoughtID,
		"instance":   f.Instance,
		"action":     string(f.Action),
		"ts":         f.Timestamp.Unix(),
	}
	if f.DwellTime != nil {
		fields["dwell_time"] = *f.DwellTime
	}
	if f.RelevanceRating != nil {
		fields["relevance_rating"] = *f.RelevanceRating
	}
	if _, err := r.gw.XAdd(ctx, f.Instance+":feedback_events", 10000, fields); err != nil {
		return 0, err
	}

	delta := boostDelta(f)
	if f.RelevanceRating != nil {
		delta *= float64(*f.RelevanceRating) / 10.0
	}
	if delta == 0 {
		score, err := r.gw.ZScore(ctx, boostKey(f.Instance), f.ThoughtID)
		if err != nil && !cogerr.IsNotFound(err) {
			return 0, err
		}
		return score, nil
	}
	return r.gw.ZIncrBy(ctx, boostKey(f.Instance), delta, f.ThoughtID)
}
