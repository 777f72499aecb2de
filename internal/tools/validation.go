// Package tools implements the Tool Handlers component: the
// externally callable operations (think, recall, feedback, identity, and
// the monitor/insight surfaces), each following validate → orchestrate →
// shape response.
package tools

import (
	"errors"
	"regexp"

	"github.com/legacymind/cogmem/internal/cogerr"
	"github.com/legacymind/cogmem/internal/thought"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func validationErr(field, msg string) error {
	return cogerr.New(cogerr.KindValidation, "tools", field, errors.New(msg))
}

// ThinkRequest is the validated input to Think.
type ThinkRequest struct {
	Instance   string
	Content    string
	Number     int
	Total      int
	ChainID    string
	NextNeeded bool
}

func validateThink(req ThinkRequest, maxTotal int) error {
	if req.Content == "" {
		return validationErr("content", "content must not be empty")
	}
	if req.Number < 1 || req.Total < req.Number || req.Total > maxTotal {
		return validationErr("number", "number/total out of range")
	}
	if req.ChainID != "" && !uuidPattern.MatchString(req.ChainID) {
		return validationErr("chain_id", "chain_id is not a valid uuid")
	}
	return nil
}

// RecallAction is one of the post-search operations recall can perform on
// its result set, in addition to returning it.
type RecallAction string

const (
	ActionSearch   RecallAction = "search"
	ActionAnalyze  RecallAction = "analyze"
	ActionMerge    RecallAction = "merge"
	ActionBranch   RecallAction = "branch"
	ActionContinue RecallAction = "continue"
)

var validRecallActions = map[RecallAction]bool{
	ActionSearch: true, ActionAnalyze: true, ActionMerge: true,
	ActionBranch: true, ActionContinue: true,
}

// RecallRequest is the validated input to Recall.
type RecallRequest struct {
	Instance       string
	Query          string
	ChainID        string
	Limit          int
	Threshold      float32
	Filter         thought.MetadataFilter
	Global         bool
	Enhanced       bool
	SemanticSearch bool
	Action         RecallAction
	ActionParams   map[string]interface{}
}

const maxRecallLimit = 200

func validateRecall(req RecallRequest) error {
	if req.Query != "" && req.ChainID != "" {
		return validationErr("query", "recall accepts at most one of query or chain_id")
	}
	if req.Limit > maxRecallLimit {
		return validationErr("limit", "limit exceeds 200")
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return validationErr("threshold", "threshold must be in [0,1]")
	}
	if req.Action != "" && !validRecallActions[req.Action] {
		return validationErr("action", "unknown recall action")
	}
	return nil
}

// FeedbackRequest is the validated input to RecallFeedback.
type FeedbackRequest struct {
	SearchID        string
	ThoughtID       string
	Instance        string
	Action          thought.FeedbackAction
	DwellTime       *int
	RelevanceRating *int
}

var validActions = map[thought.FeedbackAction]bool{
	thought.ActionViewed:     true,
	thought.ActionUsed:       true,
	thought.ActionIrrelevant: true,
	thought.ActionHelpful:    true,
}

func thoughtAction(s string) thought.FeedbackAction { return thought.FeedbackAction(s) }

func validateFeedback(req FeedbackRequest) error {
	if !validActions[req.Action] {
		return validationErr("action", "unknown feedback action")
	}
	if req.DwellTime != nil && *req.DwellTime < 0 {
		return validationErr("dwell_time", "dwell_time must be >= 0")
	}
	if req.RelevanceRating != nil && (*req.RelevanceRating < 1 || *req.RelevanceRating > 10) {
		return validationErr("relevance_rating", "relevance_rating must be in [1,10]")
	}
	return nil
}
