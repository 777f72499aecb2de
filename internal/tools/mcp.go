package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/legacymind/cogmem/internal/identity"
)

// RegisterAll wires every tool handler onto an MCP server: think, recall,
// recall_feedback, identity, monitor_status, cognitive_metrics,
// intervention_queue, conversation_insights, entity_tracking.
func RegisterAll(s *server.MCPServer, svc *Service) {
	s.AddTool(mcp.NewTool("think",
		mcp.WithDescription("Record one thought in a chain of reasoning"),
		mcp.WithString("instance", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
		mcp.WithNumber("number", mcp.Required()),
		mcp.WithNumber("total", mcp.Required()),
		mcp.WithString("chain_id"),
		mcp.WithBoolean("next_needed"),
	), svc.handleThink)

	s.AddTool(mcp.NewTool("recall",
		mcp.WithDescription("Search recorded thoughts by text, semantic similarity, or chain id"),
		mcp.WithString("instance", mcp.Required()),
		mcp.WithString("query"),
		mcp.WithString("chain_id"),
		mcp.WithNumber("limit"),
		mcp.WithNumber("threshold"),
		mcp.WithBoolean("global"),
		mcp.WithBoolean("enhanced"),
		mcp.WithBoolean("semantic_search"),
		mcp.WithString("action"),
		mcp.WithString("action_params", mcp.Description("JSON object of action-specific parameters, e.g. {\"new_chain_name\":\"...\"}")),
	), svc.handleRecall)

	s.AddTool(mcp.NewTool("recall_feedback",
		mcp.WithDescription("Record feedback on a previously returned thought"),
		mcp.WithString("search_id", mcp.Required()),
		mcp.WithString("thought_id", mcp.Required()),
		mcp.WithString("instance", mcp.Required()),
		mcp.WithString("action", mcp.Required()),
		mcp.WithNumber("dwell_time"),
		mcp.WithNumber("relevance_rating"),
	), svc.handleRecallFeedback)

	s.AddTool(mcp.NewTool("identity",
		mcp.WithDescription("Add, modify, delete, or view identity documents"),
		mcp.WithString("instance", mcp.Required()),
		mcp.WithString("op", mcp.Required()),
		mcp.WithString("category"),
		mcp.WithString("field"),
		mcp.WithString("value"),
		mcp.WithString("old_value"),
	), svc.handleIdentity)

	s.AddTool(mcp.NewTool("monitor_status",
		mcp.WithDescription("Report the monitor's queue depth and cognitive state"),
		mcp.WithBoolean("detailed"),
	), svc.handleMonitorStatus)

	s.AddTool(mcp.NewTool("cognitive_metrics",
		mcp.WithDescription("Report raw cognitive-state metrics"),
	), svc.handleCognitiveMetrics)

	s.AddTool(mcp.NewTool("intervention_queue",
		mcp.WithDescription("List pending interventions, highest priority first"),
	), svc.handleInterventionQueue)

	s.AddTool(mcp.NewTool("conversation_insights",
		mcp.WithDescription("Report flow state and transition history for an instance"),
		mcp.WithString("instance", mcp.Required()),
	), svc.handleConversationInsights)

	s.AddTool(mcp.NewTool("entity_tracking",
		mcp.WithDescription("Detect entities in a message and flag ones needing enrichment"),
		mcp.WithString("text", mcp.Required()),
	), svc.handleEntityTracking)
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func argIntPtr(args map[string]interface{}, key string) *int {
	if _, ok := args[key]; !ok {
		return nil
	}
	v := argInt(args, key)
	return &v
}

func argFloat32(args map[string]interface{}, key string) float32 {
	if v, ok := args[key].(float64); ok {
		return float32(v)
	}
	return 0
}

func textResult(v interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(raw)}},
	}, nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: err.Error()}},
		IsError: true,
	}, nil
}

func toolArgs(req mcp.CallToolRequest) map[string]interface{} {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func (s *Service) handleThink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	out, err := s.Think(ctx, ThinkRequest{
		Instance:   argString(a, "instance"),
		Content:    argString(a, "content"),
		Number:     argInt(a, "number"),
		Total:      argInt(a, "total"),
		ChainID:    argString(a, "chain_id"),
		NextNeeded: argBool(a, "next_needed"),
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(out)
}

func argActionParams(args map[string]interface{}) map[string]interface{} {
	raw := argString(args, "action_params")
	if raw == "" {
		return nil
	}
	var params map[string]interface{}
	if json.Unmarshal([]byte(raw), &params) != nil {
		return nil
	}
	return params
}

func (s *Service) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	out, err := s.Recall(ctx, RecallRequest{
		Instance:       argString(a, "instance"),
		Query:          argString(a, "query"),
		ChainID:        argString(a, "chain_id"),
		Limit:          argInt(a, "limit"),
		Threshold:      argFloat32(a, "threshold"),
		Global:         argBool(a, "global"),
		Enhanced:       argBool(a, "enhanced"),
		SemanticSearch: argBool(a, "semantic_search"),
		Action:         RecallAction(argString(a, "action")),
		ActionParams:   argActionParams(a),
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(out)
}

func (s *Service) handleRecallFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	out, err := s.RecallFeedback(ctx, FeedbackRequest{
		SearchID:        argString(a, "search_id"),
		ThoughtID:       argString(a, "thought_id"),
		Instance:        argString(a, "instance"),
		Action:          thoughtAction(argString(a, "action")),
		DwellTime:       argIntPtr(a, "dwell_time"),
		RelevanceRating: argIntPtr(a, "relevance_rating"),
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(out)
}

func (s *Service) handleIdentity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	var oldValue *string
	if v := argString(a, "old_value"); v != "" {
		oldValue = &v
	}
	out, err := s.Identity(ctx, IdentityRequest{
		Instance: argString(a, "instance"),
		Op:       argString(a, "op"),
		Category: identity.Category(argString(a, "category")),
		Field:    argString(a, "field"),
		Value:    argString(a, "value"),
		OldValue: oldValue,
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(out)
}

func (s *Service) handleMonitorStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	return textResult(s.MonitorStatus(ctx, argBool(a, "detailed")))
}

func (s *Service) handleCognitiveMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(s.CognitiveMetrics())
}

func (s *Service) handleInterventionQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(s.InterventionQueue())
}

func (s *Service) handleConversationInsights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	return textResult(s.ConversationInsights(argString(a, "instance")))
}

func (s *Service) handleEntityTracking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := toolArgs(req)
	return textResult(s.EntityTracking(argString(a, "text")))
}
