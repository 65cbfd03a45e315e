package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

const defaultLimit = 5

var (
	recallToolName    = "memory_recall"
	recallDescription = "Recall memories relevant to a query from every configured memory backend. Results from all backends are fused and ranked by score. Optionally scope to a session or ask what was known at a point in time."

	searchToolName    = "memory_search"
	searchDescription = "Search memories with a strategy: parallel queries every backend at once, cascade stops at the first backend that returns results above min_score."

	retainToolName    = "memory_retain"
	retainDescription = "Store a memory in every configured memory backend so it survives context compaction."

	reflectToolName    = "memory_reflect"
	reflectDescription = "Ask the memory backends for insights about a topic, such as recurring facts across past sessions."
)

// RecallInput represents the input arguments for the memory_recall tool.
type RecallInput struct {
	Query      string   `json:"query" jsonschema:"the text to recall memories for"`
	SessionKey string   `json:"session_key,omitempty" jsonschema:"restrict results to one session"`
	Limit      int      `json:"limit,omitempty" jsonschema:"number of results to return (default: 5)"`
	Backends   []string `json:"backends,omitempty" jsonschema:"only query these backend ids"`
	AsOf       string   `json:"as_of,omitempty" jsonschema:"RFC 3339 time; recall what was known at that moment"`
}

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the text to search memories for"`
	SessionKey string   `json:"session_key,omitempty" jsonschema:"restrict results to one session"`
	Limit      int      `json:"limit,omitempty" jsonschema:"number of results to return (default: 5)"`
	Backends   []string `json:"backends,omitempty" jsonschema:"only query these backend ids"`
	AsOf       string   `json:"as_of,omitempty" jsonschema:"RFC 3339 time; search what was known at that moment"`
	Strategy string   `json:"strategy,omitempty" jsonschema:"parallel or cascade"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"drop results scored below this value in [0,1]"`
}

// RecallOutput represents the structured output of a recall or search.
type RecallOutput struct {
	Query      string          `json:"query"`
	Results    []memory.Result `json:"results"`
	Count      int             `json:"count"`
	Consulted  []string        `json:"consulted"`
	Strategy   string          `json:"strategy,omitempty"`
	AnsweredBy string          `json:"answered_by,omitempty"`
}

// RetainInput represents the input arguments for the memory_retain tool.
type RetainInput struct {
	Content    string            `json:"content" jsonschema:"the text to remember"`
	SessionKey string            `json:"session_key,omitempty" jsonschema:"the session this memory belongs to"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"extra key/value pairs stored with the memory"`
}

// RetainOutput lists the backends that stored the memory.
type RetainOutput struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// ReflectInput represents the input arguments for the memory_reflect tool.
type ReflectInput struct {
	Topic string `json:"topic" jsonschema:"the topic to reflect on"`
}

// ReflectOutput lists insights from every reflecting backend.
type ReflectOutput struct {
	Topic    string           `json:"topic"`
	Insights []memory.Insight `json:"insights"`
}

func (s *Server) handleRecall(ctx context.Context, _ *mcp.CallToolRequest, input RecallInput) (*mcp.CallToolResult, RecallOutput, error) {
	opts, errResult := recallOptions(input)
	if errResult != nil {
		return errResult, RecallOutput{}, nil
	}

	s.config.Logger.Debug("MCP recall request", "query", input.Query, "limit", opts.Limit)

	report, err := s.config.Memory.Recall(ctx, input.Query, opts)
	if err != nil {
		s.config.Logger.Error("MCP recall failed", "error", err)
		return toolError("Memory recall failed: %v", err), RecallOutput{}, nil
	}

	return jsonResult(newRecallOutput(input.Query, report))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, RecallOutput, error) {
	opts, errResult := recallOptions(RecallInput{
		Query:      input.Query,
		SessionKey: input.SessionKey,
		Limit:      input.Limit,
		Backends:   input.Backends,
		AsOf:       input.AsOf,
	})
	if errResult != nil {
		return errResult, RecallOutput{}, nil
	}

	report, err := s.config.Memory.Search(ctx, input.Query, memory.SearchOptions{
		RecallOptions: opts,
		Strategy:      memory.Strategy(input.Strategy),
		MinScore:      input.MinScore,
	})
	if err != nil {
		s.config.Logger.Error("MCP search failed", "error", err)
		return toolError("Memory search failed: %v", err), RecallOutput{}, nil
	}

	out := newRecallOutput(input.Query, &report.RecallReport)
	out.Strategy = string(report.Strategy)
	out.AnsweredBy = report.AnsweredBy
	return jsonResult(out)
}

func (s *Server) handleRetain(ctx context.Context, _ *mcp.CallToolRequest, input RetainInput) (*mcp.CallToolResult, RetainOutput, error) {
	if strings.TrimSpace(input.Content) == "" {
		return toolError("content is required"), RetainOutput{}, nil
	}

	meta := make(map[string]any, len(input.Metadata)+1)
	for k, v := range input.Metadata {
		meta[k] = v
	}
	meta["origin"] = "mcp"

	report, err := s.config.Memory.Retain(ctx, input.Content, memory.RetainOptions{
		SessionKey: input.SessionKey,
		Metadata:   meta,
	})
	if err != nil {
		s.config.Logger.Error("MCP retain failed", "error", err)
		return toolError("Memory retain failed: %v", err), RetainOutput{}, nil
	}

	out := RetainOutput{Succeeded: report.Succeeded}
	if out.Succeeded == nil {
		out.Succeeded = []string{}
	}
	if len(report.Failed) > 0 {
		out.Failed = make(map[string]string, len(report.Failed))
		for id, err := range report.Failed {
			out.Failed[id] = err.Error()
		}
	}
	return jsonResult(out)
}

func (s *Server) handleReflect(ctx context.Context, _ *mcp.CallToolRequest, input ReflectInput) (*mcp.CallToolResult, ReflectOutput, error) {
	if strings.TrimSpace(input.Topic) == "" {
		return toolError("topic is required"), ReflectOutput{}, nil
	}

	report, err := s.config.Memory.Reflect(ctx, input.Topic)
	if err != nil {
		s.config.Logger.Error("MCP reflect failed", "error", err)
		return toolError("Memory reflect failed: %v", err), ReflectOutput{}, nil
	}

	insights := report.Insights
	if insights == nil {
		insights = []memory.Insight{}
	}
	return jsonResult(ReflectOutput{Topic: input.Topic, Insights: insights})
}

func recallOptions(input RecallInput) (memory.RecallOptions, *mcp.CallToolResult) {
	if strings.TrimSpace(input.Query) == "" {
		return memory.RecallOptions{}, toolError("query is required")
	}

	opts := memory.RecallOptions{
		Limit:      input.Limit,
		SessionKey: input.SessionKey,
		Backends:   input.Backends,
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if input.AsOf != "" {
		asOf, err := time.Parse(time.RFC3339, input.AsOf)
		if err != nil {
			return memory.RecallOptions{}, toolError("as_of must be an RFC 3339 time: %v", err)
		}
		opts.AsOf = &asOf
	}
	return opts, nil
}

func newRecallOutput(query string, report *memory.RecallReport) RecallOutput {
	results := report.Results
	if results == nil {
		results = []memory.Result{}
	}
	consulted := report.Consulted
	if consulted == nil {
		consulted = []string{}
	}
	return RecallOutput{
		Query:     query,
		Results:   results,
		Count:     len(results),
		Consulted: consulted,
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult renders output as the text content alongside the structured output.
func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		var zero T
		return toolError("Failed to serialize results: %v", err), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
