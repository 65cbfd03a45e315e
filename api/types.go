package api

import (
	"fmt"
	"time"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/session"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RetainRequest is the body of POST /memory/retain.
type RetainRequest struct {
	Content    string         `json:"content"`
	SessionKey string         `json:"session_key,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Backends   []string       `json:"backends,omitempty"`
}

// RetainResponse lists per-backend retain outcomes.
type RetainResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RecallRequest is the body of POST /memory/recall.
type RecallRequest struct {
	Query      string     `json:"query"`
	SessionKey string     `json:"session_key,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Backends   []string   `json:"backends,omitempty"`
	TimeoutMS  int        `json:"timeout_ms,omitempty"`
	AsOf       *time.Time `json:"as_of,omitempty"`
}

// RecallResponse is the fused recall output.
type RecallResponse struct {
	Results   []memory.Result   `json:"results"`
	Consulted []string          `json:"consulted"`
	Failed    map[string]string `json:"failed,omitempty"`
	Fallbacks map[string]string `json:"fallbacks,omitempty"`
}

// SearchRequest is the body of POST /memory/search.
type SearchRequest struct {
	RecallRequest
	Strategy string   `json:"strategy,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
}

// SearchResponse is the Search output.
type SearchResponse struct {
	RecallResponse
	Strategy   string `json:"strategy"`
	AnsweredBy string `json:"answered_by,omitempty"`
}

// ReflectRequest is the body of POST /memory/reflect.
type ReflectRequest struct {
	Topic string `json:"topic"`
}

// ReflectResponse is the concatenated reflection output.
type ReflectResponse struct {
	Insights []memory.Insight  `json:"insights"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// UsageResponse is returned after a message or tool call is recorded.
type UsageResponse struct {
	session.Usage
	Events []string `json:"events,omitempty"`
}

const (
	AgentPhaseStart = "start"
	AgentPhaseEnd   = "end"
)

// AgentRequest is the body of POST /sessions/:key/agent. It is also the
// payload of the emitted agent:start or agent:end event.
type AgentRequest struct {
	Phase    string         `json:"phase"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AgentResponse names the emitted event. Seq is zero when the server has
// no event bus.
type AgentResponse struct {
	Event string `json:"event"`
	Seq   uint64 `json:"seq"`
}

// CompactResponse reports one compaction cycle.
type CompactResponse struct {
	*compaction.Report

	HandlerFailures []string          `json:"handler_failures,omitempty"`
	AckFailures     map[string]string `json:"ack_failures,omitempty"`
	AckTimeout      string            `json:"ack_timeout,omitempty"`
	PostError       string            `json:"post_error,omitempty"`
	RecoveryError   string            `json:"recovery_error,omitempty"`
}

func (r *RecallRequest) options() memory.RecallOptions {
	return memory.RecallOptions{
		Limit:      r.Limit,
		SessionKey: r.SessionKey,
		Backends:   r.Backends,
		Timeout:    time.Duration(r.TimeoutMS) * time.Millisecond,
		AsOf:       r.AsOf,
	}
}

func newRecallResponse(r *memory.RecallReport) RecallResponse {
	results := r.Results
	if results == nil {
		results = []memory.Result{}
	}
	consulted := r.Consulted
	if consulted == nil {
		consulted = []string{}
	}
	return RecallResponse{
		Results:   results,
		Consulted: consulted,
		Failed:    errorStrings(r.Failed),
		Fallbacks: r.Fallbacks,
	}
}

func newCompactResponse(r *compaction.Report) CompactResponse {
	out := CompactResponse{Report: r}
	if len(r.HandlerFailures) > 0 {
		out.HandlerFailures = make([]string, len(r.HandlerFailures))
		for i, f := range r.HandlerFailures {
			out.HandlerFailures[i] = fmt.Sprintf("subscription %d: %v", f.SubscriptionID, f.Err)
		}
	}
	if r.Acks != nil {
		out.AckFailures = errorStrings(r.Acks.Failed)
	}
	if r.AckTimeout != nil {
		out.AckTimeout = r.AckTimeout.Error()
	}
	if r.PostErr != nil {
		out.PostError = r.PostErr.Error()
	}
	if r.RecoveryErr != nil {
		out.RecoveryError = r.RecoveryErr.Error()
	}
	return out
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for id, err := range errs {
		out[id] = err.Error()
	}
	return out
}
