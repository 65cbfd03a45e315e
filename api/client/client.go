// Package client is the HTTP client CLI commands use to talk to a running
// mnemo API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/sse"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// newStatusError builds a StatusError from a response body, reporting
// whether the body was an api.ErrorResponse.
func newStatusError(code int, body []byte) (*StatusError, bool) {
	var apiErr api.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return &StatusError{StatusCode: code, Message: apiErr.Error}, true
	}
	return &StatusError{StatusCode: code, Message: string(bytes.TrimSpace(body))}, false
}

type Client struct {
	target *url.URL
	http   *http.Client

	// stream has no overall timeout; event streams stay open indefinitely.
	stream *http.Client
}

// New creates a client for the API server at target, e.g. "http://localhost:8090".
func New(target string) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL %q: scheme and host are required", target)
	}
	return &Client{
		target: u,
		http:   &http.Client{Timeout: defaultTimeout},
		stream: &http.Client{},
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	var out string
	return c.do(ctx, http.MethodGet, "/ping", nil, &out)
}

// Health returns the server's backend health report. A 503 still decodes
// the report and is not an error.
func (c *Client) Health(ctx context.Context) (*memory.HealthReport, error) {
	var out memory.HealthReport
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable && out.Backends != nil {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Retain(ctx context.Context, req api.RetainRequest) (*api.RetainResponse, error) {
	var out api.RetainResponse
	if err := c.do(ctx, http.MethodPost, "/memory/retain", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Recall(ctx context.Context, req api.RecallRequest) (*api.RecallResponse, error) {
	var out api.RecallResponse
	if err := c.do(ctx, http.MethodPost, "/memory/recall", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, req api.SearchRequest) (*api.SearchResponse, error) {
	var out api.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/memory/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reflect(ctx context.Context, req api.ReflectRequest) (*api.ReflectResponse, error) {
	var out api.ReflectResponse
	if err := c.do(ctx, http.MethodPost, "/memory/reflect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sessionPath(sessionKey, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionKey) + suffix
}

// AddMessage records a message in the session and returns its usage.
func (c *Client) AddMessage(ctx context.Context, sessionKey string, msg memory.Message) (*api.UsageResponse, error) {
	var out api.UsageResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionKey, "/messages"), msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddTool records a tool invocation in the session and returns its usage.
func (c *Client) AddTool(ctx context.Context, sessionKey string, tool memory.ToolInvocation) (*api.UsageResponse, error) {
	var out api.UsageResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionKey, "/tools"), tool, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentStart reports an agent run starting in the session.
func (c *Client) AgentStart(ctx context.Context, sessionKey string, metadata map[string]any) (*api.AgentResponse, error) {
	return c.agent(ctx, sessionKey, api.AgentRequest{Phase: api.AgentPhaseStart, Metadata: metadata})
}

// AgentEnd reports an agent run ending in the session.
func (c *Client) AgentEnd(ctx context.Context, sessionKey string, metadata map[string]any) (*api.AgentResponse, error) {
	return c.agent(ctx, sessionKey, api.AgentRequest{Phase: api.AgentPhaseEnd, Metadata: metadata})
}

func (c *Client) agent(ctx context.Context, sessionKey string, req api.AgentRequest) (*api.AgentResponse, error) {
	var out api.AgentResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionKey, "/agent"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compact runs a compaction cycle for the session on the server.
func (c *Client) Compact(ctx context.Context, sessionKey string) (*api.CompactResponse, error) {
	var out api.CompactResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionKey, "/compact"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventsOptions filters a watched event stream.
type EventsOptions struct {
	SessionKey string
	Types      []events.Type
}

// Events streams bus events from the server to fn until ctx is done, the
// server ends the stream or fn returns an error. Cancelling ctx ends the
// watch without an error.
func (c *Client) Events(ctx context.Context, opts EventsOptions, fn func(events.Event) error) error {
	u := *c.target
	u.Path = "/events"
	q := url.Values{}
	if opts.SessionKey != "" {
		q.Set("session", opts.SessionKey)
	}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		q.Set("types", strings.Join(types, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", utils.UserAgent())

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to mnemo API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		se, _ := newStatusError(resp.StatusCode, data)
		return se
	}

	r := sse.NewReader(resp.Body)
	for {
		msg, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		if msg == nil {
			return nil
		}

		var ev events.Event
		if err := json.Unmarshal([]byte(msg.Data), &ev); err != nil {
			return fmt.Errorf("decoding event %s: %w", msg.ID, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u := *c.target
	u.Path = path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to mnemo API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se, isErrorBody := newStatusError(resp.StatusCode, data)
		if !isErrorBody && out != nil {
			// Some endpoints report failure with a full body (e.g. /health).
			_ = json.Unmarshal(data, out)
		}
		return se
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
