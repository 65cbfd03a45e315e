package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/session"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth aggregates every backend's health check. Any unhealthy
// backend turns the response into a 503.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	report := s.memory.Registry().Health(c.UserContext())
	if !report.OK {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

func (s *Server) handleRetain(c *fiber.Ctx) error {
	var req RetainRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "content is required")
	}

	report, err := s.memory.Retain(c.UserContext(), req.Content, memory.RetainOptions{
		SessionKey: req.SessionKey,
		Metadata:   req.Metadata,
		Backends:   req.Backends,
	})
	if err != nil {
		return s.memoryError(c, "retain", err)
	}

	return c.JSON(RetainResponse{
		Succeeded: nonNil(report.Succeeded),
		Failed:    errorStrings(report.Failed),
	})
}

func (s *Server) handleRecall(c *fiber.Ctx) error {
	var req RecallRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg := validateRecall(&req); msg != "" {
		return badRequest(c, msg)
	}

	report, err := s.memory.Recall(c.UserContext(), req.Query, req.options())
	if err != nil {
		return s.memoryError(c, "recall", err)
	}

	return c.JSON(newRecallResponse(report))
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg := validateRecall(&req.RecallRequest); msg != "" {
		return badRequest(c, msg)
	}

	report, err := s.memory.Search(c.UserContext(), req.Query, memory.SearchOptions{
		RecallOptions: req.options(),
		Strategy:      memory.Strategy(req.Strategy),
		MinScore:      req.MinScore,
	})
	if err != nil {
		return s.memoryError(c, "search", err)
	}

	return c.JSON(SearchResponse{
		RecallResponse: newRecallResponse(&report.RecallReport),
		Strategy:       string(report.Strategy),
		AnsweredBy:     report.AnsweredBy,
	})
}

func (s *Server) handleReflect(c *fiber.Ctx) error {
	var req ReflectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return badRequest(c, "topic is required")
	}

	report, err := s.memory.Reflect(c.UserContext(), req.Topic)
	if err != nil {
		return s.memoryError(c, "reflect", err)
	}

	insights := report.Insights
	if insights == nil {
		insights = []memory.Insight{}
	}
	return c.JSON(ReflectResponse{Insights: insights, Failed: errorStrings(report.Failed)})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	keys := s.config.Sessions.Keys()
	out := make([]session.Usage, 0, len(keys))
	for _, k := range keys {
		if u, err := s.config.Sessions.Usage(k); err == nil {
			out = append(out, u)
		}
	}
	return c.JSON(out)
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	key := c.Params("key")
	u, err := s.config.Sessions.Usage(key)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(struct {
		session.Usage
		State string `json:"state"`
	}{u, s.config.Guard.State(key).String()})
}

func (s *Server) handleAddMessage(c *fiber.Ctx) error {
	var msg memory.Message
	if err := c.BodyParser(&msg); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg.Role == "" {
		return badRequest(c, "role is required")
	}

	key := c.Params("key")
	usage := s.config.Sessions.AddMessage(key, msg)
	if usage.Created {
		s.emit(c, events.SessionStart, nil, key)
	}

	typ := events.MessageReceived
	if msg.Role == "assistant" {
		typ = events.MessageSent
	}
	s.emit(c, typ, msg, key)

	return s.observe(c, key, usage)
}

func (s *Server) handleAddTool(c *fiber.Ctx) error {
	var tool memory.ToolInvocation
	if err := c.BodyParser(&tool); err != nil {
		return badRequest(c, "invalid request body")
	}
	if tool.Name == "" {
		return badRequest(c, "name is required")
	}

	key := c.Params("key")
	usage := s.config.Sessions.AddTool(key, tool)
	if usage.Created {
		s.emit(c, events.SessionStart, nil, key)
	}
	s.emit(c, events.ToolCalled, tool, key)
	if tool.Result != "" || tool.Error != "" {
		s.emit(c, events.ToolResult, tool, key)
	}

	return s.observe(c, key, usage)
}

// observe feeds the new usage ratio to the guard and reports which
// threshold events fired.
func (s *Server) observe(c *fiber.Ctx, key string, usage session.Usage) error {
	fired, err := s.config.Guard.ObserveUsage(c.UserContext(), key, usage.Ratio)
	if err != nil {
		s.logger.Warn("threshold event dispatch failed", "session", key, "error", err)
	}

	resp := UsageResponse{Usage: usage}
	for _, t := range fired {
		resp.Events = append(resp.Events, string(t))
	}
	return c.JSON(resp)
}

// handleAgent reports an agent run starting or ending within a session.
func (s *Server) handleAgent(c *fiber.Ctx) error {
	var req AgentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var typ events.Type
	switch req.Phase {
	case AgentPhaseStart:
		typ = events.AgentStart
	case AgentPhaseEnd:
		typ = events.AgentEnd
	default:
		return badRequest(c, fmt.Sprintf("phase must be %q or %q", AgentPhaseStart, AgentPhaseEnd))
	}

	key := c.Params("key")
	return c.JSON(AgentResponse{
		Event: string(typ),
		Seq:   s.emit(c, typ, req, key),
	})
}

func (s *Server) handleCompact(c *fiber.Ctx) error {
	key := c.Params("key")

	report, err := s.config.Guard.HandleCompaction(c.UserContext(), key)
	if err != nil {
		status := fiber.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrUnknownSession):
			status = fiber.StatusNotFound
		case errors.Is(err, compaction.ErrCompactionInProgress):
			status = fiber.StatusConflict
		}
		s.logger.Error("compaction failed", "session", key, "error", err)
		return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(newCompactResponse(report))
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	key := c.Params("key")
	s.config.Sessions.Delete(key)
	s.config.Guard.Forget(key)
	if s.config.Bus != nil {
		s.emit(c, events.SessionEnd, nil, key)
		s.config.Bus.ForgetSession(key)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// emit publishes a session activity event when a bus is configured and
// returns its sequence number, zero when nothing was emitted. Handler
// failures are logged only.
func (s *Server) emit(c *fiber.Ctx, typ events.Type, payload any, key string) uint64 {
	if s.config.Bus == nil {
		return 0
	}
	report, err := s.config.Bus.Emit(c.UserContext(), typ, payload, key)
	if err != nil {
		s.logger.Warn("event dispatch failed", "event", string(typ), "session", key, "error", err)
	}
	if report == nil {
		return 0
	}
	return report.Event.Seq
}

func (s *Server) memoryError(c *fiber.Ctx, op string, err error) error {
	var cfgErr *memory.ConfigurationError
	var backendErr *memory.BackendError

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrNoBackends):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, memory.ErrUnknownBackend), errors.As(err, &cfgErr):
		status = fiber.StatusBadRequest
	case errors.As(err, &backendErr):
		status = fiber.StatusBadGateway
	case errors.Is(err, events.ErrClosed):
		status = fiber.StatusServiceUnavailable
	}

	s.logger.Error("memory operation failed", "op", op, "error", err)
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func validateRecall(req *RecallRequest) string {
	switch {
	case strings.TrimSpace(req.Query) == "":
		return "query is required"
	case req.Limit < 0:
		return "limit must not be negative"
	case req.TimeoutMS < 0:
		return "timeout_ms must not be negative"
	}
	return ""
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
