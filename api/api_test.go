package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/session"
	"github.com/papercomputeco/mnemo/pkg/sse"
	testutils "github.com/papercomputeco/mnemo/pkg/utils/test"
)

func doJSON(s *Server, method, path string, body any) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())

	out, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, out
}

var _ = Describe("Server", func() {
	var (
		ctx      context.Context
		episodic *testutils.MockFullBackend
		scratch  *testutils.MockBackend
		registry *memory.Registry
		client   *memory.Client
		server   *Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		episodic = testutils.NewMockFullBackend("episodic")
		scratch = testutils.NewMockBackend("scratch")

		registry = memory.NewRegistry(logger.Nop())
		Expect(registry.Register(episodic, memory.WithRequired(true))).To(Succeed())
		Expect(registry.Register(scratch, memory.WithPriority(1))).To(Succeed())
		registry.Start(ctx)

		client = memory.NewClient(registry, memory.ClientConfig{}, logger.Nop())

		var err error
		server, err = NewServer(Config{ListenAddr: ":0"}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a memory client", func() {
		_, err := NewServer(Config{}, nil, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("memory client is required")))
	})

	Describe("GET /ping", func() {
		It("returns pong", func() {
			resp, body := doJSON(server, http.MethodGet, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(Equal(`"pong"`))
		})
	})

	Describe("GET /health", func() {
		It("reports every backend", func() {
			resp, body := doJSON(server, http.MethodGet, "/health", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var report memory.HealthReport
			Expect(json.Unmarshal(body, &report)).To(Succeed())
			Expect(report.OK).To(BeTrue())
			Expect(report.Backends).To(HaveKey("episodic"))
			Expect(report.Backends).To(HaveKey("scratch"))
		})

		It("returns 503 when a backend is unhealthy", func() {
			episodic.Health = memory.HealthStatus{OK: false, Error: "disk full"}

			resp, body := doJSON(server, http.MethodGet, "/health", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
			Expect(string(body)).To(ContainSubstring("disk full"))
		})
	})

	Describe("POST /memory/retain", func() {
		It("fans out to every backend", func() {
			resp, body := doJSON(server, http.MethodPost, "/memory/retain", RetainRequest{
				Content:    "the api key rotates monthly",
				SessionKey: "s1",
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out RetainResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Succeeded).To(ConsistOf("episodic", "scratch"))
			Expect(out.Failed).To(BeEmpty())
			Expect(scratch.Retained[0].Meta).To(HaveKeyWithValue("session_key", "s1"))
		})

		It("reports optional failures without failing the call", func() {
			scratch.RetainErr = testutils.ErrMockFailure

			resp, body := doJSON(server, http.MethodPost, "/memory/retain", RetainRequest{Content: "x"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out RetainResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Succeeded).To(Equal([]string{"episodic"}))
			Expect(out.Failed).To(HaveKey("scratch"))
		})

		It("returns 502 when a required backend fails", func() {
			episodic.RetainErr = testutils.ErrMockFailure

			resp, _ := doJSON(server, http.MethodPost, "/memory/retain", RetainRequest{Content: "x"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadGateway))
		})

		It("returns 400 for unknown backends", func() {
			resp, _ := doJSON(server, http.MethodPost, "/memory/retain", RetainRequest{Content: "x", Backends: []string{"nope"}})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for empty content", func() {
			resp, body := doJSON(server, http.MethodPost, "/memory/retain", RetainRequest{Content: " "})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(string(body)).To(ContainSubstring("content is required"))
		})
	})

	Describe("POST /memory/recall", func() {
		BeforeEach(func() {
			episodic.RecallResults = []memory.Result{{Content: "low", Score: 0.2}}
			scratch.RecallResults = []memory.Result{{Content: "high", Score: 0.9}}
		})

		It("returns fused results", func() {
			resp, body := doJSON(server, http.MethodPost, "/memory/recall", RecallRequest{Query: "q"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out RecallResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Results).To(HaveLen(2))
			Expect(out.Results[0].Content).To(Equal("high"))
			Expect(out.Results[0].Source).To(Equal("scratch"))
			Expect(out.Consulted).To(ConsistOf("episodic", "scratch"))
		})

		It("reports a failing backend alongside the others", func() {
			scratch.RecallErr = testutils.ErrMockFailure

			resp, body := doJSON(server, http.MethodPost, "/memory/recall", RecallRequest{Query: "q"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out RecallResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Failed).To(HaveKey("scratch"))
		})

		It("routes temporal recalls to temporal backends", func() {
			asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			episodic.TemporalResults = []memory.Result{{Content: "then", Score: 0.5}}

			resp, body := doJSON(server, http.MethodPost, "/memory/recall", RecallRequest{Query: "q", AsOf: &asOf})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out RecallResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Consulted).To(Equal([]string{"episodic"}))
			Expect(out.Results[0].Content).To(Equal("then"))
			Expect(episodic.AsOf()[0].Equal(asOf)).To(BeTrue())
		})

		It("returns 400 without a query", func() {
			resp, _ := doJSON(server, http.MethodPost, "/memory/recall", RecallRequest{})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for a negative limit", func() {
			resp, body := doJSON(server, http.MethodPost, "/memory/recall", RecallRequest{Query: "q", Limit: -1})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(string(body)).To(ContainSubstring("limit"))
		})

		It("returns 400 for malformed bodies", func() {
			req, err := http.NewRequest(http.MethodPost, "/memory/recall", bytes.NewBufferString("{"))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("POST /memory/search", func() {
		It("filters by min score", func() {
			episodic.RecallResults = []memory.Result{{Content: "low", Score: 0.2}}
			scratch.RecallResults = []memory.Result{{Content: "high", Score: 0.9}}
			minScore := 0.5

			resp, body := doJSON(server, http.MethodPost, "/memory/search", SearchRequest{
				RecallRequest: RecallRequest{Query: "q"},
				MinScore:      &minScore,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Strategy).To(Equal("parallel"))
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Results[0].Content).To(Equal("high"))
		})

		It("stops at the first answering backend in cascade mode", func() {
			episodic.RecallResults = []memory.Result{{Content: "first", Score: 0.4}}
			scratch.RecallResults = []memory.Result{{Content: "second", Score: 0.9}}

			resp, body := doJSON(server, http.MethodPost, "/memory/search", SearchRequest{
				RecallRequest: RecallRequest{Query: "q"},
				Strategy:      "cascade",
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out SearchResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.AnsweredBy).To(Equal("episodic"))
			Expect(scratch.RecallCalls()).To(Equal(0))
		})

		It("returns 400 for an unknown strategy", func() {
			resp, _ := doJSON(server, http.MethodPost, "/memory/search", SearchRequest{
				RecallRequest: RecallRequest{Query: "q"},
				Strategy:      "sideways",
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("POST /memory/reflect", func() {
		It("concatenates insights", func() {
			episodic.Insights = []string{"a", "b"}

			resp, body := doJSON(server, http.MethodPost, "/memory/reflect", ReflectRequest{Topic: "t"})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out ReflectResponse
			Expect(json.Unmarshal(body, &out)).To(Succeed())
			Expect(out.Insights).To(Equal([]memory.Insight{
				{Content: "a", Source: "episodic"},
				{Content: "b", Source: "episodic"},
			}))
		})

		It("returns 400 without a topic", func() {
			resp, _ := doJSON(server, http.MethodPost, "/memory/reflect", ReflectRequest{})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("ALL /mcp", func() {
		It("is mounted unless disabled", func() {
			resp, _ := doJSON(server, http.MethodGet, "/mcp", nil)
			Expect(resp.StatusCode).NotTo(Equal(fiber.StatusNotFound))

			noMCP, err := NewServer(Config{DisableMCP: true}, client, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			resp, _ = doJSON(noMCP, http.MethodGet, "/mcp", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	It("does not mount session routes without a guard", func() {
		resp, _ := doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Role: "user", Content: "x"})
		Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
	})
})

var _ = Describe("session routes", func() {
	var (
		ctx      context.Context
		bus      *events.Bus
		store    *session.Store
		guard    *compaction.Guard
		episodic *testutils.MockFullBackend
		server   *Server

		mu   sync.Mutex
		seen []events.Type
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = events.NewBus()
		DeferCleanup(bus.Close)

		mu.Lock()
		seen = nil
		mu.Unlock()
		bus.SubscribeFunc(events.Any, func(_ context.Context, ev events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Type)
			return nil
		})

		episodic = testutils.NewMockFullBackend("episodic")
		episodic.RecallResults = []memory.Result{{Content: "recovered", Score: 0.7}}
		registry := memory.NewRegistry(logger.Nop())
		Expect(registry.Register(episodic)).To(Succeed())
		registry.Start(ctx)
		client := memory.NewClient(registry, memory.ClientConfig{}, logger.Nop())

		store = session.NewStore(session.Config{ContextWindow: 10, KeepMessages: 1})

		var err error
		guard, err = compaction.NewGuard(bus, store, compaction.DefaultConfig(), compaction.WithMemory(client))
		Expect(err).NotTo(HaveOccurred())

		server, err = NewServer(Config{Guard: guard, Sessions: store, Bus: bus, DisableMCP: true}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	seenTypes := func() []events.Type {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Type(nil), seen...)
	}

	It("records messages and fires threshold events", func() {
		resp, body := doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Role: "user", Content: "hi", Tokens: 5})
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

		var out UsageResponse
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Ratio).To(BeNumerically("~", 0.5))
		Expect(out.Events).To(BeEmpty())

		resp, body = doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Role: "assistant", Content: "hello", Tokens: 5})
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Events).To(Equal([]string{"compaction:warning", "compaction:imminent"}))

		Expect(seenTypes()).To(Equal([]events.Type{
			events.SessionStart,
			events.MessageReceived,
			events.MessageSent,
			events.CompactionWarning,
			events.CompactionImminent,
		}))
	})

	It("records tool calls", func() {
		resp, body := doJSON(server, http.MethodPost, "/sessions/s1/tools", memory.ToolInvocation{Name: "ls", Result: "a b"})
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

		var out UsageResponse
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.Tools).To(Equal(1))
		Expect(out.Created).To(BeTrue())
		Expect(seenTypes()).To(Equal([]events.Type{events.SessionStart, events.ToolCalled, events.ToolResult}))
	})

	It("emits tool:result only for finished tool calls", func() {
		doJSON(server, http.MethodPost, "/sessions/s1/tools", memory.ToolInvocation{Name: "build"})
		doJSON(server, http.MethodPost, "/sessions/s1/tools", memory.ToolInvocation{Name: "deploy", Error: "denied"})

		Expect(seenTypes()).To(Equal([]events.Type{
			events.SessionStart,
			events.ToolCalled,
			events.ToolCalled,
			events.ToolResult,
		}))
	})

	It("reports agent runs", func() {
		var payload AgentRequest
		bus.SubscribeFunc(events.AgentStart, func(_ context.Context, ev events.Event) error {
			payload = ev.Payload.(AgentRequest)
			return nil
		})

		resp, body := doJSON(server, http.MethodPost, "/sessions/s1/agent", AgentRequest{
			Phase:    AgentPhaseStart,
			Metadata: map[string]any{"run": "r1"},
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		var out AgentResponse
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out).To(Equal(AgentResponse{Event: string(events.AgentStart), Seq: 1}))
		Expect(payload.Metadata).To(HaveKeyWithValue("run", "r1"))

		resp, body = doJSON(server, http.MethodPost, "/sessions/s1/agent", AgentRequest{Phase: AgentPhaseEnd})
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out).To(Equal(AgentResponse{Event: string(events.AgentEnd), Seq: 2}))

		Expect(seenTypes()).To(Equal([]events.Type{events.AgentStart, events.AgentEnd}))
	})

	It("rejects an unknown agent phase", func() {
		resp, body := doJSON(server, http.MethodPost, "/sessions/s1/agent", AgentRequest{Phase: "pause"})
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		Expect(string(body)).To(ContainSubstring(`phase must be \"start\" or \"end\"`))
		Expect(seenTypes()).To(BeEmpty())
	})

	It("validates message and tool bodies", func() {
		resp, _ := doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Content: "no role"})
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

		resp, _ = doJSON(server, http.MethodPost, "/sessions/s1/tools", memory.ToolInvocation{})
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
	})

	It("runs a protected compaction cycle", func() {
		doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Role: "user", Content: "the build uses bazel", Tokens: 3})
		doJSON(server, http.MethodPost, "/sessions/s1/messages", memory.Message{Role: "assistant", Content: "noted", Tokens: 3})

		resp, body := doJSON(server, http.MethodPost, "/sessions/s1/compact", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

		var out CompactResponse
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		Expect(out.TokensBefore).To(Equal(6))
		Expect(out.MessagesCaptured).To(Equal(2))
		Expect(out.Outcome.MessagesRemoved).To(Equal(1))
		Expect(out.Acks.Acknowledged).To(Equal([]string{"episodic"}))

		Expect(episodic.Captured()).To(HaveLen(1))
		Expect(episodic.Completed()).To(HaveLen(1))
		Expect(seenTypes()).To(ContainElements(events.CompactionPre, events.CompactionPost))

		resp, body = doJSON(server, http.MethodGet, "/sessions/s1", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"messages":1`))
	})

	It("returns 404 when compacting an unknown session", func() {
		resp, _ := doJSON(server, http.MethodPost, "/sessions/ghost/compact", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
	})

	It("lists and deletes sessions", func() {
		doJSON(server, http.MethodPost, "/sessions/a/messages", memory.Message{Role: "user", Content: "x"})
		doJSON(server, http.MethodPost, "/sessions/b/messages", memory.Message{Role: "user", Content: "y"})

		resp, body := doJSON(server, http.MethodGet, "/sessions", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		var list []session.Usage
		Expect(json.Unmarshal(body, &list)).To(Succeed())
		Expect(list).To(HaveLen(2))

		resp, _ = doJSON(server, http.MethodDelete, "/sessions/a", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))
		Expect(store.Keys()).To(Equal([]string{"b"}))
		Expect(bus.LastSeq("a")).To(BeZero())
		Expect(seenTypes()).To(ContainElement(events.SessionEnd))

		resp, _ = doJSON(server, http.MethodGet, "/sessions/a", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
	})
})

var _ = Describe("GET /events", func() {
	var client *memory.Client

	BeforeEach(func() {
		registry := memory.NewRegistry(logger.Nop())
		Expect(registry.Register(testutils.NewMockBackend("scratch"))).To(Succeed())
		registry.Start(context.Background())
		client = memory.NewClient(registry, memory.ClientConfig{}, logger.Nop())
	})

	It("is not mounted without a bus", func() {
		server, err := NewServer(Config{DisableMCP: true}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		resp, _ := doJSON(server, http.MethodGet, "/events", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
	})

	It("rejects unknown event types without subscribing", func() {
		bus := events.NewBus()
		server, err := NewServer(Config{Bus: bus, DisableMCP: true}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		resp, body := doJSON(server, http.MethodGet, "/events?types=session:start,bogus", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		Expect(string(body)).To(ContainSubstring("unknown event type: bogus"))
		Expect(bus.SubscriberCount()).To(BeZero())
	})

	It("holds the subscription only while the stream is written", func() {
		bus := events.NewBus()
		server, err := NewServer(Config{Bus: bus, DisableMCP: true}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(bus.SubscriberCount()).To(BeZero())

		pr, pw := io.Pipe()
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			defer pw.Close()
			server.streamEvents(bufio.NewWriter(pw), eventFilter{sessionKey: "s1"})
		}()

		reader := bufio.NewReader(pr)
		line, err := reader.ReadString('\n')
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(ContainSubstring("connected"))
		Expect(bus.SubscriberCount()).To(Equal(1))

		_, err = bus.Emit(context.Background(), events.SessionStart, nil, "s1")
		Expect(err).NotTo(HaveOccurred())
		ev, err := sse.NewReader(reader).Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Type).To(Equal(string(events.SessionStart)))
		Expect(ev.ID).To(Equal("1"))

		_ = server.Shutdown()
		Eventually(stopped).Should(BeClosed())
		Expect(bus.SubscriberCount()).To(BeZero())
	})

	It("drops the subscription when the watcher goes away", func() {
		bus := events.NewBus()
		server, err := NewServer(Config{Bus: bus, DisableMCP: true}, client, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		pr, pw := io.Pipe()
		Expect(pr.Close()).To(Succeed())
		server.streamEvents(bufio.NewWriter(pw), eventFilter{})

		Expect(bus.SubscriberCount()).To(BeZero())
	})

	It("matches events by session and type", func() {
		f := eventFilter{
			sessionKey: "s1",
			types:      map[events.Type]struct{}{events.CompactionPre: {}},
		}
		Expect(f.match(events.Event{SessionKey: "s1", Type: events.CompactionPre})).To(BeTrue())
		Expect(f.match(events.Event{SessionKey: "s2", Type: events.CompactionPre})).To(BeFalse())
		Expect(f.match(events.Event{SessionKey: "s1", Type: events.CompactionPost})).To(BeFalse())
		Expect(eventFilter{}.match(events.Event{Type: events.AgentEnd})).To(BeTrue())
	})
})
