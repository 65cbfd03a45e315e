package mcp_test

import (
	"context"
	"encoding/json"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/api/mcp"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	testutils "github.com/papercomputeco/mnemo/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx     context.Context
		backend *testutils.MockFullBackend
		client  *memory.Client
		server  *mcp.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = testutils.NewMockFullBackend("episodic")
		backend.RecallResults = []memory.Result{{Content: "deploys happen on fridays", Score: 0.9}}
		backend.Insights = []string{"fridays recur in 3 memories"}

		registry := memory.NewRegistry(logger.Nop())
		Expect(registry.Register(backend)).To(Succeed())
		registry.Start(ctx)
		client = memory.NewClient(registry, memory.ClientConfig{}, logger.Nop())

		var err error
		server, err = mcp.NewServer(mcp.Config{Memory: client, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("returns an error when the memory client is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("memory client is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Memory: client})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("creates an empty server in noop mode", func() {
			s, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Handler()).NotTo(BeNil())
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("tools", func() {
		var session *sdk.ClientSession

		BeforeEach(func() {
			clientTransport, serverTransport := sdk.NewInMemoryTransports()
			serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(serverSession.Close)

			c := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0"}, nil)
			session, err = c.Connect(ctx, clientTransport, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(session.Close)
		})

		call := func(name string, args map[string]any) *sdk.CallToolResult {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
			Expect(err).NotTo(HaveOccurred())
			return res
		}

		text := func(res *sdk.CallToolResult) string {
			Expect(res.Content).To(HaveLen(1))
			tc, ok := res.Content[0].(*sdk.TextContent)
			Expect(ok).To(BeTrue())
			return tc.Text
		}

		It("lists the memory tools", func() {
			res, err := session.ListTools(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(res.Tools))
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("memory_recall", "memory_search", "memory_retain", "memory_reflect"))
		})

		It("recalls through the unified client", func() {
			res := call("memory_recall", map[string]any{"query": "deploy"})
			Expect(res.IsError).To(BeFalse())

			var out mcp.RecallOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Content).To(Equal("deploys happen on fridays"))
			Expect(out.Results[0].Source).To(Equal("episodic"))
			Expect(out.Consulted).To(Equal([]string{"episodic"}))
		})

		It("routes as_of recalls to the temporal capability", func() {
			res := call("memory_recall", map[string]any{"query": "deploy", "as_of": "2026-01-02T03:04:05Z"})
			Expect(res.IsError).To(BeFalse())
			Expect(backend.AsOf()).To(HaveLen(1))
		})

		It("reports a malformed as_of as a tool error", func() {
			res := call("memory_recall", map[string]any{"query": "deploy", "as_of": "yesterday"})
			Expect(res.IsError).To(BeTrue())
			Expect(text(res)).To(ContainSubstring("RFC 3339"))
		})

		It("reports an empty query as a tool error", func() {
			res := call("memory_recall", map[string]any{"query": "  "})
			Expect(res.IsError).To(BeTrue())
			Expect(text(res)).To(Equal("query is required"))
		})

		It("searches with a cascade strategy", func() {
			res := call("memory_search", map[string]any{"query": "deploy", "strategy": "cascade"})
			Expect(res.IsError).To(BeFalse())

			var out mcp.RecallOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Strategy).To(Equal("cascade"))
			Expect(out.AnsweredBy).To(Equal("episodic"))
		})

		It("retains with the mcp origin", func() {
			res := call("memory_retain", map[string]any{
				"content":     "the staging db is postgres 16",
				"session_key": "s1",
				"metadata":    map[string]any{"topic": "infra"},
			})
			Expect(res.IsError).To(BeFalse())
			Expect(backend.RetainedCount()).To(Equal(1))

			meta := backend.Retained[0].Meta
			Expect(meta).To(HaveKeyWithValue("origin", "mcp"))
			Expect(meta).To(HaveKeyWithValue("topic", "infra"))
			Expect(meta).To(HaveKeyWithValue("session_key", "s1"))
		})

		It("reflects", func() {
			res := call("memory_reflect", map[string]any{"topic": "fridays"})
			Expect(res.IsError).To(BeFalse())

			var out mcp.ReflectOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Insights).To(ConsistOf(memory.Insight{Content: "fridays recur in 3 memories", Source: "episodic"}))
		})
	})
})
