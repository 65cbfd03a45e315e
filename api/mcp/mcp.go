// Package mcp provides an MCP (Model Context Protocol) server exposing the
// unified memory client as agent tools.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

type Config struct {
	// Memory is the unified client every tool routes through.
	Memory *memory.Client

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "mnemo",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)
	s.mcpServer = mcpServer

	if !c.Noop {
		if c.Memory == nil {
			return nil, errors.New("memory client is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{Name: recallToolName, Description: recallDescription}, s.handleRecall)
		mcp.AddTool(mcpServer, &mcp.Tool{Name: searchToolName, Description: searchDescription}, s.handleSearch)
		mcp.AddTool(mcpServer, &mcp.Tool{Name: retainToolName, Description: retainDescription}, s.handleRetain)
		mcp.AddTool(mcpServer, &mcp.Tool{Name: reflectToolName, Description: reflectDescription}, s.handleReflect)
	}

	// Stateless streamable HTTP: every request gets the same server.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, e.g. to connect an in-process transport.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
