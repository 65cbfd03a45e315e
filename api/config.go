// Package api provides the HTTP API server for the mnemo memory layer.
package api

import (
	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/session"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	// Guard and Sessions enable the /sessions routes. Both must be set for
	// the routes to be mounted.
	Guard    *compaction.Guard
	Sessions *session.Store

	// Bus, when set, receives message, tool and session end events from the
	// /sessions routes, and GET /events streams it to watchers.
	Bus *events.Bus

	// DisableMCP skips mounting the MCP endpoint.
	DisableMCP bool
}
