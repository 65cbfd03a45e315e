package compaction

import (
	"context"
	"time"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

// Host is the agent runtime whose history is being compacted.
type Host interface {
	// CaptureFullState returns a complete snapshot of the session.
	CaptureFullState(ctx context.Context, sessionKey string) (memory.Snapshot, error)

	// Compact prunes or summarizes the session history. It is called at
	// most once per cycle and never cancelled once started.
	Compact(ctx context.Context, sessionKey string) (Outcome, error)
}

// Outcome is the host's report of a finished compaction.
type Outcome struct {
	Summary         string `json:"summary"`
	TokensAfter     int    `json:"tokens_after"`
	MessagesRemoved int    `json:"messages_removed"`
}

// Memory is the subset of the unified memory client the guard drives.
type Memory interface {
	NotifyPreCompaction(ctx context.Context, ev memory.PreCompaction, wait bool, timeout time.Duration) (*memory.AckReport, error)
	NotifyPostCompaction(ctx context.Context, ev memory.PostCompaction, timeout time.Duration) (*memory.AckReport, error)
	Recall(ctx context.Context, query string, opts memory.RecallOptions) (*memory.RecallReport, error)
}
