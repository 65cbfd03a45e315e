package compaction_test

import (
	"context"
	"sync"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

// recorder is a shared, ordered log of what happened during a cycle.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

type fakeHost struct {
	log *recorder

	snapshot   memory.Snapshot
	captureErr error
	compactErr error
	outcome    compaction.Outcome

	// release, when set, blocks Compact until closed.
	release chan struct{}

	// afterCompact runs once the host has compacted.
	afterCompact func()

	mu       sync.Mutex
	compacts int
}

func (h *fakeHost) CaptureFullState(_ context.Context, _ string) (memory.Snapshot, error) {
	h.log.add("capture")
	if h.captureErr != nil {
		return memory.Snapshot{}, h.captureErr
	}
	return h.snapshot.Clone(), nil
}

func (h *fakeHost) Compact(_ context.Context, _ string) (compaction.Outcome, error) {
	if h.release != nil {
		<-h.release
	}

	h.mu.Lock()
	h.compacts++
	h.mu.Unlock()

	h.log.add("compact")
	if h.compactErr != nil {
		return compaction.Outcome{}, h.compactErr
	}
	if h.afterCompact != nil {
		h.afterCompact()
	}
	return h.outcome, nil
}

func (h *fakeHost) compactCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compacts
}
