package compaction

// State is a session's position in the protected compaction cycle.
type State int

const (
	Idle State = iota
	WarningIssued
	ImminentIssued
	CapturingPre
	AwaitingAcks
	Compacting
	NotifyingPost
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WarningIssued:
		return "warning_issued"
	case ImminentIssued:
		return "imminent_issued"
	case CapturingPre:
		return "capturing_pre"
	case AwaitingAcks:
		return "awaiting_acks"
	case Compacting:
		return "compacting"
	case NotifyingPost:
		return "notifying_post"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// inCycle reports whether s belongs to a running HandleCompaction call.
func (s State) inCycle() bool {
	return s >= CapturingPre && s <= Failed
}

type sessionState struct {
	state State

	// warned and imminent latch a threshold crossing until the ratio drops
	// back below the threshold.
	warned   bool
	imminent bool

	ratio float64
	busy  bool
}
