package discovery

import "sync/atomic"

// State captures the coordinator's position in the bootstrap protocol:
// Initializing, SelfPublished, AwaitingQuorum, QuorumMet, or Ready. Anchor
// nodes go straight from SelfPublished to Ready; only non-anchor nodes pass
// through the quorum states. Transitions only move forward: once QuorumMet
// is reached, a stale under-count on a later read can never take it back.
type State uint32

const (
	// Initializing ...
	Initializing State = iota
	// SelfPublished ...
	SelfPublished
	// AwaitingQuorum ...
	AwaitingQuorum
	// QuorumMet ...
	QuorumMet
	// Ready ...
	Ready
)

// String ...
func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case SelfPublished:
		return "SelfPublished"
	case AwaitingQuorum:
		return "AwaitingQuorum"
	case QuorumMet:
		return "QuorumMet"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(v State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(v))
}
