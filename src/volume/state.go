package volume

import "sync/atomic"

// State captures the position of the data volume in its lifecycle:
// Unattached, Attached, Formatted, or Mounted. The machine only moves
// forward; there is no recovery transition, because a node without a working
// data volume must not advertise itself at all.
type State uint32

const (
	// Unattached is the initial state, before the block device is visible.
	Unattached State = iota
	// Attached means the device exists but may be blank.
	Attached
	// Formatted means the device carries a filesystem.
	Formatted
	// Mounted is the terminal success state.
	Mounted
)

// String ...
func (s State) String() string {
	switch s {
	case Unattached:
		return "Unattached"
	case Attached:
		return "Attached"
	case Formatted:
		return "Formatted"
	case Mounted:
		return "Mounted"
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
