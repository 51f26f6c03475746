package slave

import "sync/atomic"

type opState uint32

const (
	opStopped opState = iota
	opStopping
	opStarting
	opRunning
)

func (s opState) String() string {
	switch s {
	case opStopped:
		return "Stopped"
	case opStopping:
		return "Stopping"
	case opStarting:
		return "Starting"
	case opRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// atomicOpState is the lifecycle state of a Terminal. Transitions are CAS
// based so that concurrent Start and Stop calls resolve to one winner.
type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) get() opState {
	return opState(st.state.Load())
}

func (st *atomicOpState) isRunning() bool {
	return st.get() == opRunning
}

func (st *atomicOpState) toStarting() bool {
	return st.state.CompareAndSwap(uint32(opStopped), uint32(opStarting))
}

func (st *atomicOpState) toRunning() bool {
	return st.state.CompareAndSwap(uint32(opStarting), uint32(opRunning))
}

func (st *atomicOpState) toStopping() bool {
	return st.state.CompareAndSwap(uint32(opRunning), uint32(opStopping))
}

// toStopped ends a stop, or abandons a start that failed.
func (st *atomicOpState) toStopped() {
	st.state.Store(uint32(opStopped))
}
