package azim

import (
	"fmt"

	"go.uber.org/zap"
)

// State is the integrator's lifecycle position. Transitions are strictly
// ordered; every operation is gated on a minimum state and no forward
// transition may skip its predecessor.
type State int

const (
	StateUninitialized State = iota
	StateContextActive
	StateQueueReady
	StateBuffersAllocated
	StateProgramCompiled
	StateKernelsCreated
	StateConfigured
	StateCalibrationLoaded
)

var stateNames = map[State]string{
	StateUninitialized:     "uninitialized",
	StateContextActive:     "context-active",
	StateQueueReady:        "queue-ready",
	StateBuffersAllocated:  "buffers-allocated",
	StateProgramCompiled:   "program-compiled",
	StateKernelsCreated:    "kernels-created",
	StateConfigured:        "configured",
	StateCalibrationLoaded: "calibration-loaded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// require gates op on a minimum lifecycle state.
func (ig *Integrator) require(min State, op string) error {
	if ig.state < min {
		ig.log.Error("operation refused",
			zap.String("op", op),
			zap.Stringer("state", ig.state),
			zap.Stringer("required", min))
		return fmt.Errorf("%s requires state %s, currently %s: %w", op, min, ig.state, ErrInvalidState)
	}
	return nil
}

// advance moves the machine to the immediate successor state. Skipping a
// state is a programming error in this package, not a caller mistake.
func (ig *Integrator) advance(next State) {
	if next != ig.state+1 {
		panic(fmt.Sprintf("lifecycle transition %s -> %s skips a state", ig.state, next))
	}
	ig.log.Debug("lifecycle transition",
		zap.Stringer("from", ig.state),
		zap.Stringer("to", next))
	ig.state = next
}
