package azim

import (
	"fmt"

	"go.uber.org/zap"
)

// LoadTwoTheta uploads the angular calibration: per-pixel angle, per-pixel
// angular half-width and the global min/max pair, then derives the
// per-pixel angular spans and groups them into the layout the integration
// kernel consumes.
//
// It must be called at least once after Configure before Execute is
// permitted, and may be repeated between executions to update the
// calibration without reconfiguring.
func (ig *Integrator) LoadTwoTheta(tth, dtth []float32, tthMin, tthMax float32) error {
	if err := ig.require(StateConfigured, "load two-theta"); err != nil {
		return err
	}
	if len(tth) != ig.cfg.Nimage || len(dtth) != ig.cfg.Nimage {
		return fmt.Errorf("calibration arrays must have %d elements, got %d and %d: %w",
			ig.cfg.Nimage, len(tth), len(dtth), ErrInvalidConfig)
	}

	ig.log.Info("loading two-theta calibration",
		zap.Float32("min", tthMin),
		zap.Float32("max", tthMax))

	minMax := []float32{tthMin, tthMax}

	ev, err := ig.queue.Write(ig.buffers[bufTth], float32Bytes(tth))
	if err != nil {
		return backendErr("upload tth", err)
	}
	ig.recordTransfer(ev, "load tth")

	ev, err = ig.queue.Write(ig.buffers[bufTthDelta], float32Bytes(dtth))
	if err != nil {
		return backendErr("upload tth delta", err)
	}
	ig.recordTransfer(ev, "load tth delta")

	ev, err = ig.queue.Write(ig.buffers[bufTthMinMax], float32Bytes(minMax))
	if err != nil {
		return backendErr("upload tth min/max", err)
	}
	ig.recordTransfer(ev, "load tth min/max")

	// Two derivation passes: per-pixel spans, then their grouped layout.
	global := roundUpToBlock(ig.cfg.Nimage)

	ev, err = ig.queue.Run(ig.kernels[kernGetSpans], global, blockSize)
	if err != nil {
		return backendErr("get spans", err)
	}
	ig.recordExecution(ev, "get spans")

	ev, err = ig.queue.Run(ig.kernels[kernGroupSpans], global, blockSize)
	if err != nil {
		return backendErr("group spans", err)
	}
	ig.recordExecution(ev, "group spans")

	if ig.state == StateConfigured {
		ig.advance(StateCalibrationLoaded)
	}
	return nil
}
