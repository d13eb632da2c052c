package azim

import (
	"fmt"
)

// Correction toggles. Each Set uploads its coefficients into the
// corresponding device buffer (blocking) and raises the feature flag; each
// Unset lowers the flag, returning ErrNothingToUndo when it was not raised.
// Toggles may be exercised any time after Configure and affect only which
// optional work the execution pipeline performs, never buffer shapes.

// SetSolidAngle enables solid-angle correction with per-pixel coefficients.
func (ig *Integrator) SetSolidAngle(coeffs []float32) error {
	if err := ig.uploadPixelCoeffs("set solid angle", bufSolidAngle, coeffs); err != nil {
		return err
	}
	ig.corrections.solidAngle = true
	return nil
}

// UnsetSolidAngle disables solid-angle correction.
func (ig *Integrator) UnsetSolidAngle() error {
	if !ig.corrections.solidAngle {
		return ErrNothingToUndo
	}
	ig.corrections.solidAngle = false
	return nil
}

// SetFlat enables flat-field correction. The flat coefficients share the
// correction-coefficient buffer with solid angle; callers combining both
// must pre-multiply the arrays.
func (ig *Integrator) SetFlat(coeffs []float32) error {
	if err := ig.uploadPixelCoeffs("set flat", bufSolidAngle, coeffs); err != nil {
		return err
	}
	ig.corrections.flat = true
	return nil
}

// UnsetFlat disables flat-field correction.
func (ig *Integrator) UnsetFlat() error {
	if !ig.corrections.flat {
		return ErrNothingToUndo
	}
	ig.corrections.flat = false
	return nil
}

// SetDark enables dark-current subtraction with a uniform dark level.
func (ig *Integrator) SetDark(dark float32) error {
	if err := ig.require(StateConfigured, "set dark"); err != nil {
		return err
	}
	ev, err := ig.queue.Write(ig.buffers[bufDark], float32Bytes([]float32{dark}))
	if err != nil {
		return backendErr("upload dark", err)
	}
	ig.recordTransfer(ev, "load dark")
	ig.corrections.dark = true
	return nil
}

// UnsetDark disables dark-current subtraction.
func (ig *Integrator) UnsetDark() error {
	if !ig.corrections.dark {
		return ErrNothingToUndo
	}
	ig.corrections.dark = false
	return nil
}

// SetMask excludes pixels from integration. Mask polarity follows the
// detector-mask convention the integration kernel expects: 0 includes a
// pixel, nonzero excludes it.
func (ig *Integrator) SetMask(mask []int32) error {
	if err := ig.require(StateConfigured, "set mask"); err != nil {
		return err
	}
	if len(mask) != ig.cfg.Nimage {
		return fmt.Errorf("mask must have %d elements, got %d: %w",
			ig.cfg.Nimage, len(mask), ErrInvalidConfig)
	}
	ev, err := ig.queue.Write(ig.buffers[bufMask], int32Bytes(mask))
	if err != nil {
		return backendErr("upload mask", err)
	}
	ig.recordTransfer(ev, "load mask")
	ig.corrections.mask = true
	return nil
}

// UnsetMask disables masking. The integration kernel reads the mask buffer
// directly, so a flag flip alone is insufficient: the device-side buffer is
// re-zeroed with the reset kernel.
func (ig *Integrator) UnsetMask() error {
	if !ig.corrections.mask {
		return ErrNothingToUndo
	}
	ev, err := ig.queue.Run(ig.kernels[kernResetMask], roundUpToBlock(ig.cfg.Nimage), blockSize)
	if err != nil {
		return backendErr("reset mask", err)
	}
	ig.recordExecution(ev, "reset mask")
	ig.corrections.mask = false
	return nil
}

// SetDummyValue marks pixels whose intensity equals dummy (within delta) as
// invalid.
func (ig *Integrator) SetDummyValue(dummy, delta float32) error {
	if err := ig.require(StateConfigured, "set dummy value"); err != nil {
		return err
	}
	ev, err := ig.queue.Write(ig.buffers[bufDummyVal], float32Bytes([]float32{dummy}))
	if err != nil {
		return backendErr("upload dummy value", err)
	}
	ig.recordTransfer(ev, "load dummy value")

	ev, err = ig.queue.Write(ig.buffers[bufDummyValDelta], float32Bytes([]float32{delta}))
	if err != nil {
		return backendErr("upload dummy value delta", err)
	}
	ig.recordTransfer(ev, "load dummy delta")
	ig.corrections.dummy = true
	return nil
}

// UnsetDummyValue disables dummy-value handling.
func (ig *Integrator) UnsetDummyValue() error {
	if !ig.corrections.dummy {
		return ErrNothingToUndo
	}
	ig.corrections.dummy = false
	return nil
}

// SetRange restricts integration to [tthMin, tthMax]. The integration
// kernel's range argument slot is re-bound from the calibration min/max
// buffer to the caller-supplied range; the binding does not propagate
// automatically.
func (ig *Integrator) SetRange(tthMin, tthMax float32) error {
	if err := ig.require(StateConfigured, "set range"); err != nil {
		return err
	}
	if tthMax <= tthMin {
		return fmt.Errorf("empty angular range [%g, %g]: %w", tthMin, tthMax, ErrInvalidConfig)
	}
	ev, err := ig.queue.Write(ig.buffers[bufTthRange], float32Bytes([]float32{tthMin, tthMax}))
	if err != nil {
		return backendErr("upload tth range", err)
	}
	ig.recordTransfer(ev, "load tth range")

	if err := ig.rebindRangeSlot(bufTthRange); err != nil {
		return err
	}
	ig.corrections.tthRange = true
	return nil
}

// UnsetRange restores the full calibration range, re-binding the range slot
// back to the tth min/max buffer.
func (ig *Integrator) UnsetRange() error {
	if !ig.corrections.tthRange {
		return ErrNothingToUndo
	}
	if err := ig.rebindRangeSlot(bufTthMinMax); err != nil {
		return err
	}
	ig.corrections.tthRange = false
	return nil
}

func (ig *Integrator) uploadPixelCoeffs(op string, role bufferRole, coeffs []float32) error {
	if err := ig.require(StateConfigured, op); err != nil {
		return err
	}
	if len(coeffs) != ig.cfg.Nimage {
		return fmt.Errorf("%s: coefficients must have %d elements, got %d: %w",
			op, ig.cfg.Nimage, len(coeffs), ErrInvalidConfig)
	}
	ev, err := ig.queue.Write(ig.buffers[role], float32Bytes(coeffs))
	if err != nil {
		return backendErr(op, err)
	}
	ig.recordTransfer(ev, op)
	return nil
}
