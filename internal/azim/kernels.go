package azim

import (
	"fmt"

	"go.uber.org/zap"
)

// blockSize is the work-group granularity every kernel launch uses. It is
// passed to the program as a compile-time constant and bounds the smallest
// usable image.
const blockSize = 128

// kernelRole names one entry point of the compiled device program.
type kernelRole int

const (
	kernIntegrate kernelRole = iota
	kernResetAccumulators
	kernResetMask
	kernConvert
	kernGetSpans
	kernGroupSpans
	kernSolidAngle
	kernDummyVal
	numKernelRoles
)

// kernelEntryPoints maps each role to its entry point in the device program.
// These names are part of the program contract.
var kernelEntryPoints = [numKernelRoles]string{
	kernIntegrate:         "create_histo_binarray",
	kernResetAccumulators: "uimemset2",
	kernResetMask:         "imemset",
	kernConvert:           "ui2f2",
	kernGetSpans:          "get_spans",
	kernGroupSpans:        "group_spans",
	kernSolidAngle:        "solidangle_correction",
	kernDummyVal:          "dummyval_correction",
}

func (r kernelRole) String() string { return kernelEntryPoints[r] }

// rangeArgSlot is the integration kernel argument that selects the angular
// range. It is bound to the tth min/max buffer by default; SetRange rebinds
// it to the caller-supplied range and UnsetRange restores the default.
const rangeArgSlot = 8

// buildOptions derives the compile-time constants from the descriptor.
// Known sizes let the compiler unroll the per-pixel loops.
func buildOptions(cfg Config) string {
	options := fmt.Sprintf("-D BINS=%d -D NX=%d -D NN=%d -D WGSIZE=%d",
		cfg.Nbins, cfg.Nx, cfg.Nimage, blockSize)
	if cfg.UseFP64 {
		options += " -D ENABLE_FP64"
	}
	return options
}

// compileProgram builds the device program with descriptor-derived
// constants. Any descriptor change therefore requires recompilation.
func (ig *Integrator) compileProgram(source string) error {
	options := buildOptions(ig.cfg)
	ig.log.Debug("compiling device program", zap.String("options", options))
	program, err := ig.ctx.CompileProgram(source, options)
	if err != nil {
		return backendErr("compile program", err)
	}
	ig.program = program
	return nil
}

// createKernels instantiates all eight entry points. Failure on any one is
// fatal to configuration; a partial kernel set is never kept.
func (ig *Integrator) createKernels() error {
	for role := kernelRole(0); role < numKernelRoles; role++ {
		k, err := ig.program.CreateKernel(kernelEntryPoints[role])
		if err != nil {
			ig.releaseKernels()
			return backendErr(fmt.Sprintf("create kernel %s", role), err)
		}
		ig.kernels[role] = k
	}
	return nil
}

// kernelBindings is the fixed argument contract between the buffer set and
// the compiled program's parameter order. Bound exactly once per
// configuration; any later substitution must be an explicit re-bind.
var kernelBindings = [numKernelRoles][]bufferRole{
	kernIntegrate: {
		bufTth, bufTthDelta, bufUWeights, bufTthMinMax, bufImage,
		bufUHistogram, bufSpanRanges, bufMask,
		bufTthMinMax, // rangeArgSlot default
	},
	kernResetAccumulators: {bufUWeights, bufUHistogram},
	kernResetMask:         {bufMask},
	kernConvert:           {bufUWeights, bufUHistogram, bufWeights, bufHistogram},
	kernGetSpans:          {bufTth, bufTthDelta, bufTthMinMax, bufSpanRanges},
	kernGroupSpans:        {bufSpanRanges},
	kernSolidAngle:        {bufImage, bufSolidAngle},
	kernDummyVal:          {bufImage, bufDummyVal, bufDummyValDelta},
}

func (ig *Integrator) bindKernelArguments() error {
	for role, binding := range kernelBindings {
		for slot, buffer := range binding {
			if err := ig.kernels[role].SetArg(slot, ig.buffers[buffer]); err != nil {
				return backendErr(fmt.Sprintf("bind %s arg %d", kernelRole(role), slot), err)
			}
		}
	}
	return nil
}

// rebindRangeSlot swaps the integration kernel's angular-range source.
func (ig *Integrator) rebindRangeSlot(role bufferRole) error {
	if err := ig.kernels[kernIntegrate].SetArg(rangeArgSlot, ig.buffers[role]); err != nil {
		return backendErr(fmt.Sprintf("rebind range slot to %s", role), err)
	}
	return nil
}

func (ig *Integrator) releaseKernels() {
	for role := kernelRole(0); role < numKernelRoles; role++ {
		if k := ig.kernels[role]; k != nil {
			_ = k.Release()
			ig.kernels[role] = nil
		}
	}
}

func (ig *Integrator) hasKernels() bool {
	return ig.kernels[kernIntegrate] != nil
}

// roundUpToBlock pads n to a whole number of work-groups.
func roundUpToBlock(n int) int {
	return (n + blockSize - 1) / blockSize * blockSize
}
