package azim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/cl"
	"github.com/xrdlabs/azimuth/internal/metrics"
)

// bufferRole names one device allocation in the fixed buffer set. The
// declaration order is also the allocation order.
type bufferRole int

const (
	bufTth bufferRole = iota
	bufTthDelta
	bufTthMinMax
	bufTthRange
	bufImage
	bufSolidAngle
	bufMask
	bufDark
	bufDummyVal
	bufDummyValDelta
	bufSpanRanges
	bufUHistogram
	bufUWeights
	bufHistogram
	bufWeights
	numBufferRoles
)

var bufferNames = [numBufferRoles]string{
	"tth", "tth_delta", "tth_min_max", "tth_range", "image", "solid_angle",
	"mask", "dark", "dummy_val", "dummy_val_delta", "span_ranges",
	"uhistogram", "uweights", "histogram", "weights",
}

func (r bufferRole) String() string { return bufferNames[r] }

const (
	floatSize = 4
	intSize   = 4
)

// accumulatorSize is the per-element byte width of the two fixed-point
// accumulators under the configured precision.
func accumulatorSize(cfg Config) int64 {
	if cfg.UseFP64 {
		return 8
	}
	return 4
}

type bufferSpec struct {
	role  bufferRole
	flags cl.MemFlag
	size  func(cfg Config) int64
}

func perPixelFloats(cfg Config) int64 { return int64(cfg.Nimage) * floatSize }
func perBinFloats(cfg Config) int64   { return int64(cfg.Nbins) * floatSize }
func perBinFixed(cfg Config) int64    { return int64(cfg.Nbins) * accumulatorSize(cfg) }
func pairFloats(Config) int64         { return 2 * floatSize }
func scalarFloat(Config) int64        { return floatSize }

// bufferTable is the complete buffer set with its deterministic allocation
// order. The correction stage rewrites the image in place, so image is
// read-write from the device's point of view.
var bufferTable = []bufferSpec{
	{bufTth, cl.MemReadOnly, perPixelFloats},
	{bufTthDelta, cl.MemReadOnly, perPixelFloats},
	{bufTthMinMax, cl.MemReadOnly, pairFloats},
	{bufTthRange, cl.MemReadOnly, pairFloats},
	{bufImage, cl.MemReadWrite, perPixelFloats},
	{bufSolidAngle, cl.MemReadOnly, perPixelFloats},
	{bufMask, cl.MemReadOnly, func(cfg Config) int64 { return int64(cfg.Nimage) * intSize }},
	{bufDark, cl.MemReadOnly, scalarFloat},
	{bufDummyVal, cl.MemReadOnly, scalarFloat},
	{bufDummyValDelta, cl.MemReadOnly, scalarFloat},
	{bufSpanRanges, cl.MemReadWrite, perPixelFloats},
	{bufUHistogram, cl.MemReadWrite, perBinFixed},
	{bufUWeights, cl.MemReadWrite, perBinFixed},
	{bufHistogram, cl.MemReadWrite, perBinFloats},
	{bufWeights, cl.MemReadWrite, perBinFloats},
}

// RequiredBytes is the closed formula for the device memory the buffer set
// needs under cfg. It is computed before any allocation is attempted.
func RequiredBytes(cfg Config) int64 {
	var total int64
	for _, spec := range bufferTable {
		total += spec.size(cfg)
	}
	return total
}

// allocateBuffers performs the deterministic, ordered allocation of every
// buffer role. On the first failure every allocation that already succeeded
// in this pass is released before the error is returned; no partial buffer
// set survives.
func (ig *Integrator) allocateBuffers() error {
	total := RequiredBytes(ig.cfg)
	budget := ig.device.GlobalMemory
	if budget != 0 && total >= budget {
		ig.log.Error("buffer set exceeds device memory",
			zap.Int64("required", total),
			zap.Int64("available", budget))
		return fmt.Errorf("%d bytes requested, %d available: %w", total, budget, ErrDeviceMemory)
	}
	if budget == 0 {
		ig.log.Info("device did not report its memory size",
			zap.Int64("required", total))
	}

	for i, spec := range bufferTable {
		buf, err := ig.ctx.CreateBuffer(spec.flags, spec.size(ig.cfg))
		if err != nil {
			ig.log.Error("buffer allocation failed, rolling back",
				zap.Stringer("role", spec.role),
				zap.Int("allocated", i),
				zap.Error(err))
			for _, prev := range bufferTable[:i] {
				if b := ig.buffers[prev.role]; b != nil {
					_ = b.Release()
					ig.buffers[prev.role] = nil
				}
			}
			return backendErr(fmt.Sprintf("allocate %s buffer", spec.role), err)
		}
		ig.buffers[spec.role] = buf
	}

	ig.allocatedBytes = total
	metrics.DeviceMemoryAllocatedBytes.Set(float64(total))
	ig.log.Info("allocated device buffers",
		zap.Int("count", len(bufferTable)),
		zap.Float64("mbytes", float64(total)/1024/1024))
	return nil
}

// releaseBuffers frees the buffer set and everything whose validity depends
// on it: the calibration, the correction flags and the allocation gauge.
func (ig *Integrator) releaseBuffers() {
	for role := bufferRole(0); role < numBufferRoles; role++ {
		if b := ig.buffers[role]; b != nil {
			_ = b.Release()
			ig.buffers[role] = nil
		}
	}
	ig.allocatedBytes = 0
	ig.corrections = correctionFlags{}
	metrics.DeviceMemoryAllocatedBytes.Set(0)
	ig.log.Debug("released device buffers")
}

func (ig *Integrator) hasBuffers() bool {
	return ig.buffers[bufImage] != nil
}
