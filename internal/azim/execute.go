package azim

import (
	"fmt"
	"time"

	"github.com/xrdlabs/azimuth/internal/metrics"
)

// Execute integrates one detector image into Nbins angular bins. It returns
// the per-bin histogram (corrected intensity sums) and weights (contributing
// pixel counts), both as float32 regardless of the accumulator precision.
//
// The pipeline is fixed: upload the image, zero the fixed-point
// accumulators, apply the in-place correction kernel when any photometric
// correction is enabled, run the integration kernel, convert the
// accumulators to float, and read both result arrays back. Every enqueue is
// blocking and the queue is drained before timings are folded in.
func (ig *Integrator) Execute(image []float32) ([]float32, []float32, error) {
	if err := ig.require(StateCalibrationLoaded, "execute"); err != nil {
		return nil, nil, err
	}
	if len(image) != ig.cfg.Nimage {
		return nil, nil, fmt.Errorf("image must have %d elements, got %d: %w",
			ig.cfg.Nimage, len(image), ErrInvalidConfig)
	}
	started := time.Now()

	ev, err := ig.queue.Write(ig.buffers[bufImage], float32Bytes(image))
	if err != nil {
		return nil, nil, backendErr("upload image", err)
	}
	ig.recordTransfer(ev, "upload image")

	ev, err = ig.queue.Run(ig.kernels[kernResetAccumulators], roundUpToBlock(ig.cfg.Nbins), blockSize)
	if err != nil {
		return nil, nil, backendErr("reset accumulators", err)
	}
	ig.recordExecution(ev, "reset accumulators")

	if ig.corrections.solidAngle || ig.corrections.dark || ig.corrections.flat {
		ev, err = ig.queue.Run(ig.kernels[kernSolidAngle], roundUpToBlock(ig.cfg.Nimage), blockSize)
		if err != nil {
			return nil, nil, backendErr("apply corrections", err)
		}
		ig.recordExecution(ev, "apply corrections")
	}

	ev, err = ig.queue.Run(ig.kernels[kernIntegrate], roundUpToBlock(ig.cfg.Nimage), blockSize)
	if err != nil {
		return nil, nil, backendErr("integrate", err)
	}
	ig.recordExecution(ev, "integrate")

	ev, err = ig.queue.Run(ig.kernels[kernConvert], roundUpToBlock(ig.cfg.Nbins), blockSize)
	if err != nil {
		return nil, nil, backendErr("convert accumulators", err)
	}
	ig.recordExecution(ev, "convert accumulators")

	histogram := make([]float32, ig.cfg.Nbins)
	weights := make([]float32, ig.cfg.Nbins)

	ev, err = ig.queue.Read(ig.buffers[bufWeights], float32Bytes(weights))
	if err != nil {
		return nil, nil, backendErr("read weights", err)
	}
	ig.recordTransfer(ev, "read weights")

	ev, err = ig.queue.Read(ig.buffers[bufHistogram], float32Bytes(histogram))
	if err != nil {
		return nil, nil, backendErr("read histogram", err)
	}
	ig.recordTransfer(ev, "read histogram")

	if err := ig.queue.Finish(); err != nil {
		return nil, nil, backendErr("drain queue", err)
	}

	ig.execCount++
	metrics.IntegrationsTotal.Inc()
	metrics.IntegrationDuration.Observe(time.Since(started).Seconds())
	return histogram, weights, nil
}
