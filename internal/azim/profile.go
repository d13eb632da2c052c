package azim

import (
	"time"

	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/cl"
	"github.com/xrdlabs/azimuth/internal/metrics"
)

type timeTotal struct {
	total time.Duration
}

func (t *timeTotal) add(d time.Duration) { t.total += d }

// Timings is a snapshot of the two profiling accumulators: device-reported
// memory-transfer time and kernel-execution time, plus the number of
// completed integrations. Totals grow monotonically and reset only on a
// full Clean.
type Timings struct {
	Transfer   time.Duration
	Execution  time.Duration
	Executions int
}

// Timings returns the current profiling snapshot.
func (ig *Integrator) Timings() Timings {
	return Timings{
		Transfer:   ig.transferTime.total,
		Execution:  ig.execTime.total,
		Executions: ig.execCount,
	}
}

// ExecCount reports how many integrations have completed since the last
// full cleanup.
func (ig *Integrator) ExecCount() int { return ig.execCount }

func (ig *Integrator) resetTimings() {
	ig.transferTime = timeTotal{}
	ig.execTime = timeTotal{}
	ig.execCount = 0
}

// recordTransfer folds a transfer event's device timing into the transfer
// accumulator and releases the event. Events are retained by the backend;
// not releasing them leaks across repeated calls.
func (ig *Integrator) recordTransfer(ev cl.Event, stage string) {
	ig.record(ev, stage, &ig.transferTime, metrics.TransferSecondsTotal.Add)
}

// recordExecution folds a kernel event's device timing into the execution
// accumulator and releases the event.
func (ig *Integrator) recordExecution(ev cl.Event, stage string) {
	ig.record(ev, stage, &ig.execTime, metrics.KernelSecondsTotal.Add)
}

func (ig *Integrator) record(ev cl.Event, stage string, total *timeTotal, addSeconds func(float64)) {
	defer ev.Release()
	d, err := ev.Duration()
	if err != nil {
		ig.log.Debug("no device timing for stage", zap.String("stage", stage), zap.Error(err))
		return
	}
	total.add(d)
	addSeconds(d.Seconds())
	metrics.StageDuration.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
	ig.bench.Debug("stage timing",
		zap.String("stage", stage),
		zap.Duration("duration", d))
}
