// Package azim implements a 1D azimuthal integrator driven through a
// compute backend: a 2D detector image is reduced into an intensity
// histogram binned by scattering angle using a per-pixel angular look-up
// table resident on the device.
//
// One Integrator owns one device session (context, queue, buffer set,
// compiled program, kernel set). The lifecycle is a strict sequence of
// Init, SetConfiguration, Configure, LoadTwoTheta and then any number of
// Execute calls, with every operation gated on its predecessors.
// Instances are not safe for concurrent use; callers must serialize.
package azim

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/cl"
	"github.com/xrdlabs/azimuth/internal/kernels"
	"github.com/xrdlabs/azimuth/internal/logger"
	"github.com/xrdlabs/azimuth/internal/metrics"
)

type correctionFlags struct {
	solidAngle bool
	dark       bool
	flat       bool
	mask       bool
	dummy      bool
	tthRange   bool
}

// Integrator is the host-side control layer for one device session.
type Integrator struct {
	log   *zap.Logger
	bench *zap.Logger

	backend cl.Backend
	ctx     cl.Context
	queue   cl.Queue
	device  cl.DeviceInfo

	state  State
	cfg    Config
	cfgSet bool

	buffers        [numBufferRoles]cl.Buffer
	program        cl.Program
	kernels        [numKernelRoles]cl.Kernel
	allocatedBytes int64

	corrections correctionFlags

	transferTime timeTotal
	execTime     timeTotal
	execCount    int
}

// New creates an integrator bound to a backend. No device resource is
// touched until Init.
func New(backend cl.Backend, log *zap.Logger) *Integrator {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("azim")
	return &Integrator{
		log:     log,
		bench:   logger.Bench(log),
		backend: backend,
	}
}

// Init creates the device context. The integrator must be Uninitialized;
// re-initialization requires a full Clean first.
func (ig *Integrator) Init(opts cl.ContextOptions) error {
	if ig.state != StateUninitialized {
		ig.log.Error("init refused", zap.Stringer("state", ig.state))
		return fmt.Errorf("init requires a clean instance, currently %s: %w", ig.state, ErrInvalidState)
	}
	ctx, err := ig.backend.CreateContext(opts)
	if err != nil {
		return backendErr("create context", err)
	}
	ig.ctx = ctx
	ig.device = ctx.Device()
	ig.advance(StateContextActive)
	ig.log.Info("device context active",
		zap.String("backend", ig.backend.Name()),
		zap.String("device", ig.device.Name),
		zap.String("type", ig.device.Type))
	return nil
}

// SetConfiguration captures the integration descriptor. The descriptor only
// takes effect on the next Configure call, because buffer sizes and the
// program's compiled constants both derive from it.
func (ig *Integrator) SetConfiguration(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		ig.log.Error("configuration rejected",
			zap.Int("nx", cfg.Nx),
			zap.Int("nimage", cfg.Nimage),
			zap.Int("nbins", cfg.Nbins),
			zap.Error(err))
		return err
	}
	ig.cfg = cfg
	ig.cfgSet = true
	return nil
}

// Configure builds the device session for the current descriptor: command
// queue, buffer set, compiled program, kernel set and argument bindings,
// and finally zeroes the device mask. If a configuration already exists it
// is released first (context preserved), so repeated calls never leak.
//
// kernelPath selects the device program source; empty means the embedded
// default program.
func (ig *Integrator) Configure(kernelPath string) error {
	if !ig.cfgSet {
		ig.log.Error("configure refused: no configuration set")
		metrics.ConfigurationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("configure requires a prior SetConfiguration: %w", ErrInvalidState)
	}
	if err := ig.require(StateContextActive, "configure"); err != nil {
		metrics.ConfigurationsTotal.WithLabelValues("error").Inc()
		return err
	}

	source, err := ig.loadKernelSource(kernelPath)
	if err != nil {
		metrics.ConfigurationsTotal.WithLabelValues("error").Inc()
		return err
	}

	// Re-configuration releases the previous session's resources first to
	// avoid leaks; only the context survives.
	if err := ig.Clean(true); err != nil {
		metrics.ConfigurationsTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := ig.configureSession(source); err != nil {
		metrics.ConfigurationsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ConfigurationsTotal.WithLabelValues("success").Inc()
	return nil
}

func (ig *Integrator) configureSession(source string) error {
	queue, err := ig.ctx.CreateQueue(true)
	if err != nil {
		return backendErr("create command queue", err)
	}
	ig.queue = queue
	ig.advance(StateQueueReady)

	if err := ig.allocateBuffers(); err != nil {
		return err
	}
	ig.advance(StateBuffersAllocated)

	if err := ig.compileProgram(source); err != nil {
		return err
	}
	ig.advance(StateProgramCompiled)

	if err := ig.createKernels(); err != nil {
		return err
	}
	ig.advance(StateKernelsCreated)

	if err := ig.bindKernelArguments(); err != nil {
		return err
	}
	ig.advance(StateConfigured)

	// The integration kernel reads the mask unconditionally, so it must
	// start out all zeros (no pixel excluded).
	ev, err := ig.queue.Run(ig.kernels[kernResetMask], roundUpToBlock(ig.cfg.Nimage), blockSize)
	if err != nil {
		return backendErr("initialise mask", err)
	}
	ig.recordExecution(ev, "init mask")

	ig.log.Info("configured",
		zap.Int("nx", ig.cfg.Nx),
		zap.Int("nimage", ig.cfg.Nimage),
		zap.Int("nbins", ig.cfg.Nbins),
		zap.Bool("fp64", ig.cfg.UseFP64))
	return nil
}

func (ig *Integrator) loadKernelSource(path string) (string, error) {
	if path == "" {
		return kernels.DefaultSource, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read kernel source %s: %w", path, err)
	}
	ig.log.Debug("using kernel source", zap.String("path", path))
	return string(data), nil
}

// Clean walks the lifecycle backward, releasing buffers, kernels, program
// and queue when allocated, and the context too unless preserveContext is
// set. Each substep is gated by its own allocation state, so Clean is safe
// to call redundantly. Timing accumulators and correction flags reset with
// the resources they describe.
func (ig *Integrator) Clean(preserveContext bool) error {
	if ig.hasBuffers() {
		ig.releaseBuffers()
	}
	if ig.hasKernels() {
		ig.releaseKernels()
		ig.log.Debug("released kernels")
	}
	if ig.program != nil {
		_ = ig.program.Release()
		ig.program = nil
		ig.log.Debug("released program")
	}
	if ig.queue != nil {
		_ = ig.queue.Release()
		ig.queue = nil
		ig.log.Debug("released queue")
	}

	ig.resetTimings()

	if ig.state > StateContextActive {
		ig.state = StateContextActive
	}
	if !preserveContext {
		if ig.ctx != nil {
			_ = ig.ctx.Release()
			ig.ctx = nil
			ig.device = cl.DeviceInfo{}
			ig.log.Debug("released context")
		}
		ig.state = StateUninitialized
	}
	return nil
}

// State reports the current lifecycle position.
func (ig *Integrator) State() State { return ig.state }

// Configuration returns the current descriptor and whether one was set.
func (ig *Integrator) Configuration() (Config, bool) { return ig.cfg, ig.cfgSet }

// DeviceInfo describes the device behind the active context.
func (ig *Integrator) DeviceInfo() (cl.DeviceInfo, error) {
	if err := ig.require(StateContextActive, "device info"); err != nil {
		return cl.DeviceInfo{}, err
	}
	return ig.device, nil
}
