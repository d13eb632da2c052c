package cl

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JournalEntry records one device operation issued on a simulated queue.
type JournalEntry struct {
	Op     string // "write", "read", "kernel", "finish"
	Kernel string // entry-point name for "kernel" entries
	Bytes  int    // payload size for "write"/"read" entries
}

// SimBackend is an in-memory compute backend. Buffers are host byte slices
// and kernels are executed on the host, dispatched by entry-point name. It
// exists so the integration pipeline can run (and be tested) without a
// device, and it journals every queue operation for inspection.
type SimBackend struct {
	logger *zap.Logger

	// GlobalMemory is the device memory budget reported to callers.
	// Zero means "unknown", matching devices that do not report one.
	GlobalMemory int64

	// FailCreateBufferAt makes the n-th CreateBuffer call on a context fail
	// (1-based). Zero disables the fault.
	FailCreateBufferAt int

	// FailCompile makes CompileProgram fail.
	FailCompile bool

	// FailKernel makes CreateKernel fail for the named entry point.
	FailKernel string

	// LastContext is the most recently created context, kept so callers can
	// inspect its journal and live-handle counters.
	LastContext *SimContext
}

// NewSimBackend creates a simulated backend.
func NewSimBackend(logger *zap.Logger) *SimBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimBackend{logger: logger}
}

func (b *SimBackend) Name() string { return "sim" }

func (b *SimBackend) IsAvailable() bool { return true }

// CreateContext creates a simulated context. Device selection options are
// accepted but ignored; there is exactly one simulated device.
func (b *SimBackend) CreateContext(opts ContextOptions) (Context, error) {
	b.logger.Debug("creating simulated context",
		zap.Int("platform_id", opts.PlatformID),
		zap.Int("device_id", opts.DeviceID))
	ctx := &SimContext{backend: b}
	b.LastContext = ctx
	return ctx, nil
}

// SimContext implements Context over host memory.
type SimContext struct {
	backend  *SimBackend
	mu       sync.Mutex
	released bool

	allocCalls int
	journal    []JournalEntry

	liveBuffers  int
	liveKernels  int
	livePrograms int
	liveQueues   int
	liveEvents   int
}

func (c *SimContext) Device() DeviceInfo {
	return DeviceInfo{
		Name:            "Simulated Device",
		Vendor:          "azimuth",
		Version:         "sim 1.0",
		Type:            "gpu",
		GlobalMemory:    c.backend.GlobalMemory,
		MaxComputeUnits: runtime.NumCPU(),
	}
}

func (c *SimContext) CreateQueue(profiling bool) (Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, &CallError{Call: "CreateQueue", Err: fmt.Errorf("context released")}
	}
	c.liveQueues++
	return &simQueue{ctx: c, profiling: profiling}, nil
}

func (c *SimContext) CreateBuffer(flags MemFlag, size int64) (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, &CallError{Call: "CreateBuffer", Err: fmt.Errorf("context released")}
	}
	if size <= 0 {
		return nil, &CallError{Call: "CreateBuffer", Err: fmt.Errorf("invalid buffer size %d", size)}
	}
	c.allocCalls++
	if n := c.backend.FailCreateBufferAt; n > 0 && c.allocCalls == n {
		return nil, &CallError{Call: "CreateBuffer", Err: fmt.Errorf("simulated allocation failure at call %d", n)}
	}
	c.liveBuffers++
	return &simBuffer{ctx: c, data: make([]byte, size), flags: flags}, nil
}

func (c *SimContext) CompileProgram(source string, options string) (Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, &CallError{Call: "CompileProgram", Err: fmt.Errorf("context released")}
	}
	if c.backend.FailCompile {
		return nil, &CallError{Call: "CompileProgram", Err: fmt.Errorf("simulated build failure")}
	}
	defines, err := parseDefines(options)
	if err != nil {
		return nil, &CallError{Call: "CompileProgram", Err: err}
	}
	c.livePrograms++
	return &simProgram{ctx: c, defines: defines}, nil
}

func (c *SimContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return nil
}

// Journal returns a copy of the recorded queue operations.
func (c *SimContext) Journal() []JournalEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]JournalEntry, len(c.journal))
	copy(out, c.journal)
	return out
}

// ResetJournal clears the recorded operations.
func (c *SimContext) ResetJournal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = nil
}

// LiveBuffers reports device allocations not yet released.
func (c *SimContext) LiveBuffers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveBuffers
}

// LiveKernels reports kernel handles not yet released.
func (c *SimContext) LiveKernels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveKernels
}

// LivePrograms reports compiled programs not yet released.
func (c *SimContext) LivePrograms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.livePrograms
}

// LiveQueues reports command queues not yet released.
func (c *SimContext) LiveQueues() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveQueues
}

// LiveEvents reports profiling events not yet released.
func (c *SimContext) LiveEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveEvents
}

func (c *SimContext) record(e JournalEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = append(c.journal, e)
}

func (c *SimContext) newEvent(start time.Time) *simEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveEvents++
	return &simEvent{ctx: c, d: time.Since(start)}
}

type simBuffer struct {
	ctx      *SimContext
	data     []byte
	flags    MemFlag
	released bool
}

func (b *simBuffer) Size() int64 { return int64(len(b.data)) }

func (b *simBuffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	b.ctx.mu.Lock()
	b.ctx.liveBuffers--
	b.ctx.mu.Unlock()
	return nil
}

type simProgram struct {
	ctx      *SimContext
	defines  map[string]int
	released bool
}

func (p *simProgram) CreateKernel(name string) (Kernel, error) {
	if p.released {
		return nil, &CallError{Call: "CreateKernel", Err: fmt.Errorf("program released")}
	}
	if p.ctx.backend.FailKernel == name {
		return nil, &CallError{Call: "CreateKernel", Err: fmt.Errorf("simulated failure creating kernel %q", name)}
	}
	arity, ok := kernelArity[name]
	if !ok {
		return nil, &CallError{Call: "CreateKernel", Err: fmt.Errorf("no kernel %q in program", name)}
	}
	p.ctx.mu.Lock()
	p.ctx.liveKernels++
	p.ctx.mu.Unlock()
	return &simKernel{program: p, name: name, args: make([]*simBuffer, arity)}, nil
}

func (p *simProgram) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	p.ctx.mu.Lock()
	p.ctx.livePrograms--
	p.ctx.mu.Unlock()
	return nil
}

type simKernel struct {
	program  *simProgram
	name     string
	args     []*simBuffer
	released bool
}

func (k *simKernel) Name() string { return k.name }

func (k *simKernel) SetArg(index int, buf Buffer) error {
	if index < 0 || index >= len(k.args) {
		return &CallError{Call: "SetArg", Err: fmt.Errorf("kernel %q has no argument slot %d", k.name, index)}
	}
	sb, ok := buf.(*simBuffer)
	if !ok {
		return &CallError{Call: "SetArg", Err: fmt.Errorf("buffer is not a simulated buffer")}
	}
	k.args[index] = sb
	return nil
}

func (k *simKernel) Release() error {
	if k.released {
		return nil
	}
	k.released = true
	k.program.ctx.mu.Lock()
	k.program.ctx.liveKernels--
	k.program.ctx.mu.Unlock()
	return nil
}

type simQueue struct {
	ctx       *SimContext
	profiling bool
	released  bool
}

func (q *simQueue) Write(dst Buffer, data []byte) (Event, error) {
	sb, ok := dst.(*simBuffer)
	if !ok {
		return nil, &CallError{Call: "Write", Err: fmt.Errorf("buffer is not a simulated buffer")}
	}
	if len(data) > len(sb.data) {
		return nil, &CallError{Call: "Write", Err: fmt.Errorf("write of %d bytes exceeds buffer size %d", len(data), len(sb.data))}
	}
	start := time.Now()
	copy(sb.data, data)
	q.ctx.record(JournalEntry{Op: "write", Bytes: len(data)})
	return q.ctx.newEvent(start), nil
}

func (q *simQueue) Read(src Buffer, data []byte) (Event, error) {
	sb, ok := src.(*simBuffer)
	if !ok {
		return nil, &CallError{Call: "Read", Err: fmt.Errorf("buffer is not a simulated buffer")}
	}
	if len(data) > len(sb.data) {
		return nil, &CallError{Call: "Read", Err: fmt.Errorf("read of %d bytes exceeds buffer size %d", len(data), len(sb.data))}
	}
	start := time.Now()
	copy(data, sb.data)
	q.ctx.record(JournalEntry{Op: "read", Bytes: len(data)})
	return q.ctx.newEvent(start), nil
}

func (q *simQueue) Run(k Kernel, global, local int) (Event, error) {
	sk, ok := k.(*simKernel)
	if !ok {
		return nil, &CallError{Call: "Run", Err: fmt.Errorf("kernel is not a simulated kernel")}
	}
	if local <= 0 || global <= 0 || global%local != 0 {
		return nil, &CallError{Call: "Run", Err: fmt.Errorf("invalid work size %d/%d for kernel %q", global, local, sk.name)}
	}
	for i, arg := range sk.args {
		if arg == nil {
			return nil, &CallError{Call: "Run", Err: fmt.Errorf("kernel %q argument slot %d unbound", sk.name, i)}
		}
	}
	start := time.Now()
	if err := runSimKernel(sk, local); err != nil {
		return nil, &CallError{Call: "Run", Err: err}
	}
	q.ctx.record(JournalEntry{Op: "kernel", Kernel: sk.name})
	return q.ctx.newEvent(start), nil
}

func (q *simQueue) Finish() error {
	q.ctx.record(JournalEntry{Op: "finish"})
	return nil
}

func (q *simQueue) Release() error {
	if q.released {
		return nil
	}
	q.released = true
	q.ctx.mu.Lock()
	q.ctx.liveQueues--
	q.ctx.mu.Unlock()
	return nil
}

type simEvent struct {
	ctx      *SimContext
	d        time.Duration
	released bool
}

func (e *simEvent) Duration() (time.Duration, error) {
	if e.released {
		return 0, fmt.Errorf("event already released")
	}
	return e.d, nil
}

func (e *simEvent) Release() {
	if e.released {
		return
	}
	e.released = true
	e.ctx.mu.Lock()
	e.ctx.liveEvents--
	e.ctx.mu.Unlock()
}

// parseDefines extracts "-D NAME=value" and "-D FLAG" compiler options.
// Flags without a value are recorded as 1.
func parseDefines(options string) (map[string]int, error) {
	defines := make(map[string]int)
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		var def string
		switch {
		case fields[i] == "-D" && i+1 < len(fields):
			i++
			def = fields[i]
		case strings.HasPrefix(fields[i], "-D"):
			def = strings.TrimPrefix(fields[i], "-D")
		default:
			continue
		}
		name, value, found := strings.Cut(def, "=")
		if !found {
			defines[name] = 1
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("bad macro definition %q: %w", def, err)
		}
		defines[name] = n
	}
	return defines, nil
}
