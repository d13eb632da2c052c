// Package cl defines the compute-backend interface the azimuthal integrator
// drives: context and queue creation, buffer allocation, program compilation
// with macro definitions, kernel creation and argument binding, blocking
// enqueues and profiled completion events.
//
// The integrator core depends only on these capabilities. The OpenCL
// implementation lives behind the "opencl" build tag; the simulated backend
// is always available and is what the tests use.
package cl

import (
	"fmt"
	"time"
)

// DeviceInfo describes the device backing a context.
type DeviceInfo struct {
	Name            string `json:"name"`
	Vendor          string `json:"vendor"`
	Version         string `json:"version"`
	Type            string `json:"type"` // "gpu", "cpu", "accelerator", ...
	GlobalMemory    int64  `json:"globalMemory"`    // in bytes, 0 if unknown
	MaxComputeUnits int    `json:"maxComputeUnits"`
}

// ContextOptions selects the device a context is created on.
type ContextOptions struct {
	PlatformID int
	DeviceID   int
	// DeviceType restricts selection: "gpu", "cpu" or "all".
	DeviceType string
}

// MemFlag declares how the device may access a buffer.
type MemFlag int

const (
	MemReadOnly MemFlag = iota
	MemReadWrite
)

// Backend creates device contexts. Implementations: OpenCL (build tag
// "opencl") and the simulated backend.
type Backend interface {
	// Name returns the short backend name, e.g. "opencl" or "sim".
	Name() string

	// IsAvailable performs a quick probe without heavy initialization.
	IsAvailable() bool

	// CreateContext creates a device context. The caller owns it and must
	// Release it.
	CreateContext(opts ContextOptions) (Context, error)
}

// Context owns a device binding and creates the resources tied to it.
type Context interface {
	Device() DeviceInfo

	// CreateQueue creates an in-order command queue. Profiling enables
	// device timestamps on the events the queue returns.
	CreateQueue(profiling bool) (Queue, error)

	// CreateBuffer allocates size bytes of device memory.
	CreateBuffer(flags MemFlag, size int64) (Buffer, error)

	// CompileProgram builds the device program from source with the given
	// compiler options (macro definitions such as "-D BINS=1000").
	CompileProgram(source string, options string) (Program, error)

	Release() error
}

// Queue issues blocking device operations. Every operation returns a
// completion Event carrying device-reported timing; the caller must Release
// each event after reading it.
type Queue interface {
	// Write copies host data into a device buffer, blocking.
	Write(dst Buffer, data []byte) (Event, error)

	// Read copies a device buffer back to host memory, blocking.
	Read(src Buffer, data []byte) (Event, error)

	// Run enqueues a kernel over global work-items in groups of local,
	// blocking until completion.
	Run(k Kernel, global, local int) (Event, error)

	// Finish blocks until every command issued on the queue has drained.
	Finish() error

	Release() error
}

// Buffer is an opaque device allocation.
type Buffer interface {
	Size() int64
	Release() error
}

// Program is a compiled device program.
type Program interface {
	// CreateKernel instantiates the named entry point.
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is one compiled entry point with positional argument slots.
type Kernel interface {
	Name() string

	// SetArg binds a buffer to the argument slot at index. The slot order
	// is a contract with the compiled program's parameter list.
	SetArg(index int, buf Buffer) error

	Release() error
}

// Event is a completed operation's profiling handle.
type Event interface {
	// Duration returns the device-reported execution time.
	Duration() (time.Duration, error)

	// Release frees the event. Events are retained by the backend until
	// released; leaking them grows device resources without bound.
	Release()
}

// CallError wraps a failed backend call with the call site name, preserving
// the backend's diagnostic text.
type CallError struct {
	Call string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Call, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
