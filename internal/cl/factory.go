package cl

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns the backend selected by name: "opencl", "sim", or "" for
// auto-detection (OpenCL when compiled in and available, otherwise the
// simulated backend).
func New(name string, log *zap.Logger) (Backend, error) {
	switch name {
	case "sim":
		return NewSimBackend(log), nil
	case "opencl":
		backend := newOpenCLBackend(log)
		if backend == nil {
			return nil, fmt.Errorf("opencl backend requested but not compiled in (build with -tags opencl)")
		}
		return backend, nil
	case "":
		return autoDetect(log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func autoDetect(log *zap.Logger) Backend {
	if backend := newOpenCLBackend(log); backend != nil && backend.IsAvailable() {
		log.Info("Using OpenCL backend")
		return backend
	}
	log.Info("Using simulated backend (no OpenCL device available)")
	return NewSimBackend(log)
}
