//go:build !opencl
// +build !opencl

package cl

import "go.uber.org/zap"

// newOpenCLBackend returns nil when compiled without OpenCL support.
func newOpenCLBackend(logger *zap.Logger) Backend {
	return nil
}
