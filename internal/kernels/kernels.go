// Package kernels carries the embedded OpenCL program the integrator
// compiles when no external kernel file is configured.
package kernels

import _ "embed"

// DefaultSource is the bundled azimuthal integration program. It defines
// every entry point the integrator binds; the BINS, NX, NN and WGSIZE
// constants are supplied at compile time.
//
//go:embed azim_lut.cl
var DefaultSource string
