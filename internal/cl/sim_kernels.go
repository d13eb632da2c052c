package cl

import (
	"fmt"
	"math"
	"unsafe"

	"gonum.org/v1/gonum/floats"
)

// Host reference implementations of the device program's entry points,
// dispatched by name. Argument slot order is the contract the integrator
// binds against; it must match the OpenCL program's parameter lists.
var kernelArity = map[string]int{
	"create_histo_binarray": 9,
	"uimemset2":             2,
	"imemset":               1,
	"ui2f2":                 4,
	"get_spans":             4,
	"group_spans":           1,
	"solidangle_correction": 2,
	"dummyval_correction":   3,
}

// fixedScale converts float contributions to the fixed-point accumulators.
// Accumulating in integers keeps device-side addition atomic-safe; the sim
// mirrors that so conversion rounding matches between backends.
const fixedScale = 1 << 16

func f32view(b *simBuffer) []float32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

func i32view(b *simBuffer) []int32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

func u32view(b *simBuffer) []uint32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

func u64view(b *simBuffer) []uint64 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b.data[0])), len(b.data)/8)
}

// accumulator abstracts the two fixed-point widths behind the ENABLE_FP64
// compile-time switch.
type accumulator struct {
	wide   []uint64
	narrow []uint32
}

func accView(b *simBuffer, fp64 bool) accumulator {
	if fp64 {
		return accumulator{wide: u64view(b)}
	}
	return accumulator{narrow: u32view(b)}
}

func (a accumulator) add(i int, v uint64) {
	if a.wide != nil {
		a.wide[i] += v
		return
	}
	a.narrow[i] += uint32(v)
}

func (a accumulator) get(i int) uint64 {
	if a.wide != nil {
		return a.wide[i]
	}
	return uint64(a.narrow[i])
}

func (a accumulator) len() int {
	if a.wide != nil {
		return len(a.wide)
	}
	return len(a.narrow)
}

func (a accumulator) zero() {
	for i := range a.wide {
		a.wide[i] = 0
	}
	for i := range a.narrow {
		a.narrow[i] = 0
	}
}

func runSimKernel(k *simKernel, local int) error {
	defs := k.program.defines
	bins := defs["BINS"]
	nn := defs["NN"]
	fp64 := defs["ENABLE_FP64"] != 0

	switch k.name {
	case "uimemset2":
		accView(k.args[0], fp64).zero()
		accView(k.args[1], fp64).zero()

	case "imemset":
		mask := i32view(k.args[0])
		for i := range mask {
			mask[i] = 0
		}

	case "ui2f2":
		uweights := accView(k.args[0], fp64)
		uhist := accView(k.args[1], fp64)
		weights := f32view(k.args[2])
		hist := f32view(k.args[3])
		for b := 0; b < bins && b < uhist.len(); b++ {
			weights[b] = float32(float64(uweights.get(b)) / fixedScale)
			hist[b] = float32(float64(uhist.get(b)) / fixedScale)
		}

	case "get_spans":
		dtth := f32view(k.args[1])
		span := f32view(k.args[3])
		for i := 0; i < nn && i < len(span); i++ {
			span[i] = 2 * dtth[i]
		}

	case "group_spans":
		// Reduce per-pixel spans to one max per work-group; the integration
		// kernel uses the group maxima to bound its bin search.
		span := f32view(k.args[0])
		span64 := make([]float64, local)
		for start := 0; start+local <= nn; start += local {
			for j := 0; j < local; j++ {
				span64[j] = float64(span[start+j])
			}
			span[start/local] = float32(floats.Max(span64))
		}

	case "solidangle_correction":
		image := f32view(k.args[0])
		solid := f32view(k.args[1])
		for i := 0; i < nn && i < len(image); i++ {
			if solid[i] != 0 {
				image[i] /= solid[i]
			}
		}

	case "dummyval_correction":
		image := f32view(k.args[0])
		dummy := f32view(k.args[1])[0]
		delta := f32view(k.args[2])[0]
		for i := 0; i < nn && i < len(image); i++ {
			if float32(math.Abs(float64(image[i]-dummy))) <= delta {
				image[i] = 0
			}
		}

	case "create_histo_binarray":
		return simIntegrate(k, bins, nn, fp64)

	default:
		return fmt.Errorf("kernel %q not implemented", k.name)
	}
	return nil
}

// simIntegrate distributes each unmasked pixel's intensity into the bins its
// angular span overlaps, weighted by the overlap fraction. Mask polarity:
// 0 includes the pixel, nonzero excludes it.
func simIntegrate(k *simKernel, bins, nn int, fp64 bool) error {
	tth := f32view(k.args[0])
	dtth := f32view(k.args[1])
	uweights := accView(k.args[2], fp64)
	image := f32view(k.args[4])
	uhist := accView(k.args[5], fp64)
	mask := i32view(k.args[7])
	rng := f32view(k.args[8])

	lo := float64(rng[0])
	hi := float64(rng[1])
	if bins <= 0 || hi <= lo {
		return fmt.Errorf("integration range [%g, %g) with %d bins is empty", lo, hi, bins)
	}
	binWidth := (hi - lo) / float64(bins)

	for i := 0; i < nn; i++ {
		if mask[i] != 0 {
			continue
		}
		center := float64(tth[i])
		half := float64(dtth[i])
		a := math.Max(center-half, lo)
		b := math.Min(center+half, hi)

		if half == 0 {
			if center < lo || center >= hi {
				continue
			}
			bin := int((center - lo) / binWidth)
			if bin >= bins {
				bin = bins - 1
			}
			uhist.add(bin, uint64(math.Round(float64(image[i])*fixedScale)))
			uweights.add(bin, uint64(fixedScale))
			continue
		}
		if b <= a {
			continue
		}

		b0 := int((a - lo) / binWidth)
		b1 := int((b - lo) / binWidth)
		if b1 >= bins {
			b1 = bins - 1
		}
		span := b - a
		for bin := b0; bin <= b1; bin++ {
			binLo := lo + float64(bin)*binWidth
			binHi := binLo + binWidth
			overlap := math.Min(b, binHi) - math.Max(a, binLo)
			if overlap <= 0 {
				continue
			}
			frac := overlap / span
			uhist.add(bin, uint64(math.Round(float64(image[i])*frac*fixedScale)))
			uweights.add(bin, uint64(math.Round(frac*fixedScale)))
		}
	}
	return nil
}
