package cl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simHarness compiles the program and binds a fresh buffer per argument
// slot, sized in float32 elements.
type simHarness struct {
	t       *testing.T
	ctx     *SimContext
	queue   Queue
	program Program
}

func newSimHarness(t *testing.T, options string) *simHarness {
	t.Helper()
	ctx := newSimContext(t)
	queue, err := ctx.CreateQueue(true)
	require.NoError(t, err)
	program, err := ctx.CompileProgram("", options)
	require.NoError(t, err)
	return &simHarness{t: t, ctx: ctx, queue: queue, program: program}
}

func (h *simHarness) kernel(name string, args ...Buffer) Kernel {
	h.t.Helper()
	k, err := h.program.CreateKernel(name)
	require.NoError(h.t, err)
	for i, buf := range args {
		require.NoError(h.t, k.SetArg(i, buf))
	}
	return k
}

func (h *simHarness) floats(values []float32) Buffer {
	h.t.Helper()
	buf, err := h.ctx.CreateBuffer(MemReadWrite, int64(len(values))*4)
	require.NoError(h.t, err)
	copy(f32view(buf.(*simBuffer)), values)
	return buf
}

func (h *simHarness) ints(values []int32) Buffer {
	h.t.Helper()
	buf, err := h.ctx.CreateBuffer(MemReadWrite, int64(len(values))*4)
	require.NoError(h.t, err)
	view := i32view(buf.(*simBuffer))
	copy(view, values)
	return buf
}

func (h *simHarness) zeros(elems int, width int64) Buffer {
	h.t.Helper()
	buf, err := h.ctx.CreateBuffer(MemReadWrite, int64(elems)*width)
	require.NoError(h.t, err)
	return buf
}

func (h *simHarness) run(k Kernel, global, local int) {
	h.t.Helper()
	ev, err := h.queue.Run(k, global, local)
	require.NoError(h.t, err)
	ev.Release()
}

func readFloats(t *testing.T, buf Buffer) []float32 {
	t.Helper()
	view := f32view(buf.(*simBuffer))
	out := make([]float32, len(view))
	copy(out, view)
	return out
}

const tinyOptions = "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4"

func TestIntegrationKernelBinsByAngle(t *testing.T) {
	h := newSimHarness(t, tinyOptions)

	tth := h.floats([]float32{0.125, 0.375, 0.625, 0.875})
	dtth := h.floats([]float32{0, 0, 0, 0})
	uweights := h.zeros(4, 4)
	minMax := h.floats([]float32{0, 1})
	image := h.floats([]float32{1, 2, 3, 4})
	uhist := h.zeros(4, 4)
	spans := h.zeros(4, 4)
	mask := h.ints([]int32{0, 0, 0, 0})

	integrate := h.kernel("create_histo_binarray",
		tth, dtth, uweights, minMax, image, uhist, spans, mask, minMax)
	h.run(integrate, 4, 4)

	weights := h.zeros(4, 4)
	hist := h.zeros(4, 4)
	convert := h.kernel("ui2f2", uweights, uhist, weights, hist)
	h.run(convert, 4, 4)

	assert.InDeltaSlice(t, []float32{1, 1, 1, 1}, readFloats(t, weights), 1e-3)
	assert.InDeltaSlice(t, []float32{1, 2, 3, 4}, readFloats(t, hist), 1e-3)
}

func TestIntegrationKernelSplitsOverlap(t *testing.T) {
	h := newSimHarness(t, "-D BINS=4 -D NX=1 -D NN=1 -D WGSIZE=1")

	// One pixel whose angular window [0.25, 0.75] covers bins 1 and 2
	// equally.
	tth := h.floats([]float32{0.5})
	dtth := h.floats([]float32{0.25})
	uweights := h.zeros(4, 4)
	minMax := h.floats([]float32{0, 1})
	image := h.floats([]float32{8})
	uhist := h.zeros(4, 4)
	spans := h.zeros(1, 4)
	mask := h.ints([]int32{0})

	integrate := h.kernel("create_histo_binarray",
		tth, dtth, uweights, minMax, image, uhist, spans, mask, minMax)
	h.run(integrate, 1, 1)

	weights := h.zeros(4, 4)
	hist := h.zeros(4, 4)
	h.run(h.kernel("ui2f2", uweights, uhist, weights, hist), 4, 4)

	assert.InDeltaSlice(t, []float32{0, 0.5, 0.5, 0}, readFloats(t, weights), 1e-3)
	assert.InDeltaSlice(t, []float32{0, 4, 4, 0}, readFloats(t, hist), 1e-3)
}

func TestIntegrationKernelHonorsMask(t *testing.T) {
	h := newSimHarness(t, tinyOptions)

	tth := h.floats([]float32{0.125, 0.375, 0.625, 0.875})
	dtth := h.floats([]float32{0, 0, 0, 0})
	uweights := h.zeros(4, 4)
	minMax := h.floats([]float32{0, 1})
	image := h.floats([]float32{1, 1, 1, 1})
	uhist := h.zeros(4, 4)
	spans := h.zeros(4, 4)
	mask := h.ints([]int32{0, 1, 0, 1})

	integrate := h.kernel("create_histo_binarray",
		tth, dtth, uweights, minMax, image, uhist, spans, mask, minMax)
	h.run(integrate, 4, 4)

	weights := h.zeros(4, 4)
	hist := h.zeros(4, 4)
	h.run(h.kernel("ui2f2", uweights, uhist, weights, hist), 4, 4)

	assert.InDeltaSlice(t, []float32{1, 0, 1, 0}, readFloats(t, weights), 1e-3)
}

func TestResetKernels(t *testing.T) {
	h := newSimHarness(t, tinyOptions)

	uweights := h.floats([]float32{1, 2, 3, 4})
	uhist := h.floats([]float32{5, 6, 7, 8})
	h.run(h.kernel("uimemset2", uweights, uhist), 4, 4)
	assert.Equal(t, []float32{0, 0, 0, 0}, readFloats(t, uweights))
	assert.Equal(t, []float32{0, 0, 0, 0}, readFloats(t, uhist))

	mask := h.ints([]int32{1, 1, 1, 1})
	h.run(h.kernel("imemset", mask), 4, 4)
	assert.Equal(t, []int32{0, 0, 0, 0}, i32view(mask.(*simBuffer)))
}

func TestCorrectionKernels(t *testing.T) {
	h := newSimHarness(t, tinyOptions)

	image := h.floats([]float32{2, 4, 6, 8})
	solid := h.floats([]float32{2, 2, 2, 2})
	h.run(h.kernel("solidangle_correction", image, solid), 4, 4)
	assert.InDeltaSlice(t, []float32{1, 2, 3, 4}, readFloats(t, image), 1e-6)

	dummy := h.floats([]float32{3})
	delta := h.floats([]float32{0.5})
	h.run(h.kernel("dummyval_correction", image, dummy, delta), 4, 4)
	assert.InDeltaSlice(t, []float32{1, 2, 0, 4}, readFloats(t, image), 1e-6,
		"pixels within delta of the dummy value are zeroed")
}

func TestSpanKernels(t *testing.T) {
	h := newSimHarness(t, tinyOptions)

	tth := h.floats([]float32{0.1, 0.3, 0.5, 0.7})
	dtth := h.floats([]float32{0.01, 0.04, 0.02, 0.03})
	minMax := h.floats([]float32{0, 1})
	spans := h.zeros(4, 4)

	h.run(h.kernel("get_spans", tth, dtth, minMax, spans), 4, 4)
	assert.InDeltaSlice(t, []float32{0.02, 0.08, 0.04, 0.06}, readFloats(t, spans), 1e-6)

	// One work-group of four pixels reduces to its maximum in slot 0.
	h.run(h.kernel("group_spans", spans), 4, 4)
	assert.InDelta(t, 0.08, readFloats(t, spans)[0], 1e-6)
}

func TestWidePrecisionAccumulators(t *testing.T) {
	h := newSimHarness(t, tinyOptions+" -D ENABLE_FP64")

	tth := h.floats([]float32{0.125, 0.375, 0.625, 0.875})
	dtth := h.floats([]float32{0, 0, 0, 0})
	uweights := h.zeros(4, 8)
	minMax := h.floats([]float32{0, 1})
	image := h.floats([]float32{1, 2, 3, 4})
	uhist := h.zeros(4, 8)
	spans := h.zeros(4, 4)
	mask := h.ints([]int32{0, 0, 0, 0})

	integrate := h.kernel("create_histo_binarray",
		tth, dtth, uweights, minMax, image, uhist, spans, mask, minMax)
	h.run(integrate, 4, 4)

	weights := h.zeros(4, 4)
	hist := h.zeros(4, 4)
	h.run(h.kernel("ui2f2", uweights, uhist, weights, hist), 4, 4)

	assert.InDeltaSlice(t, []float32{1, 2, 3, 4}, readFloats(t, hist), 1e-3)
	assert.Equal(t, uint64(1<<16), u64view(uweights.(*simBuffer))[0],
		"accumulation is 64-bit fixed point")
}
