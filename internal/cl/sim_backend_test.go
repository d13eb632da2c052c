package cl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseDefines(t *testing.T) {
	defines, err := parseDefines("-D BINS=256 -D NX=2048 -DNN=4194304 -D WGSIZE=128 -D ENABLE_FP64")
	require.NoError(t, err)
	assert.Equal(t, 256, defines["BINS"])
	assert.Equal(t, 2048, defines["NX"])
	assert.Equal(t, 4194304, defines["NN"])
	assert.Equal(t, 128, defines["WGSIZE"])
	assert.Equal(t, 1, defines["ENABLE_FP64"], "valueless macros default to 1")

	_, err = parseDefines("-D BINS=many")
	assert.Error(t, err)
}

func TestBufferWriteReadRoundtrip(t *testing.T) {
	ctx := newSimContext(t)

	buf, err := ctx.CreateBuffer(MemReadWrite, 8)
	require.NoError(t, err)

	queue, err := ctx.CreateQueue(true)
	require.NoError(t, err)

	ev, err := queue.Write(buf, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	ev.Release()

	out := make([]byte, 8)
	ev, err = queue.Read(buf, out)
	require.NoError(t, err)
	ev.Release()
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out)

	// Oversized transfers are refused rather than truncated.
	_, err = queue.Write(buf, make([]byte, 9))
	assert.Error(t, err)
	_, err = queue.Read(buf, make([]byte, 9))
	assert.Error(t, err)
}

func TestJournalRecordsQueueOperations(t *testing.T) {
	ctx := newSimContext(t)
	queue, err := ctx.CreateQueue(false)
	require.NoError(t, err)

	buf, err := ctx.CreateBuffer(MemReadOnly, 4)
	require.NoError(t, err)

	ev, err := queue.Write(buf, []byte{0, 0, 0, 0})
	require.NoError(t, err)
	ev.Release()
	require.NoError(t, queue.Finish())

	journal := ctx.Journal()
	require.Len(t, journal, 2)
	assert.Equal(t, JournalEntry{Op: "write", Bytes: 4}, journal[0])
	assert.Equal(t, JournalEntry{Op: "finish"}, journal[1])

	ctx.ResetJournal()
	assert.Empty(t, ctx.Journal())
}

func TestLiveCounters(t *testing.T) {
	ctx := newSimContext(t)

	buf, err := ctx.CreateBuffer(MemReadWrite, 16)
	require.NoError(t, err)
	queue, err := ctx.CreateQueue(true)
	require.NoError(t, err)
	program, err := ctx.CompileProgram("", "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4")
	require.NoError(t, err)
	kernel, err := program.CreateKernel("imemset")
	require.NoError(t, err)

	assert.Equal(t, 1, ctx.LiveBuffers())
	assert.Equal(t, 1, ctx.LiveQueues())
	assert.Equal(t, 1, ctx.LivePrograms())
	assert.Equal(t, 1, ctx.LiveKernels())

	require.NoError(t, buf.Release())
	require.NoError(t, queue.Release())
	require.NoError(t, kernel.Release())
	require.NoError(t, program.Release())

	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveQueues())
	assert.Equal(t, 0, ctx.LivePrograms())
	assert.Equal(t, 0, ctx.LiveKernels())

	// Release is idempotent; counters must not go negative.
	require.NoError(t, buf.Release())
	assert.Equal(t, 0, ctx.LiveBuffers())
}

func TestFaultInjection(t *testing.T) {
	backend := NewSimBackend(zap.NewNop())
	backend.FailCompile = true
	ctx, err := backend.CreateContext(ContextOptions{})
	require.NoError(t, err)

	_, err = ctx.CompileProgram("", "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4")
	assert.Error(t, err)

	backend.FailCompile = false
	backend.FailKernel = "ui2f2"
	program, err := ctx.CompileProgram("", "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4")
	require.NoError(t, err)
	_, err = program.CreateKernel("ui2f2")
	assert.Error(t, err)
	_, err = program.CreateKernel("imemset")
	assert.NoError(t, err)

	backend.FailCreateBufferAt = 2
	_, err = ctx.CreateBuffer(MemReadOnly, 4)
	assert.NoError(t, err)
	_, err = ctx.CreateBuffer(MemReadOnly, 4)
	assert.Error(t, err, "second allocation must hit the injected fault")
}

func TestRunRejectsInvalidLaunch(t *testing.T) {
	ctx := newSimContext(t)
	queue, err := ctx.CreateQueue(true)
	require.NoError(t, err)
	program, err := ctx.CompileProgram("", "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4")
	require.NoError(t, err)
	kernel, err := program.CreateKernel("imemset")
	require.NoError(t, err)

	// Unbound argument slot.
	_, err = queue.Run(kernel, 4, 4)
	assert.Error(t, err)

	buf, err := ctx.CreateBuffer(MemReadWrite, 16)
	require.NoError(t, err)
	require.NoError(t, kernel.SetArg(0, buf))

	// Global size not a multiple of the local size.
	_, err = queue.Run(kernel, 5, 4)
	assert.Error(t, err)

	ev, err := queue.Run(kernel, 4, 4)
	require.NoError(t, err)
	ev.Release()
}

func TestUnknownKernelRejected(t *testing.T) {
	ctx := newSimContext(t)
	program, err := ctx.CompileProgram("", "-D BINS=4 -D NX=4 -D NN=4 -D WGSIZE=4")
	require.NoError(t, err)
	_, err = program.CreateKernel("bilinear_interpolation")
	assert.Error(t, err)
}

func newSimContext(t *testing.T) *SimContext {
	t.Helper()
	ctx, err := NewSimBackend(zap.NewNop()).CreateContext(ContextOptions{})
	require.NoError(t, err)
	return ctx.(*SimContext)
}
