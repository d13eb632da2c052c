//go:build integration
// +build integration

package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/azim"
	"github.com/xrdlabs/azimuth/internal/cl"
	"github.com/xrdlabs/azimuth/internal/logger"
)

func TestPipeline_EndToEnd(t *testing.T) {
	var ig *azim.Integrator

	app := fxtest.New(t,
		fx.Provide(
			func() (*zap.Logger, error) { return logger.New("debug") },
			func(log *zap.Logger) (cl.Backend, error) { return cl.New("sim", log) },
			azim.New,
		),
		fx.Populate(&ig),
	)
	app.RequireStart()
	defer app.RequireStop()

	cfg := azim.Config{Nx: 64, Nimage: 4096, Nbins: 100}
	require.NoError(t, ig.Init(cl.ContextOptions{DeviceType: "gpu"}))
	require.NoError(t, ig.SetConfiguration(cfg))
	require.NoError(t, ig.Configure(""))
	defer ig.Clean(false)

	// Linear angular ramp across the detector, one-bin half-width.
	tth := make([]float32, cfg.Nimage)
	dtth := make([]float32, cfg.Nimage)
	image := make([]float32, cfg.Nimage)
	for i := range tth {
		tth[i] = float32(i) / float32(cfg.Nimage)
		dtth[i] = 0.5 / float32(cfg.Nbins)
		image[i] = 100
	}
	require.NoError(t, ig.LoadTwoTheta(tth, dtth, 0, 1))

	histogram, weights, err := ig.Execute(image)
	require.NoError(t, err)
	require.Len(t, histogram, cfg.Nbins)

	// Total weight equals the number of contributing pixels, up to edge
	// truncation of the first and last windows.
	var totalWeight float64
	for _, w := range weights {
		totalWeight += float64(w)
	}
	assert.InDelta(t, float64(cfg.Nimage), totalWeight, float64(cfg.Nimage)/100)

	// A flat image integrates to a flat profile away from the edges.
	for b := 2; b < cfg.Nbins-2; b++ {
		if weights[b] == 0 {
			continue
		}
		assert.InDelta(t, 100.0, histogram[b]/weights[b], 0.5, "bin %d", b)
	}

	timings := ig.Timings()
	assert.Equal(t, 1, timings.Executions)
}
