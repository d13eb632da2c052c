package azim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsetWithoutSet(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)

	assert.ErrorIs(t, ig.UnsetSolidAngle(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetFlat(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetDark(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetMask(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetDummyValue(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetRange(), ErrNothingToUndo)
}

func TestCorrectionsRequireConfigured(t *testing.T) {
	ig, _ := newTestIntegrator(t)

	coeffs := make([]float32, testConfig.Nimage)
	assert.ErrorIs(t, ig.SetSolidAngle(coeffs), ErrInvalidState)
	assert.ErrorIs(t, ig.SetFlat(coeffs), ErrInvalidState)
	assert.ErrorIs(t, ig.SetDark(0.1), ErrInvalidState)
	assert.ErrorIs(t, ig.SetMask(make([]int32, testConfig.Nimage)), ErrInvalidState)
	assert.ErrorIs(t, ig.SetDummyValue(-1, 0.5), ErrInvalidState)
	assert.ErrorIs(t, ig.SetRange(0, 1), ErrInvalidState)
}

func TestCorrectionCoefficientLengths(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)

	short := make([]float32, testConfig.Nimage/2)
	assert.ErrorIs(t, ig.SetSolidAngle(short), ErrInvalidConfig)
	assert.ErrorIs(t, ig.SetFlat(short), ErrInvalidConfig)
	assert.ErrorIs(t, ig.SetMask(make([]int32, 3)), ErrInvalidConfig)
}

func TestMaskExcludesPixels(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)
	loadUniformCalibration(t, ig, testConfig)

	// Exclude every odd pixel; each bin keeps half its contributors.
	mask := make([]int32, testConfig.Nimage)
	for i := range mask {
		if i%2 == 1 {
			mask[i] = 1
		}
	}
	require.NoError(t, ig.SetMask(mask))

	_, weights, err := ig.Execute(onesImage(testConfig))
	require.NoError(t, err)
	for b := range weights {
		assert.InDelta(t, 8.0, weights[b], 1e-3, "bin %d", b)
	}

	// Unset re-zeroes the device mask; a flag flip alone would leave the
	// stale exclusions in place.
	require.NoError(t, ig.UnsetMask())
	_, weights, err = ig.Execute(onesImage(testConfig))
	require.NoError(t, err)
	for b := range weights {
		assert.InDelta(t, 16.0, weights[b], 1e-3, "bin %d", b)
	}
}

func TestSetRangeRestrictsIntegration(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)
	loadUniformCalibration(t, ig, testConfig)

	// Restricting to the upper half re-spreads 64 pixels over all 8 bins.
	require.NoError(t, ig.SetRange(0.5, 1.0))
	_, weights, err := ig.Execute(onesImage(testConfig))
	require.NoError(t, err)
	for b := range weights {
		assert.InDelta(t, 8.0, weights[b], 1e-3, "bin %d", b)
	}

	// Unset restores the full calibration range.
	require.NoError(t, ig.UnsetRange())
	_, weights, err = ig.Execute(onesImage(testConfig))
	require.NoError(t, err)
	for b := range weights {
		assert.InDelta(t, 16.0, weights[b], 1e-3, "bin %d", b)
	}
}

func TestSetRangeRejectsEmptyInterval(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)
	assert.ErrorIs(t, ig.SetRange(1.0, 1.0), ErrInvalidConfig)
	assert.ErrorIs(t, ig.SetRange(2.0, 1.0), ErrInvalidConfig)
}

func TestDarkEnablesCorrectionStage(t *testing.T) {
	ig, backend := newConfigured(t, testConfig)
	loadUniformCalibration(t, ig, testConfig)
	ctx := backend.LastContext

	require.NoError(t, ig.SetDark(0.25))
	ctx.ResetJournal()
	_, _, err := ig.Execute(onesImage(testConfig))
	require.NoError(t, err)

	corrected := false
	for _, e := range ctx.Journal() {
		if e.Kernel == "solidangle_correction" {
			corrected = true
		}
	}
	assert.True(t, corrected)
	require.NoError(t, ig.UnsetDark())
}

func TestDummyValueToggle(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)
	require.NoError(t, ig.SetDummyValue(-10, 0.5))
	require.NoError(t, ig.UnsetDummyValue())
	assert.ErrorIs(t, ig.UnsetDummyValue(), ErrNothingToUndo)
}

func TestCorrectionFlagsResetOnReconfigure(t *testing.T) {
	ig, _ := newConfigured(t, testConfig)

	coeffs := make([]float32, testConfig.Nimage)
	for i := range coeffs {
		coeffs[i] = 1
	}
	require.NoError(t, ig.SetSolidAngle(coeffs))
	require.NoError(t, ig.SetRange(0.2, 0.8))

	require.NoError(t, ig.Configure(""))
	assert.ErrorIs(t, ig.UnsetSolidAngle(), ErrNothingToUndo)
	assert.ErrorIs(t, ig.UnsetRange(), ErrNothingToUndo)
}
