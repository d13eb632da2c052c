package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/azim"
	"github.com/xrdlabs/azimuth/internal/cl"
)

func integrateCommand(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "integrate",
		Usage: "Integrate a detector image into a 1D angular histogram",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "Raw float32 detector image", Required: true},
			&cli.StringFlag{Name: "tth", Usage: "Raw float32 per-pixel scattering angles", Required: true},
			&cli.StringFlag{Name: "dtth", Usage: "Raw float32 per-pixel angular half-widths", Required: true},
			&cli.Float64Flag{Name: "tth-min", Usage: "Lower bound of the angular range", Required: true},
			&cli.Float64Flag{Name: "tth-max", Usage: "Upper bound of the angular range", Required: true},
			&cli.StringFlag{Name: "solid-angle", Usage: "Raw float32 solid-angle coefficients"},
			&cli.StringFlag{Name: "mask", Usage: "Raw int32 pixel mask (nonzero excludes)"},
			&cli.Float64Flag{Name: "dark", Usage: "Uniform dark-current level to subtract"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default stdout)"},
		},
		Action: func(c *cli.Context) error {
			return runIntegrate(state, c)
		},
	}
}

func runIntegrate(state *appState, c *cli.Context) error {
	log := state.log.Named("integrate")
	nimage := state.cfg.Integration.Nimage

	image, err := readRawFloats(c.String("image"), nimage)
	if err != nil {
		return err
	}
	tth, err := readRawFloats(c.String("tth"), nimage)
	if err != nil {
		return err
	}
	dtth, err := readRawFloats(c.String("dtth"), nimage)
	if err != nil {
		return err
	}

	ig, err := newIntegrator(state)
	if err != nil {
		return err
	}
	defer ig.Clean(false)

	if path := c.String("solid-angle"); path != "" {
		coeffs, err := readRawFloats(path, nimage)
		if err != nil {
			return err
		}
		if err := ig.SetSolidAngle(coeffs); err != nil {
			return err
		}
	}
	if path := c.String("mask"); path != "" {
		mask, err := readRawInts(path, nimage)
		if err != nil {
			return err
		}
		if err := ig.SetMask(mask); err != nil {
			return err
		}
	}
	if c.IsSet("dark") {
		if err := ig.SetDark(float32(c.Float64("dark"))); err != nil {
			return err
		}
	}

	tthMin := float32(c.Float64("tth-min"))
	tthMax := float32(c.Float64("tth-max"))
	if err := ig.LoadTwoTheta(tth, dtth, tthMin, tthMax); err != nil {
		return err
	}

	histogram, weights, err := ig.Execute(image)
	if err != nil {
		return err
	}

	timings := ig.Timings()
	log.Info("integration complete",
		zap.Duration("transfer", timings.Transfer),
		zap.Duration("execution", timings.Execution))

	return writeResult(c.String("out"), histogram, weights, tthMin, tthMax)
}

// newIntegrator builds, initialises and configures an integrator from the
// loaded configuration.
func newIntegrator(state *appState) (*azim.Integrator, error) {
	backend, err := cl.New(state.cfg.Device.Backend, state.log)
	if err != nil {
		return nil, err
	}
	ig := azim.New(backend, state.log)
	if err := ig.Init(cl.ContextOptions{
		PlatformID: state.cfg.Device.PlatformID,
		DeviceID:   state.cfg.Device.DeviceID,
		DeviceType: state.cfg.Device.Type,
	}); err != nil {
		return nil, err
	}
	if err := ig.SetConfiguration(azim.Config{
		Nx:      state.cfg.Integration.Nx,
		Nimage:  state.cfg.Integration.Nimage,
		Nbins:   state.cfg.Integration.Nbins,
		UseFP64: state.cfg.Integration.UseFP64,
	}); err != nil {
		return nil, err
	}
	if err := ig.Configure(state.cfg.KernelPath); err != nil {
		return nil, err
	}
	return ig, nil
}

// writeResult emits one line per bin: bin centre, mean intensity and the
// summed pixel weight.
func writeResult(path string, histogram, weights []float32, tthMin, tthMax float32) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	binWidth := (tthMax - tthMin) / float32(len(histogram))
	fmt.Fprintln(w, "# tth intensity weight")
	for b := range histogram {
		center := tthMin + (float32(b)+0.5)*binWidth
		intensity := float32(0)
		if weights[b] != 0 {
			intensity = histogram[b] / weights[b]
		}
		fmt.Fprintf(w, "%g %g %g\n", center, intensity, weights[b])
	}
	return nil
}

// readRawFloats loads a little-endian raw float32 array and checks its
// element count against the configured geometry.
func readRawFloats(path string, n int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != n*4 {
		return nil, fmt.Errorf("%s: expected %d float32 values (%d bytes), got %d bytes",
			path, n, n*4, len(data))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

func readRawInts(path string, n int) ([]int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != n*4 {
		return nil, fmt.Errorf("%s: expected %d int32 values (%d bytes), got %d bytes",
			path, n, n*4, len(data))
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
