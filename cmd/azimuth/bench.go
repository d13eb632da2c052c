package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

func benchCommand(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark the integration pipeline with synthetic images",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "iterations", Value: 10, Usage: "Number of integrations to run"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "Seed for the synthetic image generator"},
		},
		Action: func(c *cli.Context) error {
			return runBench(state, c.Int("iterations"), c.Int64("seed"))
		},
	}
}

func runBench(state *appState, iterations int, seed int64) error {
	figure.NewFigure("azimuth", "", true).Print()
	fmt.Println("")

	log := state.log.Named("bench")
	cfg := state.cfg.Integration

	ig, err := newIntegrator(state)
	if err != nil {
		return err
	}
	defer ig.Clean(false)

	info, err := ig.DeviceInfo()
	if err != nil {
		return err
	}
	fmt.Printf("Device:     %s (%s)\n", info.Name, info.Vendor)
	fmt.Printf("Geometry:   %d pixels -> %d bins (fp64=%v)\n\n", cfg.Nimage, cfg.Nbins, cfg.UseFP64)

	// Synthetic flat-detector geometry: angles grow linearly across the
	// image with a constant half-width of one bin.
	rng := rand.New(rand.NewSource(seed))
	tth := make([]float32, cfg.Nimage)
	dtth := make([]float32, cfg.Nimage)
	image := make([]float32, cfg.Nimage)
	for i := range tth {
		tth[i] = float32(i) / float32(cfg.Nimage)
		dtth[i] = 1.0 / float32(cfg.Nbins)
	}
	if err := ig.LoadTwoTheta(tth, dtth, 0, 1); err != nil {
		return err
	}

	elapsed := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		for p := range image {
			image[p] = rng.Float32() * 1000
		}
		started := time.Now()
		if _, _, err := ig.Execute(image); err != nil {
			return err
		}
		elapsed = append(elapsed, time.Since(started).Seconds()*1000)
	}

	mean, std := stat.MeanStdDev(elapsed, nil)
	timings := ig.Timings()
	log.Info("benchmark complete",
		zap.Int("iterations", iterations),
		zap.Duration("device_transfer", timings.Transfer),
		zap.Duration("device_execution", timings.Execution))

	fmt.Printf("Iterations: %d\n", iterations)
	fmt.Printf("Wall time:  %.3f ms/frame (stddev %.3f)\n", mean, std)
	fmt.Printf("Throughput: %.1f Mpixel/s\n", float64(cfg.Nimage)/mean/1000)
	return nil
}
