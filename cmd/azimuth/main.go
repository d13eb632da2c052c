package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/config"
	"github.com/xrdlabs/azimuth/internal/logger"
)

// appState carries the configuration and logger loaded by the app's Before
// hook into the command actions.
type appState struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	var configPath string
	state := &appState{}

	app := &cli.App{
		Name:  "azimuth",
		Usage: "GPU-accelerated 1D azimuthal integration of detector images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       "config.yaml",
				Usage:       "Path to the configuration file",
				EnvVars:     []string{"AZIMUTH_CONFIG"},
				Destination: &configPath,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity)
			if err != nil {
				return err
			}
			state.cfg = cfg
			state.log = zapLogger.Named("cli")
			startMetricsServer(state)
			return nil
		},
		Commands: []*cli.Command{
			devicesCommand(state),
			integrateCommand(state),
			benchCommand(state),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if state.log != nil {
			state.log.Fatal("failed to run app", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func startMetricsServer(state *appState) {
	addr := state.cfg.Metrics.ListenAddress
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		state.log.Info("Serving metrics", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			state.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
