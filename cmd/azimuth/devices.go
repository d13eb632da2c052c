package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xrdlabs/azimuth/internal/cl"
)

func devicesCommand(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Show the compute device the configured backend selects",
		Action: func(c *cli.Context) error {
			backend, err := cl.New(state.cfg.Device.Backend, state.log)
			if err != nil {
				return err
			}
			ctx, err := backend.CreateContext(cl.ContextOptions{
				PlatformID: state.cfg.Device.PlatformID,
				DeviceID:   state.cfg.Device.DeviceID,
				DeviceType: state.cfg.Device.Type,
			})
			if err != nil {
				state.log.Error("failed to create device context", zap.Error(err))
				return err
			}
			defer ctx.Release()

			out, err := json.MarshalIndent(ctx.Device(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\n%s\n", backend.Name(), out)
			return nil
		},
	}
}
