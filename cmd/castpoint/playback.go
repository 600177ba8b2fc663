package main

import (
	"context"

	"github.com/spf13/cobra"
)

func playCommand() *cobra.Command {
	return simpleControl("play [device]", "Resume playback", func(ctx context.Context, app *app, device string) error {
		return app.service.Play(ctx, app.node, device)
	})
}

func pauseCommand() *cobra.Command {
	return simpleControl("pause [device]", "Pause playback", func(ctx context.Context, app *app, device string) error {
		return app.service.Pause(ctx, app.node, device)
	})
}

func stopCommand() *cobra.Command {
	return simpleControl("stop [device]", "Stop playback", func(ctx context.Context, app *app, device string) error {
		return app.service.Stop(ctx, app.node, device)
	})
}

func seekCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seek <position> [device]",
		Short: "Seek to a position (seconds, mm:ss or hh:mm:ss)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			device := ""
			if len(args) == 2 {
				device = args[1]
			}
			if err := app.service.Seek(ctx, app.node, device, args[0]); err != nil {
				return err
			}
			return app.ack()
		},
	}

	return cmd
}

func simpleControl(use string, short string, run func(ctx context.Context, app *app, device string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			device := ""
			if len(args) == 1 {
				device = args[0]
			}
			if err := run(ctx, app, device); err != nil {
				return err
			}
			return app.ack()
		},
	}
}
