package main

import (
	"context"

	"github.com/spf13/cobra"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status [device]",
		Short: "Show player status",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			device := ""
			if len(args) == 1 {
				device = args[0]
			}
			if watch {
				return watchStatus(cmd, app, device)
			}
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.Status(ctx, app.node, device)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-query status on device events")

	return cmd
}

// watchStatus prints the current state, then re-queries whenever the node
// publishes a device event, until interrupted.
func watchStatus(cmd *cobra.Command, app *app, device string) error {
	ctx := cmd.Context()

	queryCtx, cancel := withTimeout(ctx, app.timeout)
	result, err := app.service.Status(queryCtx, app.node, device)
	cancel()
	if err != nil {
		return err
	}
	if err := app.printer.Print(result); err != nil {
		return err
	}

	events, errs, err := app.service.WatchEvents(ctx, app.node)
	if err != nil {
		return err
	}

	for {
		select {
		case _, ok := <-events:
			if !ok {
				return nil
			}
			queryCtx, cancel := withTimeout(ctx, app.timeout)
			result, err := app.service.Status(queryCtx, app.node, device)
			cancel()
			if err != nil {
				return err
			}
			if err := app.printer.Print(result); err != nil {
				return err
			}
		case err := <-errs:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
