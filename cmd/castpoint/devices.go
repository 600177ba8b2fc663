package main

import (
	"context"

	"github.com/spf13/cobra"
)

func devicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List discovered media renderers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Devices(ctx, app.node)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	return cmd
}
