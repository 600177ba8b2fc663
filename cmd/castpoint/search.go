package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func searchCommand() *cobra.Command {
	var searchFor time.Duration
	var stop bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Start or stop SSDP device discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if stop {
				result, err := app.service.SearchStop(ctx, app.node)
				if err != nil {
					return err
				}
				return app.printer.Print(result)
			}

			result, err := app.service.SearchStart(ctx, app.node, searchFor)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().DurationVar(&searchFor, "for", 0, "search duration (node default when unset)")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop an in-flight search")

	return cmd
}
