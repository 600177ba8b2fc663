package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/castpoint/castpoint/internal/core"
)

func eventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream device events from a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx := cmd.Context()

			events, errs, err := app.service.WatchEvents(ctx, app.node)
			if err != nil {
				return err
			}

			for {
				select {
				case evt, ok := <-events:
					if !ok {
						return nil
					}
					if app.json {
						if err := app.printer.Print(core.RawResult{Data: evt}); err != nil {
							return err
						}
						continue
					}
					ts := time.Unix(evt.TS, 0).Format(time.RFC3339)
					if _, err := fmt.Fprintf(os.Stdout, "%s %s %s\n", ts, evt.Type, evt.DeviceID); err != nil {
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
		},
	}

	return cmd
}
