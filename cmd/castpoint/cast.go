package main

import (
	"context"

	"github.com/spf13/cobra"
)

func castCommand() *cobra.Command {
	var device string
	var feed string
	var noPlay bool

	cmd := &cobra.Command{
		Use:   "cast [uri]",
		Short: "Load media onto a renderer",
		Long:  "Load a media URI onto a renderer, or the newest enclosure of an RSS/Atom feed with --feed.",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			// Feed fetch plus SOAP exchange can exceed the usual timeout.
			ctx, cancel := withTimeout(context.Background(), 3*app.timeout)
			defer cancel()

			uri := ""
			if len(args) == 1 {
				uri = args[0]
			}

			result, err := app.service.Cast(ctx, app.node, device, uri, feed, !noPlay)
			if err != nil {
				return err
			}
			if app.quiet {
				return nil
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "target device selector")
	cmd.Flags().StringVar(&feed, "feed", "", "cast the newest enclosure of this feed URL")
	cmd.Flags().BoolVar(&noPlay, "no-play", false, "load without starting playback")

	return cmd
}
