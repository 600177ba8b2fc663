package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func volumeCommand() *cobra.Command {
	var mute bool
	var unmute bool

	cmd := &cobra.Command{
		Use:   "vol [device] [0..100]",
		Short: "Set volume or mute",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if mute && unmute {
				return fmt.Errorf("use only --mute or --unmute")
			}

			device := ""
			volArg := ""
			switch len(args) {
			case 1:
				if looksLikeVolume(args[0]) && !mute && !unmute {
					volArg = args[0]
				} else {
					device = args[0]
				}
			case 2:
				device = args[0]
				volArg = args[1]
			}

			if mute || unmute {
				if err := app.service.SetMute(ctx, app.node, device, mute); err != nil {
					return err
				}
				return app.ack()
			}

			if volArg == "" {
				return fmt.Errorf("volume value required")
			}
			volume, err := strconv.Atoi(volArg)
			if err != nil {
				return fmt.Errorf("invalid volume %q", volArg)
			}
			if err := app.service.SetVolume(ctx, app.node, device, volume); err != nil {
				return err
			}
			return app.ack()
		},
	}

	cmd.Flags().BoolVar(&mute, "mute", false, "mute output")
	cmd.Flags().BoolVar(&unmute, "unmute", false, "unmute output")

	return cmd
}

func looksLikeVolume(arg string) bool {
	if arg == "" {
		return false
	}
	return arg[0] >= '0' && arg[0] <= '9'
}
