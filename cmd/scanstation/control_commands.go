package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scanstation/internal/api"
	"scanstation/internal/ipc"
	"scanstation/internal/workflow"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newTriggerCommand(ctx, false),
		newTriggerCommand(ctx, true),
		newFinishCommand(ctx),
		newKeyCommand(ctx),
		newCropCommand(ctx),
		newOverlayCommand(ctx),
	}
}

func newTriggerCommand(ctx *commandContext, retake bool) *cobra.Command {
	use, short := "trigger", "Capture the next page(s)"
	if retake {
		use, short = "retake", "Replace the most recent capture"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Trigger(retake)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Forwarded {
					fmt.Fprintln(out, "Devices are busy; request ignored")
					return nil
				}
				if retake {
					fmt.Fprintln(out, "Retake requested")
				} else {
					fmt.Fprintln(out, "Capture requested")
				}
				return nil
			})
		},
	}
}

func newFinishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "End the capture phase of the running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Finish(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Capture finishing")
				return nil
			})
		},
	}
}

func newKeyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "key <key>",
		Short: "Press a shortcut key in the running session",
		Long:  "Press a shortcut key as if it were typed in the capture terminal. Use \"space\" for the spacebar.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PressKey(args[0])
				if err != nil {
					return err
				}
				if !resp.Handled {
					return fmt.Errorf("no shortcut bound to %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pressed %s\n", args[0])
				return nil
			})
		},
	}
}

func newCropCommand(ctx *commandContext) *cobra.Command {
	var rect api.Rect

	cmd := &cobra.Command{
		Use:   "crop <odd|even>",
		Short: "Set the crop rectangle applied to odd or even pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parity, err := workflow.ParseParity(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetCrop(ipc.CropRequest{Parity: string(parity), Rect: rect})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Crop for %s pages set to %dx%d+%d+%d\n",
					resp.Parity, rect.Width, rect.Height, rect.Left, rect.Top)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&rect.Left, "left", 0, "Left edge in native pixels")
	cmd.Flags().IntVar(&rect.Top, "top", 0, "Top edge in native pixels")
	cmd.Flags().IntVar(&rect.Width, "width", 0, "Width in native pixels")
	cmd.Flags().IntVar(&rect.Height, "height", 0, "Height in native pixels")
	cmd.Flags().IntVar(&rect.NativeWidth, "native-width", 0, "Width of the image the rectangle was drawn on")
	cmd.Flags().IntVar(&rect.NativeHeight, "native-height", 0, "Height of the image the rectangle was drawn on")
	for _, name := range []string{"width", "height", "native-width", "native-height"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the crop rectangles for both parities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.ClearCrop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Crop rectangles cleared")
				return nil
			})
		},
	})
	return cmd
}

func newOverlayCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overlay",
		Short: "Open or close dialogs in the presentation layer",
	}

	run := func(req ipc.OverlayRequest) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Overlay(req)
				if err != nil {
					return err
				}
				overlay := resp.Capture.Overlay
				if overlay == "" {
					overlay = "none"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Overlay: %s\n", overlay)
				return nil
			})
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Open the device configuration dialog",
		Args:  cobra.NoArgs,
		RunE:  run(ipc.OverlayRequest{Kind: "config"}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Close the open dialog",
		Args:  cobra.NoArgs,
		RunE:  run(ipc.OverlayRequest{}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "crop <odd|even>",
		Short: "Open the crop dialog for odd or even pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ipc.OverlayRequest{Kind: "crop", Parity: strings.ToLower(args[0])})(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "lightbox <page>",
		Short: "Show a captured page full size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[0])
			if err != nil || page < 1 {
				return fmt.Errorf("invalid page number %q", args[0])
			}
			return run(ipc.OverlayRequest{Kind: "lightbox", Page: page})(cmd, args)
		},
	})
	return cmd
}
