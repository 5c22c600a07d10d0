package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"scanstation/internal/ipc"
)

func newDeviceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect and configure the capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDevices(status.Devices))
				return nil
			})
		},
	}
	cmd.AddCommand(newDeviceSettingsCommand(ctx))
	cmd.AddCommand(newDeviceSetCommand(ctx))
	return cmd
}

func newDeviceSettingsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the session's device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Settings()
				if err != nil {
					return err
				}
				s := resp.Settings
				rows := [][]string{
					{"iso", formatISO(s.ISO)},
					{"shutter_speed", orDash(s.ShutterSpeed)},
					{"zoom", fmt.Sprintf("%g", s.Zoom)},
					{"parallel_capture", optionalBool(s.ParallelCapture)},
					{"flip_target_pages", optionalBool(s.FlipTargetPages)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{col("Setting"), col("Value")}, rows,
					tableOptions{title: "Device settings"}))
				return nil
			})
		},
	}
}

func newDeviceSetCommand(ctx *commandContext) *cobra.Command {
	var (
		iso      int
		shutter  string
		zoom     float64
		parallel bool
		flip     bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save device settings and reconfigure the cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				current, err := client.Settings()
				if err != nil {
					return err
				}
				settings := current.Settings
				flags := cmd.Flags()
				if flags.Changed("iso") {
					settings.ISO = iso
				}
				if flags.Changed("shutter") {
					settings.ShutterSpeed = shutter
				}
				if flags.Changed("zoom") {
					settings.Zoom = zoom
				}
				if flags.Changed("parallel") {
					settings.ParallelCapture = &parallel
				}
				if flags.Changed("flip") {
					settings.FlipTargetPages = &flip
				}

				resp, err := client.SaveConfig(ipc.SaveConfigRequest{Settings: settings})
				if err != nil {
					return err
				}
				if !resp.Saved {
					return errors.New("invalid device settings: " + formatFieldErrors(resp.Fields))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Device settings saved; reconfiguring cameras")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&iso, "iso", 0, "Sensor sensitivity (0 for auto)")
	cmd.Flags().StringVar(&shutter, "shutter", "", `Shutter speed such as "1/125"`)
	cmd.Flags().Float64Var(&zoom, "zoom", 0, "Zoom level")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Trigger both cameras at once")
	cmd.Flags().BoolVar(&flip, "flip", false, "Swap the odd and even camera")
	return cmd
}

func formatISO(iso int) string {
	if iso == 0 {
		return "auto"
	}
	return fmt.Sprintf("%d", iso)
}

func optionalBool(value *bool) string {
	if value == nil {
		return "config default"
	}
	return yesNo(*value)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
