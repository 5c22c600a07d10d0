package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scanstation/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running capture session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				var lines []string
				if status.Capture != nil {
					lines = append(lines, renderCaptureLines(*status.Capture, colorize)...)
				} else {
					lines = append(lines, renderStatusLine("Capture", statusWarn, "not running", colorize))
				}
				lines = append(lines, renderStatusLine("Session dir", statusInfo, status.SessionDir, colorize))
				if status.APIAddress != "" {
					lines = append(lines, renderStatusLine("HTTP API", statusInfo, "http://"+status.APIAddress, colorize))
				}
				fmt.Fprintln(out, strings.Join(lines, "\n"))

				if status.Capture != nil && len(status.Capture.LastPages) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderLastPages(status.Capture.LastPages))
				}
				if len(status.Devices) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderDevices(status.Devices))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status as JSON")
	return cmd
}
