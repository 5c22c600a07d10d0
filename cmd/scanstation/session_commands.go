package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"scanstation/internal/api"
	"scanstation/internal/workflow"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and list capture sessions",
	}
	cmd.AddCommand(newSessionCreateCommand(ctx))
	cmd.AddCommand(newSessionListCommand(ctx))
	return cmd
}

func newSessionCreateCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "create <name|dir>",
		Short: "Create an empty capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := ctx.sessionDir(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = filepath.Base(dir)
			}
			session, err := workflow.Create(dir, title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s) at %s\n", session.Name(), session.ID(), session.Dir())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Display name (defaults to the directory name)")
	return cmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions in the sessions directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sessions, err := workflow.List(cfg.SessionsDir())
			if err != nil {
				return err
			}
			summaries := make([]api.SessionSummary, 0, len(sessions))
			for _, s := range sessions {
				summaries = append(summaries, api.FromSession(s))
			}
			if jsonOutput {
				return writeJSON(cmd, summaries)
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintf(out, "No sessions in %s\n", cfg.SessionsDir())
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			total := 0
			for _, s := range summaries {
				step := s.Step
				if s.StepDone {
					step += " (done)"
				}
				total += s.PageCount
				rows = append(rows, []string{s.Name, step, strconv.Itoa(s.PageCount), s.Dir})
			}
			fmt.Fprintln(out, renderTable(
				[]column{col("Session"), col("Step"), numCol("Pages"), col("Directory")},
				rows,
				tableOptions{footer: []string{fmt.Sprintf("%d sessions", len(summaries)), "", strconv.Itoa(total), ""}},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print sessions as JSON")
	return cmd
}
