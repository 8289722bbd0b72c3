package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamworks2050/dvd-archiver/internal/workflow"
)

func newCopyCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Archive pre-ripped image folders from the source directories",
		Long: "Scans the configured source directories for numbered folders that " +
			"contain disc images and archives the lowest unprocessed one. " +
			"With --all, keeps going until every discovered folder is archived.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			processed := 0
			for {
				stopRender := watchSteps(signalCtx, cmd.OutOrStdout(), engine.Steps)
				out := engine.RunCopy(signalCtx)
				stopRender()

				if errors.Is(out.Err, workflow.ErrNoWork) {
					if processed > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "Archived %d unit(s); nothing left to do.\n", processed)
						return nil
					}
					return &exitError{code: exitPrecondition, err: out.Err}
				}
				if err := reportOutcome(cmd, out); err != nil {
					return err
				}
				processed++
				if !all {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Archive every unprocessed folder, lowest identifier first")

	return cmd
}
