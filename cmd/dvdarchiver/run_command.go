package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamworks2050/dvd-archiver/internal/device"
	"github.com/dreamworks2050/dvd-archiver/internal/history"
	"github.com/dreamworks2050/dvd-archiver/internal/logging"
	"github.com/dreamworks2050/dvd-archiver/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Image the disc in the optical drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if wait {
				waitCtx := signalCtx
				if cfg.Imaging.DeviceTimeout > 0 {
					var waitCancel context.CancelFunc
					waitCtx, waitCancel = context.WithTimeout(signalCtx, time.Duration(cfg.Imaging.DeviceTimeout)*time.Second)
					defer waitCancel()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Waiting for a disc in %s...\n", cfg.Imaging.OpticalDrive)
				if err := device.WaitForDisc(waitCtx, cfg.Imaging.OpticalDrive); err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return &exitError{code: exitPrecondition, err: fmt.Errorf("no disc inserted within %ds", cfg.Imaging.DeviceTimeout)}
					}
					return err
				}
			}

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stopRender := watchSteps(signalCtx, cmd.OutOrStdout(), engine.Steps)
			out := engine.RunImaging(signalCtx)
			stopRender()

			return reportOutcome(cmd, out)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for disc insertion before imaging")

	return cmd
}

// buildEngine assembles the workflow engine with the real collaborators and
// an optional history journal. The returned cleanup closes both stores.
func buildEngine(ctx *commandContext) (*workflow.Engine, func(), error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := ctx.openStore()
	if err != nil {
		return nil, nil, err
	}

	collab, err := workflow.DefaultCollaborators(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	opts := []workflow.Option{}
	journal, journalErr := history.Open(cfg.HistoryDBPath())
	if journalErr != nil {
		fmt.Fprintf(os.Stderr, "warn: history journal unavailable: %v\n", journalErr)
	} else {
		opts = append(opts, workflow.WithJournal(journal))
	}

	engine := workflow.New(cfg, store, logger, collab, opts...)
	cleanup := func() {
		if journal != nil {
			journal.Close()
		}
		store.Close()
	}
	return engine, cleanup, nil
}

// reportOutcome prints the terminal state of a unit run and maps it to the
// process exit code.
func reportOutcome(cmd *cobra.Command, out workflow.Outcome) error {
	w := cmd.OutOrStdout()
	renderFinalSteps(w, out.Steps)

	if out.Err == nil {
		fmt.Fprintf(w, "Committed %s (%s)\n", out.Identifier, out.Title)
		return nil
	}

	switch {
	case errors.Is(out.Err, workflow.ErrNoWork),
		errors.Is(out.Err, workflow.ErrPreflightFailed),
		errors.Is(out.Err, workflow.ErrDeviceNotFound),
		errors.Is(out.Err, workflow.ErrNoIdentifier):
		return &exitError{code: exitPrecondition, err: out.Err}
	default:
		unit := out.Identifier
		if unit == "" {
			unit = "unit"
		}
		return &exitError{code: exitUnitFailed, err: fmt.Errorf("%s failed: %w", unit, out.Err)}
	}
}
