package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamworks2050/dvd-archiver/internal/history"
	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var identifier string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := ctx.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			var runs []history.Run
			if identifier != "" {
				runs, err = journal.ForIdentifier(cmd.Context(), identifier)
			} else {
				runs, err = journal.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.Identifier,
					run.Title,
					run.Pipeline,
					string(run.Outcome),
					runDetail(run),
					run.FinishedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Pipeline", "Outcome", "Detail", "Finished"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&identifier, "id", "", "Show only runs for this unit identifier")

	return cmd
}

// runDetail condenses a journal row into one cell: the failure detail when
// the run failed, otherwise the recovered size and any skipped steps.
func runDetail(run history.Run) string {
	if run.Outcome != history.OutcomeCommitted {
		return run.Detail
	}
	parts := []string{}
	if run.RecoveredBytes > 0 {
		parts = append(parts, humanize.Bytes(uint64(run.RecoveredBytes)))
	}
	skipped := 0
	for _, step := range run.Steps {
		if step.Status == ledger.StatusSkipped {
			skipped++
		}
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d step(s) skipped", skipped))
	}
	return strings.Join(parts, ", ")
}
