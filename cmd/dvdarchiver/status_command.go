package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the archived discs and per-source statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			printStatus(cmd, store.Snapshot())
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, state *archive.State) {
	w := cmd.OutOrStdout()

	if len(state.Discs) == 0 {
		fmt.Fprintln(w, "No discs archived yet.")
	} else {
		ids := make([]string, 0, len(state.Discs))
		for id := range state.Discs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			record := state.Discs[id]
			rows = append(rows, []string{
				id,
				record.Title,
				strconv.Itoa(len(record.Files)),
				humanize.Bytes(uint64(record.Acquisition.RecoveredBytes)),
				record.FinishedAt,
			})
		}
		fmt.Fprintln(w, renderTable([]string{"ID", "Title", "Files", "Size", "Finished"}, rows, 3, 4))
	}

	if len(state.PathStatistics) > 0 {
		sources := make([]string, 0, len(state.PathStatistics))
		for source := range state.PathStatistics {
			sources = append(sources, source)
		}
		sort.Strings(sources)

		rows := make([][]string, 0, len(sources))
		for _, source := range sources {
			stats := state.PathStatistics[source]
			rows = append(rows, []string{
				source,
				strconv.Itoa(stats.FoldersProcessed),
				strconv.Itoa(stats.DiscsProcessed),
				strconv.Itoa(stats.Failed),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Source", "Folders", "Discs", "Failed"}, rows, 2, 3, 4))
	}

	if len(state.LastErrors) > 0 {
		ids := make([]string, 0, len(state.LastErrors))
		for id := range state.LastErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			lastErr := state.LastErrors[id]
			rows = append(rows, []string{id, lastErr.Message, lastErr.Timestamp})
		}
		fmt.Fprintln(w, renderTable([]string{"ID", "Last Error", "When"}, rows))
	}
}
