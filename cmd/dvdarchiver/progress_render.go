package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
)

const renderInterval = 250 * time.Millisecond

// watchSteps repaints the step ledger at a fixed cadence while a pipeline
// runs. It only draws on interactive terminals; otherwise the structured
// log stream is the progress surface. The returned stop function blocks
// until the painter has cleared its output.
func watchSteps(ctx context.Context, w io.Writer, steps func() []ledger.Step) (stop func()) {
	if !isInteractive(w) {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		painted := 0
		ticker := time.NewTicker(renderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				eraseLines(w, painted)
				return
			case <-ticker.C:
				snapshot := steps()
				if snapshot == nil {
					continue
				}
				eraseLines(w, painted)
				out := stepTable(snapshot)
				fmt.Fprintln(w, out)
				painted = strings.Count(out, "\n") + 1
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// renderFinalSteps prints the finished ledger once, TTY or not.
func renderFinalSteps(w io.Writer, steps []ledger.Step) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(w, stepTable(steps))
}

func stepTable(steps []ledger.Step) string {
	rows := make([][]string, 0, len(steps))
	for _, step := range steps {
		rows = append(rows, []string{step.Label, string(step.Status), step.Message})
	}
	return renderTable([]string{"Step", "Status", "Detail"}, rows)
}

func eraseLines(w io.Writer, n int) {
	if n <= 0 {
		return
	}
	fmt.Fprintf(w, "\x1b[%dA\x1b[J", n)
}

func isInteractive(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
