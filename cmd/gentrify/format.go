package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/persistence"
	"github.com/talgya/gentrify/internal/sweep"
)

func printRunSummary(w io.Writer, runID string, sim *engine.Simulation, reason engine.StopReason, elapsed time.Duration) {
	st := sim.CurrentStats()
	fmt.Fprintf(w, "Run %s (seed %d)\n", runID, sim.Seed())
	fmt.Fprintf(w, "  stopped:      %s after %s ticks in %s\n", reason, humanize.Comma(int64(st.Tick)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  residents:    %s (avg income %s)\n", humanize.Comma(int64(st.Residents)), humanize.Commaf(round(st.AvgResidentIncome)))
	fmt.Fprintf(w, "  immigrants:   %s (avg income %s)\n", humanize.Comma(int64(st.Immigrants)), humanize.Commaf(round(st.AvgImmigrantIncome)))
	fmt.Fprintf(w, "  slums:        %s\n", humanize.Comma(int64(st.Slums)))
	fmt.Fprintf(w, "  vacant:       %s\n", humanize.Comma(int64(st.Vacant)))
	fmt.Fprintf(w, "  unhappy:      %s\n", humanize.Comma(int64(st.Unhappy)))
	fmt.Fprintf(w, "  segregation:  %.3f\n", st.Segregation)
	if pending := sim.PendingImmigrants(); pending > 0 {
		fmt.Fprintf(w, "  pending:      %s immigrants never arrived\n", humanize.Comma(int64(pending)))
	}
}

func round(v float64) float64 {
	return float64(int64(v + 0.5))
}

func printSweepSummary(w io.Writer, results []sweep.Result, elapsed time.Duration) {
	fmt.Fprintf(w, "Sweep: %s runs in %s\n\n", humanize.Comma(int64(len(results))), elapsed.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMS\tRUNS\tFAILED\tTICKS\tSLUMS\tUNHAPPY\tIMMIGRANT SHARE\tSEGREGATION")
	for _, s := range sweep.Summarize(results) {
		if s.Runs == 0 {
			fmt.Fprintf(tw, "%s\t0\t%d\t-\t-\t-\t-\t-\n", s.Key, s.Failed)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.2f ± %.2f\t%.2f\t%.3f\t%.3f ± %.3f\n",
			s.Key, s.Runs, s.Failed, s.MeanTicks, s.MeanSlums, s.StdSlums, s.MeanUnhappy,
			s.MeanImmigrantShare, s.MeanSegregation, s.StdSegregation)
	}
	tw.Flush()
}

func printValidationErrors(w io.Writer, err error) {
	errs := splitErrors(err)
	fmt.Fprintf(w, "ERRORS (%d):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Result: INVALID")
}

// splitErrors finds the first joined error in err's chain and returns its
// parts, or err alone.
func splitErrors(err error) []error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			return joined.Unwrap()
		}
	}
	return []error{err}
}

func printTraceSummary(w io.Writer, h persistence.TraceHeader, stats []engine.Stats, size int64) {
	fmt.Fprintf(w, "Trace %s (v%d, %s)\n", h.RunID, h.Version, humanize.Bytes(uint64(size)))
	if started, err := time.Parse(time.RFC3339, h.StartedAt); err == nil {
		fmt.Fprintf(w, "  started:    %s\n", humanize.Time(started))
	}
	fmt.Fprintf(w, "  seed:       %d\n", h.Seed)
	fmt.Fprintf(w, "  grid:       %dx%d, density %.2f, preference %.2f\n",
		h.Config.Grid.Width, h.Config.Grid.Height, h.Config.Density, h.Config.Preference)
	if len(stats) == 0 {
		fmt.Fprintln(w, "  no ticks recorded")
		return
	}

	first, last := stats[0], stats[len(stats)-1]
	var moves, arrivals, peakUnhappy int
	for _, st := range stats {
		moves += st.Moved
		arrivals += st.Arrivals
		if st.Unhappy > peakUnhappy {
			peakUnhappy = st.Unhappy
		}
	}
	fmt.Fprintf(w, "  ticks:      %d to %d (%s recorded)\n", first.Tick, last.Tick, humanize.Comma(int64(len(stats))))
	fmt.Fprintf(w, "  moves:      %s\n", humanize.Comma(int64(moves)))
	fmt.Fprintf(w, "  arrivals:   %s\n", humanize.Comma(int64(arrivals)))
	fmt.Fprintf(w, "  slums:      %s\n", humanize.Comma(int64(last.Slums)))
	fmt.Fprintf(w, "  unhappy:    %d final, %d peak\n", last.Unhappy, peakUnhappy)
	fmt.Fprintf(w, "  avg income: %s -> %s\n", humanize.Commaf(round(first.AvgIncome)), humanize.Commaf(round(last.AvgIncome)))
	fmt.Fprintf(w, "  segregation: %.3f -> %.3f\n", first.Segregation, last.Segregation)
}

func printRuns(w io.Writer, runs []persistence.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTARTED\tSEED\tSTEPS\tSTOP")
	for _, r := range runs {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = humanize.Time(t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Label, started, r.Seed, humanize.Comma(int64(r.Steps)), r.StopReason)
	}
	tw.Flush()
}
