package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/odvcencio/greenlight/pkg/report"
	"github.com/odvcencio/greenlight/pkg/storage"
)

var (
	passStyle = color.New(color.FgGreen, color.Bold)
	failStyle = color.New(color.FgRed, color.Bold)
	skipStyle = color.New(color.FgYellow)
	dimStyle  = color.New(color.Faint)
)

func printSummary(w io.Writer, runID string, s report.Summary) {
	fmt.Fprintln(w)
	verdict := passStyle.Sprint("PASSED")
	if !s.OK() {
		verdict = failStyle.Sprint("FAILED")
	}
	fmt.Fprintf(w, "%s  %d total, %s, %s, %s\n",
		verdict,
		s.Total,
		passStyle.Sprintf("%d passed", s.Passed),
		failStyle.Sprintf("%d failed", s.Failed),
		skipStyle.Sprintf("%d skipped", s.Skipped),
	)
	fmt.Fprintln(w, dimStyle.Sprintf("run %s", runID))
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case string(report.OutcomePassed):
		return passStyle.Sprint(outcome)
	case string(report.OutcomeFailed), storage.RunAborted:
		return failStyle.Sprint(outcome)
	case string(report.OutcomeSkipped), storage.RunRunning:
		return skipStyle.Sprint(outcome)
	default:
		return outcome
	}
}

func printRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tENGINE\tSTATUS\tPASSED\tFAILED\tSKIPPED\tDURATION")
	for _, run := range runs {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Engine,
			outcomeLabel(run.Status),
			run.Summary.Passed,
			run.Summary.Failed,
			run.Summary.Skipped,
			duration,
		)
	}
	_ = tw.Flush()
}

func printUnits(w io.Writer, units []storage.UnitRecord) {
	for _, u := range units {
		fmt.Fprintf(w, "  %-8s %s %s\n", outcomeLabel(string(u.Outcome)), u.Name, dimStyle.Sprint(u.Duration.Round(time.Millisecond)))
		if u.Error != "" {
			fmt.Fprintf(w, "           %s\n", strings.ReplaceAll(u.Error, "\n", "\n           "))
		}
		for _, a := range u.Attachments {
			target := a.Path
			if target == "" {
				target = fmt.Sprintf("%d bytes inline", len(a.Data))
			}
			fmt.Fprintf(w, "           %s %s\n", dimStyle.Sprint(a.Name+":"), target)
		}
	}
}
