package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/minigist/internal/dispatcher"
)

// renderReport formats the final counts of a run.
func renderReport(report dispatcher.Report, dryRun bool, runErr error) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if report.RunID != uuid.Nil {
		tw.SetTitle("minigist run " + report.RunID.String())
	}
	tw.AppendHeader(table.Row{"Result", "Processed", "Skipped", "Failed", "Total", "Elapsed"})
	tw.AppendRow(table.Row{
		runResult(report, dryRun, runErr),
		strconv.Itoa(report.Counts.Processed),
		strconv.Itoa(report.Counts.Skipped),
		strconv.Itoa(report.Counts.Failed),
		strconv.Itoa(report.Counts.Total()),
		report.Elapsed.Round(time.Millisecond).String(),
	})
	configs := make([]table.ColumnConfig, 0, 5)
	for i := 2; i <= 6; i++ {
		configs = append(configs, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render() + "\n"
}

func runResult(report dispatcher.Report, dryRun bool, runErr error) string {
	result := "success"
	switch {
	case runErr != nil:
		result = "error"
	case report.Aborted:
		result = fmt.Sprintf("aborted (%d failures)", report.Failures)
	}
	if dryRun {
		result += " [dry run]"
	}
	return result
}
