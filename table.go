package coordinator

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/AlbertGroenwold/behave-framework-sub000/reporting"
)

// printResultsTable prints the per-worker breakdown of a finished run to
// the console.
func (c *Coordinator) printResultsTable(result *RunResult) {
	c.log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Parallel Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Worker", "Duration", "Tests", "Passed", "Failed", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
	})

	records := c.Reporting.TestResults(result.ExecutionID)

	byWorker := make(map[string][]reporting.TestRecord)
	for _, rec := range records {
		byWorker[rec.WorkerID] = append(byWorker[rec.WorkerID], rec)
	}
	workers := make([]string, 0, len(byWorker))
	for workerID := range byWorker {
		workers = append(workers, workerID)
	}
	sort.Strings(workers)

	for _, workerID := range workers {
		recs := byWorker[workerID]

		var workerDuration time.Duration
		passed, failed := 0, 0
		for _, rec := range recs {
			workerDuration += rec.Duration
			if rec.Success {
				passed++
			} else {
				failed++
			}
		}
		t.AppendRow(table.Row{
			"Worker",
			workerID,
			"",
			formatDuration(workerDuration),
			"-",
			passed,
			failed,
			resultString(failed == 0),
		})

		for i, rec := range recs {
			prefix := "├──"
			if i == len(recs)-1 {
				prefix = "└──"
			}
			t.AppendRow(table.Row{
				"Test",
				fmt.Sprintf("%s %s", prefix, rec.TestID),
				rec.WorkerID,
				formatDuration(rec.Duration),
				"1",
				boolToInt(rec.Success),
				boolToInt(!rec.Success),
				resultString(rec.Success),
			})
		}
		t.AppendSeparator()
	}

	skipped := make([]string, 0, len(result.Skipped))
	for testID := range result.Skipped {
		skipped = append(skipped, testID)
	}
	sort.Strings(skipped)
	for i, testID := range skipped {
		prefix := "├──"
		if i == len(skipped)-1 {
			prefix = "└──"
		}
		t.AppendRow(table.Row{
			"Skipped",
			fmt.Sprintf("%s %s", prefix, testID),
			"",
			"-",
			"-",
			"-",
			"-",
			string(result.Skipped[testID]),
		})
	}
	if len(skipped) > 0 {
		t.AppendSeparator()
	}

	if result.Failed == 0 && len(result.Skipped) == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if result.Failed == 0 {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		formatDuration(result.Duration),
		result.Total,
		result.Passed,
		result.Failed,
		resultString(result.Failed == 0),
	})

	t.Render()
}

func resultString(passed bool) string {
	if passed {
		return "✓ pass"
	}
	return "✗ fail"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatDuration renders a duration as seconds with 1 decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
