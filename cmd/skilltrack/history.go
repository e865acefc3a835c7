package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goodtune/skilltrack/internal/report"
	"github.com/spf13/cobra"
)

var historyMonth string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show daily totals for a month",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyMonth, "month", "m", "", "Month as YYYY-MM (default current month)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, store, _, err := loadForCommand()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	month := time.Now().In(cfg.Tracking.Location())
	if historyMonth != "" {
		month, err = report.ParseMonth(historyMonth)
		if err != nil {
			return err
		}
	}

	dataset, err := store.Records().List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	summary := report.Summarize(month, dataset)
	_, _ = fmt.Fprintln(os.Stdout, renderMonth(summary))
	return nil
}

func renderMonth(summary report.MonthSummary) string {
	headers := []string{"Date", "Video", "Interaction", "Total"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight}

	rows := make([][]string, 0, summary.DaysWithData)
	for _, day := range summary.Days {
		if !day.HasData {
			continue
		}
		rows = append(rows, []string{
			day.Date,
			report.FormatClock(day.Record.VideoTime),
			report.FormatClock(day.Record.InteractionTime),
			report.FormatClock(day.Record.TotalTime),
		})
	}
	footer := []string{
		summary.Month,
		strconv.Itoa(summary.DaysWithData) + " days",
		strconv.FormatFloat(summary.InteractionHours, 'f', 1, 64) + " h",
		"",
	}

	return renderTable(headers, rows, footer, aligns)
}
