package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/skilltrack/internal/storage"
)

// utf8BOM makes spreadsheet applications detect the encoding.
const utf8BOM = "\uFEFF"

var csvHeader = []string{
	"date",
	"video_time",
	"interaction_time",
	"total_time",
	"video_seconds",
	"interaction_seconds",
	"total_seconds",
}

// ExportFileName returns the download name for an export made at now.
func ExportFileName(now time.Time) string {
	return "learning_stats_" + now.UTC().Format(storage.DateLayout) + ".csv"
}

// WriteCSV writes one row per day, newest first. Keys that are not day keys
// are skipped.
func WriteCSV(w io.Writer, dataset storage.Dataset) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	dates := dataset.Dates()
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	for _, date := range dates {
		if !storage.IsDateKey(date) {
			continue
		}
		r := dataset[date]
		row := []string{
			date,
			FormatClock(r.VideoTime),
			FormatClock(r.InteractionTime),
			FormatClock(r.TotalTime),
			formatSeconds(r.VideoTime),
			formatSeconds(r.InteractionTime),
			formatSeconds(r.TotalTime),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", date, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
