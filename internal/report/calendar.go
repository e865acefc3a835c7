package report

import (
	"fmt"
	"math"
	"time"

	"github.com/goodtune/skilltrack/internal/storage"
)

// MonthLayout is the layout of a month key.
const MonthLayout = "2006-01"

// Day is one calendar cell.
type Day struct {
	Date    string              `json:"date"`
	HasData bool                `json:"hasData"`
	Record  storage.DailyRecord `json:"record"`
}

// MonthSummary is the calendar view of one month.
type MonthSummary struct {
	Month            string  `json:"month"`
	FirstWeekday     int     `json:"firstWeekday"` // 0 = Sunday
	Days             []Day   `json:"days"`
	DaysWithData     int     `json:"daysWithData"`
	InteractionHours float64 `json:"interactionHours"`
}

// ParseMonth parses a YYYY-MM key.
func ParseMonth(value string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: %w", value, err)
	}
	return t, nil
}

// MonthDates returns every day key of the month containing t.
func MonthDates(t time.Time) []string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	dates := make([]string, 0, 31)
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(storage.DateLayout))
	}
	return dates
}

// Summarize builds the calendar for the month containing t. Interaction time
// is the headline figure, reported in hours to one decimal.
func Summarize(t time.Time, dataset storage.Dataset) MonthSummary {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	summary := MonthSummary{
		Month:        first.Format(MonthLayout),
		FirstWeekday: int(first.Weekday()),
	}

	var interaction float64
	for _, date := range MonthDates(first) {
		record, ok := dataset[date]
		summary.Days = append(summary.Days, Day{Date: date, HasData: ok, Record: record})
		if ok {
			summary.DaysWithData++
			interaction += record.InteractionTime
		}
	}

	summary.InteractionHours = math.Round(interaction/3600*10) / 10
	return summary
}
