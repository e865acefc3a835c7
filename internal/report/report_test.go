package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/skilltrack/internal/storage"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{59.9, "00:00:59"},
		{61, "00:01:01"},
		{3600, "01:00:00"},
		{3725.5, "01:02:05"},
		{90000, "25:00:00"},
		{-4, "00:00:00"},
	}

	for _, tt := range tests {
		if got := FormatClock(tt.seconds); got != tt.want {
			t.Errorf("FormatClock(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	dataset := storage.Dataset{
		"2024-01-01":  {VideoTime: 5, InteractionTime: 10.5, TotalTime: 20},
		"2024-01-03":  {VideoTime: 0, InteractionTime: 3725, TotalTime: 3725},
		"showOverlay": {},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, dataset); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "\uFEFF") {
		t.Fatal("expected UTF-8 BOM")
	}

	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(out, "\uFEFF")), "\n")
	want := []string{
		"date,video_time,interaction_time,total_time,video_seconds,interaction_seconds,total_seconds",
		"2024-01-03,00:00:00,01:02:05,01:02:05,0,3725,3725",
		"2024-01-01,00:00:05,00:00:10,00:00:20,5,10.5,20",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSummarize(t *testing.T) {
	month, err := ParseMonth("2024-02")
	if err != nil {
		t.Fatalf("parse month: %v", err)
	}

	dataset := storage.Dataset{
		"2024-02-01": {InteractionTime: 3600, TotalTime: 4000},
		"2024-02-29": {InteractionTime: 1800, TotalTime: 1800},
		"2024-03-01": {InteractionTime: 99999, TotalTime: 99999},
	}

	summary := Summarize(month, dataset)
	if summary.Month != "2024-02" {
		t.Errorf("unexpected month %q", summary.Month)
	}
	if len(summary.Days) != 29 {
		t.Errorf("expected 29 days in a leap February, got %d", len(summary.Days))
	}
	if summary.FirstWeekday != int(time.Thursday) {
		t.Errorf("expected February 2024 to start on Thursday, got %d", summary.FirstWeekday)
	}
	if summary.DaysWithData != 2 {
		t.Errorf("expected 2 days with data, got %d", summary.DaysWithData)
	}
	if summary.InteractionHours != 1.5 {
		t.Errorf("expected 1.5 hours, got %v", summary.InteractionHours)
	}
	if !summary.Days[0].HasData || summary.Days[1].HasData {
		t.Error("unexpected has-data flags")
	}
}

func TestParseMonthRejectsGarbage(t *testing.T) {
	for _, value := range []string{"2024-13", "2024", "Jan 2024"} {
		if _, err := ParseMonth(value); err == nil {
			t.Errorf("expected error for %q", value)
		}
	}
}

func TestExportFileName(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if got := ExportFileName(now); got != "learning_stats_2024-05-06.csv" {
		t.Fatalf("unexpected file name %q", got)
	}
}
