package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/skilltrack/internal/storage"
)

const (
	fieldVideo       = "video_time"
	fieldInteraction = "interaction_time"
	fieldTotal       = "total_time"
)

// parseDailyRecord converts a Redis hash to DailyRecord
func parseDailyRecord(data map[string]string) (*storage.DailyRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	video, err := parseSeconds(data[fieldVideo])
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fieldVideo, err)
	}

	interaction, err := parseSeconds(data[fieldInteraction])
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fieldInteraction, err)
	}

	total, err := parseSeconds(data[fieldTotal])
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fieldTotal, err)
	}

	return &storage.DailyRecord{
		VideoTime:       video,
		InteractionTime: interaction,
		TotalTime:       total,
	}, nil
}

// parseTotals converts the three-element reply of addRecordScript
func parseTotals(reply []interface{}) (*storage.DailyRecord, error) {
	if len(reply) != 3 {
		return nil, fmt.Errorf("unexpected script reply length %d", len(reply))
	}

	values := make([]float64, 3)
	for i, raw := range reply {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply type %T", raw)
		}
		v, err := parseSeconds(s)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	return &storage.DailyRecord{
		VideoTime:       values[0],
		InteractionTime: values[1],
		TotalTime:       values[2],
	}, nil
}

func parseSeconds(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
