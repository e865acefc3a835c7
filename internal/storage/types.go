package storage

import (
	"math"
	"regexp"
	"sort"
)

// DateLayout is the layout of a day key.
const DateLayout = "2006-01-02"

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsDateKey reports whether key looks like a YYYY-MM-DD day key.
func IsDateKey(key string) bool {
	return dateKeyPattern.MatchString(key)
}

// DailyRecord aggregates accrued seconds for one calendar day.
//
// VideoTime <= InteractionTime <= TotalTime is the intended relationship but it
// is not enforced.
type DailyRecord struct {
	VideoTime       float64 `json:"videoTime"`
	InteractionTime float64 `json:"interactionTime"`
	TotalTime       float64 `json:"totalTime"`
}

// Add returns the field-wise sum of r and o.
func (r DailyRecord) Add(o DailyRecord) DailyRecord {
	return DailyRecord{
		VideoTime:       r.VideoTime + o.VideoTime,
		InteractionTime: r.InteractionTime + o.InteractionTime,
		TotalTime:       r.TotalTime + o.TotalTime,
	}
}

// Max returns the field-wise maximum of r and o.
func (r DailyRecord) Max(o DailyRecord) DailyRecord {
	return DailyRecord{
		VideoTime:       math.Max(r.VideoTime, o.VideoTime),
		InteractionTime: math.Max(r.InteractionTime, o.InteractionTime),
		TotalTime:       math.Max(r.TotalTime, o.TotalTime),
	}
}

// Dataset maps day keys to their records.
type Dataset map[string]DailyRecord

// Clone returns a shallow copy of the dataset.
func (d Dataset) Clone() Dataset {
	out := make(Dataset, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Dates returns the day keys in ascending order.
func (d Dataset) Dates() []string {
	dates := make([]string, 0, len(d))
	for k := range d {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}
