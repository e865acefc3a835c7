// Package report turns the daily dataset into exports and summaries.
package report

import (
	"fmt"
	"math"
)

// FormatClock renders seconds as HH:MM:SS, truncating fractions. Hours are
// not wrapped at 24.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
