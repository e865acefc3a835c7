package reconcile

import "github.com/goodtune/skilltrack/internal/storage"

// Merge combines a local and a remote dataset. Days present on both sides
// take the per-field maximum; days present on one side are carried over.
// Merge never lowers a counter and Merge(a, {}) equals a.
func Merge(local, remote storage.Dataset) storage.Dataset {
	merged := remote.Clone()
	for date, record := range local {
		if existing, ok := merged[date]; ok {
			merged[date] = existing.Max(record)
			continue
		}
		merged[date] = record
	}
	return merged
}
