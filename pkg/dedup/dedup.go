// Package dedup removes intra-batch duplicates before a batch is merged
// into the canonical table.
package dedup

import (
	"github.com/tripflow/tripflow/internal/model"
)

// Stats describes the outcome of one deduplication pass.
type Stats struct {
	Input      int
	Output     int
	Duplicates int
}

// Deduplicate returns one record per distinct row key.
//
// Within a key group the representative is chosen deterministically: the
// record with the earliest pickup time wins, and on a timestamp tie the
// earliest original batch position wins. Output preserves first-seen key
// order, so deduplicating byte-identical input always yields byte-identical
// output, and deduplicating an already-deduplicated batch is a no-op.
//
// Records must already carry row keys (see the fingerprint package).
func Deduplicate(records []model.TripRecord) ([]model.TripRecord, Stats) {
	stats := Stats{Input: len(records)}
	if len(records) == 0 {
		return nil, stats
	}

	index := make(map[string]int, len(records)) // row key -> position in out
	out := make([]model.TripRecord, 0, len(records))

	for _, rec := range records {
		pos, seen := index[rec.RowKey]
		if !seen {
			index[rec.RowKey] = len(out)
			out = append(out, rec)
			continue
		}

		stats.Duplicates++
		// Strictly earlier pickup replaces the held representative; ties
		// keep the earlier batch position already held.
		if rec.PickupTime.Before(out[pos].PickupTime) {
			out[pos] = rec
		}
	}

	stats.Output = len(out)
	return out, stats
}

// Batch deduplicates a batch in place and returns the pass statistics.
func Batch(b *model.Batch) Stats {
	deduped, stats := Deduplicate(b.Records)
	b.Records = deduped
	return stats
}
