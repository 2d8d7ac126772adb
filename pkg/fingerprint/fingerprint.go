// Package fingerprint computes the natural-key row fingerprint used as the
// deduplication and merge key.
//
// The fingerprint is an MD5 digest over the canonical string forms of the
// five natural-key fields (vendor, pickup time, dropoff time, pickup
// location, dropoff location), concatenated with no delimiter, nulls
// substituted with the empty string, encoded as lowercase hex. MD5 is used
// for stability and distribution, not collision resistance; the key has no
// security role. The function is pure: equal natural keys always yield
// equal digests, across batches and re-runs.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/tripflow/tripflow/internal/model"
)

// Sum returns the row fingerprint for a record.
func Sum(r *model.TripRecord) string {
	h := md5.New()
	for _, part := range r.NaturalKeyStrings() {
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Apply stamps RowKey on every record of a batch. Records already carrying
// a key are re-stamped; the result is identical because Sum is pure.
func Apply(batch *model.Batch) {
	for i := range batch.Records {
		batch.Records[i].RowKey = Sum(&batch.Records[i])
	}
}
