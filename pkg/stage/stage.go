// Package stage materializes batches into a staging area isolated from the
// canonical table.
//
// A staged artifact is a self-contained CSV: it carries the row fingerprint
// and source file alongside every trip field, so promotion reads only from
// staging. Staging keys are deterministic per (category, period, source
// file) — re-running a failed batch overwrites its own artifact instead of
// accumulating new ones.
package stage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/canonical"
	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/storage"
)

// Handle identifies one staged batch.
type Handle struct {
	Category   model.Category
	Period     model.Period
	SourceFile string
	Key        string
	Rows       int
}

// Stager writes, reads back, and releases staging artifacts.
type Stager struct {
	store  storage.ObjectStore
	prefix string
}

// New creates a Stager on an object store. Artifacts live under
// <prefix>/<category>/<period>/.
func New(store storage.ObjectStore, prefix string) *Stager {
	if prefix == "" {
		prefix = "staging"
	}
	return &Stager{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

// KeyFor returns the deterministic staging key for a batch origin.
func (s *Stager) KeyFor(category model.Category, period model.Period, sourceFile string) string {
	name := strings.TrimSuffix(path.Base(sourceFile), ".gz")
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	return fmt.Sprintf("%s/%s/%s/%s", s.prefix, category, period, name)
}

// Stage materializes a fingerprinted batch as a staging artifact and
// returns its handle. Staging the same batch again overwrites the
// previous artifact, so the operation is idempotent.
func (s *Stager) Stage(ctx context.Context, batch *model.Batch) (Handle, error) {
	h := Handle{
		Category:   batch.Category,
		Period:     batch.Period,
		SourceFile: batch.SourceFile,
		Key:        s.KeyFor(batch.Category, batch.Period, batch.SourceFile),
		Rows:       len(batch.Records),
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeArtifact(pw, batch.Records))
	}()

	if err := s.store.Put(ctx, h.Key, pr); err != nil {
		pr.CloseWithError(err)
		return Handle{}, errors.Wrap(err, errors.CodeStageFailed, "failed to write staging artifact").
			WithContext("key", h.Key)
	}
	return h, nil
}

// Open reads a staged batch back. Promotion consumes this, never the
// original source.
func (s *Stager) Open(ctx context.Context, h Handle) (*model.Batch, error) {
	rc, err := s.store.Get(ctx, h.Key)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStageFailed, "failed to open staging artifact").
			WithContext("key", h.Key)
	}
	defer rc.Close()

	records, err := readArtifact(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStageFailed, "corrupt staging artifact").
			WithContext("key", h.Key)
	}

	return &model.Batch{
		Category:   h.Category,
		Period:     h.Period,
		SourceFile: h.SourceFile,
		Records:    records,
	}, nil
}

// Release removes the staging artifact. Idempotent: releasing an already
// released handle succeeds.
func (s *Stager) Release(ctx context.Context, h Handle) error {
	if err := s.store.Delete(ctx, h.Key); err != nil {
		return errors.Wrap(err, errors.CodeStageFailed, "failed to release staging artifact").
			WithContext("key", h.Key)
	}
	return nil
}

// List returns the staged artifacts for a (category, period), for
// inspection after a failed promotion.
func (s *Stager) List(ctx context.Context, category model.Category, period model.Period) ([]storage.ObjectInfo, error) {
	return s.store.List(ctx, fmt.Sprintf("%s/%s/%s/", s.prefix, category, period))
}

// --- artifact codec ---

func writeArtifact(w io.Writer, records []model.TripRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(canonical.ColumnNames()); err != nil {
		return err
	}

	row := make([]string, len(canonical.Columns))
	for i := range records {
		r := &records[i]
		row[0] = r.RowKey
		row[1] = r.SourceFile
		row[2] = model.Int32String(r.VendorID)
		row[3] = model.TimeString(r.PickupTime)
		row[4] = model.TimeString(r.DropoffTime)
		row[5] = r.StoreAndForward
		row[6] = model.Int32String(r.RatecodeID)
		row[7] = model.Int32String(r.PULocationID)
		row[8] = model.Int32String(r.DOLocationID)
		row[9] = model.Int32String(r.PassengerCount)
		row[10] = formatFloat(r.TripDistance)
		row[11] = formatFloat(r.FareAmount)
		row[12] = formatFloat(r.Extra)
		row[13] = formatFloat(r.MTATax)
		row[14] = formatFloat(r.TipAmount)
		row[15] = formatFloat(r.TollsAmount)
		row[16] = formatFloat(r.ImprovementSurcharge)
		row[17] = formatFloat(r.TotalAmount)
		row[18] = model.Int32String(r.PaymentType)
		row[19] = formatFloat(r.CongestionSurcharge)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func readArtifact(r io.Reader) ([]model.TripRecord, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("missing artifact header: %w", err)
	}
	want := canonical.ColumnNames()
	if len(header) != len(want) {
		return nil, fmt.Errorf("artifact has %d columns, want %d", len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return nil, fmt.Errorf("artifact column %d is %q, want %q", i, header[i], want[i])
		}
	}

	var records []model.TripRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := model.TripRecord{
			RowKey:          row[0],
			SourceFile:      row[1],
			VendorID:        parseInt32(row[2]),
			StoreAndForward: row[5],
			RatecodeID:      parseInt32(row[6]),
			PULocationID:    parseInt32(row[7]),
			DOLocationID:    parseInt32(row[8]),
			PassengerCount:  parseInt32(row[9]),
			PaymentType:     parseInt32(row[18]),
		}
		if rec.PickupTime, err = parseArtifactTime(row[3]); err != nil {
			return nil, fmt.Errorf("bad pickup_datetime %q: %w", row[3], err)
		}
		if rec.DropoffTime, err = parseArtifactTime(row[4]); err != nil {
			return nil, fmt.Errorf("bad dropoff_datetime %q: %w", row[4], err)
		}
		rec.TripDistance = parseArtifactFloat(row[10])
		rec.FareAmount = parseArtifactFloat(row[11])
		rec.Extra = parseArtifactFloat(row[12])
		rec.MTATax = parseArtifactFloat(row[13])
		rec.TipAmount = parseArtifactFloat(row[14])
		rec.TollsAmount = parseArtifactFloat(row[15])
		rec.ImprovementSurcharge = parseArtifactFloat(row[16])
		rec.TotalAmount = parseArtifactFloat(row[17])
		rec.CongestionSurcharge = parseArtifactFloat(row[19])

		records = append(records, rec)
	}

	return records, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseInt32(s string) *int32 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	v32 := int32(v)
	return &v32
}

func parseArtifactTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseArtifactFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
