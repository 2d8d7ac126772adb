package extract

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
)

// ErrorPolicy determines how malformed rows are handled.
type ErrorPolicy int

const (
	// ErrorPolicySkip excludes bad rows and continues. The default:
	// an unparsable record never aborts its batch.
	ErrorPolicySkip ErrorPolicy = iota
	// ErrorPolicyStrict aborts on the first bad row.
	ErrorPolicyStrict
)

// ParseErrorPolicy parses a policy name, defaulting to skip.
func ParseErrorPolicy(s string) ErrorPolicy {
	if s == "strict" {
		return ErrorPolicyStrict
	}
	return ErrorPolicySkip
}

func (p ErrorPolicy) String() string {
	if p == ErrorPolicyStrict {
		return "strict"
	}
	return "skip"
}

// columnMapping names the physical CSV columns per category. Yellow and
// green archives differ only in their datetime column prefixes.
type columnMapping struct {
	pickup  string
	dropoff string
}

var mappings = map[model.Category]columnMapping{
	model.CategoryYellow: {pickup: "tpep_pickup_datetime", dropoff: "tpep_dropoff_datetime"},
	model.CategoryGreen:  {pickup: "lpep_pickup_datetime", dropoff: "lpep_dropoff_datetime"},
}

// Options configures decoding.
type Options struct {
	Policy ErrorPolicy

	// MaxErrors aborts the batch once exceeded (0 = unlimited). Guards
	// against merging a file whose schema is entirely wrong.
	MaxErrors int64

	// OnSkip is invoked for each excluded row.
	OnSkip func(model.RowError)
}

// Decoder parses taxi CSV streams for one category.
type Decoder struct {
	category model.Category
	mapping  columnMapping
	opts     Options
}

// NewDecoder creates a decoder for a category.
func NewDecoder(category model.Category, opts Options) (*Decoder, error) {
	mapping, ok := mappings[category]
	if !ok {
		return nil, errors.UnknownCategory(string(category))
	}
	return &Decoder{category: category, mapping: mapping, opts: opts}, nil
}

// Decode reads the whole stream into a Batch. Rows that fail natural-key
// coercion are excluded with a recorded reason under the skip policy;
// header problems and reader failures abort.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, period model.Period, sourceFile string) (*model.Batch, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // ragged rows surface as row errors, not reader errors

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecodeFailed, "failed to read CSV header").
			WithContext("source", sourceFile)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{d.mapping.pickup, d.mapping.dropoff} {
		if _, ok := cols[required]; !ok {
			return nil, errors.MissingColumn(required, headerNames(header))
		}
	}

	batch := &model.Batch{
		Category:   d.category,
		Period:     period,
		SourceFile: sourceFile,
	}

	var rowNum int64 = 1 // header
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			if abortErr := d.exclude(batch, model.RowError{
				Row: rowNum, Message: "malformed CSV row: " + err.Error(),
			}); abortErr != nil {
				return nil, abortErr
			}
			continue
		}

		rec, rowErr := d.decodeRow(row, cols, rowNum)
		if rowErr != nil {
			if abortErr := d.exclude(batch, *rowErr); abortErr != nil {
				return nil, abortErr
			}
			continue
		}
		rec.SourceFile = sourceFile
		batch.Records = append(batch.Records, rec)
	}

	return batch, nil
}

// exclude records a row error, honoring policy and error budget.
func (d *Decoder) exclude(batch *model.Batch, rowErr model.RowError) error {
	batch.Excluded = append(batch.Excluded, rowErr)
	if d.opts.OnSkip != nil {
		d.opts.OnSkip(rowErr)
	}

	if d.opts.Policy == ErrorPolicyStrict {
		return d.abortError(rowErr)
	}
	if d.opts.MaxErrors > 0 && int64(len(batch.Excluded)) > d.opts.MaxErrors {
		return errors.New(errors.CodeTooManyBad, "error budget exceeded").
			WithContext("max_errors", d.opts.MaxErrors).
			WithContext("source", batch.SourceFile)
	}
	return nil
}

// abortError types the excluded row the strict policy stops on: unparsable
// timestamps and garbled key fields are distinct input errors from rows the
// CSV reader itself rejects.
func (d *Decoder) abortError(rowErr model.RowError) *errors.Error {
	switch rowErr.Column {
	case d.mapping.pickup, d.mapping.dropoff:
		return errors.InvalidTimestamp(rowErr.Value, rowErr.Row)
	case "":
		return errors.New(errors.CodeMalformedRow, "aborting on bad row").
			WithContext("row", rowErr.Row).
			WithContext("reason", rowErr.Message)
	default:
		return errors.New(errors.CodeInvalidField, rowErr.Message).
			WithContext("column", rowErr.Column).
			WithContext("value", rowErr.Value).
			WithContext("row", rowErr.Row)
	}
}

// decodeRow coerces one CSV row. Natural-key fields that are present but
// unparsable make the row an input error; absent optional fields are null.
func (d *Decoder) decodeRow(row []string, cols map[string]int, rowNum int64) (model.TripRecord, *model.RowError) {
	var rec model.TripRecord

	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	pickup, err := parseTime(get(d.mapping.pickup))
	if err != nil {
		return rec, &model.RowError{Row: rowNum, Column: d.mapping.pickup,
			Value: get(d.mapping.pickup), Message: "unparsable pickup timestamp"}
	}
	dropoff, err := parseTime(get(d.mapping.dropoff))
	if err != nil {
		return rec, &model.RowError{Row: rowNum, Column: d.mapping.dropoff,
			Value: get(d.mapping.dropoff), Message: "unparsable dropoff timestamp"}
	}
	rec.PickupTime = pickup
	rec.DropoffTime = dropoff

	// Nullable integer fields. An empty value is a legitimate null; a
	// present but garbled value is an input error because vendor and
	// location IDs are natural-key fields.
	intFields := []struct {
		column string
		dest   **int32
		keyed  bool
	}{
		{"VendorID", &rec.VendorID, true},
		{"PULocationID", &rec.PULocationID, true},
		{"DOLocationID", &rec.DOLocationID, true},
		{"RatecodeID", &rec.RatecodeID, false},
		{"passenger_count", &rec.PassengerCount, false},
		{"payment_type", &rec.PaymentType, false},
	}
	for _, f := range intFields {
		raw := get(f.column)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			if f.keyed {
				return rec, &model.RowError{Row: rowNum, Column: f.column,
					Value: raw, Message: "unparsable integer field"}
			}
			continue // garbled non-key field degrades to null
		}
		v32 := int32(v)
		*f.dest = &v32
	}

	rec.StoreAndForward = get("store_and_fwd_flag")
	rec.TripDistance = parseFloat(get("trip_distance"))
	rec.FareAmount = parseFloat(get("fare_amount"))
	rec.Extra = parseFloat(get("extra"))
	rec.MTATax = parseFloat(get("mta_tax"))
	rec.TipAmount = parseFloat(get("tip_amount"))
	rec.TollsAmount = parseFloat(get("tolls_amount"))
	rec.ImprovementSurcharge = parseFloat(get("improvement_surcharge"))
	rec.TotalAmount = parseFloat(get("total_amount"))
	rec.CongestionSurcharge = parseFloat(get("congestion_surcharge"))

	return rec, nil
}

// parseTime accepts the archive's timestamp layout. Empty is allowed: a
// missing key field fingerprints as the empty string rather than failing.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func headerNames(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(h)
	}
	return out
}
