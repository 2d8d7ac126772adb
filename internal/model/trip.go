// Package model defines the core data structures for tripflow.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TimeLayout is the canonical textual form of trip timestamps. It is the
// form the natural-key fingerprint is computed over, so it must never
// change once data has been merged.
const TimeLayout = "2006-01-02 15:04:05"

// TripRecord is one taxi trip observation.
//
// VendorID, PickupTime, DropoffTime, PULocationID and DOLocationID form the
// natural key: two records agreeing on all five are duplicates regardless
// of the remaining fields. RowKey and SourceFile are derived, stamped by
// the engine rather than parsed from input.
type TripRecord struct {
	VendorID    *int32
	PickupTime  time.Time
	DropoffTime time.Time

	RatecodeID      *int32
	PULocationID    *int32
	DOLocationID    *int32
	PassengerCount  *int32
	StoreAndForward string

	TripDistance         float64
	FareAmount           float64
	Extra                float64
	MTATax               float64
	TipAmount            float64
	TollsAmount          float64
	ImprovementSurcharge float64
	TotalAmount          float64
	CongestionSurcharge  float64
	PaymentType          *int32

	// Derived fields.
	SourceFile string
	RowKey     string
}

// NaturalKeyStrings returns the canonical string form of each natural-key
// field in the documented order: vendor, pickup, dropoff, pickup location,
// dropoff location. Nil and zero-time fields render as the empty string.
// The fingerprint concatenates these with no delimiter, so both the order
// and the coercion rules here are load-bearing.
func (r *TripRecord) NaturalKeyStrings() [5]string {
	return [5]string{
		Int32String(r.VendorID),
		TimeString(r.PickupTime),
		TimeString(r.DropoffTime),
		Int32String(r.PULocationID),
		Int32String(r.DOLocationID),
	}
}

// Int32String renders a nullable integer field canonically.
func Int32String(v *int32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}

// TimeString renders a timestamp field canonically, in UTC.
func TimeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Category identifies a trip dataset (e.g. "yellow", "green").
type Category string

const (
	CategoryYellow Category = "yellow"
	CategoryGreen  Category = "green"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryYellow, CategoryGreen:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Period is a year-month ingestion window.
type Period struct {
	Year  int
	Month time.Month
}

var periodRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	m := periodRe.FindStringSubmatch(s)
	if m == nil {
		return Period{}, fmt.Errorf("invalid period %q, want YYYY-MM", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid period %q: month out of range", s)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// String returns "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Next returns the following month.
func (p Period) Next() Period {
	t := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Before reports whether p precedes q.
func (p Period) Before(q Period) bool {
	if p.Year != q.Year {
		return p.Year < q.Year
	}
	return p.Month < q.Month
}

// PeriodRange enumerates periods from first to last inclusive.
func PeriodRange(first, last Period) []Period {
	var out []Period
	for p := first; !last.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out
}

// CurrentPeriod returns the period containing now.
func CurrentPeriod(now time.Time) Period {
	return Period{Year: now.UTC().Year(), Month: now.UTC().Month()}
}

// RowError records a row excluded from a batch during extraction.
type RowError struct {
	Row     int64
	Column  string
	Value   string
	Message string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s (column=%s value=%q)", e.Row, e.Message, e.Column, e.Value)
}

// Batch is the unit of idempotent ingestion: the parsed records of exactly
// one source file, scoped to one (category, period) pair.
type Batch struct {
	Category   Category
	Period     Period
	SourceFile string

	Records  []TripRecord
	Excluded []RowError
}
