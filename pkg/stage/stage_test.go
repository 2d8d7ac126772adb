package stage

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/fingerprint"
	"github.com/tripflow/tripflow/pkg/storage"
)

func i32(v int32) *int32 { return &v }

func testBatch(t *testing.T) *model.Batch {
	t.Helper()
	pickup := time.Date(2019, 1, 15, 10, 30, 0, 0, time.UTC)
	b := &model.Batch{
		Category:   model.CategoryGreen,
		Period:     model.Period{Year: 2019, Month: 1},
		SourceFile: "green_tripdata_2019-01.csv",
		Records: []model.TripRecord{
			{
				VendorID:     i32(2),
				PickupTime:   pickup,
				DropoffTime:  pickup.Add(15 * time.Minute),
				PULocationID: i32(74),
				DOLocationID: i32(130),
				FareAmount:   12.5,
				TipAmount:    2.35,
				SourceFile:   "green_tripdata_2019-01.csv",
			},
			{
				VendorID:     i32(1),
				PickupTime:   pickup.Add(time.Hour),
				DropoffTime:  pickup.Add(90 * time.Minute),
				PULocationID: i32(41),
				// do_location_id deliberately null
				PassengerCount: i32(3),
				FareAmount:     31,
				SourceFile:     "green_tripdata_2019-01.csv",
			},
		},
	}
	fingerprint.Apply(b)
	return b
}

func TestStageOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(), "staging")
	batch := testBatch(t)

	h, err := s.Stage(ctx, batch)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if want := "staging/green/2019-01/green_tripdata_2019-01.csv"; h.Key != want {
		t.Errorf("staging key = %q, want %q", h.Key, want)
	}
	if h.Rows != 2 {
		t.Errorf("handle rows = %d, want 2", h.Rows)
	}

	got, err := s.Open(ctx, h)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reflect.DeepEqual(got.Records, batch.Records) {
		t.Errorf("round-tripped records differ\ngot:  %+v\nwant: %+v", got.Records, batch.Records)
	}
	for i, r := range got.Records {
		if r.RowKey == "" {
			t.Errorf("record %d lost its row key", i)
		}
		if r.SourceFile != batch.SourceFile {
			t.Errorf("record %d source file = %q, want %q", i, r.SourceFile, batch.SourceFile)
		}
	}
}

func TestStageKeyIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := New(store, "staging")
	batch := testBatch(t)

	h1, err := s.Stage(ctx, batch)
	if err != nil {
		t.Fatalf("first Stage: %v", err)
	}
	h2, err := s.Stage(ctx, batch)
	if err != nil {
		t.Fatalf("second Stage: %v", err)
	}
	if h1.Key != h2.Key {
		t.Fatalf("keys differ across runs: %q vs %q", h1.Key, h2.Key)
	}

	// Restaging overwrote in place, so exactly one artifact exists.
	infos, err := s.List(ctx, batch.Category, batch.Period)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d staged artifacts, want 1", len(infos))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := New(store, "staging")

	h, err := s.Stage(ctx, testBatch(t))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := s.Release(ctx, h); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if ok, _ := store.Exists(ctx, h.Key); ok {
		t.Fatal("artifact still present after Release")
	}
	if err := s.Release(ctx, h); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestStagePutFailureIsStageError(t *testing.T) {
	store := storage.NewMemory()
	store.FailPuts = true
	s := New(store, "staging")

	_, err := s.Stage(context.Background(), testBatch(t))
	if err == nil {
		t.Fatal("expected error when store rejects writes")
	}
	if !errors.IsCode(err, errors.CodeStageFailed) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeStageFailed)
	}
	if !errors.IsRetryable(err) {
		t.Error("staging failure should be retryable")
	}
}

func TestOpenCorruptArtifact(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := New(store, "staging")

	h, err := s.Stage(ctx, testBatch(t))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// Clobber the artifact with a file whose header does not match.
	if err := store.Put(ctx, h.Key, strings.NewReader("a,b,c\n1,2,3\n")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Open(ctx, h); err == nil {
		t.Fatal("expected error opening corrupt artifact")
	} else if !errors.IsCode(err, errors.CodeStageFailed) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeStageFailed)
	}
}

func TestSourceNameNormalization(t *testing.T) {
	s := New(storage.NewMemory(), "staging")

	cases := map[string]string{
		"green_tripdata_2019-01.csv":            "staging/green/2019-01/green_tripdata_2019-01.csv",
		"green_tripdata_2019-01.csv.gz":         "staging/green/2019-01/green_tripdata_2019-01.csv",
		"/data/in/green_tripdata_2019-01.csv":   "staging/green/2019-01/green_tripdata_2019-01.csv",
		"https://example.com/green_2019-01.csv": "staging/green/2019-01/green_2019-01.csv",
	}
	period := model.Period{Year: 2019, Month: 1}
	for in, want := range cases {
		if got := s.KeyFor(model.CategoryGreen, period, in); got != want {
			t.Errorf("KeyFor(%q) = %q, want %q", in, got, want)
		}
	}
}
