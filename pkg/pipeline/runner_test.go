package pipeline

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/canonical"
	"github.com/tripflow/tripflow/pkg/checkpoint"
	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/extract"
	"github.com/tripflow/tripflow/pkg/stage"
	"github.com/tripflow/tripflow/pkg/storage"
)

const greenHeader = "VendorID,lpep_pickup_datetime,lpep_dropoff_datetime,store_and_fwd_flag,RatecodeID,PULocationID,DOLocationID,passenger_count,trip_distance,fare_amount,extra,mta_tax,tip_amount,tolls_amount,improvement_surcharge,total_amount,payment_type,congestion_surcharge"

// Four rows, the second an exact duplicate of the first.
const greenSample = greenHeader + `
2,2019-01-01 00:10:00,2019-01-01 00:20:00,N,1,74,130,1,2.5,10.0,0.5,0.5,2.0,0.0,0.3,13.3,1,0.0
2,2019-01-01 00:10:00,2019-01-01 00:20:00,N,1,74,130,1,2.5,10.0,0.5,0.5,2.0,0.0,0.3,13.3,1,0.0
1,2019-01-01 00:15:00,2019-01-01 00:35:00,N,1,75,131,2,4.1,15.5,0.5,0.5,0.0,0.0,0.3,16.8,2,0.0
2,2019-01-01 01:00:00,2019-01-01 01:12:00,N,1,42,42,1,1.9,8.0,0.5,0.5,1.0,0.0,0.3,10.3,1,0.0`

// stringSource serves a fixed CSV body, standing in for a landed file.
type stringSource struct {
	name string
	body string
}

func (s stringSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func (s stringSource) Name() string { return s.name }

// memStores hands every category the same in-memory store.
type memStores struct {
	mu     sync.Mutex
	stores map[model.Category]*canonical.MemStore
}

func newMemStores() *memStores {
	return &memStores{stores: make(map[model.Category]*canonical.MemStore)}
}

func (m *memStores) Store(category model.Category) canonical.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[category]
	if !ok {
		s = canonical.NewMemStore()
		m.stores[category] = s
	}
	return s
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testRunner(t *testing.T, cfg Config) (*Runner, *memStores, *storage.Memory, checkpoint.Ledger) {
	t.Helper()
	stores := newMemStores()
	objects := storage.NewMemory()
	ledger, err := checkpoint.NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}
	r := New(cfg, stores, stage.New(objects, "staging"), ledger, nil, quietLogger())
	return r, stores, objects, ledger
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	r, stores, objects, _ := testRunner(t, Config{Backoff: time.Millisecond})

	period := model.Period{Year: 2019, Month: 1}
	src := stringSource{name: "green_tripdata_2019-01.csv", body: greenSample}

	report, err := r.Run(ctx, model.CategoryGreen, period, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.RowsRead != 4 {
		t.Errorf("rows read = %d, want 4", report.RowsRead)
	}
	if report.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", report.Duplicates)
	}
	if report.Inserted != 3 || report.Skipped != 0 {
		t.Errorf("inserted/skipped = %d/%d, want 3/0", report.Inserted, report.Skipped)
	}

	n, err := stores.Store(model.CategoryGreen).Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("canonical rows = %d, want 3", n)
	}

	// Staging was released after the successful promote.
	infos, err := objects.List(ctx, "staging/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("staging not empty after run: %v", infos)
	}
}

func TestRun_Rerun(t *testing.T) {
	ctx := context.Background()
	r, stores, _, _ := testRunner(t, Config{Backoff: time.Millisecond})

	period := model.Period{Year: 2019, Month: 1}
	src := stringSource{name: "green_tripdata_2019-01.csv", body: greenSample}

	if _, err := r.Run(ctx, model.CategoryGreen, period, src); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	report, err := r.Run(ctx, model.CategoryGreen, period, src)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if report.Inserted != 0 {
		t.Errorf("re-run inserted %d rows, want 0", report.Inserted)
	}
	if report.Skipped != 3 {
		t.Errorf("re-run skipped %d rows, want 3", report.Skipped)
	}

	n, _ := stores.Store(model.CategoryGreen).Count(ctx)
	if n != 3 {
		t.Errorf("canonical rows after re-run = %d, want 3", n)
	}
}

func TestRun_OverlappingSources(t *testing.T) {
	ctx := context.Background()
	r, stores, _, _ := testRunner(t, Config{Backoff: time.Millisecond})

	period := model.Period{Year: 2019, Month: 1}

	// Second file repeats one trip from the first and adds a new one.
	overlap := greenHeader + `
2,2019-01-01 00:10:00,2019-01-01 00:20:00,N,1,74,130,1,2.5,10.0,0.5,0.5,2.0,0.0,0.3,13.3,1,0.0
1,2019-01-02 09:00:00,2019-01-02 09:30:00,N,1,7,7,1,5.0,20.0,0.0,0.5,0.0,0.0,0.3,20.8,1,0.0`

	if _, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "a.csv", body: greenSample}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	report, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "b.csv", body: overlap})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if report.Inserted != 1 || report.Skipped != 1 {
		t.Errorf("inserted/skipped = %d/%d, want 1/1", report.Inserted, report.Skipped)
	}
	n, _ := stores.Store(model.CategoryGreen).Count(ctx)
	if n != 4 {
		t.Errorf("canonical rows = %d, want 4", n)
	}
}

func TestRun_LedgerRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	r, _, _, ledger := testRunner(t, Config{Backoff: time.Millisecond})

	period := model.Period{Year: 2019, Month: 1}
	report, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "a.csv", body: greenSample})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry, err := ledger.Load(ctx, report.RunID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry.Phase != checkpoint.PhaseComplete {
		t.Errorf("ledger phase = %q, want %q", entry.Phase, checkpoint.PhaseComplete)
	}
	if entry.Inserted != 3 || entry.Duplicates != 1 {
		t.Errorf("ledger counts = %+v", entry)
	}
}

func TestRun_EmptySourceFails(t *testing.T) {
	ctx := context.Background()
	r, _, _, ledger := testRunner(t, Config{Backoff: time.Millisecond})

	period := model.Period{Year: 2019, Month: 1}
	_, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "empty.csv", body: greenHeader + "\n"})
	if err == nil {
		t.Fatal("expected error for empty source")
	}
	if !errors.IsCode(err, errors.CodeEmptyBatch) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeEmptyBatch)
	}

	entries, err := ledger.Find(ctx, model.CategoryGreen, period)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(entries) != 1 || entries[0].Phase != checkpoint.PhaseFailed {
		t.Errorf("expected one failed ledger entry, got %+v", entries)
	}
}

// flakyStores fails the first N merges with a retryable error.
type flakyStores struct {
	inner    Stores
	failures int
	mu       sync.Mutex
}

type flakyStore struct {
	canonical.Store
	parent *flakyStores
}

func (f *flakyStores) Store(category model.Category) canonical.Store {
	return &flakyStore{Store: f.inner.Store(category), parent: f}
}

func (s *flakyStore) Merge(ctx context.Context, records []model.TripRecord) (canonical.MergeReport, error) {
	s.parent.mu.Lock()
	fail := s.parent.failures > 0
	if fail {
		s.parent.failures--
	}
	s.parent.mu.Unlock()
	if fail {
		return canonical.MergeReport{}, errors.New(errors.CodeMergeConflict, "concurrent writer")
	}
	return s.Store.Merge(ctx, records)
}

func TestRun_RetriesRetryableMerge(t *testing.T) {
	ctx := context.Background()
	stores := &flakyStores{inner: newMemStores(), failures: 2}
	objects := storage.NewMemory()
	r := New(Config{Retries: 3, Backoff: time.Millisecond}, stores, stage.New(objects, "staging"), nil, nil, quietLogger())

	period := model.Period{Year: 2019, Month: 1}
	report, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "a.csv", body: greenSample})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", report.Inserted)
	}
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	stores := &flakyStores{inner: newMemStores(), failures: 10}
	objects := storage.NewMemory()
	r := New(Config{Retries: 1, Backoff: time.Millisecond}, stores, stage.New(objects, "staging"), nil, nil, quietLogger())

	period := model.Period{Year: 2019, Month: 1}
	_, err := r.Run(ctx, model.CategoryGreen, period, stringSource{name: "a.csv", body: greenSample})
	if err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
	if !errors.IsCode(err, errors.CodeMergeConflict) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeMergeConflict)
	}

	// Failed promote leaves the staging artifact in place.
	infos, err := objects.List(ctx, "staging/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("got %d staging artifacts after failed promote, want 1", len(infos))
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	r, stores, _, _ := testRunner(t, Config{Backoff: time.Millisecond})

	sources := func(category model.Category, period model.Period) (extract.Source, error) {
		return stringSource{name: period.String() + ".csv", body: greenSample}, nil
	}

	report, err := r.Backfill(ctx, model.CategoryGreen,
		model.Period{Year: 2019, Month: 1}, model.Period{Year: 2019, Month: 3},
		sources, 2, false)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	if len(report.Runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(report.Runs))
	}
	if len(report.Failed) != 0 {
		t.Errorf("unexpected failures: %v", report.Failed)
	}

	// Same rows in every period's file, but periods are distinct batches
	// and natural keys repeat across them only when the trips repeat.
	n, _ := stores.Store(model.CategoryGreen).Count(ctx)
	if n != 3 {
		t.Errorf("canonical rows = %d, want 3 (identical trips across periods)", n)
	}
}
