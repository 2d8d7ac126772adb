//go:build cgo

package canonical

import (
	"context"
	"testing"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("") // in-memory
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDuckStore_RequireSchemaBeforeEnsure(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryGreen)

	err := store.RequireSchema(ctx)
	if !errors.IsCode(err, errors.CodeTableMissing) {
		t.Fatalf("error = %v, want code %s", err, errors.CodeTableMissing)
	}
	if !errors.IsFatal(err) {
		t.Error("a missing canonical table must be fatal")
	}

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := store.RequireSchema(ctx); err != nil {
		t.Fatalf("RequireSchema after EnsureSchema: %v", err)
	}
}

func TestDuckStore_EnsureSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryYellow)

	for i := 0; i < 2; i++ {
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema pass %d: %v", i+1, err)
		}
	}
}

func TestDuckStore_MergeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryGreen)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	batch := batchOf(1, 10)

	report, err := store.Merge(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 10 || report.Skipped != 0 {
		t.Errorf("first merge: inserted=%d skipped=%d", report.Inserted, report.Skipped)
	}

	report, err = store.Merge(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 0 || report.Skipped != 10 {
		t.Errorf("re-merge: inserted=%d skipped=%d", report.Inserted, report.Skipped)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("count = %d, want 10", n)
	}
}

func TestDuckStore_MergePartialOverlap(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryGreen)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Merge(ctx, batchOf(1, 7)); err != nil {
		t.Fatal(err)
	}

	// 7 repeats plus rows 7..9 unseen.
	report, err := store.Merge(ctx, batchOf(1, 10))
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 3 || report.Skipped != 7 {
		t.Errorf("inserted=%d skipped=%d, want 3/7", report.Inserted, report.Skipped)
	}
}

func TestDuckStore_MergeRoundTripsNulls(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryYellow)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	rec := stamped(2, 0)
	rec.PassengerCount = nil
	rec.PaymentType = nil
	if _, err := store.Merge(ctx, []model.TripRecord{rec}); err != nil {
		t.Fatal(err)
	}

	var passengers, payment any
	err := store.db.QueryRowContext(ctx,
		"SELECT passenger_count, payment_type FROM "+store.Table()+" WHERE row_key = ?",
		rec.RowKey).Scan(&passengers, &payment)
	if err != nil {
		t.Fatal(err)
	}
	if passengers != nil || payment != nil {
		t.Errorf("nullable fields = %v, %v, want NULLs", passengers, payment)
	}
}

func TestDuckStore_MergeWithoutSchemaIsTableMissing(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store(model.CategoryYellow)

	_, err := store.Merge(ctx, batchOf(1, 1))
	if !errors.IsCode(err, errors.CodeTableMissing) {
		t.Fatalf("error = %v, want code %s", err, errors.CodeTableMissing)
	}
}
