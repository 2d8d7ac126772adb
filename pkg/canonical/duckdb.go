package canonical

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
)

// DB wraps a DuckDB database holding one canonical table per category.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) a DuckDB database file. An empty path opens an
// in-memory database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.StorageUnavailable(err, path)
	}
	return &DB{db: db}, nil
}

// Store returns the canonical store for a category, backed by the table
// trips_<category>.
func (d *DB) Store(category model.Category) *DuckStore {
	return &DuckStore{
		db:    d.db,
		table: fmt.Sprintf("trips_%s", category),
	}
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// DuckStore implements Store on a DuckDB table.
//
// Merge runs inside a single transaction: the batch is loaded into a
// transaction-local table through prepared statements, then inserted with
// an anti-join on row_key. DuckDB's snapshot isolation makes the
// conditional insert atomic; a concurrent-writer conflict aborts the whole
// transaction and surfaces as a retryable error.
type DuckStore struct {
	db    *sql.DB
	table string

	batchSeq atomic.Uint64
}

// Table returns the backing table name.
func (s *DuckStore) Table() string {
	return s.table
}

// EnsureSchema creates the canonical table if absent.
func (s *DuckStore) EnsureSchema(ctx context.Context) error {
	defs := make([]string, len(Columns))
	for i, c := range Columns {
		defs[i] = c.Name + " " + c.Type
		if c.Name == "row_key" {
			defs[i] += " PRIMARY KEY"
		}
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, errors.CodeStorageUnavailable, "failed to create canonical table").
			WithContext("table", s.table)
	}
	return nil
}

// RequireSchema errors if the canonical table does not exist.
func (s *DuckStore) RequireSchema(ctx context.Context) error {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", s.table).Scan(&n)
	if err != nil {
		return errors.StorageUnavailable(err, s.table)
	}
	if n == 0 {
		return errors.TableMissing(s.table)
	}
	return nil
}

// Merge inserts rows whose key is not already present, all or nothing.
func (s *DuckStore) Merge(ctx context.Context, records []model.TripRecord) (MergeReport, error) {
	start := time.Now()
	if len(records) == 0 {
		return MergeReport{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MergeReport{}, errors.StorageUnavailable(err, s.table)
	}
	defer tx.Rollback()

	before, err := countRows(ctx, tx, s.table)
	if err != nil {
		return MergeReport{}, s.classify(err, "failed to count canonical rows")
	}

	staging := fmt.Sprintf("merge_batch_%d", s.batchSeq.Add(1))
	cols := strings.Join(ColumnNames(), ", ")

	defs := make([]string, len(Columns))
	for i, c := range Columns {
		defs[i] = c.Name + " " + c.Type
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s (%s)", staging, strings.Join(defs, ", "))); err != nil {
		return MergeReport{}, s.classify(err, "failed to create merge staging table")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)", staging, cols, placeholders))
	if err != nil {
		return MergeReport{}, s.classify(err, "failed to prepare batch insert")
	}
	defer stmt.Close()

	for i := range records {
		if _, err := stmt.ExecContext(ctx, rowValues(&records[i])...); err != nil {
			return MergeReport{}, s.classify(err, "failed to load batch row")
		}
	}

	// Insert-only set union: matched keys are left untouched.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s)
		 SELECT %s FROM %s b
		 WHERE NOT EXISTS (SELECT 1 FROM %s c WHERE c.row_key = b.row_key)`,
		s.table, cols, cols, staging, s.table)); err != nil {
		return MergeReport{}, s.classify(err, "merge insert failed")
	}

	after, err := countRows(ctx, tx, s.table)
	if err != nil {
		return MergeReport{}, s.classify(err, "failed to count canonical rows")
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+staging); err != nil {
		return MergeReport{}, s.classify(err, "failed to drop merge staging table")
	}

	if err := tx.Commit(); err != nil {
		return MergeReport{}, s.classify(err, "merge commit failed")
	}

	inserted := after - before
	return MergeReport{
		Inserted: inserted,
		Skipped:  int64(len(records)) - inserted,
		Duration: time.Since(start),
	}, nil
}

// Count returns the number of canonical rows.
func (s *DuckStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n)
	if err != nil {
		return 0, s.classify(err, "failed to count canonical rows")
	}
	return n, nil
}

// Close is a no-op: the shared database handle is owned by DB.
func (s *DuckStore) Close() error {
	return nil
}

// classify maps driver errors onto the taxonomy. DuckDB reports write-write
// races as transaction conflicts, which a fresh Merge call safely retries.
func (s *DuckStore) classify(err error, msg string) *errors.Error {
	code := errors.CodeMergeFailed
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "conflict"):
		code = errors.CodeMergeConflict
	case strings.Contains(text, "does not exist"):
		code = errors.CodeTableMissing
	}
	return errors.Wrap(err, code, msg).WithContext("table", s.table)
}

func countRows(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n)
	return n, err
}

// rowValues flattens a record into driver values in schema column order.
func rowValues(r *model.TripRecord) []interface{} {
	return []interface{}{
		r.RowKey,
		r.SourceFile,
		nullInt32(r.VendorID),
		nullTime(r.PickupTime),
		nullTime(r.DropoffTime),
		nullString(r.StoreAndForward),
		nullInt32(r.RatecodeID),
		nullInt32(r.PULocationID),
		nullInt32(r.DOLocationID),
		nullInt32(r.PassengerCount),
		r.TripDistance,
		r.FareAmount,
		r.Extra,
		r.MTATax,
		r.TipAmount,
		r.TollsAmount,
		r.ImprovementSurcharge,
		r.TotalAmount,
		nullInt32(r.PaymentType),
		r.CongestionSurcharge,
	}
}

func nullInt32(v *int32) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*DuckStore)(nil)
