// Package db is the run catalog: a sqlite database recording every run the
// pipeline starts, how it ended and a summary of what it produced.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/timeutil"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when completing or failing a run twice.
	ErrRunFinished = errors.New("run already finished")
)

// pragmas are applied by the driver to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

func dsn(path string) string {
	q := url.Values{"_pragma": pragmas}
	return "file:" + path + "?" + q.Encode()
}

type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// NewDB opens (creating if needed) the catalog at path and migrates it to
// the latest schema.
func NewDB(path string) (*DB, error) {
	return NewDBWithClock(path, timeutil.RealClock{})
}

// NewDBWithClock is NewDB with an explicit clock for finish timestamps.
func NewDBWithClock(path string, clock timeutil.Clock) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path, clock: clock}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Run is one catalog row.
type Run struct {
	ID            string            `json:"id"`
	Number        int               `json:"number"`
	Dir           string            `json:"dir"`
	Status        string            `json:"status"`
	Started       time.Time         `json:"started"`
	Finished      time.Time         `json:"finished,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Summary       fusion.RunSummary `json:"summary"`
}

// StartRun records a new running run.
func (db *DB) StartRun(ctx context.Context, id string, number int, dir string, started time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, run_number, run_dir, status, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		id, number, dir, StatusRunning, started.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", id, err)
	}
	return nil
}

// CompleteRun marks a running run completed and stores its summary.
func (db *DB) CompleteRun(ctx context.Context, id string, s fusion.RunSummary) error {
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		   SET status = ?
		     , finished_unix_nanos = ?
		     , records = ?
		     , tagged = ?
		     , untagged = ?
		     , unique_tags = ?
		     , mean_strength = ?
		     , std_strength = ?
		     , mean_size = ?
		     , first_record_unix_nanos = ?
		     , last_record_unix_nanos = ?
		 WHERE run_id = ? AND status = ?`,
		StatusCompleted, db.clock.Now().UnixNano(),
		s.Records, s.Tagged, s.Untagged, s.UniqueTags,
		s.MeanStrength, s.StdStrength, s.MeanSize,
		nullUnixNanos(s.First), nullUnixNanos(s.Last),
		id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}
	return db.checkTransition(ctx, id, res)
}

// FailRun marks a running run failed with a reason.
func (db *DB) FailRun(ctx context.Context, id, reason string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		   SET status = ?, finished_unix_nanos = ?, failure_reason = ?
		 WHERE run_id = ? AND status = ?`,
		StatusFailed, db.clock.Now().UnixNano(), reason, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to fail run %s: %w", id, err)
	}
	return db.checkTransition(ctx, id, res)
}

func (db *DB) checkTransition(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := db.GetRun(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrRunFinished, id)
}

const runColumns = `
	run_id, run_number, run_dir, status, started_unix_nanos, finished_unix_nanos,
	records, tagged, untagged, unique_tags, failure_reason,
	mean_strength, std_strength, mean_size, first_record_unix_nanos, last_record_unix_nanos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                       Run
		started                 int64
		finished, first, last   sql.NullInt64
		reason                  sql.NullString
		meanStr, stdStr, meanSz sql.NullFloat64
	)
	err := row.Scan(
		&r.ID, &r.Number, &r.Dir, &r.Status, &started, &finished,
		&r.Summary.Records, &r.Summary.Tagged, &r.Summary.Untagged, &r.Summary.UniqueTags, &reason,
		&meanStr, &stdStr, &meanSz, &first, &last,
	)
	if err != nil {
		return Run{}, err
	}
	r.Started = time.Unix(0, started).UTC()
	r.Finished = fromNullUnixNanos(finished)
	r.FailureReason = reason.String
	r.Summary.MeanStrength = meanStr.Float64
	r.Summary.StdStrength = stdStr.Float64
	r.Summary.MeanSize = meanSz.Float64
	r.Summary.First = fromNullUnixNanos(first)
	r.Summary.Last = fromNullUnixNanos(last)
	return r, nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recently started runs first. A limit of zero or
// less returns every run.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_unix_nanos DESC, run_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// StatusCounts returns the number of runs per status.
func (db *DB) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullUnixNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnixNanos(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}
