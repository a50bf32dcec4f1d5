// Package trend keeps a history of simulator performance across commits and
// flags benchmarks that slowed down.
package trend

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultThresholdPercent is the slowdown reported as a regression.
const DefaultThresholdPercent = 10.0

// DefaultBaselineAge is how old a record must be to serve as a baseline.
const DefaultBaselineAge = 7 * 24 * time.Hour

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	commit_message TEXT,
	mode TEXT NOT NULL,
	benchmark TEXT NOT NULL,
	suite TEXT NOT NULL,
	instructions_per_sec REAL,
	cpi REAL,
	memory_usage_mb REAL,
	elapsed_time_sec REAL,
	success INTEGER NOT NULL,
	UNIQUE(timestamp, commit_hash, mode, benchmark, suite)
);
CREATE INDEX IF NOT EXISTS idx_commit_hash ON performance_metrics(commit_hash);
CREATE INDEX IF NOT EXISTS idx_timestamp ON performance_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_benchmark ON performance_metrics(benchmark);
`

// Record is one benchmark run of one simulator build.
type Record struct {
	Timestamp          time.Time `json:"timestamp"`
	Commit             string    `json:"commit_hash"`
	CommitMessage      string    `json:"commit_message"`
	Mode               string    `json:"mode"`
	Benchmark          string    `json:"benchmark"`
	Suite              string    `json:"suite"`
	InstructionsPerSec float64   `json:"instructions_per_sec"`
	CPI                float64   `json:"cpi"`
	MemoryUsageMB      float64   `json:"memory_usage_mb"`
	ElapsedSec         float64   `json:"elapsed_time_sec"`
	Success            bool      `json:"success"`
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Benchmark string
	Mode      string
	Since     time.Time
}

// Regression is a benchmark whose latest throughput fell below its baseline.
type Regression struct {
	Benchmark string `json:"benchmark"`
	Mode      string `json:"mode"`
	Suite     string `json:"suite"`

	Current  Record `json:"current"`
	Baseline Record `json:"baseline"`

	// ChangePercent is negative for a slowdown
	ChangePercent float64 `json:"change_percent"`
}

// Store is a SQLite-backed record history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to create schema in %s", path)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store inserts records, replacing any with the same timestamp, commit,
// mode, benchmark and suite.
func (s *Store) Store(records ...Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	insert := `
	INSERT OR REPLACE INTO performance_metrics (
		timestamp, commit_hash, commit_message, mode, benchmark, suite,
		instructions_per_sec, cpi, memory_usage_mb, elapsed_time_sec, success
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	for _, r := range records {
		_, err := tx.Exec(insert,
			r.Timestamp.UTC().Format(timeLayout), r.Commit, r.CommitMessage,
			r.Mode, r.Benchmark, r.Suite,
			r.InstructionsPerSec, r.CPI, r.MemoryUsageMB, r.ElapsedSec, r.Success,
		)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "failed to store %s/%s", r.Mode, r.Benchmark)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit records")
	}

	log.WithField("records", len(records)).Debug("stored trend records")
	return nil
}

const columns = `timestamp, commit_hash, commit_message, mode, benchmark, suite,
	instructions_per_sec, cpi, memory_usage_mb, elapsed_time_sec, success`

// Records returns the records matching f, newest first.
func (s *Store) Records(f Filter) ([]Record, error) {
	query := `SELECT ` + columns + ` FROM performance_metrics WHERE timestamp >= ?`
	args := []any{f.Since.UTC().Format(timeLayout)}

	if f.Benchmark != "" {
		query += ` AND benchmark = ?`
		args = append(args, f.Benchmark)
	}
	if f.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, f.Mode)
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to read records")
}

// DetectRegressions compares, for every benchmark and mode, the latest
// successful record with the latest successful record at least baselineAge
// older than now. A drop in throughput beyond thresholdPercent is a
// regression.
func (s *Store) DetectRegressions(
	now time.Time,
	baselineAge time.Duration,
	thresholdPercent float64,
) ([]Regression, error) {
	cutoff := now.Add(-baselineAge).UTC().Format(timeLayout)

	rows, err := s.db.Query(`
	WITH latest AS (
		SELECT *, ROW_NUMBER() OVER (
			PARTITION BY benchmark, mode ORDER BY timestamp DESC, id DESC
		) AS rn
		FROM performance_metrics
		WHERE success = 1
	),
	baseline AS (
		SELECT *, ROW_NUMBER() OVER (
			PARTITION BY benchmark, mode ORDER BY timestamp DESC, id DESC
		) AS rn
		FROM performance_metrics
		WHERE success = 1 AND timestamp <= ?
	)
	SELECT
		l.timestamp, l.commit_hash, l.commit_message, l.mode, l.benchmark, l.suite,
		l.instructions_per_sec, l.cpi, l.memory_usage_mb, l.elapsed_time_sec, l.success,
		b.timestamp, b.commit_hash, b.commit_message, b.mode, b.benchmark, b.suite,
		b.instructions_per_sec, b.cpi, b.memory_usage_mb, b.elapsed_time_sec, b.success
	FROM latest l
	JOIN baseline b ON l.benchmark = b.benchmark AND l.mode = b.mode
	WHERE l.rn = 1 AND b.rn = 1
		AND l.instructions_per_sec < b.instructions_per_sec * (1 - ? / 100.0)
	ORDER BY l.benchmark, l.mode
	`, cutoff, thresholdPercent)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query regressions")
	}
	defer rows.Close()

	var out []Regression
	for rows.Next() {
		var (
			cur, base   Record
			curTS, baTS string
			curMsg      sql.NullString
			baMsg       sql.NullString
		)
		err := rows.Scan(
			&curTS, &cur.Commit, &curMsg, &cur.Mode, &cur.Benchmark, &cur.Suite,
			&cur.InstructionsPerSec, &cur.CPI, &cur.MemoryUsageMB, &cur.ElapsedSec, &cur.Success,
			&baTS, &base.Commit, &baMsg, &base.Mode, &base.Benchmark, &base.Suite,
			&base.InstructionsPerSec, &base.CPI, &base.MemoryUsageMB, &base.ElapsedSec, &base.Success,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read regression")
		}
		if cur.Timestamp, err = time.Parse(timeLayout, curTS); err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q", curTS)
		}
		if base.Timestamp, err = time.Parse(timeLayout, baTS); err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q", baTS)
		}
		cur.CommitMessage = curMsg.String
		base.CommitMessage = baMsg.String

		out = append(out, Regression{
			Benchmark: cur.Benchmark,
			Mode:      cur.Mode,
			Suite:     cur.Suite,
			Current:   cur,
			Baseline:  base,
			ChangePercent: (cur.InstructionsPerSec - base.InstructionsPerSec) /
				base.InstructionsPerSec * 100,
		})
	}
	return out, errors.Wrap(rows.Err(), "failed to read regressions")
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r   Record
		ts  string
		msg sql.NullString
	)
	err := rows.Scan(&ts, &r.Commit, &msg, &r.Mode, &r.Benchmark, &r.Suite,
		&r.InstructionsPerSec, &r.CPI, &r.MemoryUsageMB, &r.ElapsedSec, &r.Success)
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to read record")
	}

	r.CommitMessage = msg.String
	r.Timestamp, err = time.Parse(timeLayout, ts)
	if err != nil {
		return Record{}, errors.Wrapf(err, "bad timestamp %q", ts)
	}
	return r, nil
}
