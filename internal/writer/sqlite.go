package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pingsantohq/satprobe/pkg/types"
)

// SQLiteSink indexes every result in a SQLite database for ad-hoc queries.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at path and ensures the schema.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS probe_results (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	target     TEXT NOT NULL,
	probe_kind TEXT NOT NULL,
	rtt        REAL,
	status     TEXT NOT NULL,
	metadata   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_results_target_kind_ts ON probe_results (target, probe_kind, ts);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteSink) Write(ctx context.Context, result types.ProbeResult) error {
	md, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var rtt sql.NullFloat64
	if result.RTT != nil {
		rtt = sql.NullFloat64{Float64: *result.RTT, Valid: true}
	}
	const query = `INSERT INTO probe_results (ts, target, probe_kind, rtt, status, metadata) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		result.Timestamp.UTC().Format(time.RFC3339Nano),
		result.Target,
		string(result.Kind),
		rtt,
		string(result.Status),
		string(md),
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Count returns the number of stored results for kind, or all results when kind is empty.
func (s *SQLiteSink) Count(ctx context.Context, kind types.Kind) (int, error) {
	query := `SELECT COUNT(*) FROM probe_results`
	args := []any{}
	if kind != "" {
		query += ` WHERE probe_kind = ?`
		args = append(args, string(kind))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
