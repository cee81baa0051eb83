package perf

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"crucible/internal/metrics"
)

// HistoryEntry is one persisted run of a performance test, the unit of
// regression comparison.
type HistoryEntry struct {
	TestName   string        `json:"test_name"`
	Duration   time.Duration `json:"duration"`
	PeakCPU    float64       `json:"peak_cpu"`
	PeakMemory float64       `json:"peak_memory"`
	Passed     bool          `json:"passed"`
	Timestamp  time.Time     `json:"timestamp"`
}

// RunReport is the full per-run analysis persisted alongside the history.
type RunReport struct {
	TestName   string                   `json:"test_name"`
	Duration   time.Duration            `json:"duration"`
	CPU        metrics.Stats            `json:"cpu"`
	Memory     metrics.Stats            `json:"memory"`
	Custom     map[string]metrics.Stats `json:"custom,omitempty"`
	Violations []string                 `json:"violations,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Passed     bool                     `json:"passed"`
	Timestamp  time.Time                `json:"timestamp"`
}

// HistoryStore persists performance history and per-run reports.
type HistoryStore interface {
	Append(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, testName string) ([]HistoryEntry, error)
	SaveReport(ctx context.Context, report RunReport) error
	Close() error
}

// MemoryStore is an in-process HistoryStore for tests and one-shot runs.
type MemoryStore struct {
	mu      sync.Mutex
	history map[string][]HistoryEntry
	reports []RunReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]HistoryEntry)}
}

func (s *MemoryStore) Append(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[entry.TestName] = append(s.history[entry.TestName], entry)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, testName string) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history[testName]))
	copy(out, s.history[testName])
	return out, nil
}

func (s *MemoryStore) SaveReport(ctx context.Context, report RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns every saved report in save order.
func (s *MemoryStore) Reports() []RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *MemoryStore) Close() error { return nil }

// SQLiteStore persists history in a single-file SQLite database. Reports
// are stored as JSON documents next to the history rows.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS perf_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_name TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	peak_cpu REAL NOT NULL,
	peak_memory REAL NOT NULL,
	passed INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_perf_history_test ON perf_history(test_name);

CREATE TABLE IF NOT EXISTS perf_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_name TEXT NOT NULL,
	report TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (and migrates) the database at path, e.g.
// "./crucible-history.db".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO perf_history (test_name, duration_ns, peak_cpu, peak_memory, passed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.TestName, int64(entry.Duration), entry.PeakCPU, entry.PeakMemory, entry.Passed, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", entry.TestName, err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, testName string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_name, duration_ns, peak_cpu, peak_memory, passed, created_at
		 FROM perf_history WHERE test_name = ? ORDER BY id`,
		testName)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", testName, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var durationNS int64
		if err := rows.Scan(&entry.TestName, &durationNS, &entry.PeakCPU, &entry.PeakMemory,
			&entry.Passed, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entry.Duration = time.Duration(durationNS)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report RunReport) error {
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report for %s: %w", report.TestName, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO perf_reports (test_name, report, created_at) VALUES (?, ?, ?)`,
		report.TestName, string(doc), report.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save report for %s: %w", report.TestName, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
