package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sjsage522/cardledger/internal/crawler"

	_ "modernc.org/sqlite" // SQLite driver
)

// Outcome of a whole run
const (
	OutcomeOK         = "ok"
	OutcomePartial    = "partial"
	OutcomeAuthFailed = "auth_failed"
	OutcomeSaveFailed = "save_failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP NOT NULL,
	strategy       TEXT NOT NULL DEFAULT '',
	new_records    INTEGER NOT NULL DEFAULT 0,
	ledger_records INTEGER NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS section_runs (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	section        TEXT NOT NULL,
	pages          INTEGER NOT NULL,
	new_records    INTEGER NOT NULL,
	duplicates     INTEGER NOT NULL,
	unparsed_dates INTEGER NOT NULL,
	stop_reason    TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, section)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run is one recorded sync run
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Strategy      string
	NewRecords    int
	LedgerRecords int
	Outcome       string
	Error         string
	Sections      []SectionRun
}

// SectionRun is the outcome of one section within a run
type SectionRun struct {
	Section       crawler.Section
	Pages         int
	NewRecords    int
	Duplicates    int
	UnparsedDates int
	StopReason    crawler.StopReason
	Error         string
}

// SectionRunFromResult converts a crawl result
func SectionRunFromResult(res *crawler.Result) SectionRun {
	sr := SectionRun{
		Section:       res.Section,
		Pages:         res.Pages,
		NewRecords:    len(res.Records),
		Duplicates:    res.Duplicates,
		UnparsedDates: res.UnparsedDates,
		StopReason:    res.Stop,
	}
	if res.Err != nil {
		sr.Error = res.Err.Error()
	}
	return sr
}

// Store records runs in a SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (and creates) the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its sections in one transaction
func (s *Store) Record(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, strategy, new_records, ledger_records, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Strategy,
		run.NewRecords, run.LedgerRecords, run.Outcome, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	for _, sr := range run.Sections {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO section_runs (run_id, section, pages, new_records, duplicates, unparsed_dates, stop_reason, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(sr.Section), sr.Pages, sr.NewRecords, sr.Duplicates,
			sr.UnparsedDates, string(sr.StopReason), sr.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to record section %s: %w", sr.Section, err)
		}
	}

	return tx.Commit()
}

// Recent returns the last limit runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, strategy, new_records, ledger_records, outcome, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Strategy, &r.NewRecords, &r.LedgerRecords, &r.Outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		sections, err := s.sections(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Sections = sections
	}
	return runs, nil
}

func (s *Store) sections(ctx context.Context, runID string) ([]SectionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section, pages, new_records, duplicates, unparsed_dates, stop_reason, error
		FROM section_runs WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []SectionRun
	for rows.Next() {
		var sr SectionRun
		var section, reason string
		if err := rows.Scan(&section, &sr.Pages, &sr.NewRecords, &sr.Duplicates, &sr.UnparsedDates, &reason, &sr.Error); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sr.Section = crawler.Section(section)
		sr.StopReason = crawler.StopReason(reason)
		sections = append(sections, sr)
	}
	return sections, rows.Err()
}

// Recorder stores finished runs
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// Ensure Store implements Recorder
var _ Recorder = (*Store)(nil)
