// Package history keeps a local SQLite record of past campaign runs.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tpodg/smscampaign/internal/campaign"
)

//go:embed schema.sql
var schema string

var ErrDisabled = errors.New("history is disabled")

// Run is the stored summary of one campaign run.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	campaign.Summary
}

// Entry is one stored recipient outcome. Message bodies are never stored.
type Entry struct {
	Position int
	Name     string
	Surname  string
	Number   string
	Status   campaign.Status
	Attempts int
	Kind     string
	ExitCode int
	Error    string
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. An empty path yields a nil
// store whose methods return ErrDisabled.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure history (%s): %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores the report's summary and every outcome in one transaction.
func (s *Store) Record(ctx context.Context, r *campaign.Report) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	sum := r.Summary()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, started, finished, total, sent, failed, cancelled, rejected)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.RunID, formatTime(r.Started), formatTime(r.Finished),
		sum.Total, sum.Sent, sum.Failed, sum.Cancelled, sum.Rejected,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes(run_id, position, name, surname, number, status, attempts, kind, exit_code, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range r.Outcomes {
		var kind, msg string
		if o.Err != nil {
			kind = o.Kind().String()
			msg = o.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID, i, o.Recipient.Name, o.Recipient.Surname, o.Recipient.Number,
			string(o.Status), o.Attempts, nullStr(kind), o.ExitCode, nullStr(msg),
		); err != nil {
			return fmt.Errorf("insert outcome %d of run %s: %w", i, r.RunID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started, finished, total, sent, failed, cancelled, rejected
		 FROM runs ORDER BY started DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
		)
		if err := rows.Scan(&run.ID, &started, &finished,
			&run.Total, &run.Sent, &run.Failed, &run.Cancelled, &run.Rejected); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if run.Finished, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Outcomes returns the stored outcomes of one run in dispatch order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, name, surname, number, status, attempts, kind, exit_code, err
		 FROM outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes of run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			status    string
			kind, msg sql.NullString
		)
		if err := rows.Scan(&e.Position, &e.Name, &e.Surname, &e.Number, &status,
			&e.Attempts, &kind, &e.ExitCode, &msg); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Status = campaign.Status(status)
		e.Kind = kind.String
		e.Error = msg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", v, err)
	}
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
