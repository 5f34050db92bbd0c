// Package store archives processed insight documents in SQLite so runs can be
// listed and compared later.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hra-insights/internal"
	"hra-insights/types"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL DEFAULT '',
	processed_at   TEXT NOT NULL,
	total_insights INTEGER NOT NULL,
	error_count    INTEGER NOT NULL,
	warning_count  INTEGER NOT NULL,
	fix_count      INTEGER NOT NULL,
	anomaly_count  INTEGER NOT NULL,
	recovered      INTEGER NOT NULL DEFAULT 0,
	document       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	insight_id       TEXT NOT NULL,
	idx              INTEGER NOT NULL,
	english_message  TEXT NOT NULL,
	english_proof    TEXT NOT NULL,
	turkish_message  TEXT NOT NULL,
	turkish_score    INTEGER,
	categories       TEXT NOT NULL,
	health_tags      TEXT NOT NULL,
	demographic_tags TEXT NOT NULL,
	PRIMARY KEY (run_id, insight_id)
);

CREATE TABLE IF NOT EXISTS findings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	insight_id TEXT NOT NULL,
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_processed_at ON runs(processed_at);
CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);
`

// Severity values stored in the findings table
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Store is a SQLite-backed archive
type Store struct {
	db   *sql.DB
	path string
}

// RunSummary is one row of the runs table
type RunSummary struct {
	ID            string    `json:"run_id"`
	Source        string    `json:"source"`
	ProcessedAt   time.Time `json:"processed_at"`
	TotalInsights int       `json:"total_insights"`
	Errors        int       `json:"errors"`
	Warnings      int       `json:"warnings"`
	Fixes         int       `json:"fixes"`
	Anomalies     int       `json:"anomalies"`
	Recovered     bool      `json:"recovered"`
}

// StoredFinding is one validation finding of an archived run
type StoredFinding struct {
	InsightID string `json:"insight_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// openDB opens a SQLite database with foreign keys enabled
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; batch workers share the handle
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Open opens or creates the archive at path and applies the schema
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a document and its insights and findings in one
// transaction. Saving a run ID again replaces the earlier copy. A document
// without a run ID gets a new one.
func (s *Store) SaveRun(ctx context.Context, doc *types.InsightsDocument) error {
	if doc.RunID == "" {
		doc.RunID = internal.NewRunID()
	}

	document, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, doc.RunID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, processed_at, total_insights, error_count, warning_count, fix_count, anomaly_count, recovered, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.RunID,
		doc.Source,
		doc.ProcessingDate.UTC().Format(time.RFC3339Nano),
		doc.TotalInsights,
		len(doc.Validation.Errors),
		len(doc.Validation.Warnings),
		len(doc.Fixes),
		len(doc.Anomalies),
		doc.Recovered,
		string(document),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, in := range doc.Insights {
		var score sql.NullInt64
		if v, ok := in.Turkish.Score.Int(); ok {
			score = sql.NullInt64{Int64: int64(v), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO insights (run_id, insight_id, idx, english_message, english_proof, turkish_message, turkish_score, categories, health_tags, demographic_tags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.RunID, in.ID, in.Index,
			in.English.Message, in.English.Proof, in.Turkish.Message, score,
			encodeList(in.Categories), encodeList(in.HealthTags), encodeList(in.DemographicTags),
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight %s: %w", in.ID, err)
		}
	}

	insertFinding := func(severity string, f types.Finding) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (run_id, insight_id, severity, message) VALUES (?, ?, ?, ?)`,
			doc.RunID, f.InsightID, severity, f.Message)
		return err
	}
	for _, f := range doc.Validation.Errors {
		if err := insertFinding(SeverityError, f); err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}
	for _, f := range doc.Validation.Warnings {
		if err := insertFinding(SeverityWarning, f); err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, processed_at, total_insights, error_count, warning_count, fix_count, anomaly_count, recovered
		FROM runs
		ORDER BY processed_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r         RunSummary
			processed string
		)
		if err := rows.Scan(&r.ID, &r.Source, &processed, &r.TotalInsights, &r.Errors, &r.Warnings, &r.Fixes, &r.Anomalies, &r.Recovered); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.ProcessedAt, err = time.Parse(time.RFC3339Nano, processed)
		if err != nil {
			return nil, fmt.Errorf("invalid processed_at for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetDocument returns the archived document of a run
func (s *Store) GetDocument(ctx context.Context, runID string) (*types.InsightsDocument, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE id = ?`, runID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var doc types.InsightsDocument
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &doc, nil
}

// GetInsights returns a run's insights in index order
func (s *Store) GetInsights(ctx context.Context, runID string) ([]types.Insight, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT insight_id, idx, english_message, english_proof, turkish_message, turkish_score, categories, health_tags, demographic_tags
		FROM insights
		WHERE run_id = ?
		ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := []types.Insight{}
	for rows.Next() {
		var (
			in                         types.Insight
			score                      sql.NullInt64
			categories, health, demogr string
		)
		if err := rows.Scan(&in.ID, &in.Index, &in.English.Message, &in.English.Proof, &in.Turkish.Message, &score, &categories, &health, &demogr); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if score.Valid {
			in.Turkish.Score = types.ScoreOf(int(score.Int64))
		}
		if in.Categories, err = decodeList(categories); err != nil {
			return nil, err
		}
		if in.HealthTags, err = decodeList(health); err != nil {
			return nil, err
		}
		if in.DemographicTags, err = decodeList(demogr); err != nil {
			return nil, err
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// GetFindings returns a run's findings, errors before warnings, each in record order
func (s *Store) GetFindings(ctx context.Context, runID string) ([]StoredFinding, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT insight_id, severity, message
		FROM findings
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	findings := []StoredFinding{}
	for rows.Next() {
		var f StoredFinding
		if err := rows.Scan(&f.InsightID, &f.Severity, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (s *Store) exists(ctx context.Context, runID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE id = ?`, runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}
	return nil
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(data string) ([]string, error) {
	items := []string{}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return items, nil
}
