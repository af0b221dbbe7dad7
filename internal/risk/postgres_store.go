package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the assessments table if it doesn't exist. The schema
// mirrors migrations/001_create_assessments.sql for environments that don't
// run goose.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assessments (
			id          VARCHAR(36) PRIMARY KEY,
			subject     TEXT NOT NULL,
			kind        VARCHAR(16) NOT NULL CHECK (kind IN ('address', 'transaction')),
			category    VARCHAR(16) NOT NULL,
			level       VARCHAR(8) NOT NULL,
			confidence  NUMERIC(4,3) NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			description TEXT NOT NULL DEFAULT '',
			scores      JSONB NOT NULL DEFAULT '{}',
			degraded    BOOLEAN NOT NULL DEFAULT FALSE,
			assessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_assessments_subject
			ON assessments (subject, assessed_at DESC);

		CREATE INDEX IF NOT EXISTS idx_assessments_recent
			ON assessments (assessed_at DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	scoresJSON, err := json.Marshal(a.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, subject, kind, category, level, confidence, description, scores, degraded, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID,
		a.Subject,
		string(a.Kind),
		string(a.Category),
		string(a.Level),
		a.Confidence,
		a.Description,
		scoresJSON,
		a.Degraded,
		a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, kind, category, level, confidence, description, scores, degraded, assessed_at
		FROM assessments
		WHERE subject = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAssessments(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, kind, category, level, confidence, description, scores, degraded, assessed_at
		FROM assessments
		ORDER BY assessed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAssessments(rows)
}

func scanAssessments(rows *sql.Rows) ([]*Assessment, error) {
	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var scoresJSON []byte
		var assessedAt time.Time

		if err := rows.Scan(&a.ID, &a.Subject, &a.Kind, &a.Category, &a.Level,
			&a.Confidence, &a.Description, &scoresJSON, &a.Degraded, &assessedAt); err != nil {
			continue
		}
		a.Timestamp = assessedAt.In(Zone)
		a.Scores = make(map[Category]float64)
		_ = json.Unmarshal(scoresJSON, &a.Scores)
		result = append(result, &a)
	}
	return result, rows.Err()
}
