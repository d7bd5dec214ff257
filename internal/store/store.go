// Package store persists jobs, slides, shapes, and translation overlays in
// SQLite. Slide writes are transactional per slide, so readers never see a
// slide without its shapes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pptx-processor/internal/deck"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	progress        INTEGER NOT NULL DEFAULT 0,
	current_stage   TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	slide_count     INTEGER NOT NULL DEFAULT 0,
	degraded_slides TEXT NOT NULL DEFAULT '[]',
	error_code      TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	input_path      TEXT NOT NULL DEFAULT '',
	output_path     TEXT NOT NULL DEFAULT '',
	output_url      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id);

CREATE TABLE IF NOT EXISTS slides (
	session_id      TEXT NOT NULL,
	slide_number    INTEGER NOT NULL,
	svg_url         TEXT NOT NULL DEFAULT '',
	thumbnail_url   TEXT NOT NULL DEFAULT '',
	degraded        INTEGER NOT NULL DEFAULT 0,
	degraded_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, slide_number)
);

CREATE TABLE IF NOT EXISTS slide_shapes (
	session_id   TEXT NOT NULL,
	slide_number INTEGER NOT NULL,
	shape_id     TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	shape_type   TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	x            REAL NOT NULL DEFAULT 0,
	y            REAL NOT NULL DEFAULT 0,
	width        REAL NOT NULL DEFAULT 0,
	height       REAL NOT NULL DEFAULT 0,
	text         TEXT NOT NULL DEFAULT '',
	style        TEXT NOT NULL DEFAULT '{}',
	image_part   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, slide_number, shape_id),
	FOREIGN KEY (session_id, slide_number)
		REFERENCES slides(session_id, slide_number) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS shape_translations (
	session_id      TEXT NOT NULL,
	shape_id        TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, shape_id)
);
`

// SlideRecord is a persisted slide with its shapes in reading order.
type SlideRecord struct {
	SessionID      string
	SlideNumber    int
	SVGURL         string
	ThumbnailURL   string
	Degraded       bool
	DegradedReason string
	Shapes         []*ShapeRecord
}

// ShapeRecord is one persisted shape.
type ShapeRecord struct {
	ShapeID   string
	Seq       int
	Type      types.ShapeType
	Name      string
	Geometry  deck.Geometry
	Text      string
	Style     deck.TextStyle
	ImagePart string
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, types.NewAppError(types.ErrConfig, "failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to open database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, types.NewAppError(types.ErrConfig, "failed to initialize database schema", err)
	}

	logger.Info("database opened", logger.String("path", path))
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	degraded, _ := json.Marshal(job.DegradedSlides)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, session_id, kind, status, progress, current_stage,
			retry_count, max_retries, slide_count, degraded_slides, error_code,
			error_message, input_path, output_path, output_url, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.Kind, job.Status, job.Progress, job.CurrentStage,
		job.RetryCount, job.MaxRetries, job.SlideCount, string(degraded), job.ErrorCode,
		job.ErrorMessage, job.InputPath, job.OutputPath, job.OutputURL,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to insert job", err)
	}
	return nil
}

// UpdateJob rewrites a job row. Progress only moves forward: a stale
// writer cannot roll a job's reported progress back.
func (s *Store) UpdateJob(ctx context.Context, job *types.Job) error {
	degraded, _ := json.Marshal(job.DegradedSlides)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = MAX(progress, ?), current_stage = ?,
			retry_count = ?, slide_count = ?, degraded_slides = ?, error_code = ?,
			error_message = ?, input_path = ?, output_path = ?, output_url = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`,
		job.Status, job.Progress, job.CurrentStage,
		job.RetryCount, job.SlideCount, string(degraded), job.ErrorCode,
		job.ErrorMessage, job.InputPath, job.OutputPath, job.OutputURL,
		time.Now().UTC(), job.CompletedAt, job.ID)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to update job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewAppError(types.ErrNotFound, "job not found", nil)
	}
	return nil
}

// GetJob loads one job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, status, progress, current_stage, retry_count,
			max_retries, slide_count, degraded_slides, error_code, error_message,
			input_path, output_path, output_url, created_at, updated_at, completed_at
		FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// GetSessionJob returns the most recent job of the given kind for a session.
func (s *Store) GetSessionJob(ctx context.Context, sessionID string, kind types.JobKind) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, status, progress, current_stage, retry_count,
			max_retries, slide_count, degraded_slides, error_code, error_message,
			input_path, output_path, output_url, created_at, updated_at, completed_at
		FROM jobs WHERE session_id = ? AND kind = ?
		ORDER BY created_at DESC LIMIT 1`, sessionID, kind)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	job := &types.Job{}
	var degraded string
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.SessionID, &job.Kind, &job.Status, &job.Progress,
		&job.CurrentStage, &job.RetryCount, &job.MaxRetries, &job.SlideCount,
		&degraded, &job.ErrorCode, &job.ErrorMessage, &job.InputPath,
		&job.OutputPath, &job.OutputURL, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewAppError(types.ErrNotFound, "job not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to read job", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	json.Unmarshal([]byte(degraded), &job.DegradedSlides)
	return job, nil
}

// SaveSlide writes a slide and its shapes in one transaction, replacing
// any previous record for the same (session, slide). Re-running a slide
// after a retry is therefore idempotent.
func (s *Store) SaveSlide(ctx context.Context, rec *SlideRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slides (session_id, slide_number, svg_url, thumbnail_url, degraded, degraded_reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, slide_number) DO UPDATE SET
			svg_url = excluded.svg_url,
			thumbnail_url = excluded.thumbnail_url,
			degraded = excluded.degraded,
			degraded_reason = excluded.degraded_reason`,
		rec.SessionID, rec.SlideNumber, rec.SVGURL, rec.ThumbnailURL, rec.Degraded, rec.DegradedReason)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to upsert slide", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM slide_shapes WHERE session_id = ? AND slide_number = ?`,
		rec.SessionID, rec.SlideNumber)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to clear slide shapes", err)
	}

	for _, shape := range rec.Shapes {
		style, _ := json.Marshal(shape.Style)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO slide_shapes (session_id, slide_number, shape_id, seq, shape_type,
				name, x, y, width, height, text, style, image_part)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.SlideNumber, shape.ShapeID, shape.Seq, shape.Type,
			shape.Name, shape.Geometry.X, shape.Geometry.Y, shape.Geometry.Width,
			shape.Geometry.Height, shape.Text, string(style), shape.ImagePart)
		if err != nil {
			return types.NewAppError(types.ErrTransientIO, "failed to insert shape", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to commit slide", err)
	}
	return nil
}

// GetSlides returns all persisted slides for a session, in slide order,
// each with its shapes in reading order.
func (s *Store) GetSlides(ctx context.Context, sessionID string) ([]*SlideRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, slide_number, svg_url, thumbnail_url, degraded, degraded_reason
		FROM slides WHERE session_id = ? ORDER BY slide_number`, sessionID)
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to query slides", err)
	}
	defer rows.Close()

	var slides []*SlideRecord
	byNumber := make(map[int]*SlideRecord)
	for rows.Next() {
		rec := &SlideRecord{}
		if err := rows.Scan(&rec.SessionID, &rec.SlideNumber, &rec.SVGURL,
			&rec.ThumbnailURL, &rec.Degraded, &rec.DegradedReason); err != nil {
			return nil, types.NewAppError(types.ErrTransientIO, "failed to scan slide", err)
		}
		slides = append(slides, rec)
		byNumber[rec.SlideNumber] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to iterate slides", err)
	}

	shapeRows, err := s.db.QueryContext(ctx, `
		SELECT slide_number, shape_id, seq, shape_type, name, x, y, width, height, text, style, image_part
		FROM slide_shapes WHERE session_id = ? ORDER BY slide_number, seq`, sessionID)
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to query shapes", err)
	}
	defer shapeRows.Close()

	for shapeRows.Next() {
		var slideNumber int
		var style string
		shape := &ShapeRecord{}
		if err := shapeRows.Scan(&slideNumber, &shape.ShapeID, &shape.Seq, &shape.Type,
			&shape.Name, &shape.Geometry.X, &shape.Geometry.Y, &shape.Geometry.Width,
			&shape.Geometry.Height, &shape.Text, &style, &shape.ImagePart); err != nil {
			return nil, types.NewAppError(types.ErrTransientIO, "failed to scan shape", err)
		}
		json.Unmarshal([]byte(style), &shape.Style)
		if rec, ok := byNumber[slideNumber]; ok {
			rec.Shapes = append(rec.Shapes, shape)
		}
	}
	if err := shapeRows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to iterate shapes", err)
	}
	return slides, nil
}

// SaveTranslation upserts the translation overlay for one shape. The
// parsed source text is never touched.
func (s *Store) SaveTranslation(ctx context.Context, sessionID, shapeID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shape_translations (session_id, shape_id, translated_text, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, shape_id) DO UPDATE SET
			translated_text = excluded.translated_text,
			updated_at = excluded.updated_at`,
		sessionID, shapeID, text, time.Now().UTC())
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to save translation", err)
	}
	return nil
}

// GetTranslations returns the translation overlay for a session.
func (s *Store) GetTranslations(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT shape_id, translated_text FROM shape_translations WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to query translations", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var shapeID, text string
		if err := rows.Scan(&shapeID, &text); err != nil {
			return nil, types.NewAppError(types.ErrTransientIO, "failed to scan translation", err)
		}
		out[shapeID] = text
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to iterate translations", err)
	}
	return out, nil
}

// DeleteSession removes all persisted state for a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM shape_translations WHERE session_id = ?`,
		`DELETE FROM slides WHERE session_id = ?`,
		`DELETE FROM jobs WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return types.NewAppError(types.ErrTransientIO, "failed to delete session", err)
		}
	}
	return tx.Commit()
}
