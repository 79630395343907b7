// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Repository on SQLite.
type SqliteStore struct {
	DB *sql.DB
	// writeMu serializes read-modify-write transactions; SQLite allows one writer anyway.
	writeMu sync.Mutex
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("frame store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	currentVersion, err := sqlite.UserVersion(s.DB)
	if err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		fps_target INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		ended_at_ms INTEGER,
		duration_seconds INTEGER,
		stop_reason TEXT NOT NULL DEFAULT '',
		policy_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stream_sessions_status ON stream_sessions(status, created_at_ms);

	CREATE TABLE IF NOT EXISTS frame_analyses (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES stream_sessions(id),
		frame_number INTEGER NOT NULL,
		image_hash TEXT NOT NULL,
		motion_score REAL NOT NULL,
		sampled INTEGER NOT NULL,
		sample_reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		captured_at_ms INTEGER NOT NULL,
		analyzed_at_ms INTEGER,
		processing_ms INTEGER NOT NULL DEFAULT 0,
		result_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_frame_analyses_session ON frame_analyses(session_id, frame_number);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Sessions ---

const sessionColumns = `id, source, fps_target, status, created_at_ms, ended_at_ms, duration_seconds, stop_reason, policy_json`

func (s *SqliteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	policyJSON, err := json.Marshal(sess.Policy)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO stream_sessions (`+sessionColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.Source, sess.TargetFPS, string(sess.Status), sess.CreatedAt.UnixMilli(),
		timePtrToMs(sess.EndedAt), nullInt(sess.DurationSeconds), string(sess.StopReason), string(policyJSON),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrExists
	}
	return nil
}

func (s *SqliteStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := scanSession(tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM stream_sessions WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}

	policyJSON, err := json.Marshal(sess.Policy)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE stream_sessions SET
			source = ?, fps_target = ?, status = ?, ended_at_ms = ?, duration_seconds = ?,
			stop_reason = ?, policy_json = ?
		WHERE id = ?`,
		sess.Source, sess.TargetFPS, string(sess.Status), timePtrToMs(sess.EndedAt), nullInt(sess.DurationSeconds),
		string(sess.StopReason), string(policyJSON), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SqliteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return scanSession(s.DB.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM stream_sessions WHERE id = ?", id))
}

func (s *SqliteStore) ListSessions(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	query := "SELECT " + sessionColumns + " FROM stream_sessions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at_ms, id"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- Frames ---

const frameColumns = `id, session_id, frame_number, image_hash, motion_score, sampled, sample_reason, status,
	failure_reason, attempts, captured_at_ms, analyzed_at_ms, processing_ms, result_json`

func (s *SqliteStore) CreateFrame(ctx context.Context, f *model.FrameRecord) error {
	resultJSON, err := marshalResult(f.Result)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	err = s.DB.QueryRowContext(ctx, "SELECT 1 FROM stream_sessions WHERE id = ?", f.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO frame_analyses (`+frameColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		f.ID, f.SessionID, f.FrameNumber, f.Fingerprint, f.MotionScore, boolToInt(f.Sampled), f.SampleReason,
		string(f.Status), f.FailureReason, f.Attempts, f.CapturedAt.UnixMilli(), timePtrToMs(f.AnalyzedAt),
		f.ProcessingMS, resultJSON,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrExists
	}
	return nil
}

func (s *SqliteStore) UpdateFrame(ctx context.Context, id string, fn func(*model.FrameRecord) error) (*model.FrameRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	f, err := scanFrame(tx.QueryRowContext(ctx, "SELECT "+frameColumns+" FROM frame_analyses WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := fn(f); err != nil {
		return nil, err
	}
	resultJSON, err := marshalResult(f.Result)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE frame_analyses SET
			sampled = ?, sample_reason = ?, status = ?, failure_reason = ?, attempts = ?,
			analyzed_at_ms = ?, processing_ms = ?, result_json = ?
		WHERE id = ?`,
		boolToInt(f.Sampled), f.SampleReason, string(f.Status), f.FailureReason, f.Attempts,
		timePtrToMs(f.AnalyzedAt), f.ProcessingMS, resultJSON, id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SqliteStore) GetFrame(ctx context.Context, id string) (*model.FrameRecord, error) {
	return scanFrame(s.DB.QueryRowContext(ctx, "SELECT "+frameColumns+" FROM frame_analyses WHERE id = ?", id))
}

func (s *SqliteStore) ListFrames(ctx context.Context, sessionID string, limit, offset int) ([]*model.FrameRecord, int, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM frame_analyses WHERE session_id = ?", sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+frameColumns+" FROM frame_analyses WHERE session_id = ? ORDER BY frame_number, captured_at_ms LIMIT ? OFFSET ?",
		sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	out := []*model.FrameRecord{}
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func (s *SqliteStore) CountFrames(ctx context.Context, sessionID string) (model.FrameCounts, error) {
	var c model.FrameCounts
	rows, err := s.DB.QueryContext(ctx,
		"SELECT status, sampled, COUNT(*) FROM frame_analyses WHERE session_id = ? GROUP BY status, sampled", sessionID)
	if err != nil {
		return c, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status  string
			sampled int
			n       int
		)
		if err := rows.Scan(&status, &sampled, &n); err != nil {
			return c, err
		}
		c.Total += n
		if sampled != 0 {
			c.Sampled += n
		}
		switch model.AnalysisStatus(status) {
		case model.AnalysisSkipped:
			c.Skipped += n
		case model.AnalysisPending:
			c.Pending += n
		case model.AnalysisCompleted:
			c.Completed += n
		case model.AnalysisFailed:
			c.Failed += n
		}
	}
	return c, rows.Err()
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	var (
		sess       model.Session
		status     string
		createdMs  int64
		endedMs    sql.NullInt64
		duration   sql.NullInt64
		stopReason string
		policyJSON string
	)
	err := row.Scan(&sess.ID, &sess.Source, &sess.TargetFPS, &status, &createdMs, &endedMs, &duration, &stopReason, &policyJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = model.SessionStatus(status)
	sess.CreatedAt = time.UnixMilli(createdMs).UTC()
	sess.EndedAt = msToTimePtr(endedMs)
	if duration.Valid {
		d := duration.Int64
		sess.DurationSeconds = &d
	}
	sess.StopReason = model.StopReason(stopReason)
	if err := json.Unmarshal([]byte(policyJSON), &sess.Policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &sess, nil
}

func scanFrame(row scanner) (*model.FrameRecord, error) {
	var (
		f          model.FrameRecord
		sampled    int
		status     string
		capturedMs int64
		analyzedMs sql.NullInt64
		resultJSON sql.NullString
	)
	err := row.Scan(&f.ID, &f.SessionID, &f.FrameNumber, &f.Fingerprint, &f.MotionScore, &sampled, &f.SampleReason,
		&status, &f.FailureReason, &f.Attempts, &capturedMs, &analyzedMs, &f.ProcessingMS, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Sampled = sampled != 0
	f.Status = model.AnalysisStatus(status)
	f.CapturedAt = time.UnixMilli(capturedMs).UTC()
	f.AnalyzedAt = msToTimePtr(analyzedMs)
	if resultJSON.Valid && resultJSON.String != "" {
		var res model.AnalysisResult
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("decode analysis result: %w", err)
		}
		f.Result = &res
	}
	return &f, nil
}

func marshalResult(res *model.AnalysisResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	buf, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(buf), Valid: true}, nil
}

func timePtrToMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
