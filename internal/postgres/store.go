// Package postgres implements the alert store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"perceptor/internal/framestore"
	dbconfig "perceptor/pkg/database"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// Store implements interfaces.Store on a pgx connection pool
// ARCHITECTURAL DISCOVERY: PostgreSQL handles concurrent writers itself, so
// unlike the SQLite store there is no single-writer goroutine here
type Store struct {
	pool   *pgxpool.Pool
	frames *framestore.Store
	logger *slog.Logger
}

// New connects, applies migrations and returns the store
func New(ctx context.Context, config *dbconfig.Config, frames *framestore.Store, logger *slog.Logger) (*Store, error) {
	if frames == nil {
		return nil, errors.New("frame store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// TECHNICAL DISCOVERY: goose needs database/sql, so migrations run through
	// a stdlib handle borrowed from the same pool
	db := stdlib.OpenDBFromPool(pool)
	err = dbconfig.Migrate(ctx, db, dbconfig.DriverPostgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{
		pool:   pool,
		frames: frames,
		logger: logger.With("component", "postgres_store"),
	}, nil
}

// CreateSession inserts an open alert session and creates its directory
func (s *Store) CreateSession(ctx context.Context, kind types.StreamKind, name, location string) (string, error) {
	if !kind.KeepsAlerts() {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidKind, kind)
	}
	if err := s.frames.Prepare(location); err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_sessions (id, kind, name, save_dir, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(kind), name, location, types.AlertStatusOpen)
	if err != nil {
		_ = s.frames.Remove(location)
		return "", fmt.Errorf("failed to insert alert session: %w", err)
	}
	return id, nil
}

// AppendFrame writes the frame image and records it
func (s *Store) AppendFrame(ctx context.Context, kind types.StreamKind, sessionID string, frame *types.AlertFrame) (string, error) {
	if frame == nil {
		return "", framestore.ErrEmptyFrame
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", interfaces.ErrAlertSessionNotFound
	}
	bboxes := frame.BBoxes
	if bboxes == nil {
		bboxes = []types.BBox{}
	}
	bboxJSON, err := json.Marshal(bboxes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bboxes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FUNCTIONAL DISCOVERY: Row lock serializes appends per session so the
	// counter stays equal to the number of frame rows
	var dir string
	err = tx.QueryRow(ctx,
		"SELECT save_dir FROM alert_sessions WHERE id = $1 AND kind = $2 FOR UPDATE", sessionID, string(kind),
	).Scan(&dir)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", interfaces.ErrAlertSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load alert session: %w", err)
	}

	path, checksum, err := s.frames.Save(dir, frame.FrameIndex, frame.Image)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO alert_frames (session_id, frame_index, label, confidence, bbox, image_path, checksum)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`, sessionID, frame.FrameIndex, frame.Label, frame.Confidence, string(bboxJSON), path, checksum); err != nil {
		return "", fmt.Errorf("failed to insert alert frame: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE alert_sessions SET alert_frame_count = alert_frame_count + 1 WHERE id = $1", sessionID,
	); err != nil {
		return "", fmt.Errorf("failed to update alert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit alert frame: %w", err)
	}
	return path, nil
}

// Finalize stores the final counts and closes the session
func (s *Store) Finalize(ctx context.Context, kind types.StreamKind, sessionID string, totalFrames, alertFrames int) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return interfaces.ErrAlertSessionNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET total_frames = $1, alert_frame_count = $2, status = $3, finalized_at = now()
		WHERE id = $4 AND kind = $5
	`, totalFrames, alertFrames, types.AlertStatusFinal, sessionID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to finalize alert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrAlertSessionNotFound
	}
	return nil
}

// DeleteIfEmpty removes a frameless session and its directory
func (s *Store) DeleteIfEmpty(ctx context.Context, kind types.StreamKind, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil
	}
	var dir string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM alert_sessions
		WHERE id = $1 AND kind = $2
		AND NOT EXISTS (SELECT 1 FROM alert_frames WHERE session_id = $1)
		RETURNING save_dir
	`, sessionID, string(kind)).Scan(&dir)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete alert session: %w", err)
	}
	return s.frames.Remove(dir)
}

const sessionColumns = `id::text, kind, name, save_dir, total_frames, alert_frame_count, status, created_at, finalized_at`

// ListAlertSessions returns one page of sessions, newest first, and the total
func (s *Store) ListAlertSessions(ctx context.Context, query types.AlertQuery) ([]*types.AlertSessionRecord, int, error) {
	offset := query.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM alert_sessions WHERE $1 = '' OR kind = $1", string(query.Kind),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alert sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM alert_sessions
		WHERE $1 = '' OR kind = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(query.Kind), query.PerPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alert sessions: %w", err)
	}
	defer rows.Close()

	var records []*types.AlertSessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating alert sessions: %w", err)
	}
	return records, total, nil
}

// GetAlertSession retrieves one session
func (s *Store) GetAlertSession(ctx context.Context, sessionID string) (*types.AlertSessionRecord, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, interfaces.ErrAlertSessionNotFound
	}
	record, err := scanSession(s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM alert_sessions WHERE id = $1", sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrAlertSessionNotFound
	}
	return record, err
}

// ListAlertFrames returns the frames of a session in frame order
func (s *Store) ListAlertFrames(ctx context.Context, sessionID string) ([]*types.AlertFrameRecord, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id::text, frame_index, label, confidence, bbox, image_path, checksum, created_at
		FROM alert_frames WHERE session_id = $1
		ORDER BY frame_index ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert frames: %w", err)
	}
	defer rows.Close()

	var frames []*types.AlertFrameRecord
	for rows.Next() {
		var f types.AlertFrameRecord
		var bbox []byte
		if err := rows.Scan(&f.ID, &f.SessionID, &f.FrameIndex, &f.Label, &f.Confidence, &bbox, &f.ImagePath, &f.Checksum, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert frame: %w", err)
		}
		if err := json.Unmarshal(bbox, &f.BBoxes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bboxes: %w", err)
		}
		frames = append(frames, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert frames: %w", err)
	}
	return frames, nil
}

// PurgeStale removes open, frameless sessions created before cutoff
func (s *Store) PurgeStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM alert_sessions
		WHERE status = $1 AND created_at < $2
		AND NOT EXISTS (SELECT 1 FROM alert_frames WHERE session_id = alert_sessions.id)
		RETURNING save_dir
	`, types.AlertStatusOpen, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale sessions: %w", err)
	}
	dirs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale sessions: %w", err)
	}

	for _, dir := range dirs {
		if err := s.frames.Remove(dir); err != nil {
			s.logger.Warn("Failed to remove stale session directory", "dir", dir, "error", err)
		}
	}
	return len(dirs), nil
}

// HealthCheck validates database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (*types.AlertSessionRecord, error) {
	var r types.AlertSessionRecord
	var kind string
	err := row.Scan(&r.ID, &kind, &r.Name, &r.SaveDir, &r.TotalFrames, &r.AlertFrameCount, &r.Status, &r.CreatedAt, &r.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert session: %w", err)
	}
	r.Kind = types.StreamKind(kind)
	return &r, nil
}

// Compile-time interface check
var _ interfaces.Store = (*Store)(nil)
