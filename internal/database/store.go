// Package database implements the SQLite alert store.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"perceptor/internal/framestore"
	dbconfig "perceptor/pkg/database"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Store implements interfaces.Store on SQLite
type Store struct {
	db           *sql.DB
	frames       *framestore.Store
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	retryDelay   time.Duration
	writeTimeout time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens the database, applies migrations and starts the writer
func NewStore(ctx context.Context, config *dbconfig.Config, frames *framestore.Store, logger *slog.Logger) (*Store, error) {
	if frames == nil {
		return nil, errors.New("frame store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbconfig.OpenSQLite(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.Migrate(ctx, db, dbconfig.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	// FUNCTIONAL DISCOVERY: a schema edited by hand after migration is
	// refused at startup rather than failing on the first alert write
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	s := &Store{
		db:           db,
		frames:       frames,
		logger:       logger.With("component", "sqlite_store"),
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
		retryDelay:   defaultRetryDelay,
		writeTimeout: defaultWriteTimeout,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			// FUNCTIONAL DISCOVERY: Transient failures are retried exactly once
			err := op.operation(s.db)
			if err != nil && !errors.Is(err, interfaces.ErrAlertSessionNotFound) {
				s.logger.Warn("Database write failed, retrying", "delay", s.retryDelay, "error", err)
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
				if err != nil {
					s.logger.Error("Database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			s.logger.Debug("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(s.writeTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrShuttingDown
	}
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
	err := s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO alert_sessions (id, kind, name, save_dir, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, string(kind), name, location, types.AlertStatusOpen, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert alert session: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = s.frames.Remove(location)
		return "", err
	}
	return id, nil
}

// AppendFrame writes the frame image and records it
func (s *Store) AppendFrame(ctx context.Context, kind types.StreamKind, sessionID string, frame *types.AlertFrame) (string, error) {
	if frame == nil {
		return "", framestore.ErrEmptyFrame
	}
	bboxes, err := json.Marshal(bboxesOrEmpty(frame.BBoxes))
	if err != nil {
		return "", fmt.Errorf("failed to marshal bboxes: %w", err)
	}

	var path string
	err = s.executeWrite(func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: Transaction keeps the frame row and the
		// session counter in step
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		var dir string
		err = tx.QueryRowContext(ctx,
			"SELECT save_dir FROM alert_sessions WHERE id = ? AND kind = ?", sessionID, string(kind),
		).Scan(&dir)
		if err == sql.ErrNoRows {
			return interfaces.ErrAlertSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load alert session: %w", err)
		}

		p, checksum, err := s.frames.Save(dir, frame.FrameIndex, frame.Image)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alert_frames (session_id, frame_index, label, confidence, bbox, image_path, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, frame.FrameIndex, frame.Label, frame.Confidence, string(bboxes), p, checksum, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to insert alert frame: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE alert_sessions SET alert_frame_count = alert_frame_count + 1 WHERE id = ?", sessionID,
		); err != nil {
			return fmt.Errorf("failed to update alert session: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit alert frame: %w", err)
		}
		path = p
		return nil
	})
	return path, err
}

// Finalize stores the final counts and closes the session
func (s *Store) Finalize(ctx context.Context, kind types.StreamKind, sessionID string, totalFrames, alertFrames int) error {
	return s.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE alert_sessions
			SET total_frames = ?, alert_frame_count = ?, status = ?, finalized_at = ?
			WHERE id = ? AND kind = ?
		`, totalFrames, alertFrames, types.AlertStatusFinal, time.Now().UTC(), sessionID, string(kind))
		if err != nil {
			return fmt.Errorf("failed to finalize alert session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrAlertSessionNotFound
		}
		return nil
	})
}

// DeleteIfEmpty removes a frameless session and its directory
func (s *Store) DeleteIfEmpty(ctx context.Context, kind types.StreamKind, sessionID string) error {
	var dir string
	err := s.executeWrite(func(db *sql.DB) error {
		dir = ""
		var frames int
		err := db.QueryRowContext(ctx, `
			SELECT save_dir, (SELECT COUNT(*) FROM alert_frames WHERE session_id = alert_sessions.id)
			FROM alert_sessions WHERE id = ? AND kind = ?
		`, sessionID, string(kind)).Scan(&dir, &frames)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load alert session: %w", err)
		}
		if frames > 0 {
			dir = ""
			return nil
		}
		if _, err := db.ExecContext(ctx, "DELETE FROM alert_sessions WHERE id = ?", sessionID); err != nil {
			return fmt.Errorf("failed to delete alert session: %w", err)
		}
		return nil
	})
	if err != nil || dir == "" {
		return err
	}
	return s.frames.Remove(dir)
}

// ListAlertSessions returns one page of sessions, newest first, and the total
func (s *Store) ListAlertSessions(ctx context.Context, query types.AlertQuery) ([]*types.AlertSessionRecord, int, error) {
	offset := query.Normalize()

	where, args := "", []interface{}{}
	if query.Kind != "" {
		where, args = "WHERE kind = ?", append(args, string(query.Kind))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_sessions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alert sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, save_dir, total_frames, alert_frame_count, status, created_at, finalized_at
		FROM alert_sessions `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, append(args, query.PerPage, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alert sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, save_dir, total_frames, alert_frame_count, status, created_at, finalized_at
		FROM alert_sessions WHERE id = ?
	`, sessionID)
	record, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrAlertSessionNotFound
	}
	return record, err
}

// ListAlertFrames returns the frames of a session in frame order
func (s *Store) ListAlertFrames(ctx context.Context, sessionID string) ([]*types.AlertFrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, frame_index, label, confidence, bbox, image_path, checksum, created_at
		FROM alert_frames WHERE session_id = ?
		ORDER BY frame_index ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert frames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var frames []*types.AlertFrameRecord
	for rows.Next() {
		var f types.AlertFrameRecord
		var bbox string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.FrameIndex, &f.Label, &f.Confidence, &bbox, &f.ImagePath, &f.Checksum, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert frame: %w", err)
		}
		if err := json.Unmarshal([]byte(bbox), &f.BBoxes); err != nil {
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
	var dirs []string
	err := s.executeWrite(func(db *sql.DB) error {
		dirs = dirs[:0]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, save_dir FROM alert_sessions
			WHERE status = ? AND created_at < ?
			AND NOT EXISTS (SELECT 1 FROM alert_frames WHERE session_id = alert_sessions.id)
		`, types.AlertStatusOpen, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to query stale sessions: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id, dir string
			if err := rows.Scan(&id, &dir); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan stale session: %w", err)
			}
			ids = append(ids, id)
			dirs = append(dirs, dir)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating stale sessions: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM alert_sessions WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete stale session: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
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
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_sessions LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for schema validation
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close shuts down the store
func (s *Store) Close() error {
	// TECHNICAL DISCOVERY: Prevent multiple close operations
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.AlertSessionRecord, error) {
	var r types.AlertSessionRecord
	var kind string
	var finalized sql.NullTime
	err := row.Scan(&r.ID, &kind, &r.Name, &r.SaveDir, &r.TotalFrames, &r.AlertFrameCount, &r.Status, &r.CreatedAt, &finalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert session: %w", err)
	}
	r.Kind = types.StreamKind(kind)
	if finalized.Valid {
		t := finalized.Time
		r.FinalizedAt = &t
	}
	return &r, nil
}

func bboxesOrEmpty(b []types.BBox) []types.BBox {
	if b == nil {
		return []types.BBox{}
	}
	return b
}

// Compile-time interface check
var _ interfaces.Store = (*Store)(nil)
