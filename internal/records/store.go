// Package records is the local artifact store behind the record boundary.
// Every call answers with a types.Result; failures never surface as Go
// errors or panics.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: driver registered for database/sql only
	_ "github.com/mattn/go-sqlite3"

	"liveroom/pkg/database"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

const (
	defaultRetryDelay = 5 * time.Second
	writeQueueTimeout = 30 * time.Second
)

// Store implements interfaces.ArtifactStore on SQLite.
type Store struct {
	db           *sql.DB
	config       *database.Config
	log          *slog.Logger
	retryDelay   time.Duration
	writeChannel chan writeOperation // TECHNICAL: single writer for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open creates the database file if needed, applies migrations, validates
// the schema and starts the writer.
func Open(cfg *database.Config, log *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := database.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := database.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	s := &Store{
		db:           db,
		config:       cfg,
		log:          log.With("component", "records"),
		retryDelay:   defaultRetryDelay,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// writeLoop runs every write; a failed write is retried once.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				s.log.Warn("records.write.retry", "delay", s.retryDelay, "error", err)
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
				if err != nil {
					s.log.Error("records.write.failed", "error", err)
				}
			}
			op.result <- err
		case <-s.shutdown:
			s.drain()
			return
		}
	}
}

// drain answers writes still queued at shutdown without running them.
func (s *Store) drain() {
	for {
		select {
		case op := <-s.writeChannel:
			op.result <- ErrStoreClosed
		default:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(writeQueueTimeout)
	defer timer.Stop()

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}

	// The writer may stop before reaching a queued op; once it has exited,
	// the op either ran, was drained, or was never seen.
	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		s.wg.Wait()
		select {
		case err := <-result:
			return err
		default:
			return ErrStoreClosed
		}
	}
}

// SaveArtifact inserts or replaces the artifact of a (session, team). The
// stored artifact keeps its original id.
func (s *Store) SaveArtifact(ctx context.Context, a types.Artifact) types.Result[types.Artifact] {
	switch {
	case a.ProjectID == "":
		return types.Fail[types.Artifact](ErrMissingProject.Error())
	case a.SessionID == "":
		return types.Fail[types.Artifact](ErrMissingSession.Error())
	case a.TeamID == "":
		return types.Fail[types.Artifact](ErrMissingTeam.Error())
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	var saved types.Artifact
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (id, project_id, session_id, team_id, title, content, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, team_id) DO UPDATE SET
				project_id = excluded.project_id,
				title = excluded.title,
				content = excluded.content,
				updated_at = excluded.updated_at
		`, a.ID, a.ProjectID, a.SessionID, a.TeamID, a.Title, a.Content, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert artifact: %w", err)
		}

		row := tx.QueryRowContext(ctx, selectArtifact+` WHERE session_id = ? AND team_id = ?`, a.SessionID, a.TeamID)
		if saved, err = scanArtifact(row); err != nil {
			return fmt.Errorf("failed to read back artifact: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return types.Fail[types.Artifact](err.Error())
	}
	return types.OK(saved)
}

// GetArtifact returns the artifact of a team in a session.
func (s *Store) GetArtifact(ctx context.Context, sessionID, teamID string) types.Result[types.Artifact] {
	if err := s.checkOpen(); err != nil {
		return types.Fail[types.Artifact](err.Error())
	}
	row := s.db.QueryRowContext(ctx, selectArtifact+` WHERE session_id = ? AND team_id = ?`, sessionID, teamID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Fail[types.Artifact](interfaces.ErrArtifactNotFound.Error())
	}
	if err != nil {
		return types.Fail[types.Artifact](fmt.Sprintf("failed to query artifact: %v", err))
	}
	return types.OK(a)
}

// ListArtifacts returns every artifact of a session, most recent first.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) types.Result[[]types.Artifact] {
	if err := s.checkOpen(); err != nil {
		return types.Fail[[]types.Artifact](err.Error())
	}
	rows, err := s.db.QueryContext(ctx, selectArtifact+` WHERE session_id = ? ORDER BY updated_at DESC, team_id`, sessionID)
	if err != nil {
		return types.Fail[[]types.Artifact](fmt.Sprintf("failed to query artifacts: %v", err))
	}
	defer func() { _ = rows.Close() }()

	artifacts := []types.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return types.Fail[[]types.Artifact](fmt.Sprintf("failed to scan artifact: %v", err))
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return types.Fail[[]types.Artifact](fmt.Sprintf("error iterating artifacts: %v", err))
	}
	return types.OK(artifacts)
}

// HealthCheck validates database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Idempotent.
func (s *Store) Close() error {
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

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

const selectArtifact = `SELECT id, project_id, session_id, team_id, title, content, updated_at FROM artifacts`

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (types.Artifact, error) {
	var a types.Artifact
	err := row.Scan(&a.ID, &a.ProjectID, &a.SessionID, &a.TeamID, &a.Title, &a.Content, &a.UpdatedAt)
	return a, err
}

// PriorContent returns the stored content of a team's artifact for seeding,
// or "" when there is none or the lookup failed.
func PriorContent(ctx context.Context, store interfaces.ArtifactStore, sessionID, teamID string) string {
	res := store.GetArtifact(ctx, sessionID, teamID)
	if !res.Success {
		return ""
	}
	return res.Data.Content
}
