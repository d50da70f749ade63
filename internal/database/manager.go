// Package database is the SQLite implementation of interfaces.Store.
//
// Reads go straight to the connection pool. Writes are funnelled through a
// single writer goroutine, which also makes message ids and created_at
// timestamps strictly increasing.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"huddle/internal/logging"
	dbconfig "huddle/pkg/database"
	"huddle/pkg/interfaces"
)

const (
	writeQueueSize = 100
	retryDelay     = 100 * time.Millisecond
)

var _ interfaces.Store = (*Manager)(nil)

// Manager implements interfaces.Store on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	logger       zerolog.Logger

	now           func() time.Time
	lastCreatedAt time.Time // owned by writeLoop
}

type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, validates the schema
// and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		logger:       logging.WithComponent("database"),
		now:          time.Now,
	}

	if err := m.loadLastCreatedAt(); err != nil {
		_ = db.Close()
		return nil, err
	}

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info().Str("path", config.DatabasePath).Msg("Database opened")
	return m, nil
}

func (m *Manager) loadLastCreatedAt() error {
	err := m.db.QueryRow("SELECT created_at FROM messages ORDER BY id DESC LIMIT 1").Scan(&m.lastCreatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read last message timestamp: %w", err)
	}
	return nil
}

// writeLoop runs every write on one goroutine. Operations whose context is
// already done are skipped; busy/locked failures are retried once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.ctx.Err(); err != nil {
				op.result <- err
				continue
			}

			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.Warn().Err(err).Dur("retry_in", retryDelay).Msg("Database busy, retrying write")
				time.Sleep(retryDelay)
				err = op.operation(m.db)
			}
			if err != nil {
				m.logger.Error().Err(err).Msg("Database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("Database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// executeWrite queues operation on the writer and waits for it or for ctx.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextCreatedAt returns a timestamp strictly after the previous message's.
// Only called from the writer goroutine.
func (m *Manager) nextCreatedAt() time.Time {
	now := m.now().UTC()
	if !now.After(m.lastCreatedAt) {
		now = m.lastCreatedAt.Add(time.Microsecond)
	}
	return now
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the pool for tooling and tests.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
