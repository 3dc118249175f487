// Package sqlite provides the embedded local store of the sync core: clients,
// credits, payments and the pending-change queue, mirroring the server schema
// for offline operation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	"github.com/cobranzas-app/cobrasync/logging"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by any operation after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
//
// Production defaults applied by DefaultConfig include WAL mode and a small
// connection pool suited to a single-device embedded database.
type Config struct {
	// DataSourceName is the SQLite connection string,
	// e.g. "file:cobranzas.db".
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging. Recommended and on by default;
	// appends "_journal_mode=WAL" to the DSN when set.
	EnableWAL bool

	// Connection pool settings. Defaults: MaxOpen=10, MaxIdle=2,
	// Lifetime=1h, IdleTime=5m.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
	if !strings.Contains(c.DataSourceName, "_foreign_keys=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_foreign_keys=on"
	}
}

// DefaultConfig returns a Config with production defaults for the given DSN.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	return config
}

// Store is the embedded local persistence layer.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New opens (or creates) the local database and ensures the schema exists.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "local store initialized",
		"data_source", config.DataSourceName,
		"wal_enabled", config.EnableWAL,
	)
	return s, nil
}

// NewWithDataSource is a convenience constructor with default configuration.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// setupSchema creates the local tables mirroring the server schema plus the
// sync queue. Idempotent.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS clients (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        nombre          TEXT NOT NULL,
        identificacion  TEXT,
        ubicacion_gps   TEXT,
        direccion       TEXT,
        negocio         TEXT,
        telefono        TEXT,
        deuda           REAL NOT NULL DEFAULT 0,
        vencimiento     TEXT,
        remote_id       TEXT,
        sync_status     TEXT NOT NULL DEFAULT 'synced',
        created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS credits (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        client_id       INTEGER NOT NULL,
        amount          REAL NOT NULL,
        interest        REAL NOT NULL,
        total           REAL NOT NULL,
        frequency       TEXT NOT NULL,
        cuotas          INTEGER NOT NULL DEFAULT 1,
        valor_cuota     REAL NOT NULL DEFAULT 0,
        date            TEXT NOT NULL,
        sync_status     TEXT NOT NULL DEFAULT 'synced',
        created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (client_id) REFERENCES clients(id)
    );

    CREATE TABLE IF NOT EXISTS payments (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        client_id       INTEGER NOT NULL,
        credit_id       INTEGER,
        amount          REAL NOT NULL,
        date            TEXT NOT NULL,
        notes           TEXT,
        sync_status     TEXT NOT NULL DEFAULT 'synced',
        created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (client_id) REFERENCES clients(id),
        FOREIGN KEY (credit_id) REFERENCES credits(id)
    );

    CREATE TABLE IF NOT EXISTS sync_queue (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        table_name      TEXT NOT NULL,
        record_id       INTEGER NOT NULL,
        action          TEXT NOT NULL,
        data            TEXT,
        idempotency_key TEXT NOT NULL UNIQUE,
        created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_credits_client ON credits (client_id);
    CREATE INDEX IF NOT EXISTS idx_payments_client ON payments (client_id);
    CREATE INDEX IF NOT EXISTS idx_payments_credit ON payments (credit_id);
    CREATE INDEX IF NOT EXISTS idx_queue_created ON sync_queue (created_at);
    `
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// checkOpen guards operations against use after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Local id helpers; the public id formats live in the domain package.
func clientRowID(id string) (int64, bool) { return domain.ParseLocalClientID(id) }
func creditRowID(id string) (int64, bool) { return domain.ParseLocalCreditID(id) }
