// Package store provides durable storage for campaigns, machines, user
// progress, and flag submissions. Container runtime state is never persisted
// here; it is re-derived from the runtime on every status query.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// Pure-Go SQLite driver for database/sql (no CGO required)
	_ "modernc.org/sqlite"

	// PostgreSQL driver for multi-host deployments
	_ "github.com/lib/pq"

	"github.com/dimasma0305/hackforge/internal/log"
)

// Campaign status values. "deleted" never appears in storage: deletion
// removes the row after every bound container is gone.
const (
	StatusCreated         = "created"
	StatusProvisioning    = "provisioning"
	StatusReady           = "ready"
	StatusPartiallySolved = "partially_solved"
	StatusCompleted       = "completed"
	StatusDeleting        = "deleting"
)

// Store wraps the SQL database. Driver is "sqlite" or "postgres".
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens the database and creates the schema
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite":
		// Create database directory if it doesn't exist
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// WAL mode for concurrent reads and a busy timeout for the single writer
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite works best with a single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database tables: %w", err)
	}

	log.Info("Database initialized (%s)", driver)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	log.Info("Closing database connection")
	return s.db.Close()
}

// rebind converts ? placeholders into $n for the postgres driver
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) createTables() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "SERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT,
			role TEXT NOT NULL DEFAULT 'player',
			total_points INTEGER NOT NULL DEFAULT 0,
			machines_solved INTEGER NOT NULL DEFAULT 0,
			campaigns_completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			campaign_id TEXT PRIMARY KEY,
			campaign_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			difficulty INTEGER NOT NULL,
			machine_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_user ON campaigns(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS machines (
			machine_id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(campaign_id) ON DELETE CASCADE,
			blueprint_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			difficulty INTEGER NOT NULL,
			flag TEXT NOT NULL,
			port INTEGER NOT NULL,
			container_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_machines_campaign ON machines(campaign_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS progress (
			user_id TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			solved INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			points_earned INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			solved_at TIMESTAMP,
			PRIMARY KEY (user_id, machine_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_campaign ON progress(campaign_id, user_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS submissions (
			id %s,
			user_id TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			correct INTEGER NOT NULL,
			points_awarded INTEGER NOT NULL DEFAULT 0,
			remote_addr TEXT,
			created_at TIMESTAMP NOT NULL
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_submissions_machine ON submissions(machine_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// now returns the current time truncated for stable round-trips
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
