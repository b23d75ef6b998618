package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schemaSQL is the single source of truth for the database schema.
//
//go:embed schema.sql
var schemaSQL string

// DayLayout is the canonical key format for one retained day.
const DayLayout = "2006-01-02"

// DayOf returns the day key for a timestamp, in UTC.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Observation is one classified, timestamped vehicle position.
// Immutable once recorded.
type Observation struct {
	VehicleID    string
	RouteID      string
	RegionID     string // "" when outside every region
	Latitude     float64
	Longitude    float64
	DeviationMin float64 // signed minutes, positive = late
	CapturedAt   time.Time
}

// Store wraps a SQLite database holding the per-day observation record.
// All writes are serialized through a mutex; SQLite supports one writer.
type Store struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens the observation database with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.Printf("Warning: failed to set %s: %v", pragma, err)
		}
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
