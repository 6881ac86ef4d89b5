package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Config describes how to reach the database
type Config struct {
	// Type is "sqlite" or "postgres"
	Type string
	// Path of the sqlite file, ":memory:" for a throwaway database
	Path string
	// URL is the postgres connection string
	URL string
}

// Connect opens the database and makes sure the schema exists
func Connect(cfg Config) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch cfg.Type {
	case DialectPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres requires a database URL")
		}
		db, err = sqlx.Connect("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	case DialectSQLite, "":
		db, err = connectSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func connectSQLite(path string) (*sqlx.DB, error) {
	if path == "" {
		path = filepath.Join("data", "reviews.db")
	}
	dsn := path
	if path != ":memory:" {
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = "file:" + path + "?_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite doesn't support multiple writers; a single connection also keeps
	// ":memory:" databases alive for the whole pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// dialectOf maps the sqlx driver name back to a schema dialect
func dialectOf(db *sqlx.DB) string {
	if db.DriverName() == "postgres" {
		return DialectPostgres
	}
	return DialectSQLite
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(db *sqlx.DB) error {
	timestamp, serial, real := "TIMESTAMP", "INTEGER PRIMARY KEY AUTOINCREMENT", "REAL"
	if dialectOf(db) == DialectPostgres {
		timestamp, serial, real = "TIMESTAMPTZ", "BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION"
	}

	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS review_states (
			learner_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			ease_factor %[2]s NOT NULL DEFAULT 2.5,
			interval_days INTEGER NOT NULL DEFAULT 0,
			repetition_count INTEGER NOT NULL DEFAULT 0,
			lapse_count INTEGER NOT NULL DEFAULT 0,
			due_at %[1]s NOT NULL,
			last_reviewed_at %[1]s NULL,
			state TEXT NOT NULL DEFAULT 'New',
			tombstoned BOOLEAN NOT NULL DEFAULT FALSE,
			tombstoned_at %[1]s NULL,
			version INTEGER NOT NULL DEFAULT 0,
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL,
			PRIMARY KEY (learner_id, item_id)
		)
	`, timestamp, real))
	if err != nil {
		return fmt.Errorf("failed to create review_states table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_review_states_due
		ON review_states (learner_id, tombstoned, due_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create review_states index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_review_states_item
		ON review_states (item_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create review_states item index: %w", err)
	}

	_, err = db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS review_log (
			id %[2]s,
			learner_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			grade INTEGER NOT NULL,
			state_before TEXT NOT NULL,
			state_after TEXT NOT NULL,
			interval_before INTEGER NOT NULL,
			interval_after INTEGER NOT NULL,
			ease_before %[3]s NOT NULL,
			ease_after %[3]s NOT NULL,
			reviewed_at %[1]s NOT NULL
		)
	`, timestamp, serial, real))
	if err != nil {
		return fmt.Errorf("failed to create review_log table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_review_log_learner
		ON review_log (learner_id, reviewed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create review_log index: %w", err)
	}

	return nil
}
