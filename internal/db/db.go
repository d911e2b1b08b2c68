// Package db provides the sqlite connection and schema for the audit ledger.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Audit ledger - append-only history of commands, transitions and faults
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			actuator TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_type_ts ON audit_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_actuator_ts ON audit_ledger(actuator, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
