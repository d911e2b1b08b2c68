// Package ledger provides an append-only audit history of actuator commands,
// transitions and faults.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType string
	Actuator  string
	Timestamp time.Time
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType, actuator string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()
	_, err = l.db.Exec(
		`INSERT INTO audit_ledger (event_type, actuator, timestamp, payload) VALUES (?, ?, ?, ?)`,
		eventType, actuator, now, string(payloadJSON),
	)
	return err
}

// Recent returns the newest entries, optionally filtered by actuator.
func (l *Ledger) Recent(actuator string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, event_type, actuator, timestamp, payload
		FROM audit_ledger
	`
	args := []any{}
	if actuator != "" {
		query += ` WHERE actuator = ?`
		args = append(args, actuator)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM audit_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Actuator, &timestamp, &payloadStr); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
