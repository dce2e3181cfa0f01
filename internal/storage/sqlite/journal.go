package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

// JournalRecord is one raw event stream frame retained for diagnostics
type JournalRecord struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	EventName  string    `json:"event_name"`
	Raw        string    `json:"raw"`
}

// EventJournal keeps a bounded trail of raw stream events so connectivity
// incidents in the field can be reconstructed after the fact.
type EventJournal struct {
	db      *sql.DB
	maxRows int
	logger  *logger.Logger
}

// NewEventJournal creates a new SQLite event journal
func NewEventJournal(db *sql.DB, maxRows int, log *logger.Logger) (*EventJournal, error) {
	journal := &EventJournal{
		db:      db,
		maxRows: maxRows,
		logger:  log.Named("sqlite-journal"),
	}

	if err := journal.initDB(); err != nil {
		return nil, err
	}

	return journal, nil
}

// initDB initializes the database tables
func (j *EventJournal) initDB() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			received_at TIMESTAMP NOT NULL,
			event_name TEXT NOT NULL,
			raw TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_journal table: %w", err)
	}

	_, err = j.db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_received_at ON event_journal(received_at)`)
	if err != nil {
		return fmt.Errorf("failed to create received_at index: %w", err)
	}

	return nil
}

// Append records one raw event and prunes rows beyond the configured bound.
// Failures are logged, not propagated: the journal must never interfere with
// event processing.
func (j *EventJournal) Append(eventName, raw string) {
	_, err := j.db.Exec(
		`INSERT INTO event_journal (received_at, event_name, raw) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), eventName, raw,
	)
	if err != nil {
		j.logger.Warn("Failed to journal event", Error(err), String("event", eventName))
		return
	}

	_, err = j.db.Exec(
		`DELETE FROM event_journal WHERE id <= (
			SELECT id FROM event_journal ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, j.maxRows,
	)
	if err != nil {
		j.logger.Warn("Failed to prune event journal", Error(err))
	}
}

// Recent returns up to limit journal records, newest first
func (j *EventJournal) Recent(limit int) ([]JournalRecord, error) {
	if limit <= 0 || limit > j.maxRows {
		limit = j.maxRows
	}

	rows, err := j.db.Query(
		`SELECT id, received_at, event_name, raw FROM event_journal ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event journal: %w", err)
	}
	defer rows.Close()

	records := make([]JournalRecord, 0, limit)
	for rows.Next() {
		var rec JournalRecord
		var receivedAt string
		if err := rows.Scan(&rec.ID, &receivedAt, &rec.EventName, &rec.Raw); err != nil {
			return nil, fmt.Errorf("failed to scan journal record: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			rec.ReceivedAt = parsed
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal records: %w", err)
	}

	return records, nil
}
