package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initialises the
// schema. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS processed_events (
		subscriber TEXT NOT NULL,
		delivery_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (subscriber, delivery_id)
	);

	CREATE INDEX IF NOT EXISTS idx_processed_event_id ON processed_events(event_id);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_events(processed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// MarkProcessed inserts the marker, relying on the primary key to reject
// duplicates. Returns false when the row already existed.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, subscriber, deliveryID, eventID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (subscriber, delivery_id, event_id, processed_at)
		VALUES (?, ?, ?, ?)
	`, subscriber, deliveryID, eventID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}
	return affected > 0, nil
}

// Seen reports whether the pair is recorded.
func (s *SQLiteStore) Seen(ctx context.Context, subscriber, deliveryID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_events WHERE subscriber = ? AND delivery_id = ?
	`, subscriber, deliveryID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed event: %w", err)
	}
	return true, nil
}

// FindByEventID returns all records for an application event id.
func (s *SQLiteStore) FindByEventID(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subscriber, delivery_id, event_id, processed_at
		FROM processed_events
		WHERE event_id = ?
		ORDER BY processed_at ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query by event id: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Subscriber, &r.DeliveryID, &r.EventID, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan processed event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes records processed before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM processed_events WHERE processed_at < ?
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
