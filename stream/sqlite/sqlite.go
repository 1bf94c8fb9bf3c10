// Package sqlite provides a SQLite-backed stream log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// BackendName is the name used to register this backend.
const BackendName = "sqlite"

// DefaultPollInterval is the default interval for polling new entries while a
// ReadGroup call is blocking.
const DefaultPollInterval = 100 * time.Millisecond

func init() {
	stream.Register(BackendName, Build, stream.SQLiteCapabilities)
}

// Build creates a new SQLite stream log from config.
func Build(ctx context.Context, cfg stream.Config, logger logging.ServiceLogger) (stream.Log, error) {
	return New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	FilePath string
	// PollInterval is the interval for polling new entries during a
	// blocking ReadGroup.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = "eventstream.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Log implements stream.Log on a single SQLite database.
type Log struct {
	db     *sql.DB
	config Config
	logger logging.ServiceLogger
}

// New opens (or creates) the database and initialises the schema.
func New(cfg Config, logger logging.ServiceLogger) (*Log, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db, config: cfg, logger: logger}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Log) initSchema() error {
	// AUTOINCREMENT keeps rowids monotonically increasing and never reused,
	// which is exactly the delivery-id invariant.
	schema := `
	CREATE TABLE IF NOT EXISTS stream_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event BLOB NOT NULL,
		appended_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_stream ON stream_entries(stream, id);

	CREATE TABLE IF NOT EXISTS group_cursors (
		stream TEXT NOT NULL,
		grp TEXT NOT NULL,
		next_entry INTEGER NOT NULL,
		PRIMARY KEY (stream, grp)
	);

	CREATE TABLE IF NOT EXISTS pending_entries (
		stream TEXT NOT NULL,
		grp TEXT NOT NULL,
		entry_id INTEGER NOT NULL,
		consumer TEXT NOT NULL,
		delivered_at TIMESTAMP NOT NULL,
		deliveries INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (stream, grp, entry_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pending_consumer ON pending_entries(stream, grp, consumer);
	CREATE INDEX IF NOT EXISTS idx_pending_age ON pending_entries(stream, grp, delivered_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append durably persists the event and returns the assigned delivery id.
func (l *Log) Append(ctx context.Context, streamName string, event envelope.Event) (string, error) {
	payload, err := event.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO stream_entries (stream, event_id, event, appended_at)
		VALUES (?, ?, ?, ?)
	`, streamName, event.ID, payload, time.Now().UTC())
	if err != nil {
		return "", stream.Unavailable("append", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", stream.Unavailable("append", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// ReadGroup returns this consumer's unacknowledged entries first, then new
// entries past the group cursor, polling up to block when nothing is
// available.
func (l *Log) ReadGroup(ctx context.Context, streamName, group, consumer string, count int, block time.Duration) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)

	for {
		entries, err := l.readOnce(ctx, streamName, group, consumer, count)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 || block <= 0 {
			return entries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := l.config.PollInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Log) readOnce(ctx context.Context, streamName, group, consumer string, count int) ([]stream.Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stream.Unavailable("read_group", err)
	}
	defer l.rollback(tx)

	now := time.Now().UTC()

	// Crash recovery first: redeliver entries still pending for this
	// consumer name.
	own, err := l.selectEntries(ctx, tx, `
		SELECT p.entry_id, e.event
		FROM pending_entries p
		JOIN stream_entries e ON e.id = p.entry_id
		WHERE p.stream = ? AND p.grp = ? AND p.consumer = ?
		ORDER BY p.entry_id ASC
		LIMIT ?
	`, streamName, group, consumer, count)
	if err != nil {
		return nil, err
	}
	for _, entry := range own {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_entries
			SET delivered_at = ?, deliveries = deliveries + 1
			WHERE stream = ? AND grp = ? AND entry_id = ?
		`, now, streamName, group, entry.DeliveryID); err != nil {
			return nil, stream.Unavailable("read_group", err)
		}
	}

	entries := own
	if remaining := count - len(entries); remaining > 0 {
		fresh, err := l.deliverNew(ctx, tx, streamName, group, consumer, remaining, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fresh...)
	}

	if err := tx.Commit(); err != nil {
		return nil, stream.Unavailable("read_group", err)
	}
	return entries, nil
}

func (l *Log) deliverNew(ctx context.Context, tx *sql.Tx, streamName, group, consumer string, count int, now time.Time) ([]stream.Entry, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_cursors (stream, grp, next_entry) VALUES (?, ?, 1)
	`, streamName, group); err != nil {
		return nil, stream.Unavailable("read_group", err)
	}

	var cursor int64
	if err := tx.QueryRowContext(ctx, `
		SELECT next_entry FROM group_cursors WHERE stream = ? AND grp = ?
	`, streamName, group).Scan(&cursor); err != nil {
		return nil, stream.Unavailable("read_group", err)
	}

	fresh, err := l.selectEntries(ctx, tx, `
		SELECT id, event FROM stream_entries
		WHERE stream = ? AND id >= ?
		ORDER BY id ASC
		LIMIT ?
	`, streamName, cursor, count)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	for _, entry := range fresh {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_entries (stream, grp, entry_id, consumer, delivered_at, deliveries)
			VALUES (?, ?, ?, ?, ?, 1)
		`, streamName, group, entry.DeliveryID, consumer, now); err != nil {
			return nil, stream.Unavailable("read_group", err)
		}
	}

	last, _ := strconv.ParseInt(fresh[len(fresh)-1].DeliveryID, 10, 64)
	if _, err := tx.ExecContext(ctx, `
		UPDATE group_cursors SET next_entry = ? WHERE stream = ? AND grp = ?
	`, last+1, streamName, group); err != nil {
		return nil, stream.Unavailable("read_group", err)
	}

	return fresh, nil
}

func (l *Log) selectEntries(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]stream.Entry, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stream.Unavailable("read_group", err)
	}
	defer rows.Close()

	var entries []stream.Entry
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, stream.Unavailable("read_group", err)
		}
		event, err := envelope.Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", id, err)
		}
		entries = append(entries, stream.Entry{DeliveryID: strconv.FormatInt(id, 10), Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, stream.Unavailable("read_group", err)
	}
	return entries, nil
}

// Ack removes the entry from the group's pending list. Unknown ids are a
// no-op.
func (l *Log) Ack(ctx context.Context, streamName, group, deliveryID string) error {
	id, err := strconv.ParseInt(deliveryID, 10, 64)
	if err != nil {
		return nil
	}

	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM pending_entries WHERE stream = ? AND grp = ? AND entry_id = ?
	`, streamName, group, id); err != nil {
		return stream.Unavailable("ack", err)
	}
	return nil
}

// ClaimStale reassigns entries pending longer than minIdle to consumer.
func (l *Log) ClaimStale(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stream.Unavailable("claim_stale", err)
	}
	defer l.rollback(tx)

	now := time.Now().UTC()
	cutoff := now.Add(-minIdle)

	stale, err := l.selectEntries(ctx, tx, `
		SELECT p.entry_id, e.event
		FROM pending_entries p
		JOIN stream_entries e ON e.id = p.entry_id
		WHERE p.stream = ? AND p.grp = ? AND p.delivered_at <= ?
		ORDER BY p.entry_id ASC
		LIMIT ?
	`, streamName, group, cutoff, count)
	if err != nil {
		return nil, err
	}

	for _, entry := range stale {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_entries
			SET consumer = ?, delivered_at = ?, deliveries = deliveries + 1
			WHERE stream = ? AND grp = ? AND entry_id = ?
		`, consumer, now, streamName, group, entry.DeliveryID); err != nil {
			return nil, stream.Unavailable("claim_stale", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, stream.Unavailable("claim_stale", err)
	}
	return stale, nil
}

// PendingCount reports the depth of the group's pending list.
func (l *Log) PendingCount(ctx context.Context, streamName, group string) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_entries WHERE stream = ? AND grp = ?
	`, streamName, group).Scan(&count)
	if err != nil {
		return 0, stream.Unavailable("pending_count", err)
	}
	return count, nil
}

// DeliveryCount reports how many times the pending entry has been delivered.
// Returns 0 for entries that are not pending.
func (l *Log) DeliveryCount(ctx context.Context, streamName, group, deliveryID string) (int64, error) {
	id, err := strconv.ParseInt(deliveryID, 10, 64)
	if err != nil {
		return 0, nil
	}

	var deliveries int64
	err = l.db.QueryRowContext(ctx, `
		SELECT deliveries FROM pending_entries WHERE stream = ? AND grp = ? AND entry_id = ?
	`, streamName, group, id).Scan(&deliveries)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, stream.Unavailable("delivery_count", err)
	}
	return deliveries, nil
}

// Trim drops the oldest entries so at most maxLen remain, along with any
// pending rows that referenced them.
func (l *Log) Trim(ctx context.Context, streamName string, maxLen int64) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, stream.Unavailable("trim", err)
	}
	defer l.rollback(tx)

	var floor sql.NullInt64
	if maxLen > 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT MIN(id) FROM (
				SELECT id FROM stream_entries WHERE stream = ? ORDER BY id DESC LIMIT ?
			)
		`, streamName, maxLen).Scan(&floor)
		if err != nil {
			return 0, stream.Unavailable("trim", err)
		}
		if !floor.Valid {
			return 0, tx.Commit()
		}
	} else {
		// maxLen 0 drops everything.
		err = tx.QueryRowContext(ctx, `
			SELECT MAX(id) + 1 FROM stream_entries WHERE stream = ?
		`, streamName).Scan(&floor)
		if err != nil {
			return 0, stream.Unavailable("trim", err)
		}
		if !floor.Valid {
			return 0, tx.Commit()
		}
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM stream_entries WHERE stream = ? AND id < ?
	`, streamName, floor.Int64)
	if err != nil {
		return 0, stream.Unavailable("trim", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pending_entries WHERE stream = ? AND entry_id < ?
	`, streamName, floor.Int64); err != nil {
		return 0, stream.Unavailable("trim", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, stream.Unavailable("trim", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// DB returns the underlying database connection for advanced use cases.
func (l *Log) DB() *sql.DB {
	return l.db
}

func (l *Log) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		l.logger.Error("failed to rollback transaction", err, nil)
	}
}
