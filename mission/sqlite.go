package mission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platformkit/eventstream/internal/runtime/jsoncodec"
)

const (
	// DefaultLease is how long a claimed mission stays locked to its worker.
	// A worker that dies mid-execution releases the mission when the lease
	// expires, making it claimable again.
	DefaultLease = 5 * time.Minute

	// DefaultRetryDelay is the base delay before a requeued mission becomes
	// eligible again. The delay doubles with each recorded retry, capped at
	// maxRetryDelay.
	DefaultRetryDelay = 2 * time.Second

	maxRetryDelay = time.Minute
)

// SQLiteOptions configures a SQLiteStore. The zero value of Lease and
// RetryDelay selects the defaults.
type SQLiteOptions struct {
	Path       string
	Lease      time.Duration
	RetryDelay time.Duration
}

// SQLiteStore implements Store on a SQLite database. The implicit rowid
// breaks priority ties in enqueue order.
type SQLiteStore struct {
	db         *sql.DB
	lease      time.Duration
	retryDelay time.Duration
}

// NewSQLiteStore opens (or creates) the database at path and initialises the
// schema with default lease and retry-delay settings. Use ":memory:" for
// tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWith(SQLiteOptions{Path: path})
}

// NewSQLiteStoreWith opens the database described by opts.
func NewSQLiteStoreWith(opts SQLiteOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// locked_until and not_before hold unix nanoseconds so eligibility
	// comparisons stay numeric.
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		payload TEXT,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		locked_until INTEGER NOT NULL DEFAULT 0,
		not_before INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_missions_dequeue ON missions(status, priority);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &SQLiteStore{db: db, lease: lease, retryDelay: retryDelay}, nil
}

// Insert persists a new PENDING mission.
func (s *SQLiteStore) Insert(ctx context.Context, m Mission) error {
	payload, err := jsoncodec.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal mission payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (id, payload, priority, status, retry_count, max_retries, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(payload), int(m.Priority), string(m.Status), m.RetryCount, m.MaxRetries, m.LastError, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

// Dequeue claims the next eligible mission inside one transaction so no two
// workers can own the same attempt. PENDING missions past their not_before
// delay are eligible, as are RUNNING missions whose lease has expired.
func (s *SQLiteStore) Dequeue(ctx context.Context) (Mission, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mission{}, false, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowNanos := now.UnixNano()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM missions
		WHERE (status = ? AND not_before <= ?)
		   OR (status = ? AND locked_until <= ?)
		ORDER BY priority DESC, rowid ASC
		LIMIT 1
	`, string(StatusPending), nowNanos, string(StatusRunning), nowNanos)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return Mission{}, false, nil
		}
		return Mission{}, false, fmt.Errorf("select next mission: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE missions SET status = ?, started_at = ?, locked_until = ?
		WHERE id = ?
		  AND ((status = ? AND not_before <= ?) OR (status = ? AND locked_until <= ?))
	`, string(StatusRunning), now, now.Add(s.lease).UnixNano(), id,
		string(StatusPending), nowNanos, string(StatusRunning), nowNanos)
	if err != nil {
		return Mission{}, false, fmt.Errorf("claim mission: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		// Lost the race to another worker inside the same process.
		return Mission{}, false, nil
	}

	m, err := s.get(ctx, tx, id)
	if err != nil {
		return Mission{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Mission{}, false, fmt.Errorf("commit dequeue: %w", err)
	}
	return m, true, nil
}

// Requeue records a failed attempt, returning the mission to PENDING while
// retries remain and to FAILED once they are exhausted. A requeued mission
// only becomes eligible again after a delay that doubles per retry.
func (s *SQLiteStore) Requeue(ctx context.Context, id, reason string) (Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mission{}, fmt.Errorf("begin requeue: %w", err)
	}
	defer tx.Rollback()

	m, err := s.get(ctx, tx, id)
	if err != nil {
		return Mission{}, err
	}

	if m.RetryCount >= m.MaxRetries {
		return s.finishTx(ctx, tx, id, StatusFailed, reason)
	}

	notBefore := time.Now().UTC().Add(s.backoff(m.RetryCount)).UnixNano()
	if _, err := tx.ExecContext(ctx, `
		UPDATE missions
		SET status = ?, retry_count = retry_count + 1, last_error = ?,
		    started_at = NULL, locked_until = 0, not_before = ?
		WHERE id = ?
	`, string(StatusPending), reason, notBefore, id); err != nil {
		return Mission{}, fmt.Errorf("requeue mission: %w", err)
	}

	m, err = s.get(ctx, tx, id)
	if err != nil {
		return Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return Mission{}, fmt.Errorf("commit requeue: %w", err)
	}
	return m, nil
}

// backoff returns the eligibility delay for the attempt after retries
// recorded so far.
func (s *SQLiteStore) backoff(retries int) time.Duration {
	delay := s.retryDelay
	for i := 0; i < retries && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// Complete marks the mission COMPLETED.
func (s *SQLiteStore) Complete(ctx context.Context, id string) (Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mission{}, fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback()
	return s.finishTx(ctx, tx, id, StatusCompleted, "")
}

// Fail marks the mission FAILED terminally.
func (s *SQLiteStore) Fail(ctx context.Context, id, reason string) (Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mission{}, fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()
	return s.finishTx(ctx, tx, id, StatusFailed, reason)
}

func (s *SQLiteStore) finishTx(ctx context.Context, tx *sql.Tx, id string, status Status, reason string) (Mission, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE missions SET status = ?, last_error = ?, completed_at = ?, locked_until = 0
		WHERE id = ?
	`, string(status), reason, time.Now().UTC(), id)
	if err != nil {
		return Mission{}, fmt.Errorf("finish mission: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Mission{}, ErrNotFound
	}

	m, err := s.get(ctx, tx, id)
	if err != nil {
		return Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return Mission{}, fmt.Errorf("commit finish: %w", err)
	}
	return m, nil
}

// Get returns the mission by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mission{}, fmt.Errorf("begin get: %w", err)
	}
	defer tx.Rollback()

	m, err := s.get(ctx, tx, id)
	if err != nil {
		return Mission{}, err
	}
	return m, tx.Commit()
}

func (s *SQLiteStore) get(ctx context.Context, tx *sql.Tx, id string) (Mission, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, payload, priority, status, retry_count, max_retries, last_error,
		       created_at, started_at, completed_at
		FROM missions WHERE id = ?
	`, id)

	var (
		m         Mission
		payload   string
		priority  int
		status    string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&m.ID, &payload, &priority, &status, &m.RetryCount, &m.MaxRetries,
		&m.LastError, &m.CreatedAt, &started, &completed)
	if err == sql.ErrNoRows {
		return Mission{}, ErrNotFound
	}
	if err != nil {
		return Mission{}, fmt.Errorf("scan mission: %w", err)
	}

	m.Priority = Priority(priority)
	m.Status = Status(status)
	if payload != "" && payload != "null" {
		if err := jsoncodec.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return Mission{}, fmt.Errorf("unmarshal mission payload: %w", err)
		}
	}
	if started.Valid {
		t := started.Time
		m.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		m.CompletedAt = &t
	}
	return m, nil
}

// PendingCount reports how many missions are waiting to run.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM missions WHERE status = ?
	`, string(StatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending missions: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
