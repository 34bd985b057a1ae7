package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements CounterStore and AddOnStore using SQLite.
// This backend provides durable storage and is suitable for
// single-instance deployments where counters must survive restarts.
//
// SQLiteStore uses a write-ahead log (WAL) for better concurrent
// performance and periodic checkpointing to balance write performance
// with durability. The compare-and-increment primitives are expressed as
// single guarded UPDATE statements so quota and add-on consumption stay
// atomic without an explicit transaction.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	incrementStmt *sql.Stmt
	consumeStmt   *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// NewSQLiteStore opens (or creates) a SQLite store with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_counters (
		key_id       TEXT NOT NULL,
		period       TEXT NOT NULL,
		used         INTEGER NOT NULL DEFAULT 0,
		limit_calls  INTEGER NOT NULL,
		period_start INTEGER NOT NULL,
		archived     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (key_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_counters_period ON quota_counters(period, archived);

	CREATE TABLE IF NOT EXISTS bucket_states (
		key_id      TEXT NOT NULL,
		window      TEXT NOT NULL,
		tokens      REAL NOT NULL,
		last_refill INTEGER NOT NULL,
		PRIMARY KEY (key_id, window)
	);

	CREATE TABLE IF NOT EXISTS addons (
		id           TEXT PRIMARY KEY,
		key_id       TEXT NOT NULL,
		package      TEXT NOT NULL,
		remaining    INTEGER NOT NULL,
		purchased_at INTEGER NOT NULL,
		expires_at   INTEGER NOT NULL,
		cancelled    INTEGER NOT NULL DEFAULT 0,
		expired      INTEGER NOT NULL DEFAULT 0,
		renewed_from TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_addons_key ON addons(key_id, expires_at);
	CREATE INDEX IF NOT EXISTS idx_addons_expiry ON addons(expired, expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements precompiles the hot-path statements.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	// The guarded UPDATE is the quota compare-and-increment: it grants
	// the unit only while the counter stays strictly below its ceiling.
	s.incrementStmt, err = s.db.Prepare(`
		UPDATE quota_counters
		SET used = used + 1
		WHERE key_id = ? AND period = ?
		  AND (limit_calls <= 0 OR used + 1 < limit_calls)
		RETURNING used
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.consumeStmt, err = s.db.Prepare(`
		UPDATE addons
		SET remaining = remaining - 1
		WHERE id = ? AND remaining > 0 AND cancelled = 0 AND expired = 0
		  AND expires_at > ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare consume statement: %w", err)
	}

	return nil
}

// EnsureCounter creates the counter if absent (insert-or-no-op).
func (s *SQLiteStore) EnsureCounter(ctx context.Context, keyID, period string, limit int64, periodStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counters (key_id, period, used, limit_calls, period_start)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT (key_id, period) DO NOTHING
	`, keyID, period, limit, periodStart.Unix())
	if err != nil {
		return fmt.Errorf("failed to ensure counter: %w", err)
	}
	return nil
}

// IncrementIfBelow atomically consumes one unit of base quota. The
// guarded UPDATE returns the new count directly, so the reported value
// is exact even when several processes share the database file.
func (s *SQLiteStore) IncrementIfBelow(ctx context.Context, keyID, period string) (int64, bool, error) {
	var used int64
	err := s.incrementStmt.QueryRowContext(ctx, keyID, period).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}

	// Denied or missing. A denied counter sits one below its ceiling
	// and cannot move again this period, so this read is stable.
	err = s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_counters WHERE key_id = ? AND period = ?`,
		keyID, period).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, false, ErrCounterNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter: %w", err)
	}

	return used, false, nil
}

// GetCounter returns the counter for (keyID, period).
func (s *SQLiteStore) GetCounter(ctx context.Context, keyID, period string) (*QuotaCounter, error) {
	c := &QuotaCounter{}
	var periodStart int64
	var archived int

	err := s.db.QueryRowContext(ctx, `
		SELECT key_id, period, used, limit_calls, period_start, archived
		FROM quota_counters WHERE key_id = ? AND period = ?
	`, keyID, period).Scan(&c.KeyID, &c.Period, &c.Used, &c.Limit, &periodStart, &archived)
	if err == sql.ErrNoRows {
		return nil, ErrCounterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}

	c.PeriodStart = time.Unix(periodStart, 0).UTC()
	c.Archived = archived == 1
	return c, nil
}

// ListCountersBefore returns non-archived counters older than period.
func (s *SQLiteStore) ListCountersBefore(ctx context.Context, period string) ([]*QuotaCounter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, period, used, limit_calls, period_start, archived
		FROM quota_counters
		WHERE archived = 0 AND period < ?
		ORDER BY period, key_id
	`, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	var out []*QuotaCounter
	for rows.Next() {
		c := &QuotaCounter{}
		var periodStart int64
		var archived int
		if err := rows.Scan(&c.KeyID, &c.Period, &c.Used, &c.Limit, &periodStart, &archived); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		c.PeriodStart = time.Unix(periodStart, 0).UTC()
		c.Archived = archived == 1
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counters: %w", err)
	}

	return out, nil
}

// ArchiveCounter marks a counter as rolled forward.
func (s *SQLiteStore) ArchiveCounter(ctx context.Context, keyID, period string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quota_counters SET archived = 1 WHERE key_id = ? AND period = ?`,
		keyID, period)
	if err != nil {
		return fmt.Errorf("failed to archive counter: %w", err)
	}
	return nil
}

// SaveBucket upserts a rate-limit bucket snapshot.
func (s *SQLiteStore) SaveBucket(ctx context.Context, state *BucketState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bucket_states (key_id, window, tokens, last_refill)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key_id, window) DO UPDATE SET
			tokens = excluded.tokens,
			last_refill = excluded.last_refill
	`, state.KeyID, state.Window, state.Tokens, state.LastRefill.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

// LoadBucket returns the snapshot for (keyID, window), or nil.
func (s *SQLiteStore) LoadBucket(ctx context.Context, keyID, window string) (*BucketState, error) {
	state := &BucketState{KeyID: keyID, Window: window}
	var lastRefill int64

	err := s.db.QueryRowContext(ctx,
		`SELECT tokens, last_refill FROM bucket_states WHERE key_id = ? AND window = ?`,
		keyID, window).Scan(&state.Tokens, &lastRefill)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}

	state.LastRefill = time.Unix(0, lastRefill)
	return state, nil
}

// Insert stores a new add-on instance.
func (s *SQLiteStore) Insert(ctx context.Context, addOn *AddOn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO addons (id, key_id, package, remaining, purchased_at, expires_at, cancelled, expired, renewed_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, addOn.ID, addOn.KeyID, addOn.PackageName, addOn.Remaining,
		addOn.PurchasedAt.Unix(), addOn.ExpiresAt.Unix(),
		boolToInt(addOn.Cancelled), boolToInt(addOn.Expired), addOn.RenewedFrom)
	if err != nil {
		return fmt.Errorf("failed to insert add-on: %w", err)
	}
	return nil
}

// Get returns an add-on instance by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*AddOn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_id, package, remaining, purchased_at, expires_at, cancelled, expired, renewed_from
		FROM addons WHERE id = ?
	`, id)

	addOn, err := scanAddOn(row)
	if err == sql.ErrNoRows {
		return nil, ErrAddOnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load add-on: %w", err)
	}
	return addOn, nil
}

// ListActive returns the key's active add-ons, soonest expiry first.
func (s *SQLiteStore) ListActive(ctx context.Context, keyID string, now time.Time) ([]*AddOn, error) {
	return s.listAddOns(ctx, `
		SELECT id, key_id, package, remaining, purchased_at, expires_at, cancelled, expired, renewed_from
		FROM addons
		WHERE key_id = ? AND cancelled = 0 AND expired = 0 AND expires_at > ?
		ORDER BY expires_at
	`, keyID, now.Unix())
}

// ListByKey returns all of the key's add-ons, including inert ones.
func (s *SQLiteStore) ListByKey(ctx context.Context, keyID string) ([]*AddOn, error) {
	return s.listAddOns(ctx, `
		SELECT id, key_id, package, remaining, purchased_at, expires_at, cancelled, expired, renewed_from
		FROM addons WHERE key_id = ? ORDER BY purchased_at
	`, keyID)
}

// ListExpired returns instances past expiry that are not yet flagged.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*AddOn, error) {
	return s.listAddOns(ctx, `
		SELECT id, key_id, package, remaining, purchased_at, expires_at, cancelled, expired, renewed_from
		FROM addons WHERE expired = 0 AND expires_at <= ? ORDER BY expires_at
	`, now.Unix())
}

// ConsumeOne atomically decrements Remaining on an active instance.
func (s *SQLiteStore) ConsumeOne(ctx context.Context, id string, now time.Time) (int64, bool, error) {
	res, err := s.consumeStmt.ExecContext(ctx, id, now.Unix())
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume add-on: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	var remaining int64
	err = s.db.QueryRowContext(ctx, `SELECT remaining FROM addons WHERE id = ?`, id).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, false, ErrAddOnNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read add-on: %w", err)
	}

	return remaining, affected == 1, nil
}

// Cancel sets the cancelled flag on an instance.
func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE addons SET cancelled = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel add-on: %w", err)
	}
	return nil
}

// MarkExpired flags an instance as processed by the scheduler.
func (s *SQLiteStore) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE addons SET expired = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark add-on expired: %w", err)
	}
	return nil
}

// Close releases database resources. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.incrementStmt != nil {
			s.incrementStmt.Close()
		}
		if s.consumeStmt != nil {
			s.consumeStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func (s *SQLiteStore) listAddOns(ctx context.Context, query string, args ...any) ([]*AddOn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-ons: %w", err)
	}
	defer rows.Close()

	var out []*AddOn
	for rows.Next() {
		addOn, err := scanAddOn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan add-on: %w", err)
		}
		out = append(out, addOn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating add-ons: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddOn(row rowScanner) (*AddOn, error) {
	a := &AddOn{}
	var purchased, expires int64
	var cancelled, expired int

	if err := row.Scan(&a.ID, &a.KeyID, &a.PackageName, &a.Remaining,
		&purchased, &expires, &cancelled, &expired, &a.RenewedFrom); err != nil {
		return nil, err
	}

	a.PurchasedAt = time.Unix(purchased, 0).UTC()
	a.ExpiresAt = time.Unix(expires, 0).UTC()
	a.Cancelled = cancelled == 1
	a.Expired = expired == 1
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
