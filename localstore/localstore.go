package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	// Pure Go SQLite driver (no CGO)
	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned when the store has been closed.
var ErrNotInitialized = errors.New("localstore: database not initialized")

const (
	currentSchemaVersion = 1
	cacheTableName       = "audit_cache"
	eventsTableName      = "audit_events"

	DefaultTTL           = 24 * time.Hour
	DefaultMemoryEntries = 256
	busyTimeoutMillis    = 5000
)

// Options configures Open. Zero values fall back to the defaults above.
type Options struct {
	TTL time.Duration
	// MemoryEntries sizes the in-process tier in front of SQLite. Negative disables it.
	MemoryEntries int
	Logger        *zap.Logger
	Now           func() time.Time
}

// Store persists cached audit responses and the audit trail in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	hot *lru.LRU[string, cachedPayload]

	stats counters
}

// Open opens (creating if needed) the SQLite database at dbPath and applies the schema.
func Open(dbPath string, opts Options) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("localstore: database path is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MemoryEntries == 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.Named("localstore")

	logger.Debug("LocalStore: initializing database", zap.String("path", dbPath))

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dbPath, busyTimeoutMillis)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database at %s: %w", dbPath, err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		ttl:    opts.TTL,
		logger: logger,
		now:    opts.Now,
	}
	if opts.MemoryEntries > 0 {
		s.hot = lru.NewLRU[string, cachedPayload](opts.MemoryEntries, nil, opts.TTL)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create/migrate schema: %w", err)
	}
	logger.Debug("LocalStore: schema initialized")
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// TTL returns the cache time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY);`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var dbVersion int
	err := s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`).Scan(&dbVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to query schema version: %w", err)
	}
	if dbVersion > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", dbVersion, currentSchemaVersion)
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT NOT NULL PRIMARY KEY,
			payload TEXT NOT NULL, -- AuditResponse JSON
			updated_at TEXT NOT NULL
		);`, cacheTableName),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL PRIMARY KEY,
			timestamp TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			product_name TEXT NOT NULL,
			batch_number TEXT NOT NULL,
			manufacturer TEXT NOT NULL,
			verdict TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			cached INTEGER NOT NULL,
			registry_match_id INTEGER,
			duration_ms INTEGER NOT NULL
		);`, eventsTableName),
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_cache_updated_at ON %s (updated_at);", cacheTableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_events_timestamp ON %s (timestamp DESC);", eventsTableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_events_verdict ON %s (verdict);", eventsTableName),
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			s.logger.Warn("LocalStore: failed to create index", zap.String("sql", indexSQL), zap.Error(err))
		}
	}

	if dbVersion < currentSchemaVersion {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?);`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		s.logger.Debug("LocalStore: schema version recorded", zap.Int("version", currentSchemaVersion))
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
