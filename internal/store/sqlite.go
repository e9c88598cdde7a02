package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements persistence using modernc.org/sqlite (pure Go,
// no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite allows one writer at a time. Keep the pool small.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_keys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenant_keys_prefix ON tenant_keys(key_prefix)`,
		`CREATE TABLE IF NOT EXISTS completion_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completion_logs_ts ON completion_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Key-value

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetValue returns "" with ok=false when the key is absent.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) DeleteValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Tenant keys

func (s *SQLiteStore) CreateTenantKey(ctx context.Context, k TenantKeyRecord) error {
	enabledInt := 0
	if k.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_keys (id, tenant_id, key_hash, key_prefix, created_at, last_used_at, enabled)
		 VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix,
		k.CreatedAt.UTC().Format(time.RFC3339), enabledInt)
	return err
}

func (s *SQLiteStore) GetTenantKeysByPrefix(ctx context.Context, prefix string) ([]TenantKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, key_hash, key_prefix, created_at, last_used_at, enabled
		 FROM tenant_keys WHERE key_prefix = ? AND enabled = 1`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTenantKeys(rows)
}

func (s *SQLiteStore) ListTenantKeys(ctx context.Context) ([]TenantKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, key_hash, key_prefix, created_at, last_used_at, enabled
		 FROM tenant_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTenantKeys(rows)
}

func scanTenantKeys(rows *sql.Rows) ([]TenantKeyRecord, error) {
	var keys []TenantKeyRecord
	for rows.Next() {
		var k TenantKeyRecord
		var createdAt string
		var lastUsed sql.NullString
		var enabledInt int
		if err := rows.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix,
			&createdAt, &lastUsed, &enabledInt); err != nil {
			return nil, err
		}
		k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastUsed.Valid {
			t, _ := time.Parse(time.RFC3339, lastUsed.String)
			k.LastUsedAt = &t
		}
		k.Enabled = enabledInt != 0
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) TouchTenantKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenant_keys SET last_used_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	return err
}

func (s *SQLiteStore) DisableTenantKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tenant_keys SET enabled = 0 WHERE id = ?`, id)
	return err
}

// Completion logs

func (s *SQLiteStore) LogCompletion(ctx context.Context, entry CompletionLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_logs (timestamp, provider, model, level, input_tokens, output_tokens, cost_usd, latency_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.Provider, entry.Model, entry.Level,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.LatencyMs, entry.Status)
	return err
}

func (s *SQLiteStore) ListCompletionLogs(ctx context.Context, limit, offset int) ([]CompletionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider, model, level, input_tokens, output_tokens, cost_usd, latency_ms, status
		 FROM completion_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []CompletionLog
	for rows.Next() {
		var l CompletionLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Provider, &l.Model, &l.Level,
			&l.InputTokens, &l.OutputTokens, &l.CostUSD, &l.LatencyMs, &l.Status); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
