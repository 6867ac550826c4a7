package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const accountSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id      TEXT PRIMARY KEY,
    shard   INTEGER NOT NULL,
    balance INTEGER NOT NULL,
    nonce   INTEGER NOT NULL
);
`

// SQLiteStore persists accounts in a SQLite database. Accounts become
// durable once a batch commit flushes them through Write.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite account store at path
// and bootstraps its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if _, err := sqlDB.Exec(accountSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Read retrieves a persisted account.
func (s *SQLiteStore) Read(ctx context.Context, id AccountID) (Account, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, shard, balance, nonce FROM accounts WHERE id = ?`, string(id))

	var acct Account
	var shard int64
	var balance, nonce int64
	if err := row.Scan((*string)(&acct.ID), &shard, &balance, &nonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("read account %s: %w", id, err)
	}
	acct.Shard = ShardID(shard)
	acct.Balance = uint64(balance)
	acct.Nonce = uint64(nonce)
	return acct, nil
}

// Write persists an account, overwriting any previous record.
func (s *SQLiteStore) Write(ctx context.Context, acct Account) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO accounts (id, shard, balance, nonce) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET shard = excluded.shard,
                              balance = excluded.balance,
                              nonce = excluded.nonce`,
		string(acct.ID), int64(acct.Shard), int64(acct.Balance), int64(acct.Nonce))
	if err != nil {
		return fmt.Errorf("write account %s: %w", acct.ID, err)
	}
	return nil
}

// List returns every persisted account.
func (s *SQLiteStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, shard, balance, nonce FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var acct Account
		var shard, balance, nonce int64
		if err := rows.Scan((*string)(&acct.ID), &shard, &balance, &nonce); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acct.Shard = ShardID(shard)
		acct.Balance = uint64(balance)
		acct.Nonce = uint64(nonce)
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
