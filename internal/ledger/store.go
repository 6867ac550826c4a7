package ledger

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Store.Read when the account has never been
// written.
var ErrNotFound = errors.New("account not persisted")

// Store is the persistence collaborator for one shard's accounts.
// All implementations must be safe for concurrent use.
type Store interface {
	// Read retrieves a persisted account.
	// Returns ErrNotFound if the account was never written.
	Read(ctx context.Context, id AccountID) (Account, error)

	// Write persists an account, overwriting any previous record.
	Write(ctx context.Context, acct Account) error

	// List returns every persisted account. Order is not guaranteed.
	List(ctx context.Context) ([]Account, error)

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore implements Store with an in-process map.
// Used by tests and ephemeral deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[AccountID]Account
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[AccountID]Account)}
}

// Read retrieves a persisted account.
func (m *MemoryStore) Read(_ context.Context, id AccountID) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.data[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

// Write persists an account.
func (m *MemoryStore) Write(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[acct.ID] = acct
	return nil
}

// List returns every persisted account.
func (m *MemoryStore) List(_ context.Context) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Account, 0, len(m.data))
	for _, acct := range m.data {
		out = append(out, acct)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
