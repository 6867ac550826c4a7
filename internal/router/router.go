package router

import (
	"fmt"
	"hash/fnv"

	"github.com/dreamware/kotare/internal/ledger"
)

// Router assigns accounts to shards. It is stateless and safe for
// concurrent use; every method is a pure computation.
type Router struct {
	shards int
}

// New creates a router for a fixed shard count. The count is a genesis
// parameter and must be positive.
func New(shards int) (*Router, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shards)
	}
	return &Router{shards: shards}, nil
}

// Shards returns the configured shard count.
func (r *Router) Shards() int { return r.shards }

// Route returns the shard that owns the given account.
//
// Uses FNV-1a for a fast, well-distributed, deterministic mapping. Repeated
// calls with the same identifier always return the same shard.
func (r *Router) Route(id ledger.AccountID) ledger.ShardID {
	h := fnv.New32a()
	h.Write([]byte(id))
	return ledger.ShardID(h.Sum32() % uint32(r.shards))
}

// SameShard reports whether two accounts live on the same shard, which
// decides whether a transfer between them is intra-shard or cross-shard.
func (r *Router) SameShard(a, b ledger.AccountID) bool {
	return r.Route(a) == r.Route(b)
}
