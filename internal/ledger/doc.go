// Package ledger implements the per-shard account ledger: the mapping of
// account identifier to balance and nonce that a shard owns exclusively.
//
// # Overview
//
// Each shard in the engine holds exactly one Ledger. Accounts are created on
// first credit and never deleted; a zero balance is a valid terminal state.
// Balance and nonce are mutated only by that shard's batch executor and
// transfer coordinator, both of which serialize access per account through
// the executor's lock table. The Ledger itself only guards its internal map,
// it does not arbitrate between transactions.
//
// # Persistence
//
// Durability is a collaborator concern. The Store interface is the narrow
// seam to the persistence layer:
//
//	Read(ctx, id) (Account, error)
//	Write(ctx, account) error
//
// Two implementations are provided:
//   - MemoryStore: in-process map, used by tests and ephemeral deployments
//   - SQLiteStore: modernc.org/sqlite backed store, durable after a
//     successful batch commit
//
// The engine flushes the accounts touched by a batch to the shard's Store
// once the batch is finalized. The Ledger never defines an on-disk format
// beyond the Store's schema.
//
// # Nonces
//
// An account's nonce counts its committed outgoing transactions. A
// transaction must carry a nonce equal to the account's current nonce to be
// admitted; anything lower is stale, anything higher is a gap. Committed
// nonces are therefore strictly increasing and gapless per account.
package ledger
