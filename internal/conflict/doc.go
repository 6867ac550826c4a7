// Package conflict computes transaction read/write sets and decides which
// transactions of a batch may execute concurrently.
//
// # Read/write sets
//
// A transfer reads and writes both its sender and its recipient (a balance
// check is a read, a balance change is a write). A nonzero fee adds the
// shard's fee collector account to the write set. Two transactions conflict
// when the write set of one intersects the read-or-write set of the other.
//
// # Chains
//
// Conflict is symmetric, so the transitive closure of the conflict relation
// partitions a batch into chains: groups of transactions that must execute
// in sequence order relative to each other, while whole chains are mutually
// independent and free to run in parallel. Two transactions from the same
// sender always land in one chain because the sender appears in both write
// sets, which is what makes consecutive nonces execute in order.
//
// The detector is purely advisory. It never mutates ledger state and its
// only failure mode is a malformed transaction, which the executor reports
// as a per-transaction rejection rather than a fault.
package conflict
