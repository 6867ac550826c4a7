// Package executor runs batches of intra-shard transactions in parallel
// while guaranteeing the final ledger state is identical to strict
// sequential execution in sequence-number order.
//
// # Scheduling
//
// The executor asks the conflict detector for each transaction's read/write
// set, partitions the batch into conflict chains (transitively conflicting
// transactions, ordered by sequence number), and dispatches whole chains to
// a bounded worker pool. A chain executes on a single worker strictly in
// order, so whenever two transactions conflict the lower sequence number
// completes before the higher one begins. Distinct chains touch disjoint
// accounts and run concurrently. Worker count and batch size bound only
// throughput; any setting yields the same final state.
//
// # Account locks
//
// Workers share no mutable state except the ledger, which they access under
// a per-account exclusivity discipline: before mutating, a worker acquires
// the lock of every account in the transaction's read/write set through the
// shard's LockTable, in canonical (sorted) order so no two workers can
// deadlock, and releases them all on completion. The same table serializes
// the transfer coordinator's debits and credits against in-flight batches.
//
// # Outcomes
//
// Every transaction receives exactly one outcome, merged back in original
// order regardless of worker completion order:
//
//   - Applied: balance and nonce updated
//   - Rejected: insufficient balance, nonce mismatch, or malformed input;
//     no state change
//   - Aborted: internal scheduling fault; never expected, treated as fatal
//     for the shard and surfaced to the operator rather than retried
package executor
