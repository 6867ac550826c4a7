// Package engine assembles the partitioned ledger execution engine: N
// shards, each owning a ledger, a parallel batch executor, and a transfer
// coordinator, glued together by the deterministic account router.
//
// The engine consumes already-authenticated, already-ordered transaction
// requests and produces one terminal outcome per request plus the
// resulting ledger deltas. It exposes three operations to collaborators:
//
//   - SubmitBatch: run an ordered batch of intra-shard transactions on one
//     shard, returning per-transaction outcomes and deltas
//   - SubmitTransfer: start the asynchronous cross-shard protocol for a
//     sender and recipient on different shards
//   - TransferStatus: poll a transfer's state by id
//
// Finality is a collaborator signal: a committed batch stays speculative
// until Finalize is called for it, at which point the touched accounts are
// flushed to the shard's durable store.
package engine
