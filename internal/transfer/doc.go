// Package transfer implements the cross-shard transfer coordinator: the
// multi-step protocol that debits a sender on its source shard and credits
// a recipient on a different destination shard with atomicity and
// idempotency guarantees.
//
// # State machine
//
// Every transfer walks a one-directional state machine:
//
//	Pending      created and stored; nothing applied anywhere yet
//	SourceLocked source shard debited the sender, nonce consumed
//	Relayed      the transfer record was handed to the destination queue
//	Committed    destination credited the recipient (terminal)
//	Aborted      destination rejected, or the timeout elapsed (terminal)
//
// No transfer regresses from a terminal state. An aborted transfer that
// reached SourceLocked receives exactly one compensating credit restoring
// the sender's pre-transfer balance; the consumed nonce is never returned,
// so resubmitting the identical transaction is rejected as stale.
//
// # Ownership
//
// A coordinator instance belongs to one shard. As source it owns the
// transfer records it created; as destination it only credits its own
// ledger, through its own shard's executor. No coordinator ever writes
// another shard's ledger. Relay between coordinators is asynchronous
// message passing; a source awaiting a destination's response never blocks
// its shard's batch processing.
//
// # Idempotency
//
// The destination keeps the set of already-committed transfer ids and
// answers a duplicate relayed record for a known id with a no-op success
// rather than a second credit. Likewise, resubmitting a transfer id the
// source already tracks returns the existing record instead of starting a
// new protocol run. This is the defense against double-crediting on
// message redelivery.
//
// # Timeouts
//
// A sweeper goroutine on the source shard periodically scans non-terminal
// transfers and unilaterally aborts any that outlived the configured
// timeout window, measured from submission. That is always safe: only the
// source can have debited funds, and only the source issues the
// compensating credit. A destination that commits after the source's
// response window is never aborted; the sweeper completes the source-side
// commit bookkeeping for it instead. The sweeper follows the
// ticker/cancel/WaitGroup shape of the rest of the codebase's background
// loops.
package transfer
