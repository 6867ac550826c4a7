package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
)

// Errors returned by transfer submission.
var (
	ErrMalformed     = errors.New("malformed transfer request")
	ErrNotCrossShard = errors.New("sender and recipient share a shard")
	ErrUnknownPeer   = errors.New("no coordinator for destination shard")
	ErrStopped       = errors.New("coordinator stopped")
)

// Request describes a transfer to submit. ID may be empty, in which case
// the coordinator assigns a fresh UUID; a caller-supplied id makes
// resubmission idempotent.
type Request struct {
	ID        string           `json:"id,omitempty"`
	DestShard ledger.ShardID   `json:"dest_shard"`
	Sender    ledger.AccountID `json:"sender"`
	Recipient ledger.AccountID `json:"recipient"`
	Amount    uint64           `json:"amount"`
	Nonce     uint64           `json:"nonce"`
}

// Receipt acknowledges an accepted submission. Transfers are asynchronous;
// callers poll Status with the id for the terminal outcome.
type Receipt struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Stats counts coordinator activity, accessed atomically.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Committed  uint64 `json:"committed"`
	Aborted    uint64 `json:"aborted"`
	Duplicates uint64 `json:"duplicates"`
}

// Config bounds a coordinator. Timeout is the window a transfer has to
// reach Committed, measured from submission, before the source
// unilaterally aborts it. Fee is the optional flat cross-shard fee,
// credited to FeeCollector on commit.
type Config struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	QueueSize     int
	Fee           uint64
	FeeCollector  ledger.AccountID
}

// inbound is one relayed transfer record on the destination queue. The
// response channel is buffered so the destination never blocks replying.
type inbound struct {
	t    *Transfer
	resp chan response
}

type response struct {
	committed bool
	duplicate bool
	reason    string
}

// Coordinator drives the cross-shard protocol for one shard, acting as
// source for transfers its accounts send and as destination for transfers
// its accounts receive.
type Coordinator struct {
	shard ledger.ShardID
	exec  *executor.Executor
	cfg   Config

	peers func(ledger.ShardID) *Coordinator

	mu        sync.RWMutex
	transfers map[string]*Transfer // transfers originated on this shard
	committed map[string]struct{}  // ids credited on this shard as destination

	inbox  chan inbound
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// NewCoordinator creates a coordinator for one shard. The executor must be
// the same instance that runs the shard's batches, so transfer legs and
// batch transactions serialize through one lock table.
func NewCoordinator(shard ledger.ShardID, exec *executor.Executor, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Timeout / 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		shard:     shard,
		exec:      exec,
		cfg:       cfg,
		transfers: make(map[string]*Transfer),
		committed: make(map[string]struct{}),
		inbox:     make(chan inbound, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect wires the resolver used to find the destination coordinator for
// a shard. Must be called before Start.
func (c *Coordinator) Connect(peers func(ledger.ShardID) *Coordinator) {
	c.peers = peers
}

// Start launches the destination inbox consumer and the timeout sweeper.
func (c *Coordinator) Start() {
	c.wg.Add(2)
	go c.consumeInbox()
	go c.sweep()
}

// Stop cancels background work and waits for it to finish.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// StatsSnapshot returns a point-in-time copy of the counters.
func (c *Coordinator) StatsSnapshot() Stats {
	return Stats{
		Submitted:  atomic.LoadUint64(&c.stats.Submitted),
		Committed:  atomic.LoadUint64(&c.stats.Committed),
		Aborted:    atomic.LoadUint64(&c.stats.Aborted),
		Duplicates: atomic.LoadUint64(&c.stats.Duplicates),
	}
}

// Status returns the current view of a transfer originated on this shard.
func (c *Coordinator) Status(id string) (View, bool) {
	c.mu.RLock()
	t, ok := c.transfers[id]
	c.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return t.view(), true
}

// Transfers returns views of every transfer originated on this shard.
func (c *Coordinator) Transfers() []View {
	c.mu.RLock()
	all := make([]*Transfer, 0, len(c.transfers))
	for _, t := range c.transfers {
		all = append(all, t)
	}
	c.mu.RUnlock()

	out := make([]View, 0, len(all))
	for _, t := range all {
		out = append(out, t.view())
	}
	return out
}

// Submit starts the protocol for a transfer whose sender lives on this
// shard. It validates and debits synchronously, then relays asynchronously
// and returns; callers poll Status for the terminal outcome.
//
// Resubmitting an id this shard already tracks returns the existing
// transfer's receipt without running the protocol again.
func (c *Coordinator) Submit(req Request) (Receipt, error) {
	if err := c.ctx.Err(); err != nil {
		return Receipt{}, ErrStopped
	}
	if req.Sender == "" || req.Recipient == "" {
		return Receipt{}, fmt.Errorf("%w: empty sender or recipient", ErrMalformed)
	}
	if req.Amount == 0 {
		return Receipt{}, fmt.Errorf("%w: zero amount", ErrMalformed)
	}
	if req.DestShard == c.shard {
		return Receipt{}, ErrNotCrossShard
	}
	if c.peers == nil || c.peers(req.DestShard) == nil {
		return Receipt{}, fmt.Errorf("%w: shard %d", ErrUnknownPeer, req.DestShard)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	t := &Transfer{
		id:          id,
		sourceShard: c.shard,
		destShard:   req.DestShard,
		sender:      req.Sender,
		recipient:   req.Recipient,
		amount:      req.Amount,
		fee:         c.cfg.Fee,
		nonce:       req.Nonce,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
	}

	c.mu.Lock()
	if existing, ok := c.transfers[id]; ok {
		c.mu.Unlock()
		view := existing.view()
		return Receipt{ID: view.ID, Status: view.Status}, nil
	}
	c.transfers[id] = t
	c.mu.Unlock()

	atomic.AddUint64(&c.stats.Submitted, 1)

	total := req.Amount + c.cfg.Fee
	if total < req.Amount {
		c.abort(t, "amount+fee overflows")
		return Receipt{ID: id, Status: StatusAborted}, nil
	}

	// Source lock: debit and consume the nonce. A validation failure is a
	// terminal abort with nothing to compensate.
	if err := c.exec.ApplyDebit(req.Sender, total, req.Nonce); err != nil {
		c.abort(t, err.Error())
		return Receipt{ID: id, Status: StatusAborted}, nil
	}

	// The debit can stall on the sender's account lock long enough for the
	// sweeper to abort the still-pending transfer. That abort saw no debit
	// and refunded nothing, so when the transition to SourceLocked fails
	// the compensating credit is issued here instead.
	t.mu.Lock()
	t.debited = true
	locked := t.setStatusLocked(StatusSourceLocked, "")
	refund := !locked && !t.refunded
	if refund {
		t.refunded = true
	}
	t.mu.Unlock()

	if !locked {
		if refund {
			if err := c.exec.ApplyCredit(req.Sender, total); err != nil {
				log.Printf("coordinator[%d] FAILED compensating credit for transfer %s: %v", c.shard, id, err)
			}
		}
		return Receipt{ID: id, Status: StatusAborted}, nil
	}

	c.wg.Add(1)
	go c.relay(t)

	return Receipt{ID: id, Status: StatusSourceLocked}, nil
}

// relay hands the transfer record to the destination queue and waits for
// its response. Runs in its own goroutine so the shard's batch processing
// never blocks on a destination.
func (c *Coordinator) relay(t *Transfer) {
	defer c.wg.Done()

	dest := c.peers(t.destShard)

	t.mu.Lock()
	if !t.setStatusLocked(StatusRelayed, "") {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	msg := inbound{t: t, resp: make(chan response, 1)}
	select {
	case dest.inbox <- msg:
	case <-c.ctx.Done():
		return
	case <-time.After(c.cfg.Timeout):
		// Queue full for the whole window; the sweeper aborts it.
		return
	}

	select {
	case resp := <-msg.resp:
		if resp.committed {
			c.finishCommit(t)
		} else {
			c.abort(t, resp.reason)
		}
	case <-c.ctx.Done():
	case <-time.After(c.cfg.Timeout):
		// No response inside the window; the sweeper aborts it.
	}
}

// finishCommit runs the source-side commit bookkeeping: the committed
// counter and the fee pool credit. It is keyed off observing the Committed
// status, not off a timely destination response, and runs exactly once per
// transfer; a destination that commits after the relayer's response window
// is picked up by the sweeper calling this again.
func (c *Coordinator) finishCommit(t *Transfer) {
	t.mu.Lock()
	if t.status != StatusCommitted || t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	fee := t.fee
	t.mu.Unlock()

	atomic.AddUint64(&c.stats.Committed, 1)
	if fee > 0 && c.cfg.FeeCollector != "" {
		if err := c.exec.ApplyCredit(c.cfg.FeeCollector, fee); err != nil {
			log.Printf("coordinator[%d] fee credit for transfer %s: %v", c.shard, t.id, err)
		}
	}
}

// abort moves a transfer to Aborted and, when the source had debited,
// issues exactly one compensating credit restoring the pre-transfer
// balance. The consumed nonce is never returned.
func (c *Coordinator) abort(t *Transfer, reason string) {
	t.mu.Lock()
	if !t.setStatusLocked(StatusAborted, reason) {
		t.mu.Unlock()
		return
	}
	refund := t.debited && !t.refunded
	if refund {
		t.refunded = true
	}
	amount := t.amount + t.fee
	sender := t.sender
	t.mu.Unlock()

	atomic.AddUint64(&c.stats.Aborted, 1)

	if refund {
		if err := c.exec.ApplyCredit(sender, amount); err != nil {
			// Should be impossible: a credit on an existing account only
			// fails on overflow. Loud, not silent.
			log.Printf("coordinator[%d] FAILED compensating credit for transfer %s: %v", c.shard, t.id, err)
		}
	}
}

// consumeInbox applies the destination leg for relayed records.
func (c *Coordinator) consumeInbox() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.inbox:
			msg.resp <- c.applyInbound(msg.t)
		}
	}
}

// applyInbound credits the recipient exactly once per transfer id. The
// credit and the Committed transition happen under the transfer's mutex so
// a concurrent source-side abort can never interleave with them.
func (c *Coordinator) applyInbound(t *Transfer) response {
	// Identity fields are immutable after creation. Redelivery defense:
	// a known id means the credit already happened.
	id, recipient, amount := t.id, t.recipient, t.amount
	c.mu.RLock()
	_, dup := c.committed[id]
	c.mu.RUnlock()

	t.mu.Lock()
	if dup || t.status == StatusCommitted {
		t.mu.Unlock()
		atomic.AddUint64(&c.stats.Duplicates, 1)
		return response{committed: true, duplicate: true}
	}

	if t.status != StatusRelayed {
		status := t.status
		t.mu.Unlock()
		return response{reason: fmt.Sprintf("transfer no longer relayed (status %s)", status)}
	}
	if recipient == "" {
		t.setStatusLocked(StatusAborted, "invalid recipient")
		t.mu.Unlock()
		return response{reason: "invalid recipient"}
	}

	if err := c.exec.ApplyCredit(recipient, amount); err != nil {
		t.mu.Unlock()
		return response{reason: err.Error()}
	}
	t.setStatusLocked(StatusCommitted, "")
	t.mu.Unlock()

	c.mu.Lock()
	c.committed[id] = struct{}{}
	c.mu.Unlock()

	return response{committed: true}
}

// sweep periodically aborts transfers that outlived the timeout window.
// Only the source shard runs this for its own transfers, which is always
// safe: only the source can have debited funds.
func (c *Coordinator) sweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.sweepOnce(now.UTC())
		}
	}
}

func (c *Coordinator) sweepOnce(now time.Time) {
	c.mu.RLock()
	all := make([]*Transfer, 0, len(c.transfers))
	for _, t := range c.transfers {
		all = append(all, t)
	}
	c.mu.RUnlock()

	var stale, unsettled []*Transfer
	for _, t := range all {
		t.mu.Lock()
		expired := !t.status.Terminal() && t.expiredLocked(c.cfg.Timeout, now)
		late := t.status == StatusCommitted && !t.settled
		t.mu.Unlock()
		if expired {
			stale = append(stale, t)
		}
		if late {
			unsettled = append(unsettled, t)
		}
	}

	for _, t := range stale {
		log.Printf("coordinator[%d] transfer %s timed out, aborting", c.shard, t.id)
		c.abort(t, "timeout waiting for destination")
	}
	// A destination that committed after the relayer stopped waiting left
	// its bookkeeping undone; settle it now.
	for _, t := range unsettled {
		c.finishCommit(t)
	}
}
