package conflict

import (
	"errors"
	"fmt"

	"github.com/dreamware/kotare/internal/ledger"
)

// ErrMalformed is wrapped by Analyze for transactions that cannot be given
// a read/write set. Callers reject the transaction; the detector itself has
// no other failure mode.
var ErrMalformed = errors.New("malformed transaction")

// RWSet is the set of accounts a transaction reads and writes.
type RWSet struct {
	Reads  map[ledger.AccountID]struct{}
	Writes map[ledger.AccountID]struct{}
}

// Accounts returns the union of reads and writes, deduplicated.
func (s RWSet) Accounts() []ledger.AccountID {
	seen := make(map[ledger.AccountID]struct{}, len(s.Reads)+len(s.Writes))
	var out []ledger.AccountID
	for id := range s.Reads {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for id := range s.Writes {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Analyze produces the read/write set for a transaction. feeCollector is
// the shard account that receives fees; it joins the write set only when
// the transaction carries a nonzero fee.
func Analyze(tx ledger.Transaction, feeCollector ledger.AccountID) (RWSet, error) {
	if tx.Sender == "" {
		return RWSet{}, fmt.Errorf("%w: empty sender", ErrMalformed)
	}
	if tx.Recipient == "" {
		return RWSet{}, fmt.Errorf("%w: empty recipient", ErrMalformed)
	}
	if tx.Amount == 0 {
		return RWSet{}, fmt.Errorf("%w: zero amount", ErrMalformed)
	}
	if _, ok := tx.Total(); !ok {
		return RWSet{}, fmt.Errorf("%w: amount+fee overflows", ErrMalformed)
	}
	if tx.Fee > 0 && feeCollector == "" {
		return RWSet{}, fmt.Errorf("%w: fee carried but no fee collector configured", ErrMalformed)
	}

	set := RWSet{
		Reads:  map[ledger.AccountID]struct{}{tx.Sender: {}, tx.Recipient: {}},
		Writes: map[ledger.AccountID]struct{}{tx.Sender: {}, tx.Recipient: {}},
	}
	if tx.Fee > 0 {
		set.Writes[feeCollector] = struct{}{}
	}
	return set, nil
}

// Conflicts reports whether two transactions must be ordered: true when the
// write set of one intersects the read-or-write set of the other.
func Conflicts(a, b RWSet) bool {
	return intersectsReadOrWrite(a.Writes, b) || intersectsReadOrWrite(b.Writes, a)
}

func intersectsReadOrWrite(writes map[ledger.AccountID]struct{}, other RWSet) bool {
	for id := range writes {
		if _, ok := other.Reads[id]; ok {
			return true
		}
		if _, ok := other.Writes[id]; ok {
			return true
		}
	}
	return false
}
