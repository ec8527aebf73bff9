/*
ledger.go - Handle balances and the append-only entry trail

PURPOSE:
  The HandleLedger owns every handle's balance record. Each committed
  transfer appends one InternalTransRecord per side: the accounting trail
  that survives after the transient outward notifications are gone.

CRITICAL INVARIANTS:
  1. No balance is ever negative
  2. Entries are append-only; corrections happen via refund transfers
  3. ApplyDelta performs no cross-handle locking. The caller
     (TransactionCoordinator) must already hold the conservation
     discipline for both sides of a transfer.

LIFECYCLE:
  A handle's record is created at handle creation (balance 0) and deleted
  when the handle is permanently retired, after rescuing any remaining
  balance to a successor handle.

SEE ALSO:
  - coordinator.go: the only caller allowed to pair debits with credits
  - store.go: LedgerStore interface
*/
package economy

import (
	"context"
	"fmt"
	"time"
)

// HandleLedger mediates all access to handle balance records.
type HandleLedger struct {
	Store LedgerStore
}

func NewHandleLedger(store LedgerStore) *HandleLedger {
	return &HandleLedger{Store: store}
}

// CreateHandle creates a zero-balance record for a new handle.
func (l *HandleLedger) CreateHandle(ctx context.Context, h HandleID, owner ActorID) error {
	existing, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return fmt.Errorf("create handle %s: %w", h, err)
	}
	if existing != nil {
		return fmt.Errorf("create handle %s: %w", h, ErrHandleExists)
	}
	return l.Store.PutLedger(ctx, h, LedgerRecord{Owner: owner, Balance: 0})
}

// Balance returns the handle's current balance.
func (l *HandleLedger) Balance(ctx context.Context, h HandleID) (Money, error) {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", h, err)
	}
	if rec == nil {
		return 0, fmt.Errorf("balance of %s: %w", h, ErrHandleNotFound)
	}
	return rec.Balance, nil
}

// Owner returns the actor behind the handle.
func (l *HandleLedger) Owner(ctx context.Context, h HandleID) (ActorID, error) {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return "", fmt.Errorf("owner of %s: %w", h, err)
	}
	if rec == nil {
		return "", fmt.Errorf("owner of %s: %w", h, ErrHandleNotFound)
	}
	return rec.Owner, nil
}

// Entries returns the handle's full entry trail, oldest first.
func (l *HandleLedger) Entries(ctx context.Context, h HandleID) ([]InternalTransRecord, error) {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("entries of %s: %w", h, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("entries of %s: %w", h, ErrHandleNotFound)
	}
	out := make([]InternalTransRecord, len(rec.Entries))
	copy(out, rec.Entries)
	return out, nil
}

// ApplyDelta mutates one handle's balance and appends the matching entry,
// returning the new balance. It refuses to drive the balance negative.
//
// The caller must hold the handle's lock (or the pair lock, for a
// transfer); the ledger itself does not serialize.
func (l *HandleLedger) ApplyDelta(ctx context.Context, h HandleID, delta Money, entry InternalTransRecord) (Money, error) {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return 0, fmt.Errorf("apply delta to %s: %w", h, err)
	}
	if rec == nil {
		return 0, fmt.Errorf("apply delta to %s: %w", h, ErrHandleNotFound)
	}

	next := rec.Balance + delta
	if next < 0 {
		return 0, &InsufficientBalanceError{Handle: h, Available: rec.Balance, Requested: -delta}
	}

	rec.Balance = next
	rec.Entries = append(rec.Entries, entry)
	if err := l.Store.PutLedger(ctx, h, *rec); err != nil {
		return 0, fmt.Errorf("apply delta to %s: %w", h, err)
	}
	return next, nil
}

// AttachCorrelation adds outward notification ids to the entry recorded for
// a transaction. Best-effort bookkeeping after the commit; the hook ids
// also live on the Transaction itself.
func (l *HandleLedger) AttachCorrelation(ctx context.Context, h HandleID, txID TransactionID, msgs ...MsgID) error {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil || rec == nil {
		return err
	}
	for i := len(rec.Entries) - 1; i >= 0; i-- {
		if rec.Entries[i].TxID == txID {
			rec.Entries[i].CorrelationIDs = append(rec.Entries[i].CorrelationIDs, msgs...)
			return l.Store.PutLedger(ctx, h, *rec)
		}
	}
	return nil
}

// RetireHandle permanently retires a handle. Any remaining balance is
// rescued to the successor handle (CauseCollect) before the record is
// deleted. Caller must hold the pair lock for both handles.
func (l *HandleLedger) RetireHandle(ctx context.Context, h, successor HandleID, now time.Time) error {
	rec, err := l.Store.GetLedger(ctx, h)
	if err != nil {
		return fmt.Errorf("retire %s: %w", h, err)
	}
	if rec == nil {
		return fmt.Errorf("retire %s: %w", h, ErrHandleNotFound)
	}

	if rec.Balance > 0 {
		succ, err := l.Store.GetLedger(ctx, successor)
		if err != nil {
			return fmt.Errorf("retire %s: %w", h, err)
		}
		if succ == nil {
			return fmt.Errorf("retire %s: successor %s: %w", h, successor, ErrHandleNotFound)
		}

		txID := NewTransactionID()
		succ.Balance += rec.Balance
		succ.Entries = append(succ.Entries, InternalTransRecord{
			TxID:       txID,
			OtherParty: h,
			OtherOwner: rec.Owner,
			Amount:     rec.Balance,
			Cause:      CauseCollect,
			At:         now,
			Data:       fmt.Sprintf("balance rescued from retired handle %s", h),
		})
		if err := l.Store.PutLedger(ctx, successor, *succ); err != nil {
			return fmt.Errorf("retire %s: %w", h, err)
		}
	}

	if err := l.Store.DeleteLedger(ctx, h); err != nil {
		return fmt.Errorf("retire %s: %w", h, err)
	}
	return nil
}
