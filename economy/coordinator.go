/*
coordinator.go - Two-party transfer critical section

PURPOSE:
  The TransactionCoordinator is the only code allowed to pair a debit with
  a credit. It validates the transfer, holds the ordered handle-pair lock
  across read-validate-write so no interleaved transfer on either handle
  can observe a stale balance, and commits both ledger mutations in one
  atomic store operation.

CONTRACT:
  - payer == recipient              -> InvalidParties
  - amount <= 0                     -> InvalidAmount (no auto-flip of
    negative amounts; callers swap parties explicitly)
  - amount > payer balance          -> InsufficientBalance, both balances
    unchanged
  - otherwise: debit + credit + one entry per side + a persisted
    Transaction, committed together

NOTIFICATIONS:
  After the commit, one ledger-entry notification is posted per affected
  party. These are the undo hooks. Emission is best-effort: a sink failure
  is logged as degraded and never rolls back the financial mutation.

SEE ALSO:
  - ledger.go: ApplyDelta
  - refund.go: reversal entry point (cause shop_refund)
*/
package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TransactionCoordinator validates and executes transfers between handles.
type TransactionCoordinator struct {
	Store AtomicStore
	Locks *LockManager
	Sink  NotificationSink
	Log   *zap.Logger

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewTransactionCoordinator(store AtomicStore, locks *LockManager, sink NotificationSink, log *zap.Logger) *TransactionCoordinator {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionCoordinator{
		Store: store,
		Locks: locks,
		Sink:  sink,
		Log:   log,
		Now:   time.Now,
	}
}

// Transfer moves amount from payer to recipient.
//
// Business failures return a Transaction with Success=false, a user-facing
// Report, and the matching taxonomy error. Infrastructure and
// corrupted-state failures return a nil Transaction.
func (tc *TransactionCoordinator) Transfer(ctx context.Context, payer, recipient HandleID, amount Money, cause Cause, meta map[string]string) (*Transaction, error) {
	now := tc.Now()

	if payer == recipient {
		return &Transaction{
			PayerID: payer, RecipientID: recipient, Amount: amount, Cause: cause, At: now,
			Report: fmt.Sprintf("%s cannot transfer to itself", payer),
		}, ErrInvalidParties
	}
	if amount <= 0 {
		return &Transaction{
			PayerID: payer, RecipientID: recipient, Amount: amount, Cause: cause, At: now,
			Report: fmt.Sprintf("transfer amount must be positive, got %d", amount),
		}, ErrInvalidAmount
	}

	release, err := tc.Locks.AcquireHandlePair(ctx, payer, recipient)
	if err != nil {
		return nil, fmt.Errorf("transfer %s->%s: %w", payer, recipient, err)
	}
	defer release()

	payerRec, err := tc.Store.GetLedger(ctx, payer)
	if err != nil {
		return nil, fmt.Errorf("transfer %s->%s: %w", payer, recipient, err)
	}
	if payerRec == nil {
		return nil, fmt.Errorf("transfer %s->%s: payer: %w", payer, recipient, ErrHandleNotFound)
	}
	recipRec, err := tc.Store.GetLedger(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("transfer %s->%s: %w", payer, recipient, err)
	}
	if recipRec == nil {
		return nil, fmt.Errorf("transfer %s->%s: recipient: %w", payer, recipient, ErrHandleNotFound)
	}

	tx := Transaction{
		ID:             NewTransactionID(),
		PayerID:        payer,
		RecipientID:    recipient,
		PayerOwner:     payerRec.Owner,
		RecipientOwner: recipRec.Owner,
		Amount:         amount,
		Cause:          cause,
		At:             now,
		Metadata:       meta,
	}

	if payerRec.Balance < amount {
		tx.Report = fmt.Sprintf("%s has %d, cannot cover %d", payer, payerRec.Balance, amount)
		return &tx, &InsufficientBalanceError{Handle: payer, Available: payerRec.Balance, Requested: amount}
	}

	tx.Success = true
	tx.Report = fmt.Sprintf("%s paid %d to %s (%s)", payer, amount, recipient, cause)

	data := tx.Report
	if product := meta[MetaProduct]; product != "" {
		data = fmt.Sprintf("%s paid %d to %s for %s", payer, amount, recipient, product)
	}

	err = tc.Store.WithAtomic(ctx, func(s Store) error {
		ledger := NewHandleLedger(s)
		if _, err := ledger.ApplyDelta(ctx, payer, -amount, InternalTransRecord{
			TxID: tx.ID, OtherParty: recipient, OtherOwner: recipRec.Owner,
			Amount: -amount, Cause: cause, At: now, Data: data,
		}); err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, recipient, amount, InternalTransRecord{
			TxID: tx.ID, OtherParty: payer, OtherOwner: payerRec.Owner,
			Amount: amount, Cause: cause, At: now, Data: data,
		}); err != nil {
			return err
		}
		return s.PutTransaction(ctx, tx)
	})
	if err != nil {
		// A balance change between our read and the atomic write is
		// impossible while the pair lock is held; anything here is an
		// infrastructure failure.
		return nil, fmt.Errorf("transfer %s->%s: %w", payer, recipient, err)
	}

	tc.notifyParties(ctx, &tx, data)
	return &tx, nil
}

// notifyParties posts one ledger-entry notification per party and records
// the resulting undo hooks on the transaction and its ledger entries.
// Degraded on failure, never fatal.
func (tc *TransactionCoordinator) notifyParties(ctx context.Context, tx *Transaction, text string) {
	payerMsg, err := tc.Sink.Send(ctx, fmt.Sprintf("[ledger] %s: -%d (%s)", tx.PayerID, tx.Amount, text))
	if err != nil {
		tc.Log.Warn("notification sink degraded",
			zap.String("tx", string(tx.ID)),
			zap.String("party", string(tx.PayerID)),
			zap.Error(errors.Join(ErrNotificationSinkUnavailable, err)))
	} else {
		tx.PayerMsgID = payerMsg
	}

	recipMsg, err := tc.Sink.Send(ctx, fmt.Sprintf("[ledger] %s: +%d (%s)", tx.RecipientID, tx.Amount, text))
	if err != nil {
		tc.Log.Warn("notification sink degraded",
			zap.String("tx", string(tx.ID)),
			zap.String("party", string(tx.RecipientID)),
			zap.Error(errors.Join(ErrNotificationSinkUnavailable, err)))
	} else {
		tx.RecipMsgID = recipMsg
	}

	if tx.PayerMsgID == "" && tx.RecipMsgID == "" {
		return
	}

	// Persist the hook ids so reactions can resolve back to the transfer.
	ledger := NewHandleLedger(tc.Store)
	if err := tc.Store.PutTransaction(ctx, *tx); err != nil {
		tc.Log.Warn("failed to record undo hooks", zap.String("tx", string(tx.ID)), zap.Error(err))
	}
	if tx.PayerMsgID != "" {
		if err := ledger.AttachCorrelation(ctx, tx.PayerID, tx.ID, tx.PayerMsgID); err != nil {
			tc.Log.Warn("failed to attach correlation", zap.String("tx", string(tx.ID)), zap.Error(err))
		}
	}
	if tx.RecipMsgID != "" {
		if err := ledger.AttachCorrelation(ctx, tx.RecipientID, tx.ID, tx.RecipMsgID); err != nil {
			tc.Log.Warn("failed to attach correlation", zap.String("tx", string(tx.ID)), zap.Error(err))
		}
	}
}
