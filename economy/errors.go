/*
errors.go - Centralized error types for the economy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is(); structured errors add context and
  unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation errors - bad transfer parameters
  2. Business failures - returned inside a Result, never fatal
  3. Degraded-path errors - notification sink unavailable
  4. Corrupted-state errors - a reference resolving to nothing in
     persistent state; propagated, not recovered

SEE ALSO:
  - coordinator.go: transfer validation
  - refund.go: refund failure modes
  - locks.go: acquisition timeout
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidParties is returned when payer and recipient are the same
	// handle.
	ErrInvalidParties = errors.New("invalid parties")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	// Callers must pass positive amounts and swap parties themselves.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when the payer cannot cover the
	// amount. Both balances are left unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderNotFound is returned when the delivery slot has no order
	// carrying the purchase. Buyers only reach the Active order; the shop
	// also reaches Locked ones.
	ErrOrderNotFound = errors.New("order not found")

	// ErrRefundWindowExpired is returned for buyer-initiated refunds after
	// the shop's collection window. Shop-initiated refunds skip this check.
	ErrRefundWindowExpired = errors.New("refund window expired")

	// ErrAlreadyRefundedOrLocked is returned when the purchased item's
	// remaining quantity is already zero, typically a race with a
	// concurrent refund or delivery.
	ErrAlreadyRefundedOrLocked = errors.New("already refunded or locked")

	// ErrNotificationSinkUnavailable marks a failed outward post. Degraded,
	// never fatal to a committed financial mutation.
	ErrNotificationSinkUnavailable = errors.New("notification sink unavailable")

	// ErrLockTimeout is returned when a keyed lock cannot be acquired
	// within the manager's bound, instead of hanging forever.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrHandleNotFound indicates a handle reference resolving to nothing
	// in persistent state. Corrupted state; callers cannot recover.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrShopNotFound indicates a shop reference resolving to nothing in
	// persistent state. Corrupted state; callers cannot recover.
	ErrShopNotFound = errors.New("shop not found")

	// ErrHandleExists is returned when creating a handle that already has a
	// ledger record.
	ErrHandleExists = errors.New("handle already exists")

	// ErrUnknownProduct is returned when a purchase names a product the
	// shop's catalog does not carry.
	ErrUnknownProduct = errors.New("unknown product")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage.
type InsufficientBalanceError struct {
	Handle    HandleID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s has %d, needs %d",
		e.Handle, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// LockTimeoutError reports which key could not be acquired.
type LockTimeoutError struct {
	Shop ShopID
	Slot SlotID
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock acquisition timed out for %s/%s", e.Shop, e.Slot)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusinessFailure reports whether the error belongs in a Result rather
// than aborting the caller.
func IsBusinessFailure(err error) bool {
	return errors.Is(err, ErrInvalidParties) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrRefundWindowExpired) ||
		errors.Is(err, ErrAlreadyRefundedOrLocked) ||
		errors.Is(err, ErrUnknownProduct)
}

// IsCorruptedState reports whether the error indicates broken persistent
// state that no caller can meaningfully handle.
func IsCorruptedState(err error) bool {
	return errors.Is(err, ErrHandleNotFound) ||
		errors.Is(err, ErrShopNotFound)
}
