/*
store.go - Persistence interfaces for the economy engine

PURPOSE:
  Defines the interface between the engine and the record store. The store
  is a simple record set with read/write-whole-record semantics: a handle's
  ledger, an order, a shop, and a message mapping are each one record.
  Implementations exist for memory, SQLite, and Redis.

ATOMICITY:
  The store has no obligation to serialize concurrent mutators - that is
  the LockManager's job. What it does provide is AtomicStore.WithAtomic:
  a multi-record commit so a debit/credit pair (or an order plus its
  message mapping) is never half-written by a crash. SQLite maps this to a
  real transaction; the memory store to snapshot rollback; Redis executes
  without rollback, which is acceptable for a game economy.

RECORD SETS:
  ledgers:          HandleID -> LedgerRecord
  transactions:     TransactionID -> Transaction (plus msg-id index)
  active orders:    (ShopID, SlotID) -> Order
  locked orders:    (ShopID, OrderID) -> Order
  delivered orders: append-only archive per shop
  msg mappings:     MsgID -> OrderRef
  shops:            ShopID -> Shop
  slots:            (ShopID, HandleID) -> SlotID

SEE ALSO:
  - store/memory.go: in-memory implementation
  - ../store/sqlite: SQLite implementation
  - ../store/redis: Redis implementation
*/
package economy

import "context"

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore persists handle ledgers as whole records.
type LedgerStore interface {
	// GetLedger returns the handle's record, or nil when absent.
	GetLedger(ctx context.Context, h HandleID) (*LedgerRecord, error)

	// PutLedger writes the handle's whole record.
	PutLedger(ctx context.Context, h HandleID, rec LedgerRecord) error

	// DeleteLedger removes the handle's record. Used only at handle
	// retirement, after the balance has been rescued.
	DeleteLedger(ctx context.Context, h HandleID) error
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// TransactionStore persists committed transactions so undo-hook reactions
// can resolve a message back to the transfer it belongs to.
type TransactionStore interface {
	PutTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// GetTransactionByMsg resolves an undo-hook message id to its
	// transaction, or nil when the hook has been retired.
	GetTransactionByMsg(ctx context.Context, msg MsgID) (*Transaction, error)
}

// =============================================================================
// ORDER STORE
// =============================================================================

// OrderStore persists orders: the active set keyed by delivery slot, the
// locked set keyed by order id, a delivered archive, and the reverse index
// from board message to order.
type OrderStore interface {
	GetActiveOrder(ctx context.Context, shop ShopID, slot SlotID) (*Order, error)
	PutActiveOrder(ctx context.Context, o Order) error
	DeleteActiveOrder(ctx context.Context, shop ShopID, slot SlotID) error
	ListActiveOrders(ctx context.Context, shop ShopID) ([]Order, error)

	GetLockedOrder(ctx context.Context, shop ShopID, id OrderID) (*Order, error)
	PutLockedOrder(ctx context.Context, o Order) error
	DeleteLockedOrder(ctx context.Context, shop ShopID, id OrderID) error
	ListLockedOrders(ctx context.Context, shop ShopID) ([]Order, error)

	// AppendDeliveredOrder archives a delivered order for reporting.
	AppendDeliveredOrder(ctx context.Context, o Order) error
	ListDeliveredOrders(ctx context.Context, shop ShopID) ([]Order, error)

	GetMsgMapping(ctx context.Context, msg MsgID) (*MsgOrderMapping, error)
	PutMsgMapping(ctx context.Context, m MsgOrderMapping) error
	DeleteMsgMapping(ctx context.Context, msg MsgID) error
}

// =============================================================================
// SHOP STORE
// =============================================================================

// ShopStore persists shop configuration and delivery-slot assignments.
type ShopStore interface {
	GetShop(ctx context.Context, id ShopID) (*Shop, error)
	PutShop(ctx context.Context, s Shop) error
	DeleteShop(ctx context.Context, id ShopID) error
	ListShops(ctx context.Context) ([]Shop, error)

	// NextOrderSeq advances and returns the shop's order counter.
	NextOrderSeq(ctx context.Context, id ShopID) (int64, error)

	// GetDeliverySlot returns the buyer's explicit slot assignment at this
	// shop, or nil when none exists (callers fall back to the handle).
	GetDeliverySlot(ctx context.Context, shop ShopID, buyer HandleID) (*SlotID, error)
	PutDeliverySlot(ctx context.Context, shop ShopID, buyer HandleID, slot SlotID) error
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is the full record set the engine operates on.
type Store interface {
	LedgerStore
	TransactionStore
	OrderStore
	ShopStore
}

// AtomicStore extends Store with multi-record commit.
type AtomicStore interface {
	Store

	// WithAtomic executes fn against a view of the store whose writes
	// commit together, or not at all where the backend supports rollback.
	WithAtomic(ctx context.Context, fn func(Store) error) error
}
