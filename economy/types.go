/*
Package economy provides the ledger and order fulfillment engine.

PURPOSE:
  This package contains the core types and algorithms for the in-game
  economy: handle balances, two-party transfers, shop orders with
  delivery-slot consolidation, and the refund protocol. It is the only
  part of the system with hard invariants (money conservation,
  exactly-once refund, monotonic order lifecycle).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer currency amount (no fractions, no floats)
  - Transaction: the outcome of a two-party transfer
  - InternalTransRecord: one ledger-side entry per handle per transaction
  - Order: a shop order consolidated per delivery slot
  - UndoHook: a pointer to an outward notification that, while present,
    lets its owner cancel the underlying purchase

DESIGN PRINCIPLES:
  1. Integer money: balances and prices are int64, never negative
  2. Whole-record persistence: the store reads and writes aggregates
     (a handle's ledger, an order) as single records
  3. Type safety: strong typing for handle/shop/slot/order identifiers
  4. Tagged statuses and causes instead of free-form strings

SEE ALSO:
  - ledger.go: balance mutation and handle lifecycle
  - coordinator.go: the transfer critical section
  - orderbook.go: order lifecycle and consolidation
  - refund.go: transaction reversal
*/
package economy

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// HandleID identifies an in-game persona. A handle owns a balance and is
// distinct from the player account behind it.
type HandleID string

// ActorID identifies the owner (player or shop) behind one or more handles.
type ActorID string

// ShopID identifies a shop.
type ShopID string

// SlotID identifies a delivery slot: the grouping key (table, address,
// handle) that orders are consolidated by.
type SlotID string

// OrderID identifies an order. Formatted "<shop>-<seq>" from the shop's
// monotonically increasing counter.
type OrderID string

// MsgID identifies an outward notification record posted through the
// NotificationSink.
type MsgID string

// TransactionID identifies a committed transfer.
type TransactionID string

// NewTransactionID returns a sortable unique transaction id.
func NewTransactionID() TransactionID {
	return TransactionID("tx-" + ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// OrderIDFor formats an order id from a shop and its counter value.
func OrderIDFor(shop ShopID, seq int64) OrderID {
	return OrderID(fmt.Sprintf("%s-%d", shop, seq))
}

// =============================================================================
// MONEY - Integer currency
// =============================================================================

// Money is an integer amount of in-game currency. Balances never go negative.
type Money int64

// =============================================================================
// TRANSACTION - Two-party transfer outcome
// =============================================================================

// Cause tags why money moved.
type Cause string

const (
	CauseTransfer   Cause = "transfer"    // Direct handle-to-handle transfer
	CauseCollect    Cause = "collect"     // Balance rescue on handle retirement
	CauseBurn       Cause = "burn"        // Money removed from circulation
	CauseChatReact  Cause = "chat_react"  // Reaction-triggered tip
	CauseShopOrder  Cause = "shop_order"  // Purchase at a shop
	CauseShopRefund Cause = "shop_refund" // Reversal of a shop purchase
)

// Transaction records the outcome of a transfer between two handles.
//
// Amount is always positive once committed: callers pass positive amounts
// and swap parties themselves (there is no auto-flip of negative amounts).
//
// PayerMsgID and RecipMsgID are undo hooks: ids of the outward ledger-entry
// notifications that, while present, let the affected party request
// cancellation of this transaction.
type Transaction struct {
	ID             TransactionID
	PayerID        HandleID
	RecipientID    HandleID
	PayerOwner     ActorID
	RecipientOwner ActorID
	Amount         Money
	Cause          Cause
	At             time.Time
	Success        bool
	Report         string
	PayerMsgID     MsgID
	RecipMsgID     MsgID
	Metadata       map[string]string
}

// Metadata keys attached to shop-order transactions.
const (
	MetaProduct = "product"
	MetaShop    = "shop"
)

// InternalTransRecord is one ledger-side append-only entry for a single
// handle. It is the accounting trail, independent of the transient outward
// notifications. Amount is signed from this handle's perspective.
type InternalTransRecord struct {
	TxID           TransactionID
	OtherParty     HandleID
	OtherOwner     ActorID
	Amount         Money
	Cause          Cause
	At             time.Time
	Data           string
	CorrelationIDs []MsgID
}

// LedgerRecord is a handle's whole persisted state: owner, balance, and the
// append-only entry trail. Owned exclusively by the ledger.
type LedgerRecord struct {
	Owner   ActorID
	Balance Money
	Entries []InternalTransRecord
}

// =============================================================================
// SHOP
// =============================================================================

// Shop holds a shop's configuration. TillHandle is the handle credited on
// purchases and debited on refunds.
type Shop struct {
	ID               ShopID
	Name             string
	TillHandle       HandleID
	CollectionWindow time.Duration
	Employees        []ActorID
	Catalog          map[string]Money
	NextOrderSeq     int64
}

// Actor returns the shop's actor identity (a shop owns its till handle).
func (s Shop) Actor() ActorID { return ActorID(s.ID) }

// IsEmployee reports whether the actor works at this shop.
func (s Shop) IsEmployee(a ActorID) bool {
	for _, e := range s.Employees {
		if e == a {
			return true
		}
	}
	return false
}

// =============================================================================
// ORDER - Consolidated purchases per delivery slot
// =============================================================================

// OrderStatus is the monotonic order lifecycle.
// Active -> Locked -> Delivered, never backward.
type OrderStatus string

const (
	StatusActive    OrderStatus = "active"
	StatusLocked    OrderStatus = "locked"
	StatusDelivered OrderStatus = "delivered"
)

// UndoHook points at an outward notification that, while present, allows
// its owner to cancel the purchase it belongs to. An order's hook list only
// ever shrinks.
type UndoHook struct {
	Owner ActorID
	MsgID MsgID
}

// Order is the aggregate for purchases consolidated to one delivery slot.
//
// INVARIANTS:
//   - At most one Active order per (shop, slot)
//   - PaidTotal <= PriceTotal unless fully paid
//   - Status advances monotonically
type Order struct {
	ID          OrderID
	ShopID      ShopID
	Slot        SlotID
	Items       map[string]int
	PriceTotal  Money
	PaidTotal   Money
	TimeCreated time.Time
	TimeUpdated time.Time
	UndoHooks   []UndoHook
	Status      OrderStatus
	BoardMsgID  MsgID
}

// Ref returns the order's dispatch reference.
func (o Order) Ref() OrderRef {
	return OrderRef{ShopID: o.ShopID, Slot: o.Slot, OrderID: o.ID, Status: o.Status}
}

// OrderRef addresses an order from outside the engine. Active orders are
// keyed by delivery slot, locked orders by order id; Status says which key
// is authoritative.
type OrderRef struct {
	ShopID  ShopID
	Slot    SlotID
	OrderID OrderID
	Status  OrderStatus
}

// MsgOrderMapping is the reverse index from an outward order-board message
// to the order it represents, letting an external reaction event find its
// target.
type MsgOrderMapping struct {
	MsgID MsgID
	Ref   OrderRef
}

// =============================================================================
// RESULT - User-facing operation outcome
// =============================================================================

// Result is the outcome shape handed back to the command/reaction
// dispatcher. Business failures (insufficient balance, expired window,
// already refunded) set OK=false with a taxonomy error in Err and a
// user-facing Report; they are distinct from infrastructure errors, which
// are returned separately.
type Result struct {
	OK     bool
	Report string
	Err    error
}

func failure(err error, format string, args ...any) *Result {
	return &Result{OK: false, Report: fmt.Sprintf(format, args...), Err: err}
}

func success(format string, args ...any) *Result {
	return &Result{OK: true, Report: fmt.Sprintf(format, args...)}
}
