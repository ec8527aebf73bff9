/*
orderbook.go - Order lifecycle and delivery-slot consolidation

PURPOSE:
  Holds Active orders (keyed by delivery slot) and Locked orders (keyed by
  order id), with a reverse index from board message id to order. Runs the
  state machine Active -> Locked -> Delivered.

CONSOLIDATION RULE:
  Near-simultaneous purchases to the same delivery point become one order.
  Under the (shop, slot) lock: if an Active order exists and the shop's
  collection window has not elapsed since its creation, the purchase is
  merged (quantity, totals, a new undo hook, bumped TimeUpdated).
  Otherwise the stale order is locked first - its undo hooks retired - and
  a new Active order opens holding only the new purchase.

TRANSITIONS:
  LockOrder and DeliverOrder both retire all remaining undo hooks,
  preventing any further buyer-initiated refund. The shop itself can
  still reverse a purchase on a Locked order. DeliverOrder is valid from
  Active or Locked. Every transition refreshes the outward board record
  and the message reverse index.

SEE ALSO:
  - refund.go: the only other mutator of open orders
  - locks.go: slot serialization
*/
package economy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OrderBook runs the order state machine for all shops.
type OrderBook struct {
	Store AtomicStore
	Locks *LockManager
	Sink  NotificationSink
	Log   *zap.Logger

	Now func() time.Time
}

func NewOrderBook(store AtomicStore, locks *LockManager, sink NotificationSink, log *zap.Logger) *OrderBook {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderBook{Store: store, Locks: locks, Sink: sink, Log: log, Now: time.Now}
}

// PlaceOrder folds a successful purchase transaction into the slot's order
// book: consolidation into the Active order while the collection window is
// open, otherwise lock-and-reopen.
func (ob *OrderBook) PlaceOrder(ctx context.Context, shopID ShopID, purchase *Transaction, slot SlotID) (*Order, error) {
	if purchase == nil || !purchase.Success {
		return nil, fmt.Errorf("place order at %s: purchase transaction not committed", shopID)
	}

	shop, err := ob.Store.GetShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("place order at %s: %w", shopID, err)
	}
	if shop == nil {
		return nil, fmt.Errorf("place order at %s: %w", shopID, ErrShopNotFound)
	}

	release, err := ob.Locks.Acquire(ctx, shopID, slot)
	if err != nil {
		return nil, fmt.Errorf("place order at %s/%s: %w", shopID, slot, err)
	}
	defer release()

	now := ob.Now()
	product := purchase.Metadata[MetaProduct]
	if product == "" {
		product = "item"
	}

	active, err := ob.Store.GetActiveOrder(ctx, shopID, slot)
	if err != nil {
		return nil, fmt.Errorf("place order at %s/%s: %w", shopID, slot, err)
	}

	if active != nil && now.Sub(active.TimeCreated) <= shop.CollectionWindow {
		return ob.mergePurchase(ctx, active, purchase, product, now)
	}

	if active != nil {
		// Window elapsed: the old order stops collecting before the new
		// purchase opens its own.
		if err := ob.lockLocked(ctx, active, now); err != nil {
			return nil, fmt.Errorf("place order at %s/%s: %w", shopID, slot, err)
		}
	}

	return ob.openOrder(ctx, shop, purchase, slot, product, now)
}

func (ob *OrderBook) mergePurchase(ctx context.Context, o *Order, purchase *Transaction, product string, now time.Time) (*Order, error) {
	o.Items[product]++
	o.PriceTotal += purchase.Amount
	o.PaidTotal += purchase.Amount
	o.TimeUpdated = now
	o.UndoHooks = append(o.UndoHooks, hooksFor(purchase)...)

	if err := ob.Store.WithAtomic(ctx, func(s Store) error {
		return s.PutActiveOrder(ctx, *o)
	}); err != nil {
		return nil, err
	}

	ob.updateBoard(ctx, o)
	return o, nil
}

func (ob *OrderBook) openOrder(ctx context.Context, shop *Shop, purchase *Transaction, slot SlotID, product string, now time.Time) (*Order, error) {
	seq, err := ob.Store.NextOrderSeq(ctx, shop.ID)
	if err != nil {
		return nil, err
	}

	o := Order{
		ID:          OrderIDFor(shop.ID, seq),
		ShopID:      shop.ID,
		Slot:        slot,
		Items:       map[string]int{product: 1},
		PriceTotal:  purchase.Amount,
		PaidTotal:   purchase.Amount,
		TimeCreated: now,
		TimeUpdated: now,
		UndoHooks:   hooksFor(purchase),
		Status:      StatusActive,
	}

	msgID, err := ob.Sink.Send(ctx, renderBoard(&o))
	if err != nil {
		ob.Log.Warn("order board post failed",
			zap.String("order", string(o.ID)), zap.Error(err))
	}
	o.BoardMsgID = msgID

	if err := ob.Store.WithAtomic(ctx, func(s Store) error {
		if err := s.PutActiveOrder(ctx, o); err != nil {
			return err
		}
		if o.BoardMsgID == "" {
			return nil
		}
		return s.PutMsgMapping(ctx, MsgOrderMapping{MsgID: o.BoardMsgID, Ref: o.Ref()})
	}); err != nil {
		return nil, err
	}
	return &o, nil
}

// LockOrder advances the slot's Active order to Locked, retiring its undo
// hooks. Further purchases to the slot open a fresh order.
func (ob *OrderBook) LockOrder(ctx context.Context, shopID ShopID, slot SlotID) (*Result, error) {
	release, err := ob.Locks.Acquire(ctx, shopID, slot)
	if err != nil {
		return nil, fmt.Errorf("lock order at %s/%s: %w", shopID, slot, err)
	}
	defer release()

	active, err := ob.Store.GetActiveOrder(ctx, shopID, slot)
	if err != nil {
		return nil, fmt.Errorf("lock order at %s/%s: %w", shopID, slot, err)
	}
	if active == nil {
		return failure(ErrOrderNotFound, "no active order for slot %s", slot), nil
	}

	if err := ob.lockLocked(ctx, active, ob.Now()); err != nil {
		return nil, fmt.Errorf("lock order at %s/%s: %w", shopID, slot, err)
	}
	return success("order %s locked", active.ID), nil
}

// lockLocked performs the Active -> Locked transition. Caller holds the
// slot lock.
func (ob *OrderBook) lockLocked(ctx context.Context, o *Order, now time.Time) error {
	ob.RetireHooks(ctx, o)
	o.Status = StatusLocked
	o.TimeUpdated = now

	if err := ob.Store.WithAtomic(ctx, func(s Store) error {
		if err := s.DeleteActiveOrder(ctx, o.ShopID, o.Slot); err != nil {
			return err
		}
		if err := s.PutLockedOrder(ctx, *o); err != nil {
			return err
		}
		if o.BoardMsgID == "" {
			return nil
		}
		return s.PutMsgMapping(ctx, MsgOrderMapping{MsgID: o.BoardMsgID, Ref: o.Ref()})
	}); err != nil {
		return err
	}

	ob.updateBoard(ctx, o)
	return nil
}

// DeliverOrder completes an order from either Active or Locked. All
// remaining undo hooks are retired, the board record removed, and the
// order archived.
func (ob *OrderBook) DeliverOrder(ctx context.Context, ref OrderRef) (*Result, error) {
	release, err := ob.Locks.Acquire(ctx, ref.ShopID, ref.Slot)
	if err != nil {
		return nil, fmt.Errorf("deliver order %s: %w", ref.OrderID, err)
	}
	defer release()

	var o *Order
	switch ref.Status {
	case StatusActive:
		o, err = ob.Store.GetActiveOrder(ctx, ref.ShopID, ref.Slot)
	case StatusLocked:
		o, err = ob.Store.GetLockedOrder(ctx, ref.ShopID, ref.OrderID)
	default:
		return failure(ErrOrderNotFound, "order %s already delivered", ref.OrderID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("deliver order %s: %w", ref.OrderID, err)
	}
	if o == nil || (ref.OrderID != "" && o.ID != ref.OrderID) {
		return failure(ErrOrderNotFound, "no %s order %s at slot %s", ref.Status, ref.OrderID, ref.Slot), nil
	}

	ob.RetireHooks(ctx, o)
	from := o.Status
	o.Status = StatusDelivered
	o.TimeUpdated = ob.Now()

	if err := ob.Store.WithAtomic(ctx, func(s Store) error {
		switch from {
		case StatusActive:
			if err := s.DeleteActiveOrder(ctx, o.ShopID, o.Slot); err != nil {
				return err
			}
		case StatusLocked:
			if err := s.DeleteLockedOrder(ctx, o.ShopID, o.ID); err != nil {
				return err
			}
		}
		if o.BoardMsgID != "" {
			if err := s.DeleteMsgMapping(ctx, o.BoardMsgID); err != nil {
				return err
			}
		}
		return s.AppendDeliveredOrder(ctx, *o)
	}); err != nil {
		return nil, fmt.Errorf("deliver order %s: %w", o.ID, err)
	}

	ob.RemoveBoard(ctx, o)
	return success("order %s delivered", o.ID), nil
}

// CancelOrder removes an emptied Active or Locked order and its outward
// record. Caller holds the slot lock. Used by the refund protocol when the
// last item of an order is refunded.
func (ob *OrderBook) CancelOrder(ctx context.Context, o *Order) error {
	ob.RetireHooks(ctx, o)

	if err := ob.Store.WithAtomic(ctx, func(s Store) error {
		var err error
		if o.Status == StatusLocked {
			err = s.DeleteLockedOrder(ctx, o.ShopID, o.ID)
		} else {
			err = s.DeleteActiveOrder(ctx, o.ShopID, o.Slot)
		}
		if err != nil {
			return err
		}
		if o.BoardMsgID == "" {
			return nil
		}
		return s.DeleteMsgMapping(ctx, o.BoardMsgID)
	}); err != nil {
		return err
	}

	ob.RemoveBoard(ctx, o)
	return nil
}

// ResolveMessage finds the order a board message points at, letting an
// external reaction event locate its target.
func (ob *OrderBook) ResolveMessage(ctx context.Context, msg MsgID) (*OrderRef, error) {
	m, err := ob.Store.GetMsgMapping(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("resolve message %s: %w", msg, err)
	}
	if m == nil {
		return nil, nil
	}
	ref := m.Ref
	return &ref, nil
}

// RetireHooks deletes the outward notifications behind the given hook ids
// and removes them from the order. With no ids it retires every remaining
// hook. The list only ever shrinks.
func (ob *OrderBook) RetireHooks(ctx context.Context, o *Order, only ...MsgID) {
	match := func(h UndoHook) bool {
		if len(only) == 0 {
			return true
		}
		for _, id := range only {
			if id != "" && h.MsgID == id {
				return true
			}
		}
		return false
	}

	var kept []UndoHook
	for _, h := range o.UndoHooks {
		if !match(h) {
			kept = append(kept, h)
			continue
		}
		if err := ob.Sink.Delete(ctx, h.MsgID); err != nil {
			ob.Log.Warn("undo hook retire failed",
				zap.String("order", string(o.ID)),
				zap.String("msg", string(h.MsgID)), zap.Error(err))
		}
	}
	o.UndoHooks = kept
}

// updateBoard refreshes the order's outward record in place. Degraded on
// failure.
func (ob *OrderBook) updateBoard(ctx context.Context, o *Order) {
	if o.BoardMsgID == "" {
		return
	}
	if err := ob.Sink.Edit(ctx, o.BoardMsgID, renderBoard(o)); err != nil {
		ob.Log.Warn("order board edit failed",
			zap.String("order", string(o.ID)), zap.Error(err))
	}
}

// RemoveBoard deletes the order's outward record. Degraded on failure.
func (ob *OrderBook) RemoveBoard(ctx context.Context, o *Order) {
	if o.BoardMsgID == "" {
		return
	}
	if err := ob.Sink.Delete(ctx, o.BoardMsgID); err != nil {
		ob.Log.Warn("order board delete failed",
			zap.String("order", string(o.ID)), zap.Error(err))
	}
}

// UpdateBoard is the exported form for collaborators mutating orders under
// their own lock (the refund protocol).
func (ob *OrderBook) UpdateBoard(ctx context.Context, o *Order) {
	ob.updateBoard(ctx, o)
}

func hooksFor(purchase *Transaction) []UndoHook {
	var hooks []UndoHook
	if purchase.PayerMsgID != "" {
		hooks = append(hooks, UndoHook{Owner: purchase.PayerOwner, MsgID: purchase.PayerMsgID})
	}
	if purchase.RecipMsgID != "" {
		hooks = append(hooks, UndoHook{Owner: purchase.RecipientOwner, MsgID: purchase.RecipMsgID})
	}
	return hooks
}

func renderBoard(o *Order) string {
	products := make([]string, 0, len(o.Items))
	for p := range o.Items {
		products = append(products, p)
	}
	sort.Strings(products)

	var b strings.Builder
	fmt.Fprintf(&b, "[order %s] slot %s (%s)\n", o.ID, o.Slot, o.Status)
	for _, p := range products {
		fmt.Fprintf(&b, "  %s x%d\n", p, o.Items[p])
	}
	fmt.Fprintf(&b, "total %d (paid %d)", o.PriceTotal, o.PaidTotal)
	return b.String()
}
