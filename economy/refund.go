/*
refund.go - Exactly-once reversal of shop purchases

PURPOSE:
  A refund request reverses the purchase transfer, shrinks the owning
  order, and retires the purchase's undo hooks so the same purchase cannot
  be refunded twice.

FAILURE MODES (all side-effect free):
  - RefundWindowExpired: elapsed time exceeds the shop's collection window
    and the initiator is not the shop (shop-initiated refunds skip the
    window check; wording differs per initiator)
  - OrderNotFound: no order carries the purchase (already delivered, or
    the buyer's slot changed). Buyers can only reach the slot's Active
    order; the shop and its employees can also reach Locked orders.
  - AlreadyRefundedOrLocked: the purchased item's remaining quantity is
    zero, or this purchase's hooks are already retired - a race with a
    concurrent refund or delivery lost

SUCCESS PATH:
  Reverse through the TransactionCoordinator (cause shop_refund),
  decrement the item line (dropping it at zero), retire this purchase's
  hooks, and either cancel the emptied order outright or update totals and
  the outward record in place.

SEE ALSO:
  - coordinator.go: the reversal transfer
  - orderbook.go: board and hook bookkeeping
*/
package economy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RefundProtocol reverses purchase transactions against their orders.
type RefundProtocol struct {
	Store       AtomicStore
	Locks       *LockManager
	Coordinator *TransactionCoordinator
	Orders      *OrderBook
	Sink        NotificationSink
	Log         *zap.Logger

	Now func() time.Time
}

func NewRefundProtocol(store AtomicStore, locks *LockManager, tc *TransactionCoordinator, ob *OrderBook, sink NotificationSink, log *zap.Logger) *RefundProtocol {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RefundProtocol{
		Store: store, Locks: locks, Coordinator: tc, Orders: ob,
		Sink: sink, Log: log, Now: time.Now,
	}
}

// AttemptRefund reverses a committed shop purchase on behalf of the
// initiator (the buyer's actor, or the shop / one of its employees).
func (rp *RefundProtocol) AttemptRefund(ctx context.Context, purchase *Transaction, initiator ActorID) (*Result, error) {
	if purchase == nil || !purchase.Success {
		return nil, fmt.Errorf("attempt refund: transaction not committed")
	}
	if purchase.Cause != CauseShopOrder {
		return nil, fmt.Errorf("attempt refund %s: cause %s is not a shop order", purchase.ID, purchase.Cause)
	}

	shopID := ShopID(purchase.Metadata[MetaShop])
	if shopID == "" {
		shopID = ShopID(purchase.RecipientOwner)
	}
	shop, err := rp.Store.GetShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
	}
	if shop == nil {
		return nil, fmt.Errorf("attempt refund %s: shop %s: %w", purchase.ID, shopID, ErrShopNotFound)
	}

	slot, err := rp.resolveSlot(ctx, shop.ID, purchase.PayerID)
	if err != nil {
		return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
	}

	release, err := rp.Locks.Acquire(ctx, shop.ID, slot)
	if err != nil {
		return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
	}
	defer release()

	shopInitiated := initiator == shop.Actor() || shop.IsEmployee(initiator)
	if !shopInitiated && rp.Now().Sub(purchase.At) > shop.CollectionWindow {
		return failure(ErrRefundWindowExpired,
			"the collection window of %s has passed; ask the shop to refund", shop.Name), nil
	}

	product := purchase.Metadata[MetaProduct]
	if product == "" {
		product = "item"
	}

	order, err := rp.Store.GetActiveOrder(ctx, shop.ID, slot)
	if err != nil {
		return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
	}
	if shopInitiated && (order == nil || order.Items[product] == 0) {
		// The shop can reverse a purchase even after the order locked for
		// preparation; buyers cannot.
		locked, err := rp.lockedOrderFor(ctx, shop.ID, slot, product)
		if err != nil {
			return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
		}
		if locked != nil {
			order = locked
		}
	}
	if order == nil {
		return failure(ErrOrderNotFound,
			"no open order at slot %s; the order was already resolved", slot), nil
	}

	if order.Items[product] == 0 {
		return failure(ErrAlreadyRefundedOrLocked,
			"no %s left to refund on order %s", product, order.ID), nil
	}
	if order.Status == StatusActive && !hooksPresent(order, purchase) {
		// Quantity survives but this purchase's cancel tokens are gone:
		// a concurrent refund of the same purchase won. Locking retires
		// every hook, so Locked orders are guarded by the quantity check
		// alone.
		return failure(ErrAlreadyRefundedOrLocked,
			"purchase already refunded on order %s", order.ID), nil
	}

	rev, err := rp.Coordinator.Transfer(ctx, purchase.RecipientID, purchase.PayerID,
		purchase.Amount, CauseShopRefund, map[string]string{
			MetaProduct: product,
			MetaShop:    string(shop.ID),
		})
	if err != nil {
		if rev != nil && !rev.Success {
			return failure(err, "refund failed: %s", rev.Report), nil
		}
		return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
	}

	order.Items[product]--
	if order.Items[product] == 0 {
		delete(order.Items, product)
	}
	order.PriceTotal -= purchase.Amount
	order.PaidTotal -= purchase.Amount
	order.TimeUpdated = rp.Now()
	rp.Orders.RetireHooks(ctx, order, purchase.PayerMsgID, purchase.RecipMsgID)

	if len(order.Items) == 0 {
		if err := rp.Orders.CancelOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
		}
	} else {
		if err := rp.Store.WithAtomic(ctx, func(s Store) error {
			if order.Status == StatusLocked {
				return s.PutLockedOrder(ctx, *order)
			}
			return s.PutActiveOrder(ctx, *order)
		}); err != nil {
			return nil, fmt.Errorf("attempt refund %s: %w", purchase.ID, err)
		}
		rp.Orders.UpdateBoard(ctx, order)
	}

	rp.alert(ctx, shop, purchase, product, shopInitiated)
	return success("refunded %d for %s to %s", purchase.Amount, product, purchase.PayerID), nil
}

// resolveSlot returns the buyer's explicit delivery-slot assignment, or
// falls back to their current handle when none exists.
func (rp *RefundProtocol) resolveSlot(ctx context.Context, shop ShopID, buyer HandleID) (SlotID, error) {
	assigned, err := rp.Store.GetDeliverySlot(ctx, shop, buyer)
	if err != nil {
		return "", err
	}
	if assigned != nil {
		return *assigned, nil
	}
	return SlotID(buyer), nil
}

// lockedOrderFor finds the newest Locked order at the slot still carrying
// the product. Only shop-initiated refunds reach Locked orders.
func (rp *RefundProtocol) lockedOrderFor(ctx context.Context, shop ShopID, slot SlotID, product string) (*Order, error) {
	orders, err := rp.Store.ListLockedOrders(ctx, shop)
	if err != nil {
		return nil, err
	}

	var match *Order
	for i := range orders {
		o := &orders[i]
		if o.Slot != slot || o.Items[product] == 0 {
			continue
		}
		if match == nil || o.TimeUpdated.After(match.TimeUpdated) {
			match = o
		}
	}
	return match, nil
}

// hooksPresent reports whether any of the purchase's correlation ids is
// still carried by the order. A purchase without hooks (sink was down at
// commit time) falls back to the quantity check alone.
func hooksPresent(o *Order, purchase *Transaction) bool {
	if purchase.PayerMsgID == "" && purchase.RecipMsgID == "" {
		return true
	}
	for _, h := range o.UndoHooks {
		if h.MsgID == purchase.PayerMsgID || h.MsgID == purchase.RecipMsgID {
			return true
		}
	}
	return false
}

func (rp *RefundProtocol) alert(ctx context.Context, shop *Shop, purchase *Transaction, product string, shopInitiated bool) {
	var text string
	if shopInitiated {
		text = fmt.Sprintf("[refund] %s refunded %d to %s for %s",
			shop.Name, purchase.Amount, purchase.PayerID, product)
	} else {
		text = fmt.Sprintf("[refund] %s cancelled %s at %s, %d returned",
			purchase.PayerID, product, shop.Name, purchase.Amount)
	}
	if _, err := rp.Sink.Send(ctx, text); err != nil {
		rp.Log.Warn("refund alert failed",
			zap.String("tx", string(purchase.ID)), zap.Error(err))
	}
}
