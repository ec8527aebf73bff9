/*
Package shop exposes the player-facing operations of the economy engine.

PURPOSE:
  The Service composes the ledger, the transaction coordinator, the order
  book, and the refund protocol into the operations a command dispatcher
  calls: open a shop, buy a product, lock and deliver orders, refund a
  purchase, reset a shop.

LAYERING:
  economy/ owns the invariants; this package owns orchestration and the
  catalog lookup. Nothing here mutates a ledger or an order directly.

SEE ALSO:
  - economy/coordinator.go: the transfer critical section
  - economy/orderbook.go: order lifecycle
  - sweeper.go: background locking of expired orders
*/
package shop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/economy-engine/economy"
)

// Service is the high-level API over the economy engine.
type Service struct {
	Store       economy.AtomicStore
	Ledger      *economy.HandleLedger
	Coordinator *economy.TransactionCoordinator
	Orders      *economy.OrderBook
	Refunds     *economy.RefundProtocol
	Locks       *economy.LockManager
	Log         *zap.Logger

	Now func() time.Time
}

// New wires a Service over one store, one lock registry, and one sink.
func New(store economy.AtomicStore, locks *economy.LockManager, sink economy.NotificationSink, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	coord := economy.NewTransactionCoordinator(store, locks, sink, log)
	orders := economy.NewOrderBook(store, locks, sink, log)
	refunds := economy.NewRefundProtocol(store, locks, coord, orders, sink, log)

	return &Service{
		Store:       store,
		Ledger:      economy.NewHandleLedger(store),
		Coordinator: coord,
		Orders:      orders,
		Refunds:     refunds,
		Locks:       locks,
		Log:         log,
		Now:         time.Now,
	}
}

// =============================================================================
// HANDLES
// =============================================================================

// CreateHandle registers a new zero-balance handle for the actor.
func (s *Service) CreateHandle(ctx context.Context, h economy.HandleID, owner economy.ActorID) error {
	return s.Ledger.CreateHandle(ctx, h, owner)
}

// RetireHandle retires a handle, rescuing any balance to the successor.
func (s *Service) RetireHandle(ctx context.Context, h, successor economy.HandleID) error {
	release, err := s.Locks.AcquireHandlePair(ctx, h, successor)
	if err != nil {
		return fmt.Errorf("retire handle %s: %w", h, err)
	}
	defer release()

	return s.Ledger.RetireHandle(ctx, h, successor, s.Now())
}

// Grant mints amount onto a handle from the system mint handle. The mint
// ledger is created on first use with the granted amount so the transfer
// itself conserves money.
func (s *Service) Grant(ctx context.Context, mint, to economy.HandleID, amount economy.Money) (*economy.Transaction, error) {
	rec, err := s.Store.GetLedger(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("grant to %s: %w", to, err)
	}
	if rec == nil {
		if err := s.Ledger.CreateHandle(ctx, mint, "system"); err != nil {
			return nil, fmt.Errorf("grant to %s: %w", to, err)
		}
		rec = &economy.LedgerRecord{Owner: "system"}
	}
	if rec.Balance < amount {
		if err := s.Store.PutLedger(ctx, mint, economy.LedgerRecord{
			Owner:   rec.Owner,
			Balance: amount,
			Entries: rec.Entries,
		}); err != nil {
			return nil, fmt.Errorf("grant to %s: %w", to, err)
		}
	}
	return s.Coordinator.Transfer(ctx, mint, to, amount, economy.CauseTransfer, nil)
}

// =============================================================================
// SHOPS
// =============================================================================

// CreateShop registers a shop and its till handle.
func (s *Service) CreateShop(ctx context.Context, shop economy.Shop) error {
	if shop.ID == "" || shop.TillHandle == "" {
		return fmt.Errorf("create shop: id and till handle are required")
	}
	if shop.CollectionWindow <= 0 {
		return fmt.Errorf("create shop %s: collection window must be positive", shop.ID)
	}

	existing, err := s.Store.GetShop(ctx, shop.ID)
	if err != nil {
		return fmt.Errorf("create shop %s: %w", shop.ID, err)
	}
	if existing != nil {
		return fmt.Errorf("create shop %s: already exists", shop.ID)
	}

	till, err := s.Store.GetLedger(ctx, shop.TillHandle)
	if err != nil {
		return fmt.Errorf("create shop %s: %w", shop.ID, err)
	}
	if till == nil {
		if err := s.Ledger.CreateHandle(ctx, shop.TillHandle, shop.Actor()); err != nil {
			return fmt.Errorf("create shop %s: %w", shop.ID, err)
		}
	}

	if err := s.Store.PutShop(ctx, shop); err != nil {
		return fmt.Errorf("create shop %s: %w", shop.ID, err)
	}
	return nil
}

// SetDeliverySlot pins the buyer's orders at the shop to an explicit slot
// (a table, an address). Without one, orders consolidate under the buyer's
// own handle.
func (s *Service) SetDeliverySlot(ctx context.Context, shop economy.ShopID, buyer economy.HandleID, slot economy.SlotID) error {
	return s.Store.PutDeliverySlot(ctx, shop, buyer, slot)
}

// Report builds the shop's revenue report.
func (s *Service) Report(ctx context.Context, shop economy.ShopID) (*economy.ShopReport, error) {
	return economy.BuildShopReport(ctx, s.Store, shop)
}

// ResetShop clears the shop's open orders, board records, and slot locks.
// Delivered history and the till ledger survive.
func (s *Service) ResetShop(ctx context.Context, shopID economy.ShopID) error {
	active, err := s.Store.ListActiveOrders(ctx, shopID)
	if err != nil {
		return fmt.Errorf("reset shop %s: %w", shopID, err)
	}
	locked, err := s.Store.ListLockedOrders(ctx, shopID)
	if err != nil {
		return fmt.Errorf("reset shop %s: %w", shopID, err)
	}

	for i := range active {
		o := &active[i]
		s.Orders.RetireHooks(ctx, o)
		s.Orders.RemoveBoard(ctx, o)
	}
	for i := range locked {
		o := &locked[i]
		s.Orders.RetireHooks(ctx, o)
		s.Orders.RemoveBoard(ctx, o)
	}

	if err := s.Store.WithAtomic(ctx, func(st economy.Store) error {
		for _, o := range active {
			if err := st.DeleteActiveOrder(ctx, o.ShopID, o.Slot); err != nil {
				return err
			}
			if o.BoardMsgID != "" {
				if err := st.DeleteMsgMapping(ctx, o.BoardMsgID); err != nil {
					return err
				}
			}
		}
		for _, o := range locked {
			if err := st.DeleteLockedOrder(ctx, o.ShopID, o.ID); err != nil {
				return err
			}
			if o.BoardMsgID != "" {
				if err := st.DeleteMsgMapping(ctx, o.BoardMsgID); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("reset shop %s: %w", shopID, err)
	}

	s.Locks.ResetShop(shopID)
	s.Log.Info("shop reset",
		zap.String("shop", string(shopID)),
		zap.Int("active_cleared", len(active)),
		zap.Int("locked_cleared", len(locked)))
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

// Purchase buys one unit of product from the shop: catalog lookup, transfer
// to the till, and consolidation into the slot's order.
//
// Business failures (unknown product, insufficient balance) come back as a
// Result with OK=false; the buyer's balance is untouched.
func (s *Service) Purchase(ctx context.Context, buyer economy.HandleID, shopID economy.ShopID, product string) (*economy.Result, *economy.Transaction, error) {
	shop, err := s.Store.GetShop(ctx, shopID)
	if err != nil {
		return nil, nil, fmt.Errorf("purchase at %s: %w", shopID, err)
	}
	if shop == nil {
		return nil, nil, fmt.Errorf("purchase at %s: %w", shopID, economy.ErrShopNotFound)
	}

	price, ok := shop.Catalog[product]
	if !ok {
		return &economy.Result{
			OK:     false,
			Report: fmt.Sprintf("%s does not sell %s", shop.Name, product),
			Err:    economy.ErrUnknownProduct,
		}, nil, nil
	}

	tx, err := s.Coordinator.Transfer(ctx, buyer, shop.TillHandle, price, economy.CauseShopOrder,
		map[string]string{
			economy.MetaProduct: product,
			economy.MetaShop:    string(shop.ID),
		})
	if err != nil {
		if tx != nil && !tx.Success {
			return &economy.Result{OK: false, Report: tx.Report, Err: err}, tx, nil
		}
		return nil, nil, fmt.Errorf("purchase at %s: %w", shopID, err)
	}

	slot, err := s.slotFor(ctx, shopID, buyer)
	if err != nil {
		return nil, tx, fmt.Errorf("purchase at %s: %w", shopID, err)
	}

	order, err := s.Orders.PlaceOrder(ctx, shopID, tx, slot)
	if err != nil {
		// Money already moved; surface the order failure rather than
		// inventing a rollback outside the refund protocol.
		return nil, tx, fmt.Errorf("purchase at %s: paid but not ordered: %w", shopID, err)
	}

	return &economy.Result{
		OK:     true,
		Report: fmt.Sprintf("%s bought %s for %d at %s (order %s)", buyer, product, price, shop.Name, order.ID),
	}, tx, nil
}

func (s *Service) slotFor(ctx context.Context, shop economy.ShopID, buyer economy.HandleID) (economy.SlotID, error) {
	assigned, err := s.Store.GetDeliverySlot(ctx, shop, buyer)
	if err != nil {
		return "", err
	}
	if assigned != nil {
		return *assigned, nil
	}
	return economy.SlotID(buyer), nil
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

// LockOrder advances the slot's active order to locked.
func (s *Service) LockOrder(ctx context.Context, shop economy.ShopID, slot economy.SlotID) (*economy.Result, error) {
	return s.Orders.LockOrder(ctx, shop, slot)
}

// DeliverOrder completes an order addressed by its reference.
func (s *Service) DeliverOrder(ctx context.Context, ref economy.OrderRef) (*economy.Result, error) {
	return s.Orders.DeliverOrder(ctx, ref)
}

// ResolveMessage maps an outward board message back to its order.
func (s *Service) ResolveMessage(ctx context.Context, msg economy.MsgID) (*economy.OrderRef, error) {
	return s.Orders.ResolveMessage(ctx, msg)
}

// =============================================================================
// REFUNDS
// =============================================================================

// Refund reverses a purchase by transaction id.
func (s *Service) Refund(ctx context.Context, txID economy.TransactionID, initiator economy.ActorID) (*economy.Result, error) {
	tx, err := s.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", txID, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("refund %s: transaction not found", txID)
	}
	return s.Refunds.AttemptRefund(ctx, tx, initiator)
}

// RefundByMsg reverses a purchase addressed by one of its undo-hook
// notification ids (a reaction on a ledger-entry message).
func (s *Service) RefundByMsg(ctx context.Context, msg economy.MsgID, initiator economy.ActorID) (*economy.Result, error) {
	tx, err := s.Store.GetTransactionByMsg(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("refund by msg %s: %w", msg, err)
	}
	if tx == nil {
		return &economy.Result{
			OK:     false,
			Report: "that message is not a cancellable purchase",
			Err:    economy.ErrOrderNotFound,
		}, nil
	}
	return s.Refunds.AttemptRefund(ctx, tx, initiator)
}
