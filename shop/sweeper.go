/*
sweeper.go - Automated locking of expired active orders

PURPOSE:
  Periodically scans every shop's active orders and locks the ones whose
  collection window elapsed without another purchase arriving. Without the
  sweeper, a stale order only locks lazily when the next purchase or an
  explicit lock command hits its slot.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lock transitions go through the order book, under the slot lock,
    so the sweeper can never race a concurrent purchase or refund
  - A slot whose order was merged or resolved in the meantime is skipped
    silently (the order book re-checks under the lock)

USAGE:
  sweeper := NewOrderSweeper(svc, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - economy/orderbook.go: the Active -> Locked transition
*/
package shop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OrderSweeper locks active orders whose collection window has elapsed.
type OrderSweeper struct {
	Service       *Service
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	Now func() time.Time
}

// NewOrderSweeper creates a sweeper over the service.
func NewOrderSweeper(svc *Service, log *zap.Logger) *OrderSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderSweeper{
		Service:       svc,
		Log:           log,
		CheckInterval: 30 * time.Second,
		Enabled:       true,
		stop:          make(chan struct{}),
		Now:           time.Now,
	}
}

// Start begins the sweeper.
func (sw *OrderSweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.Enabled {
		sw.Log.Info("order sweeper disabled, not starting")
		return
	}
	if sw.ticker != nil {
		return
	}

	sw.stop = make(chan struct{})
	sw.ticker = time.NewTicker(sw.CheckInterval)
	sw.wg.Add(1)
	go sw.run(sw.ticker.C)

	sw.Log.Info("order sweeper started", zap.Duration("interval", sw.CheckInterval))
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
// Safe to call more than once, and without a prior Start.
func (sw *OrderSweeper) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker == nil {
		return
	}
	sw.ticker.Stop()
	sw.ticker = nil
	close(sw.stop)
	sw.wg.Wait()
	sw.Log.Info("order sweeper stopped")
}

func (sw *OrderSweeper) run(tick <-chan time.Time) {
	defer sw.wg.Done()

	sw.Sweep(context.Background())

	for {
		select {
		case <-tick:
			sw.Sweep(context.Background())
		case <-sw.stop:
			return
		}
	}
}

// Sweep runs one pass over every shop. Exported for tests and admin use.
func (sw *OrderSweeper) Sweep(ctx context.Context) {
	shops, err := sw.Service.Store.ListShops(ctx)
	if err != nil {
		sw.Log.Warn("sweep: failed to list shops", zap.Error(err))
		return
	}

	now := sw.Now()
	locked := 0
	for _, shop := range shops {
		active, err := sw.Service.Store.ListActiveOrders(ctx, shop.ID)
		if err != nil {
			sw.Log.Warn("sweep: failed to list active orders",
				zap.String("shop", string(shop.ID)), zap.Error(err))
			continue
		}

		for _, o := range active {
			if now.Sub(o.TimeCreated) <= shop.CollectionWindow {
				continue
			}

			// The order book re-reads under the slot lock; a merge or
			// delivery since our list is handled there.
			res, err := sw.Service.LockOrder(ctx, shop.ID, o.Slot)
			if err != nil {
				sw.Log.Warn("sweep: lock failed",
					zap.String("shop", string(shop.ID)),
					zap.String("slot", string(o.Slot)), zap.Error(err))
				continue
			}
			if res.OK {
				locked++
			}
		}
	}

	if locked > 0 {
		sw.Log.Info("sweep completed", zap.Int("orders_locked", locked))
	}
}
