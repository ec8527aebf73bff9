/*
locks.go - Keyed lock manager

PURPOSE:
  Serializes all mutations that touch one shop's one delivery slot, and
  the balance critical section for a pair of handles. Locks are created
  lazily on first access and retained until a shop reset clears that
  shop's keys.

ACQUISITION TIMEOUT:
  Every Acquire is bounded. A stuck lock surfaces as ErrLockTimeout
  instead of blocking all future operations on that key forever.

DEADLOCK AVOIDANCE:
  AcquireHandlePair always locks the lexicographically smaller handle
  first, so two opposing transfers between the same handles cannot
  deadlock.

SEE ALSO:
  - orderbook.go, refund.go: slot lock users
  - coordinator.go: handle-pair lock user
*/
package economy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultLockTimeout bounds lock acquisition when no explicit timeout is
// configured.
const DefaultLockTimeout = 10 * time.Second

type slotKey struct {
	Shop ShopID
	Slot SlotID
}

// LockManager hands out lazily-created mutexes keyed by (shop, slot) and by
// handle. Construct one and inject it everywhere serialization is needed;
// there is no package-level lock state.
type LockManager struct {
	mu          sync.Mutex
	slotLocks   map[slotKey]chan struct{}
	handleLocks map[HandleID]chan struct{}
	timeout     time.Duration
}

// NewLockManager creates a manager with the given acquisition timeout.
// Zero means DefaultLockTimeout.
func NewLockManager(timeout time.Duration) *LockManager {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LockManager{
		slotLocks:   make(map[slotKey]chan struct{}),
		handleLocks: make(map[HandleID]chan struct{}),
		timeout:     timeout,
	}
}

func (lm *LockManager) slotLock(k slotKey) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ch, ok := lm.slotLocks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		lm.slotLocks[k] = ch
	}
	return ch
}

func (lm *LockManager) handleLock(h HandleID) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ch, ok := lm.handleLocks[h]
	if !ok {
		ch = make(chan struct{}, 1)
		lm.handleLocks[h] = ch
	}
	return ch
}

func (lm *LockManager) acquire(ctx context.Context, ch chan struct{}) error {
	timer := time.NewTimer(lm.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

// Acquire takes the (shop, slot) lock. The returned release function must be
// called exactly once, typically via defer.
func (lm *LockManager) Acquire(ctx context.Context, shop ShopID, slot SlotID) (func(), error) {
	ch := lm.slotLock(slotKey{Shop: shop, Slot: slot})
	if err := lm.acquire(ctx, ch); err != nil {
		if err == ErrLockTimeout {
			return nil, &LockTimeoutError{Shop: shop, Slot: slot}
		}
		return nil, err
	}
	return func() { <-ch }, nil
}

// AcquireHandlePair takes both handles' locks in a stable order.
func (lm *LockManager) AcquireHandlePair(ctx context.Context, a, b HandleID) (func(), error) {
	if a == b {
		ch := lm.handleLock(a)
		if err := lm.acquire(ctx, ch); err != nil {
			return nil, err
		}
		return func() { <-ch }, nil
	}

	ids := []HandleID{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	first := lm.handleLock(ids[0])
	if err := lm.acquire(ctx, first); err != nil {
		return nil, err
	}
	second := lm.handleLock(ids[1])
	if err := lm.acquire(ctx, second); err != nil {
		<-first
		return nil, err
	}
	return func() {
		<-second
		<-first
	}, nil
}

// ResetShop discards every slot lock belonging to the shop. Only safe as
// part of a full shop reset, when no slot operation can be in flight.
func (lm *LockManager) ResetShop(shop ShopID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for k := range lm.slotLocks {
		if k.Shop == shop {
			delete(lm.slotLocks, k)
		}
	}
}

// SlotLockCount reports how many slot locks currently exist. Observability
// for the unbounded-growth concern.
func (lm *LockManager) SlotLockCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.slotLocks)
}
