package economy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// CONSOLIDATION TESTS
// =============================================================================

func TestPlaceOrder_WithinWindow_Consolidates(t *testing.T) {
	// GIVEN: a 2-minute collection window and a beer bought at table T1
	// WHEN: water is bought at T1 one minute later
	// THEN: one Active order holds both items with the summed total

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	f.advance(time.Minute)
	f.buy(t, "buyer", shop, "water", "T1")

	active, err := f.store.GetActiveOrder(context.Background(), shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)

	assert.Equal(t, map[string]int{"beer": 1, "water": 1}, active.Items)
	assert.Equal(t, economy.Money(8), active.PriceTotal)
	assert.Equal(t, economy.Money(8), active.PaidTotal)
	assert.Equal(t, economy.StatusActive, active.Status)

	// Still exactly one open order for the shop.
	orders, err := f.store.ListActiveOrders(context.Background(), shop.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPlaceOrder_AfterWindow_LocksPriorAndOpensFresh(t *testing.T) {
	// GIVEN: an Active order at T1 and the window elapsed
	// WHEN: another purchase arrives at T1
	// THEN: the prior order is Locked and the new Active order holds only
	//       the new item

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	f.advance(5 * time.Minute)
	f.buy(t, "buyer", shop, "water", "T1")

	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, map[string]int{"water": 1}, active.Items)
	assert.Equal(t, economy.Money(3), active.PriceTotal)

	locked, err := f.store.ListLockedOrders(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, map[string]int{"beer": 1}, locked[0].Items)
	assert.Equal(t, economy.StatusLocked, locked[0].Status)
	assert.Empty(t, locked[0].UndoHooks, "locking retires all undo hooks")
}

func TestPlaceOrder_MergeAppendsUndoHooks(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	f.buy(t, "buyer", shop, "water", "T1")

	active, err := f.store.GetActiveOrder(context.Background(), shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)
	// Two purchases, two notifications each.
	assert.Len(t, active.UndoHooks, 4)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestLockOrder_NoActiveOrder_Fails(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)

	res, err := f.orders.LockOrder(context.Background(), shop.ID, "T9")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrOrderNotFound)
}

func TestDeliverOrder_FromActive(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)

	res, err := f.orders.DeliverOrder(ctx, active.Ref())
	require.NoError(t, err)
	assert.True(t, res.OK)

	gone, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	delivered, err := f.store.ListDeliveredOrders(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, economy.StatusDelivered, delivered[0].Status)
}

func TestDeliverOrder_FromLocked(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	ctx := context.Background()
	res, err := f.orders.LockOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.True(t, res.OK)

	locked, err := f.store.ListLockedOrders(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, locked, 1)

	res, err = f.orders.DeliverOrder(ctx, locked[0].Ref())
	require.NoError(t, err)
	assert.True(t, res.OK)

	remaining, err := f.store.ListLockedOrders(ctx, shop.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeliverOrder_AlreadyDelivered_Fails(t *testing.T) {
	// Delivered is terminal: a second delivery attempt via the stale
	// reference is a clean failure, not a mutation.
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	ref := active.Ref()

	res, err := f.orders.DeliverOrder(ctx, ref)
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.orders.DeliverOrder(ctx, ref)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrOrderNotFound)

	delivered, err := f.store.ListDeliveredOrders(ctx, shop.ID)
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
}

// =============================================================================
// MESSAGE RESOLUTION TESTS
// =============================================================================

func TestResolveMessage_BoardMessageMapsToOrder(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotEmpty(t, active.BoardMsgID)

	ref, err := f.orders.ResolveMessage(ctx, active.BoardMsgID)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, active.ID, ref.OrderID)
	assert.Equal(t, economy.StatusActive, ref.Status)
}

func TestResolveMessage_RemovedAfterDelivery(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	f.buy(t, "buyer", shop, "beer", "T1")
	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	msgID := active.BoardMsgID

	res, err := f.orders.DeliverOrder(ctx, active.Ref())
	require.NoError(t, err)
	require.True(t, res.OK)

	ref, err := f.orders.ResolveMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

// =============================================================================
// RACE SAFETY
// =============================================================================

func TestPlaceOrder_ConcurrentSameSlot_NeverLosesAnUpdate(t *testing.T) {
	// Two concurrent purchases to the same (shop, slot): the slot lock
	// serializes the read-modify-write, so both items appear regardless of
	// interleaving.
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "b1", "p1", 100)
	f.fund(t, "b2", "p2", 100)

	ctx := context.Background()
	tx1, err := f.coord.Transfer(ctx, "b1", shop.TillHandle, 5, economy.CauseShopOrder,
		map[string]string{economy.MetaProduct: "beer", economy.MetaShop: string(shop.ID)})
	require.NoError(t, err)
	tx2, err := f.coord.Transfer(ctx, "b2", shop.TillHandle, 3, economy.CauseShopOrder,
		map[string]string{economy.MetaProduct: "water", economy.MetaShop: string(shop.ID)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, tx := range []*economy.Transaction{tx1, tx2} {
		wg.Add(1)
		go func(tx *economy.Transaction) {
			defer wg.Done()
			if _, err := f.orders.PlaceOrder(ctx, shop.ID, tx, "T1"); err != nil {
				t.Error(err)
			}
		}(tx)
	}
	wg.Wait()

	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, map[string]int{"beer": 1, "water": 1}, active.Items)
	assert.Equal(t, economy.Money(8), active.PriceTotal)
}
