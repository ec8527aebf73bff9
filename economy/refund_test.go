package economy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
)

func TestRefund_ActiveOrder_RemovesItemAndRestoresBalance(t *testing.T) {
	// GIVEN: an Active order at T1 holding beer (5) and water (3)
	// WHEN: the buyer refunds the beer purchase inside the window
	// THEN: the item is removed, totals drop by 5, the buyer gets 5 back,
	//       and the order stays Active with only water

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.buy(t, "buyer", shop, "water", "T1")
	require.Equal(t, economy.Money(92), f.balance(t, "buyer"))

	ctx := context.Background()
	res, err := f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	assert.True(t, res.OK)

	assert.Equal(t, economy.Money(97), f.balance(t, "buyer"))
	assert.Equal(t, economy.Money(3), f.balance(t, shop.TillHandle))

	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, map[string]int{"water": 1}, active.Items)
	assert.Equal(t, economy.Money(3), active.PriceTotal)
	assert.Equal(t, economy.StatusActive, active.Status)
}

func TestRefund_WindowExpired_BuyerFailsWithoutSideEffects(t *testing.T) {
	// GIVEN: a purchase whose collection window elapsed (order locked)
	// WHEN: the buyer attempts a refund
	// THEN: it fails with the window report and no balance moves

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.advance(5 * time.Minute)

	ctx := context.Background()
	res, err := f.orders.LockOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrRefundWindowExpired)
	assert.Contains(t, res.Report, "window")

	assert.Equal(t, economy.Money(95), f.balance(t, "buyer"))
	assert.Equal(t, economy.Money(5), f.balance(t, shop.TillHandle))
}

func TestRefund_SameTransactionTwice_SecondFails(t *testing.T) {
	// GIVEN: beer bought twice in one order (quantity 2)
	// WHEN: the same purchase transaction is refunded twice
	// THEN: the first succeeds, the second fails and moves no money

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	res, err := f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, economy.Money(95), f.balance(t, "buyer"))

	res, err = f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrAlreadyRefundedOrLocked)
	assert.Equal(t, economy.Money(95), f.balance(t, "buyer"))
	assert.Equal(t, economy.Money(5), f.balance(t, shop.TillHandle))
}

func TestRefund_LastItem_CancelsOrder(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	res, err := f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	require.True(t, res.OK)

	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	assert.Nil(t, active, "emptied order is cancelled outright")
	assert.Equal(t, economy.Money(100), f.balance(t, "buyer"))
}

func TestRefund_ShopInitiated_SkipsWindowCheck(t *testing.T) {
	// The shop (or an employee) can refund after the window.
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.advance(10 * time.Minute)

	res, err := f.refunds.AttemptRefund(context.Background(), beerTx, shop.Actor())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, economy.Money(100), f.balance(t, "buyer"))
}

func TestRefund_ShopInitiated_ReachesLockedOrder(t *testing.T) {
	// GIVEN: an order already locked for preparation
	// WHEN: the shop refunds the only purchase on it
	// THEN: the money returns and the emptied locked order is removed

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.advance(5 * time.Minute)

	ctx := context.Background()
	res, err := f.orders.LockOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.refunds.AttemptRefund(ctx, beerTx, shop.Actor())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, economy.Money(100), f.balance(t, "buyer"))
	assert.Equal(t, economy.Money(0), f.balance(t, shop.TillHandle))

	locked, err := f.store.ListLockedOrders(ctx, shop.ID)
	require.NoError(t, err)
	assert.Empty(t, locked, "emptied locked order is removed")
}

func TestRefund_ShopInitiated_LockedOrderKeepsRemainingItems(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	f.buy(t, "buyer", shop, "water", "T1")
	f.advance(5 * time.Minute)

	ctx := context.Background()
	res, err := f.orders.LockOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.refunds.AttemptRefund(ctx, beerTx, shop.Actor())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, economy.Money(97), f.balance(t, "buyer"))

	locked, err := f.store.ListLockedOrders(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, map[string]int{"water": 1}, locked[0].Items)
	assert.Equal(t, economy.Money(3), locked[0].PriceTotal)
	assert.Equal(t, economy.StatusLocked, locked[0].Status)
}

func TestRefund_Buyer_CannotReachLockedOrder(t *testing.T) {
	// Locking ends the buyer's cancellation rights even inside the window.
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	res, err := f.orders.LockOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrOrderNotFound)
	assert.Equal(t, economy.Money(95), f.balance(t, "buyer"))
}

func TestRefund_DeliveredOrder_Fails(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")

	ctx := context.Background()
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	res, err := f.orders.DeliverOrder(ctx, active.Ref())
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrOrderNotFound)
	assert.Equal(t, economy.Money(95), f.balance(t, "buyer"))
}

func TestRefund_NonOrderTransaction_Rejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "a", "owner-a", 100)
	f.fund(t, "b", "owner-b", 0)

	tx, err := f.coord.Transfer(context.Background(), "a", "b", 10, economy.CauseTransfer, nil)
	require.NoError(t, err)

	_, err = f.refunds.AttemptRefund(context.Background(), tx, "owner-a")
	assert.Error(t, err, "only shop-order transactions are refundable")
}

func TestRefund_RetiresOnlyThatPurchasesHooks(t *testing.T) {
	// Refunding one purchase must leave the other purchase's undo hooks on
	// the order so it stays independently cancellable.
	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	waterTx := f.buy(t, "buyer", shop, "water", "T1")

	ctx := context.Background()
	res, err := f.refunds.AttemptRefund(ctx, beerTx, "player")
	require.NoError(t, err)
	require.True(t, res.OK)

	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Len(t, active.UndoHooks, 2)

	res, err = f.refunds.AttemptRefund(ctx, waterTx, "player")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, economy.Money(100), f.balance(t, "buyer"))
}
