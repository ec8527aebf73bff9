package economy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
)

func TestBuildShopReport_AggregatesOrders(t *testing.T) {
	// GIVEN: one active order (8), one delivered (5) and one delivered (5)
	// WHEN: the report is built
	// THEN: open value is 8, revenue 10, and the average divides exactly

	f := newFixture(t)
	shop := f.tavern(t)
	f.fund(t, "buyer", "player", 100)

	ctx := context.Background()

	beerTx := f.buy(t, "buyer", shop, "beer", "T1")
	_ = beerTx
	active, err := f.store.GetActiveOrder(ctx, shop.ID, "T1")
	require.NoError(t, err)
	res, err := f.orders.DeliverOrder(ctx, active.Ref())
	require.NoError(t, err)
	require.True(t, res.OK)

	f.buy(t, "buyer", shop, "beer", "T2")
	active, err = f.store.GetActiveOrder(ctx, shop.ID, "T2")
	require.NoError(t, err)
	res, err = f.orders.DeliverOrder(ctx, active.Ref())
	require.NoError(t, err)
	require.True(t, res.OK)

	f.buy(t, "buyer", shop, "beer", "T3")
	f.buy(t, "buyer", shop, "water", "T3")

	rep, err := economy.BuildShopReport(ctx, f.store, shop.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.ActiveOrders)
	assert.Equal(t, 0, rep.LockedOrders)
	assert.Equal(t, 2, rep.DeliveredOrders)
	assert.Equal(t, economy.Money(8), rep.OpenValue)
	assert.Equal(t, economy.Money(10), rep.Revenue)
	assert.Equal(t, "5", rep.AverageOrder.String())
}

func TestBuildShopReport_AverageRoundsToTwoPlaces(t *testing.T) {
	// 10 revenue over 3 delivered orders reports 3.33, not 3.
	f := newFixture(t)
	shop := f.tavern(t)
	shop.Catalog["crumb"] = 2
	require.NoError(t, f.store.PutShop(context.Background(), shop))
	f.fund(t, "buyer", "player", 100)

	ctx := context.Background()
	for i, product := range []string{"beer", "water", "crumb"} {
		slot := economy.SlotID('A' + rune(i))
		f.buy(t, "buyer", shop, product, slot)
		active, err := f.store.GetActiveOrder(ctx, shop.ID, slot)
		require.NoError(t, err)
		res, err := f.orders.DeliverOrder(ctx, active.Ref())
		require.NoError(t, err)
		require.True(t, res.OK)
	}

	rep, err := economy.BuildShopReport(ctx, f.store, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, economy.Money(10), rep.Revenue)
	assert.Equal(t, "3.33", rep.AverageOrder.String())
}

func TestBuildShopReport_EmptyShop(t *testing.T) {
	f := newFixture(t)
	shop := f.tavern(t)

	rep, err := economy.BuildShopReport(context.Background(), f.store, shop.ID)
	require.NoError(t, err)
	assert.Zero(t, rep.DeliveredOrders)
	assert.True(t, rep.AverageOrder.IsZero())
}
