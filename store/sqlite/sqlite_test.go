package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_LedgerRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	missing, err := s.GetLedger(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rec := economy.LedgerRecord{
		Owner:   "owner-a",
		Balance: 42,
		Entries: []economy.InternalTransRecord{{
			TxID: "tx-1", OtherParty: "b", Amount: -8,
			Cause: economy.CauseTransfer,
			At:    time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		}},
	}
	require.NoError(t, s.PutLedger(ctx, "a", rec))

	got, err := s.GetLedger(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Balance, got.Balance)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, economy.TransactionID("tx-1"), got.Entries[0].TxID)
	assert.True(t, rec.Entries[0].At.Equal(got.Entries[0].At))

	require.NoError(t, s.DeleteLedger(ctx, "a"))
	gone, err := s.GetLedger(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLite_TransactionByMsg_EitherHookResolves(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tx := economy.Transaction{
		ID: "tx-1", PayerID: "a", RecipientID: "b", Amount: 8,
		Cause: economy.CauseShopOrder, Success: true,
		PayerMsgID: "m-pay", RecipMsgID: "m-rec",
		Metadata: map[string]string{economy.MetaProduct: "beer"},
	}
	require.NoError(t, s.PutTransaction(ctx, tx))

	for _, msg := range []economy.MsgID{"m-pay", "m-rec"} {
		got, err := s.GetTransactionByMsg(ctx, msg)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tx.ID, got.ID)
		assert.Equal(t, "beer", got.Metadata[economy.MetaProduct])
	}

	missing, err := s.GetTransactionByMsg(ctx, "m-other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ActiveOrder_KeyedByShopAndSlot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o := economy.Order{
		ID: "tavern-1", ShopID: "tavern", Slot: "T1",
		Items: map[string]int{"beer": 2}, PriceTotal: 10, PaidTotal: 10,
		Status: economy.StatusActive,
	}
	require.NoError(t, s.PutActiveOrder(ctx, o))

	got, err := s.GetActiveOrder(ctx, "tavern", "T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.Items, got.Items)

	// Upsert replaces the slot's record instead of duplicating.
	o.Items["water"] = 1
	require.NoError(t, s.PutActiveOrder(ctx, o))
	orders, err := s.ListActiveOrders(ctx, "tavern")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, map[string]int{"beer": 2, "water": 1}, orders[0].Items)

	other, err := s.GetActiveOrder(ctx, "tavern", "T2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLite_DeliveredOrders_AppendOnlyInOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendDeliveredOrder(ctx, economy.Order{
			ID: economy.OrderIDFor("tavern", int64(i)), ShopID: "tavern",
			Slot: "T1", Status: economy.StatusDelivered,
		}))
	}

	delivered, err := s.ListDeliveredOrders(ctx, "tavern")
	require.NoError(t, err)
	require.Len(t, delivered, 3)
	assert.Equal(t, economy.OrderID("tavern-1"), delivered[0].ID)
	assert.Equal(t, economy.OrderID("tavern-3"), delivered[2].ID)
}

func TestSQLite_NextOrderSeq_MonotonicPerShop(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextOrderSeq(ctx, "tavern")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := s.NextOrderSeq(ctx, "bakery")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestSQLite_DeliverySlot_UpsertAndMiss(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	none, err := s.GetDeliverySlot(ctx, "tavern", "buyer")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.PutDeliverySlot(ctx, "tavern", "buyer", "T1"))
	require.NoError(t, s.PutDeliverySlot(ctx, "tavern", "buyer", "T2"))

	slot, err := s.GetDeliverySlot(ctx, "tavern", "buyer")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, economy.SlotID("T2"), *slot)
}

func TestSQLite_WithAtomic_RollsBackOnError(t *testing.T) {
	// GIVEN: a committed ledger
	// WHEN: an atomic block rewrites it, moves an order, and fails
	// THEN: none of the block's writes survive

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutLedger(ctx, "a", economy.LedgerRecord{Owner: "o", Balance: 10}))

	boom := errors.New("boom")
	err := s.WithAtomic(ctx, func(st economy.Store) error {
		if err := st.PutLedger(ctx, "a", economy.LedgerRecord{Owner: "o", Balance: 99}); err != nil {
			return err
		}
		if err := st.PutLockedOrder(ctx, economy.Order{
			ID: "tavern-1", ShopID: "tavern", Slot: "T1", Status: economy.StatusLocked,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := s.GetLedger(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, economy.Money(10), rec.Balance)

	locked, err := s.ListLockedOrders(ctx, "tavern")
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestSQLite_WithAtomic_CommitsTogether(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutActiveOrder(ctx, economy.Order{
		ID: "tavern-1", ShopID: "tavern", Slot: "T1", Status: economy.StatusActive,
	}))

	require.NoError(t, s.WithAtomic(ctx, func(st economy.Store) error {
		if err := st.DeleteActiveOrder(ctx, "tavern", "T1"); err != nil {
			return err
		}
		return st.PutLockedOrder(ctx, economy.Order{
			ID: "tavern-1", ShopID: "tavern", Slot: "T1", Status: economy.StatusLocked,
		})
	}))

	active, err := s.GetActiveOrder(ctx, "tavern", "T1")
	require.NoError(t, err)
	assert.Nil(t, active)
	locked, err := s.GetLockedOrder(ctx, "tavern", "tavern-1")
	require.NoError(t, err)
	require.NotNil(t, locked)
	assert.Equal(t, economy.StatusLocked, locked.Status)
}

func TestSQLite_Reset_ClearsEverything(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLedger(ctx, "a", economy.LedgerRecord{Owner: "o", Balance: 10}))
	require.NoError(t, s.PutShop(ctx, economy.Shop{ID: "tavern", TillHandle: "till", CollectionWindow: time.Minute}))
	_, err := s.NextOrderSeq(ctx, "tavern")
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	rec, err := s.GetLedger(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)
	shops, err := s.ListShops(ctx)
	require.NoError(t, err)
	assert.Empty(t, shops)

	seq, err := s.NextOrderSeq(ctx, "tavern")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "counters restart after reset")
}
