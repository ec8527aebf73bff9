package economy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
)

func TestCreateHandle_Duplicate_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.CreateHandle(ctx, "a", "owner-a"))
	err := f.ledger.CreateHandle(ctx, "a", "owner-a")
	assert.True(t, errors.Is(err, economy.ErrHandleExists))
}

func TestApplyDelta_RefusesNegativeBalance(t *testing.T) {
	// GIVEN: a handle holding 5
	// WHEN: a delta of -10 is applied
	// THEN: the mutation is refused and the record is unchanged

	f := newFixture(t)
	f.fund(t, "a", "owner-a", 5)

	_, err := f.ledger.ApplyDelta(context.Background(), "a", -10, economy.InternalTransRecord{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, economy.ErrInsufficientBalance))

	assert.Equal(t, economy.Money(5), f.balance(t, "a"))
	entries, err := f.ledger.Entries(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyDelta_AppendsEntry(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "a", "owner-a", 5)

	next, err := f.ledger.ApplyDelta(context.Background(), "a", 7, economy.InternalTransRecord{
		TxID: "tx-1", Amount: 7, Cause: economy.CauseTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, economy.Money(12), next)

	entries, err := f.ledger.Entries(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, economy.TransactionID("tx-1"), entries[0].TxID)
}

func TestRetireHandle_RescuesBalanceToSuccessor(t *testing.T) {
	// GIVEN: handle old holds 40, handle new holds 10
	// WHEN: old is retired with new as successor
	// THEN: new holds 50 with a collect entry, and old's record is gone

	f := newFixture(t)
	f.fund(t, "old", "owner", 40)
	f.fund(t, "new", "owner", 10)

	require.NoError(t, f.ledger.RetireHandle(context.Background(), "old", "new", f.now))

	assert.Equal(t, economy.Money(50), f.balance(t, "new"))

	entries, err := f.ledger.Entries(context.Background(), "new")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, economy.CauseCollect, entries[0].Cause)
	assert.Equal(t, economy.Money(40), entries[0].Amount)

	rec, err := f.store.GetLedger(context.Background(), "old")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRetireHandle_ZeroBalance_NoRescueTransfer(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "old", "owner", 0)
	f.fund(t, "new", "owner", 10)

	require.NoError(t, f.ledger.RetireHandle(context.Background(), "old", "new", f.now))

	assert.Equal(t, economy.Money(10), f.balance(t, "new"))
	entries, err := f.ledger.Entries(context.Background(), "new")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAttachCorrelation_PatchesMatchingEntry(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "a", "owner-a", 100)
	f.fund(t, "b", "owner-b", 0)

	tx, err := f.coord.Transfer(context.Background(), "a", "b", 10, economy.CauseTransfer, nil)
	require.NoError(t, err)

	entries, err := f.ledger.Entries(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].CorrelationIDs, tx.PayerMsgID)
}
