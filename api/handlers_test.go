package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/api"
	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/economy/store"
	"github.com/warp/economy-engine/shop"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type apiFixture struct {
	srv *httptest.Server
	svc *shop.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	locks := economy.NewLockManager(2 * time.Second)
	svc := shop.New(store.NewMemory(), locks, economy.NewMemorySink(), nil)
	h := api.NewHandler(svc, nil)

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, svc: svc}
}

func (f *apiFixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) createHandle(t *testing.T, handle, owner string) {
	t.Helper()

	resp := f.post(t, "/api/handles", api.CreateHandleRequest{Handle: handle, Owner: owner})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (f *apiFixture) grant(t *testing.T, handle string, amount int64) {
	t.Helper()

	resp := f.post(t, "/api/transfers/grant", api.GrantRequest{Handle: handle, Amount: amount})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (f *apiFixture) openTavern(t *testing.T) {
	t.Helper()

	resp := f.post(t, "/api/shops", api.CreateShopRequest{
		ID:                  "tavern",
		Name:                "The Rusty Tankard",
		TillHandle:          "tavern-till",
		CollectionWindowSec: 120,
		Catalog:             map[string]int64{"beer": 5, "water": 3},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// HANDLE AND TRANSFER ENDPOINTS
// =============================================================================

func TestAPI_HandleLifecycle(t *testing.T) {
	// Create, fund, transfer, and read back the balance over HTTP.
	f := newAPIFixture(t)
	f.createHandle(t, "alice", "player-alice")
	f.createHandle(t, "bob", "player-bob")
	f.grant(t, "alice", 100)

	resp := f.post(t, "/api/transfers", api.TransferRequest{
		Payer: "alice", Recipient: "bob", Amount: 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tx := decode[api.TransactionDTO](t, resp)
	assert.True(t, tx.Success)
	assert.NotEmpty(t, tx.ID)

	balance := decode[api.BalanceDTO](t, f.get(t, "/api/handles/alice/balance"))
	assert.Equal(t, int64(70), balance.Balance)
	assert.Equal(t, "player-alice", balance.Owner)

	balance = decode[api.BalanceDTO](t, f.get(t, "/api/handles/bob/balance"))
	assert.Equal(t, int64(30), balance.Balance)

	entries := decode[[]api.LedgerEntryDTO](t, f.get(t, "/api/handles/bob/entries"))
	require.Len(t, entries, 1)
	assert.Equal(t, tx.ID, entries[0].TxID)
	assert.Equal(t, int64(30), entries[0].Amount)
}

func TestAPI_CreateHandle_Duplicate_Conflicts(t *testing.T) {
	f := newAPIFixture(t)
	f.createHandle(t, "alice", "player-alice")

	resp := f.post(t, "/api/handles", api.CreateHandleRequest{Handle: "alice", Owner: "player-alice"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Transfer_InsufficientBalance_Returns200WithFailure(t *testing.T) {
	// A declined transfer is an outcome, not an HTTP error.
	f := newAPIFixture(t)
	f.createHandle(t, "alice", "player-alice")
	f.createHandle(t, "bob", "player-bob")
	f.grant(t, "alice", 10)

	resp := f.post(t, "/api/transfers", api.TransferRequest{
		Payer: "alice", Recipient: "bob", Amount: 50,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tx := decode[api.TransactionDTO](t, resp)
	assert.False(t, tx.Success)
	assert.Contains(t, tx.Report, "10")
}

func TestAPI_Transfer_UnknownHandle_404(t *testing.T) {
	f := newAPIFixture(t)
	f.createHandle(t, "alice", "player-alice")
	f.grant(t, "alice", 10)

	resp := f.post(t, "/api/transfers", api.TransferRequest{
		Payer: "alice", Recipient: "ghost", Amount: 5,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetBalance_UnknownHandle_404(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/handles/ghost/balance")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RetireHandle_MovesBalance(t *testing.T) {
	f := newAPIFixture(t)
	f.createHandle(t, "old", "player")
	f.createHandle(t, "new", "player")
	f.grant(t, "old", 40)

	resp := f.post(t, "/api/handles/old/retire", api.RetireHandleRequest{Successor: "new"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	balance := decode[api.BalanceDTO](t, f.get(t, "/api/handles/new/balance"))
	assert.Equal(t, int64(40), balance.Balance)

	gone := f.get(t, "/api/handles/old/balance")
	defer gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

// =============================================================================
// SHOP ENDPOINTS
// =============================================================================

func TestAPI_RetireUnknownHandle_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.createHandle(t, "heir", "player")

	resp := f.post(t, "/api/handles/ghost/retire", api.RetireHandleRequest{Successor: "heir"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ShopPurchaseFlow(t *testing.T) {
	// GIVEN: a shop and a funded buyer pinned to table T1
	// WHEN: two purchases arrive within the window
	// THEN: the orders endpoint shows one consolidated active order and the
	//       report carries its open value

	f := newAPIFixture(t)
	f.openTavern(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/tavern/slots", api.SetSlotRequest{Buyer: "buyer", Slot: "T1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	for _, product := range []string{"beer", "water"} {
		resp := f.post(t, "/api/shops/tavern/purchases", api.PurchaseRequest{Buyer: "buyer", Product: product})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decode[api.ResultDTO](t, resp)
		assert.True(t, res.OK, res.Report)
	}

	orders := decode[[]api.OrderDTO](t, f.get(t, "/api/shops/tavern/orders"))
	require.Len(t, orders, 1)
	assert.Equal(t, "T1", orders[0].Slot)
	assert.Equal(t, map[string]int{"beer": 1, "water": 1}, orders[0].Items)
	assert.Equal(t, int64(8), orders[0].PriceTotal)
	assert.Equal(t, "active", orders[0].Status)

	report := decode[api.ReportDTO](t, f.get(t, "/api/shops/tavern/report"))
	assert.Equal(t, 1, report.ActiveOrders)
	assert.Equal(t, int64(8), report.OpenValue)
}

func TestAPI_Purchase_UnknownProduct_IsFailureResult(t *testing.T) {
	f := newAPIFixture(t)
	f.openTavern(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/tavern/purchases", api.PurchaseRequest{Buyer: "buyer", Product: "mead"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[api.ResultDTO](t, resp)
	assert.False(t, res.OK)
	assert.Contains(t, res.Report, "mead")
}

func TestAPI_Purchase_UnknownShop_404(t *testing.T) {
	f := newAPIFixture(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/ghost/purchases", api.PurchaseRequest{Buyer: "buyer", Product: "beer"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_LockAndDeliverOrder(t *testing.T) {
	f := newAPIFixture(t)
	f.openTavern(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/tavern/slots", api.SetSlotRequest{Buyer: "buyer", Slot: "T1"})
	resp.Body.Close()
	resp = f.post(t, "/api/shops/tavern/purchases", api.PurchaseRequest{Buyer: "buyer", Product: "beer"})
	resp.Body.Close()

	resp = f.post(t, "/api/shops/tavern/orders/lock", map[string]string{"slot": "T1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[api.ResultDTO](t, resp)
	require.True(t, res.OK, res.Report)

	orders := decode[[]api.OrderDTO](t, f.get(t, "/api/shops/tavern/orders"))
	require.Len(t, orders, 1)
	assert.Equal(t, "locked", orders[0].Status)

	resp = f.post(t, "/api/shops/tavern/orders/deliver", api.DeliverRequest{
		OrderID: orders[0].ID, Status: "locked",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[api.ResultDTO](t, resp)
	require.True(t, res.OK, res.Report)

	orders = decode[[]api.OrderDTO](t, f.get(t, "/api/shops/tavern/orders"))
	assert.Empty(t, orders)

	report := decode[api.ReportDTO](t, f.get(t, "/api/shops/tavern/report"))
	assert.Equal(t, 1, report.DeliveredOrders)
	assert.Equal(t, int64(5), report.Revenue)
}

func TestAPI_RefundByTransactionID(t *testing.T) {
	// The buyer finds the purchase tx id in their ledger entries and
	// refunds it while the order is still collecting.
	f := newAPIFixture(t)
	f.openTavern(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/tavern/purchases", api.PurchaseRequest{Buyer: "buyer", Product: "beer"})
	resp.Body.Close()

	entries := decode[[]api.LedgerEntryDTO](t, f.get(t, "/api/handles/buyer/entries"))
	require.Len(t, entries, 2, "grant entry plus purchase entry")
	purchase := entries[1]
	assert.Equal(t, "shop_order", purchase.Cause)

	resp = f.post(t, "/api/refunds", api.RefundRequest{TxID: purchase.TxID, Initiator: "player"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[api.ResultDTO](t, resp)
	assert.True(t, res.OK, res.Report)

	balance := decode[api.BalanceDTO](t, f.get(t, "/api/handles/buyer/balance"))
	assert.Equal(t, int64(100), balance.Balance)
}

func TestAPI_Refund_RequiresInitiator(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/refunds", api.RefundRequest{TxID: "tx-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ResetShop_ClearsOrders(t *testing.T) {
	f := newAPIFixture(t)
	f.openTavern(t)
	f.createHandle(t, "buyer", "player")
	f.grant(t, "buyer", 100)

	resp := f.post(t, "/api/shops/tavern/purchases", api.PurchaseRequest{Buyer: "buyer", Product: "beer"})
	resp.Body.Close()

	resp = f.post(t, "/api/shops/tavern/reset", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	orders := decode[[]api.OrderDTO](t, f.get(t, "/api/shops/tavern/orders"))
	assert.Empty(t, orders)
}

func TestAPI_ResolveMessage_UnknownMessage_404(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/messages/msg-nope/order")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListShops(t *testing.T) {
	f := newAPIFixture(t)
	f.openTavern(t)

	shops := decode[[]api.ShopDTO](t, f.get(t, "/api/shops"))
	require.Len(t, shops, 1)
	assert.Equal(t, "tavern", shops[0].ID)
	assert.Equal(t, 120, shops[0].CollectionWindowSec)
	assert.Equal(t, int64(5), shops[0].Catalog["beer"])
}
