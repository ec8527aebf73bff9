/*
handlers.go - HTTP API handlers for the economy engine

PURPOSE:
  Exposes the ledger and order fulfillment engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Handles:
    POST   /api/handles                      Create handle
    GET    /api/handles/{id}/balance         Balance
    GET    /api/handles/{id}/entries         Ledger entry trail
    POST   /api/handles/{id}/retire          Retire, rescuing balance

  Transfers:
    POST   /api/transfers                    Two-party transfer
    POST   /api/transfers/grant              Mint onto a handle (demo/admin)
    GET    /api/transactions/{id}            Transfer outcome
    POST   /api/refunds                      Refund by tx id or msg id

  Shops:
    GET    /api/shops                        List shops
    POST   /api/shops                        Create shop
    GET    /api/shops/{id}                   Shop config
    GET    /api/shops/{id}/report            Revenue report
    POST   /api/shops/{id}/purchases         Buy a product
    GET    /api/shops/{id}/orders            Open orders
    POST   /api/shops/{id}/orders/lock       Lock the slot's active order
    POST   /api/shops/{id}/orders/deliver    Deliver an order
    POST   /api/shops/{id}/slots             Pin a buyer's delivery slot
    POST   /api/shops/{id}/reset             Clear open orders and locks

  Messages:
    GET    /api/messages/{id}/order          Resolve board message to order

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

ERROR HANDLING:
  Infrastructure errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors
  Business failures (insufficient balance, expired window, already
  refunded) are HTTP 200 with a ResultDTO whose ok is false: they are
  outcomes, not errors.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/shop"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *shop.Service
	Log     *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over the service.
func NewHandler(svc *shop.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Log: log}
}

// =============================================================================
// HANDLE HANDLERS
// =============================================================================

// CreateHandle registers a new handle.
func (h *Handler) CreateHandle(w http.ResponseWriter, r *http.Request) {
	var req CreateHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Handle == "" || req.Owner == "" {
		writeError(w, http.StatusBadRequest, "handle and owner are required", nil)
		return
	}

	err := h.Service.CreateHandle(r.Context(), economy.HandleID(req.Handle), economy.ActorID(req.Owner))
	if err != nil {
		writeDomainError(w, "Failed to create handle", err)
		return
	}

	writeJSON(w, http.StatusCreated, BalanceDTO{Handle: req.Handle, Owner: req.Owner})
}

// GetBalance returns a handle's current balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := economy.HandleID(chi.URLParam(r, "id"))

	balance, err := h.Service.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	owner, err := h.Service.Ledger.Owner(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		Handle:  string(id),
		Owner:   string(owner),
		Balance: int64(balance),
	})
}

// GetEntries returns a handle's ledger entry trail, oldest first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := economy.HandleID(chi.URLParam(r, "id"))

	entries, err := h.Service.Ledger.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get entries", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			TxID:       string(e.TxID),
			OtherParty: string(e.OtherParty),
			Amount:     int64(e.Amount),
			Cause:      string(e.Cause),
			At:         e.At,
			Data:       e.Data,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RetireHandle retires a handle, rescuing any balance to the successor.
func (h *Handler) RetireHandle(w http.ResponseWriter, r *http.Request) {
	id := economy.HandleID(chi.URLParam(r, "id"))

	var req RetireHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Successor == "" {
		writeError(w, http.StatusBadRequest, "successor is required", nil)
		return
	}

	if err := h.Service.RetireHandle(r.Context(), id, economy.HandleID(req.Successor)); err != nil {
		writeDomainError(w, "Failed to retire handle", err)
		return
	}

	writeJSON(w, http.StatusOK, ResultDTO{OK: true, Report: "handle retired"})
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer executes a two-party transfer.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cause := economy.Cause(req.Cause)
	if cause == "" {
		cause = economy.CauseTransfer
	}

	tx, err := h.Service.Coordinator.Transfer(r.Context(),
		economy.HandleID(req.Payer), economy.HandleID(req.Recipient),
		economy.Money(req.Amount), cause, nil)
	if err != nil {
		if tx != nil && !tx.Success {
			// Business failure: the transaction object carries the report.
			writeJSON(w, http.StatusOK, toTransactionDTO(tx))
			return
		}
		writeDomainError(w, "Transfer failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// Grant mints money onto a handle (admin/demo).
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Service.Grant(r.Context(), "mint", economy.HandleID(req.Handle), economy.Money(req.Amount))
	if err != nil {
		writeDomainError(w, "Grant failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one transfer outcome.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := economy.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Service.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// Refund reverses a purchase by transaction id or undo-hook message id.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Initiator == "" {
		writeError(w, http.StatusBadRequest, "initiator is required", nil)
		return
	}

	var (
		res *economy.Result
		err error
	)
	switch {
	case req.TxID != "":
		res, err = h.Service.Refund(r.Context(), economy.TransactionID(req.TxID), economy.ActorID(req.Initiator))
	case req.MsgID != "":
		res, err = h.Service.RefundByMsg(r.Context(), economy.MsgID(req.MsgID), economy.ActorID(req.Initiator))
	default:
		writeError(w, http.StatusBadRequest, "tx_id or msg_id is required", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Refund failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// SHOP HANDLERS
// =============================================================================

// ListShops returns all shops.
func (h *Handler) ListShops(w http.ResponseWriter, r *http.Request) {
	shops, err := h.Service.Store.ListShops(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shops", err)
		return
	}

	dtos := make([]ShopDTO, len(shops))
	for i, s := range shops {
		dtos[i] = toShopDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShop registers a shop and its till handle.
func (h *Handler) CreateShop(w http.ResponseWriter, r *http.Request) {
	var req CreateShopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	catalog := make(map[string]economy.Money, len(req.Catalog))
	for p, price := range req.Catalog {
		catalog[p] = economy.Money(price)
	}
	employees := make([]economy.ActorID, 0, len(req.Employees))
	for _, e := range req.Employees {
		employees = append(employees, economy.ActorID(e))
	}

	s := economy.Shop{
		ID:               economy.ShopID(req.ID),
		Name:             req.Name,
		TillHandle:       economy.HandleID(req.TillHandle),
		CollectionWindow: time.Duration(req.CollectionWindowSec) * time.Second,
		Employees:        employees,
		Catalog:          catalog,
	}
	if err := h.Service.CreateShop(r.Context(), s); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create shop", err)
		return
	}

	writeJSON(w, http.StatusCreated, toShopDTO(s))
}

// GetShop returns one shop's configuration.
func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	id := economy.ShopID(chi.URLParam(r, "id"))

	s, err := h.Service.Store.GetShop(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shop", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Shop not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toShopDTO(*s))
}

// GetReport returns the shop revenue report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := economy.ShopID(chi.URLParam(r, "id"))

	rep, err := h.Service.Report(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}

	writeJSON(w, http.StatusOK, ReportDTO{
		ShopID:          string(rep.ShopID),
		ActiveOrders:    rep.ActiveOrders,
		LockedOrders:    rep.LockedOrders,
		DeliveredOrders: rep.DeliveredOrders,
		OpenValue:       int64(rep.OpenValue),
		Revenue:         int64(rep.Revenue),
		AverageOrder:    rep.AverageOrder.String(),
	})
}

// Purchase buys one unit of a product from the shop.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, _, err := h.Service.Purchase(r.Context(), economy.HandleID(req.Buyer), shopID, req.Product)
	if err != nil {
		writeDomainError(w, "Purchase failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// ListOrders returns the shop's open orders (active and locked).
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))
	ctx := r.Context()

	active, err := h.Service.Store.ListActiveOrders(ctx, shopID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}
	locked, err := h.Service.Store.ListLockedOrders(ctx, shopID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	dtos := make([]OrderDTO, 0, len(active)+len(locked))
	for _, o := range active {
		dtos = append(dtos, toOrderDTO(o))
	}
	for _, o := range locked {
		dtos = append(dtos, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LockOrder advances the slot's active order to locked.
func (h *Handler) LockOrder(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))

	var req struct {
		Slot string `json:"slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.LockOrder(r.Context(), shopID, economy.SlotID(req.Slot))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lock failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// DeliverOrder completes an order.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))

	var req DeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ref := economy.OrderRef{
		ShopID:  shopID,
		Slot:    economy.SlotID(req.Slot),
		OrderID: economy.OrderID(req.OrderID),
		Status:  economy.OrderStatus(req.Status),
	}
	res, err := h.Service.DeliverOrder(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Deliver failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// SetSlot pins a buyer's delivery slot at the shop.
func (h *Handler) SetSlot(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))

	var req SetSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Buyer == "" || req.Slot == "" {
		writeError(w, http.StatusBadRequest, "buyer and slot are required", nil)
		return
	}

	if err := h.Service.SetDeliverySlot(r.Context(), shopID,
		economy.HandleID(req.Buyer), economy.SlotID(req.Slot)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set slot", err)
		return
	}
	writeJSON(w, http.StatusOK, ResultDTO{OK: true, Report: "slot assigned"})
}

// ResetShop clears the shop's open orders and slot locks.
func (h *Handler) ResetShop(w http.ResponseWriter, r *http.Request) {
	shopID := economy.ShopID(chi.URLParam(r, "id"))

	if err := h.Service.ResetShop(r.Context(), shopID); err != nil {
		writeError(w, http.StatusInternalServerError, "Reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ResultDTO{OK: true, Report: "shop reset"})
}

// =============================================================================
// MESSAGE RESOLUTION
// =============================================================================

// ResolveMessage maps an outward board message to the order it represents.
func (h *Handler) ResolveMessage(w http.ResponseWriter, r *http.Request) {
	msg := economy.MsgID(chi.URLParam(r, "id"))

	ref, err := h.Service.ResolveMessage(r.Context(), msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve message", err)
		return
	}
	if ref == nil {
		writeError(w, http.StatusNotFound, "Message does not map to an order", nil)
		return
	}

	writeJSON(w, http.StatusOK, OrderRefDTO{
		ShopID:  string(ref.ShopID),
		Slot:    string(ref.Slot),
		OrderID: string(ref.OrderID),
		Status:  string(ref.Status),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto an HTTP status: duplicate
// handles conflict, corrupted references are not found, business-grade
// validation errors are bad requests, everything else is internal.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, economy.ErrHandleExists):
		writeError(w, http.StatusConflict, message, err)
	case economy.IsCorruptedState(err):
		writeError(w, http.StatusNotFound, message, err)
	case economy.IsBusinessFailure(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
