/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// HANDLES AND TRANSFERS
// =============================================================================

// CreateHandleRequest registers a new handle for an actor.
type CreateHandleRequest struct {
	Handle string `json:"handle"`
	Owner  string `json:"owner"`
}

// RetireHandleRequest retires a handle, naming the successor that inherits
// any remaining balance.
type RetireHandleRequest struct {
	Successor string `json:"successor"`
}

// BalanceDTO is a handle's current balance.
type BalanceDTO struct {
	Handle  string `json:"handle"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

// LedgerEntryDTO is one side of a committed transfer, from the handle's
// perspective.
type LedgerEntryDTO struct {
	TxID       string    `json:"tx_id"`
	OtherParty string    `json:"other_party"`
	Amount     int64     `json:"amount"`
	Cause      string    `json:"cause"`
	At         time.Time `json:"at"`
	Data       string    `json:"data,omitempty"`
}

// TransferRequest moves money between two handles.
type TransferRequest struct {
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Cause     string `json:"cause,omitempty"`
}

// GrantRequest mints money onto a handle (admin/demo).
type GrantRequest struct {
	Handle string `json:"handle"`
	Amount int64  `json:"amount"`
}

// TransactionDTO is a transfer outcome.
type TransactionDTO struct {
	ID          string    `json:"id"`
	Payer       string    `json:"payer"`
	Recipient   string    `json:"recipient"`
	Amount      int64     `json:"amount"`
	Cause       string    `json:"cause"`
	At          time.Time `json:"at"`
	Success     bool      `json:"success"`
	Report      string    `json:"report,omitempty"`
	PayerMsgID  string    `json:"payer_msg_id,omitempty"`
	RecipMsgID  string    `json:"recip_msg_id,omitempty"`
}

// =============================================================================
// SHOPS AND ORDERS
// =============================================================================

// CreateShopRequest registers a shop.
type CreateShopRequest struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	TillHandle          string           `json:"till_handle"`
	CollectionWindowSec int              `json:"collection_window_sec"`
	Employees           []string         `json:"employees,omitempty"`
	Catalog             map[string]int64 `json:"catalog"`
}

// ShopDTO is a shop's configuration.
type ShopDTO struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	TillHandle          string           `json:"till_handle"`
	CollectionWindowSec int              `json:"collection_window_sec"`
	Employees           []string         `json:"employees,omitempty"`
	Catalog             map[string]int64 `json:"catalog"`
}

// PurchaseRequest buys one unit of a product.
type PurchaseRequest struct {
	Buyer   string `json:"buyer"`
	Product string `json:"product"`
}

// SetSlotRequest pins a buyer's orders to an explicit delivery slot.
type SetSlotRequest struct {
	Buyer string `json:"buyer"`
	Slot  string `json:"slot"`
}

// OrderDTO is an order's current state.
type OrderDTO struct {
	ID          string         `json:"id"`
	ShopID      string         `json:"shop_id"`
	Slot        string         `json:"slot"`
	Items       map[string]int `json:"items"`
	PriceTotal  int64          `json:"price_total"`
	PaidTotal   int64          `json:"paid_total"`
	Status      string         `json:"status"`
	TimeCreated time.Time      `json:"time_created"`
	TimeUpdated time.Time      `json:"time_updated"`
	UndoHooks   int            `json:"undo_hooks"`
	BoardMsgID  string         `json:"board_msg_id,omitempty"`
}

// DeliverRequest completes an order.
type DeliverRequest struct {
	Slot    string `json:"slot,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

// RefundRequest reverses a purchase, addressed either by transaction id or
// by one of its undo-hook notification ids.
type RefundRequest struct {
	TxID      string `json:"tx_id,omitempty"`
	MsgID     string `json:"msg_id,omitempty"`
	Initiator string `json:"initiator"`
}

// ResultDTO is a business operation outcome.
type ResultDTO struct {
	OK     bool   `json:"ok"`
	Report string `json:"report"`
	Error  string `json:"error,omitempty"`
}

// ReportDTO is the shop revenue report.
type ReportDTO struct {
	ShopID          string `json:"shop_id"`
	ActiveOrders    int    `json:"active_orders"`
	LockedOrders    int    `json:"locked_orders"`
	DeliveredOrders int    `json:"delivered_orders"`
	OpenValue       int64  `json:"open_value"`
	Revenue         int64  `json:"revenue"`
	AverageOrder    string `json:"average_order"`
}

// OrderRefDTO addresses an order from outside the engine.
type OrderRefDTO struct {
	ShopID  string `json:"shop_id"`
	Slot    string `json:"slot"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest loads a demo scenario.
type LoadScenarioRequest struct {
	ID string `json:"id"`
}

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toOrderDTO(o economy.Order) OrderDTO {
	return OrderDTO{
		ID:          string(o.ID),
		ShopID:      string(o.ShopID),
		Slot:        string(o.Slot),
		Items:       o.Items,
		PriceTotal:  int64(o.PriceTotal),
		PaidTotal:   int64(o.PaidTotal),
		Status:      string(o.Status),
		TimeCreated: o.TimeCreated,
		TimeUpdated: o.TimeUpdated,
		UndoHooks:   len(o.UndoHooks),
		BoardMsgID:  string(o.BoardMsgID),
	}
}

func toTransactionDTO(tx *economy.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         string(tx.ID),
		Payer:      string(tx.PayerID),
		Recipient:  string(tx.RecipientID),
		Amount:     int64(tx.Amount),
		Cause:      string(tx.Cause),
		At:         tx.At,
		Success:    tx.Success,
		Report:     tx.Report,
		PayerMsgID: string(tx.PayerMsgID),
		RecipMsgID: string(tx.RecipMsgID),
	}
}

func toResultDTO(res *economy.Result) ResultDTO {
	dto := ResultDTO{OK: res.OK, Report: res.Report}
	if res.Err != nil {
		dto.Error = res.Err.Error()
	}
	return dto
}

func toShopDTO(s economy.Shop) ShopDTO {
	catalog := make(map[string]int64, len(s.Catalog))
	for p, m := range s.Catalog {
		catalog[p] = int64(m)
	}
	employees := make([]string, 0, len(s.Employees))
	for _, e := range s.Employees {
		employees = append(employees, string(e))
	}
	return ShopDTO{
		ID:                  string(s.ID),
		Name:                s.Name,
		TillHandle:          string(s.TillHandle),
		CollectionWindowSec: int(s.CollectionWindow / time.Second),
		Employees:           employees,
		Catalog:             catalog,
	}
}
