/*
report.go - Shop revenue reporting

PURPOSE:
  Read-only aggregation over a shop's order book: open and delivered
  counts, delivered revenue, and the average order value. Averages use
  decimal division so a 3-order, 10-coin day reports 3.33, not 3.
*/
package economy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ShopReport summarizes a shop's order activity.
type ShopReport struct {
	ShopID          ShopID
	ActiveOrders    int
	LockedOrders    int
	DeliveredOrders int
	OpenValue       Money
	Revenue         Money
	AverageOrder    decimal.Decimal
}

// BuildShopReport aggregates the shop's current and archived orders.
func BuildShopReport(ctx context.Context, store Store, shop ShopID) (*ShopReport, error) {
	active, err := store.ListActiveOrders(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("report for %s: %w", shop, err)
	}
	locked, err := store.ListLockedOrders(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("report for %s: %w", shop, err)
	}
	delivered, err := store.ListDeliveredOrders(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("report for %s: %w", shop, err)
	}

	r := &ShopReport{
		ShopID:          shop,
		ActiveOrders:    len(active),
		LockedOrders:    len(locked),
		DeliveredOrders: len(delivered),
	}
	for _, o := range active {
		r.OpenValue += o.PriceTotal
	}
	for _, o := range locked {
		r.OpenValue += o.PriceTotal
	}
	for _, o := range delivered {
		r.Revenue += o.PaidTotal
	}

	if r.DeliveredOrders > 0 {
		r.AverageOrder = decimal.NewFromInt(int64(r.Revenue)).
			Div(decimal.NewFromInt(int64(r.DeliveredOrders))).
			Round(2)
	}
	return r, nil
}
