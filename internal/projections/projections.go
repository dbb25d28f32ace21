// Package projections derives the dashboard and portal views from an order
// collection. Everything here is a pure function of its input.
package projections

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/pkg/enums"
)

// OrderView is the projection input; both the API and the SDK map onto it.
type OrderView struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Dashboard is the admin summary over a collection.
type Dashboard struct {
	PendingReview []OrderView               `json:"pending_review"`
	InTransit     []OrderView               `json:"in_transit"`
	Completed     []OrderView               `json:"completed"`
	Revenue       decimal.Decimal           `json:"revenue"`
	Counts        map[enums.OrderStatus]int `json:"counts"`
	Total         int                       `json:"total"`
}

// PendingReview returns orders waiting on a receipt decision.
func PendingReview(orders []OrderView) []OrderView {
	return filter(orders, func(o OrderView) bool { return o.Status.InPaymentReview() })
}

// InTransit returns shipped orders.
func InTransit(orders []OrderView) []OrderView {
	return filter(orders, func(o OrderView) bool { return o.Status == enums.OrderStatusShipped })
}

// Completed returns completed orders.
func Completed(orders []OrderView) []OrderView {
	return filter(orders, func(o OrderView) bool { return o.Status == enums.OrderStatusCompleted })
}

// Revenue sums totals of orders whose payment has cleared.
func Revenue(orders []OrderView) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range orders {
		if o.Status.PaymentCleared() {
			sum = sum.Add(o.TotalAmount)
		}
	}
	return sum
}

// SplitCustomer separates open orders from order history.
func SplitCustomer(orders []OrderView) (current, past []OrderView) {
	current = []OrderView{}
	past = []OrderView{}
	for _, o := range orders {
		if o.Status.IsPast() {
			past = append(past, o)
			continue
		}
		current = append(current, o)
	}
	return current, past
}

// Summarize builds the admin dashboard in one pass over the projections.
func Summarize(orders []OrderView) Dashboard {
	counts := make(map[enums.OrderStatus]int, len(enums.OrderStatuses()))
	for _, status := range enums.OrderStatuses() {
		counts[status] = 0
	}
	for _, o := range orders {
		counts[o.Status]++
	}
	return Dashboard{
		PendingReview: PendingReview(orders),
		InTransit:     InTransit(orders),
		Completed:     Completed(orders),
		Revenue:       Revenue(orders),
		Counts:        counts,
		Total:         len(orders),
	}
}

func filter(orders []OrderView, keep func(OrderView) bool) []OrderView {
	out := []OrderView{}
	for _, o := range orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
