package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const OrderStatusPending OrderStatus = "pending"

type DeliveryInfo struct {
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Notes   string `json:"notes,omitempty"`
}

// OrderItem is a cart line frozen at submission time.
type OrderItem struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Currency   string          `json:"currency"`
	Quantity   int             `json:"quantity"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// OrderSnapshot is immutable once built; it is the payload handed to order creation.
type OrderSnapshot struct {
	ID          string                     `json:"id"`
	OrderNumber string                     `json:"order_number"`
	Owner       Owner                      `json:"owner"`
	Items       []OrderItem                `json:"items"`
	Totals      map[string]decimal.Decimal `json:"totals"`
	Delivery    DeliveryInfo               `json:"delivery"`
	Status      OrderStatus                `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
}

type OrderReceipt struct {
	OrderID     string
	OrderNumber string
}

// FreezeLines projects cart lines into order items and sums unitPrice*quantity per
// currency. Currencies are never converted into each other.
func FreezeLines(lines []CartLine) ([]OrderItem, map[string]decimal.Decimal) {
	items := make([]OrderItem, 0, len(lines))
	totals := make(map[string]decimal.Decimal)
	for _, line := range lines {
		subtotal := line.Product.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, OrderItem{
			ProductRef: line.ProductRef,
			Name:       line.Product.Name,
			UnitPrice:  line.Product.UnitPrice,
			Currency:   line.Product.Currency,
			Quantity:   line.Quantity,
			Subtotal:   subtotal,
		})
		totals[line.Product.Currency] = totals[line.Product.Currency].Add(subtotal)
	}
	return items, totals
}

// Clone copies the items and totals so the result shares nothing with o.
func (o OrderSnapshot) Clone() OrderSnapshot {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.Totals = make(map[string]decimal.Decimal, len(o.Totals))
	for currency, total := range o.Totals {
		out.Totals[currency] = total
	}
	return out
}

// Currencies returns the total keys in stable order.
func (o OrderSnapshot) Currencies() []string {
	out := make([]string, 0, len(o.Totals))
	for currency := range o.Totals {
		out = append(out, currency)
	}
	sort.Strings(out)
	return out
}
