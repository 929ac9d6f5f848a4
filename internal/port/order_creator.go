package port

import (
	"context"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

type OrderCreator interface {
	// Create persists the order snapshot; it may reject with validation or transient errors
	Create(ctx context.Context, order domain.OrderSnapshot) (domain.OrderReceipt, error)
}
