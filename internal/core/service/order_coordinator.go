package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

type SubmitRequest struct {
	DeliveryAddress string
	PhoneNumber     string
	Notes           string
}

// activeCart is the part of CartEngine the coordinator needs.
type activeCart interface {
	CartOf(owner domain.Owner) (domain.Cart, bool)
	ClearFor(owner domain.Owner) bool
}

type OrderCoordinator struct {
	cart    activeCart
	creator port.OrderCreator
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrderCoordinator(cart activeCart, creator port.OrderCreator, logger *zap.Logger) *OrderCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderCoordinator{
		cart:    cart,
		creator: creator,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit freezes the active cart into an order and hands it to the order creator.
// Only owner's cart is cleared, and only when creation succeeds; creation errors are
// returned as-is and never retried here.
func (c *OrderCoordinator) Submit(ctx context.Context, owner domain.Owner, req SubmitRequest) (domain.OrderSnapshot, error) {
	owner = owner.Normalize()
	cart, active := c.cart.CartOf(owner)
	if !active {
		return domain.OrderSnapshot{}, fmt.Errorf("%w: %s", domain.ErrOwnerMismatch, owner)
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" || strings.TrimSpace(req.PhoneNumber) == "" {
		return domain.OrderSnapshot{}, fmt.Errorf("%w: address and phone required", domain.ErrInvalidDelivery)
	}

	if cart.IsEmpty() {
		return domain.OrderSnapshot{}, domain.ErrEmptyCart
	}

	order := c.buildSnapshot(owner, cart, req)

	receipt, err := c.creator.Create(ctx, order.Clone())
	if err != nil {
		c.logger.Warn("order creation failed",
			zap.String("owner", owner.String()),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		return domain.OrderSnapshot{}, err
	}

	if receipt.OrderID != "" {
		order.ID = receipt.OrderID
	}
	if receipt.OrderNumber != "" {
		order.OrderNumber = receipt.OrderNumber
	}

	// the identity may have changed while the order was in flight
	if !c.cart.ClearFor(owner) {
		c.logger.Info("submitting owner no longer active, cleared its stored cart only",
			zap.String("owner", owner.String()),
		)
	}
	c.logger.Info("order submitted",
		zap.String("owner", owner.String()),
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("items", len(order.Items)),
		zap.Strings("currencies", order.Currencies()),
	)
	return order, nil
}

func (c *OrderCoordinator) buildSnapshot(owner domain.Owner, cart domain.Cart, req SubmitRequest) domain.OrderSnapshot {
	now := c.now()
	items, totals := domain.FreezeLines(cart.Lines)
	return domain.OrderSnapshot{
		ID:          uuid.NewString(),
		OrderNumber: newOrderNumber(now),
		Owner:       owner,
		Items:       items,
		Totals:      totals,
		Delivery: domain.DeliveryInfo{
			Address: strings.TrimSpace(req.DeliveryAddress),
			Phone:   strings.TrimSpace(req.PhoneNumber),
			Notes:   strings.TrimSpace(req.Notes),
		},
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
	}
}

// newOrderNumber is human readable and traceable; it is not an idempotency key.
func newOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(suffix))
}
