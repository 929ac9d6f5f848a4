package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// BreakerGateway fails remote calls fast once the gateway has failed MaxFailures
// times in a row, so resyncs during an outage do not wait on timeouts.
type BreakerGateway struct {
	next port.CartGateway
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerGateway(next port.CartGateway, settings BreakerSettings, logger *zap.Logger) *BreakerGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "cart-gateway",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerGateway{next: next, cb: cb}
}

func (b *BreakerGateway) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerGateway) FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.FetchCart(ctx, owner)
	})
	if err != nil {
		return nil, err
	}
	lines, _ := res.([]domain.RemoteLine)
	return lines, nil
}

func (b *BreakerGateway) UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error {
	return b.run(func() error { return b.next.UpsertLine(ctx, owner, line) })
}

func (b *BreakerGateway) DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error {
	return b.run(func() error { return b.next.DeleteLine(ctx, owner, productRef) })
}

func (b *BreakerGateway) DeleteAll(ctx context.Context, owner domain.Owner) error {
	return b.run(func() error { return b.next.DeleteAll(ctx, owner) })
}

func (b *BreakerGateway) run(call func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, call()
	})
	return err
}
