package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

type countingGateway struct {
	err   error
	calls int
	lines []domain.RemoteLine
}

func (c *countingGateway) FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error) {
	c.calls++
	return c.lines, c.err
}

func (c *countingGateway) UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error {
	c.calls++
	return c.err
}

func (c *countingGateway) DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error {
	c.calls++
	return c.err
}

func (c *countingGateway) DeleteAll(ctx context.Context, owner domain.Owner) error {
	c.calls++
	return c.err
}

func TestBreakerGateway_PassesThrough(t *testing.T) {
	next := &countingGateway{lines: []domain.RemoteLine{{ProductRef: "a", Quantity: 2}}}
	gw := NewBreakerGateway(next, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, zaptest.NewLogger(t))

	lines, err := gw.FetchCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, next.lines, lines)
	require.NoError(t, gw.UpsertLine(context.Background(), "user-1", domain.CartLine{ProductRef: "a", Quantity: 1}))
	assert.Equal(t, 2, next.calls)
}

func TestBreakerGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("connection refused")
	next := &countingGateway{err: boom}
	gw := NewBreakerGateway(next, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.ErrorIs(t, gw.DeleteLine(ctx, "user-1", "a"), boom)
	assert.ErrorIs(t, gw.DeleteAll(ctx, "user-1"), boom)
	assert.Equal(t, gobreaker.StateOpen, gw.State())

	_, err := gw.FetchCart(ctx, "user-1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls, "open breaker must not reach the gateway")
}
