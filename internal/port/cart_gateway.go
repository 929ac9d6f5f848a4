package port

import (
	"context"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// CartGateway is the remote authoritative cart store. Calls are independent and
// not transactional across lines; any of them may fail.
type CartGateway interface {
	// FetchCart returns every remote line of the owner's cart
	FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error)

	// UpsertLine writes one line, last write wins
	UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error

	DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error

	DeleteAll(ctx context.Context, owner domain.Owner) error
}
