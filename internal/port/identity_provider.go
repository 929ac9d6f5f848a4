package port

import "github.com/rl1809/cart-sync/internal/core/domain"

// IdentityProvider emits the active owner on session start, refresh and end.
// Session end emits domain.GuestOwner. The channel is closed when the provider stops.
type IdentityProvider interface {
	Sessions() <-chan domain.Owner
}
