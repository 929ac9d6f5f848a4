package port

import "context"

// LocalStore is durable on-device key/value storage that survives restarts.
// Writes to the same key are applied in the order they are issued.
type LocalStore interface {
	// Get returns domain.ErrNotFound when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	// Delete is a no-op for absent keys
	Delete(ctx context.Context, key string) error
}
