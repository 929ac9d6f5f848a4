package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

const (
	defaultSyncWorkers   = 4
	defaultSyncQueueSize = 1024
	defaultRemoteTimeout = 10 * time.Second
)

type EngineOption func(*CartEngine)

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *CartEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *CartEngine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithSyncWorkers(n int) EngineOption {
	return func(e *CartEngine) {
		if n > 0 {
			e.workerCount = n
		}
	}
}

func WithSyncQueueSize(n int) EngineOption {
	return func(e *CartEngine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func WithRemoteTimeout(d time.Duration) EngineOption {
	return func(e *CartEngine) {
		if d > 0 {
			e.remoteTimeout = d
		}
	}
}

// WithGuestHandoff controls whether the guest cart moves to the first authenticated
// owner on login. Enabled by default.
func WithGuestHandoff(enabled bool) EngineOption {
	return func(e *CartEngine) {
		e.guestHandoff = enabled
	}
}

// CartEngine owns the in-memory cart of the active owner. Mutations apply in memory,
// are written through to the local store and pushed to the remote gateway in the
// background. Remote failures trigger a reload from local and remote state.
type CartEngine struct {
	local  port.LocalStore
	remote port.CartGateway
	logger *zap.Logger
	now    func() time.Time

	workerCount   int
	queueSize     int
	remoteTimeout time.Duration
	guestHandoff  bool

	mu     sync.Mutex
	owner  domain.Owner
	cart   domain.Cart
	closed bool
	// unread is set when the owner's snapshot could not be read; durable writes are
	// held back so they cannot replace it.
	unread bool

	writer    *localWriter
	syncQueue chan syncTask
	resyncs   singleflight.Group
	pending   sync.WaitGroup
	workers   sync.WaitGroup
}

// NewCartEngine starts the local writer and the remote sync workers. No owner is
// active until the first Load or SwitchOwner.
func NewCartEngine(local port.LocalStore, remote port.CartGateway, opts ...EngineOption) *CartEngine {
	e := &CartEngine{
		local:         local,
		remote:        remote,
		logger:        zap.NewNop(),
		now:           time.Now,
		workerCount:   defaultSyncWorkers,
		queueSize:     defaultSyncQueueSize,
		remoteTimeout: defaultRemoteTimeout,
		guestHandoff:  true,
		cart:          domain.NewCart(domain.GuestOwner),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.writer = newLocalWriter(local, e.logger, &e.pending)
	e.syncQueue = make(chan syncTask, e.queueSize)
	for i := 0; i < e.workerCount; i++ {
		e.workers.Add(1)
		go e.syncWorker(i)
	}
	return e
}

func (e *CartEngine) Owner() domain.Owner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Cart returns a copy of the active cart.
func (e *CartEngine) Cart() domain.Cart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.Clone()
}

// CartOf returns a copy of owner's cart if owner is the active owner.
func (e *CartEngine) CartOf(owner domain.Owner) (domain.Cart, bool) {
	owner = owner.Normalize()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != owner {
		return domain.Cart{}, false
	}
	return e.cart.Clone(), true
}

// Load activates owner (switching if needed) and reconciles its cart with the remote
// gateway. It never fails: when the remote is unreachable the local cart is returned.
func (e *CartEngine) Load(ctx context.Context, owner domain.Owner) domain.Cart {
	owner = owner.Normalize()
	ctx, cancel := e.ioContext(ctx)
	defer cancel()

	e.mu.Lock()
	if e.owner != owner {
		e.switchLocked(ctx, owner)
	}
	e.mu.Unlock()

	return e.reconcile(ctx, owner)
}

// SwitchOwner discards the previous owner's in-memory cart and loads the new owner's.
// Switching to the already active owner is a no-op.
func (e *CartEngine) SwitchOwner(ctx context.Context, owner domain.Owner) {
	owner = owner.Normalize()
	ctx, cancel := e.ioContext(ctx)
	defer cancel()

	e.mu.Lock()
	if e.owner == owner {
		e.mu.Unlock()
		return
	}
	e.switchLocked(ctx, owner)
	e.mu.Unlock()

	e.reconcile(ctx, owner)
}

// ToggleLine removes the product's line when present, otherwise inserts it with
// quantity. Only validation errors are returned.
func (e *CartEngine) ToggleLine(product domain.ProductSnapshot, quantity int) error {
	if err := product.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.cart.Find(product.ProductRef); i >= 0 {
		e.removeAtLocked(i)
		return nil
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, quantity)
	}

	line := domain.CartLine{
		ProductRef: product.ProductRef,
		Product:    product,
		Quantity:   quantity,
		AddedAt:    e.now(),
	}
	e.cart.Lines = append(e.cart.Lines, line)
	e.persistLocked()
	e.enqueueRemoteLocked(syncTask{owner: e.owner, op: opUpsert, line: line})
	return nil
}

// SetQuantity updates a line in place; quantity <= 0 removes it. Unknown product refs
// are ignored.
func (e *CartEngine) SetQuantity(productRef string, quantity int) error {
	if strings.TrimSpace(productRef) == "" {
		return fmt.Errorf("%w: product ref required", domain.ErrInvalidProduct)
	}
	if quantity <= 0 {
		e.RemoveLine(productRef)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.cart.Find(productRef)
	if i < 0 || e.cart.Lines[i].Quantity == quantity {
		return nil
	}
	e.cart.Lines[i].Quantity = quantity
	e.persistLocked()
	e.enqueueRemoteLocked(syncTask{owner: e.owner, op: opUpsert, line: e.cart.Lines[i]})
	return nil
}

func (e *CartEngine) RemoveLine(productRef string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.cart.Find(productRef); i >= 0 {
		e.removeAtLocked(i)
	}
}

// Clear empties the cart, deletes the durable snapshot and removes every remote line.
func (e *CartEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked(e.owner)
}

// ClearFor clears owner's cart. When owner is no longer active only its durable
// snapshot and remote lines are removed and the active cart is left alone; the
// result reports whether the active cart was cleared.
func (e *CartEngine) ClearFor(owner domain.Owner) bool {
	owner = owner.Normalize()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.owner == owner {
		e.clearLocked(owner)
		return true
	}
	if !e.closed {
		e.writer.delete(owner.StorageKey())
	}
	e.enqueueRemoteLocked(syncTask{owner: owner, op: opDeleteAll})
	return false
}

// Wait blocks until every issued local write, remote call and triggered reload
// has settled.
func (e *CartEngine) Wait() {
	e.pending.Wait()
}

// Close waits for outstanding work and stops the workers. Mutations after Close
// only affect memory.
func (e *CartEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.pending.Wait()
	close(e.syncQueue)
	e.workers.Wait()
	e.writer.close()
}

func (e *CartEngine) clearLocked(owner domain.Owner) {
	e.cart.Lines = []domain.CartLine{}
	e.cart.UpdatedAt = e.now()
	e.unread = false
	if !e.closed {
		e.writer.delete(owner.StorageKey())
	}
	e.enqueueRemoteLocked(syncTask{owner: owner, op: opDeleteAll})
}

// ioContext detaches owner switches and loads from caller cancellation and bounds
// them by the remote timeout.
func (e *CartEngine) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), e.remoteTimeout)
}

func (e *CartEngine) removeAtLocked(i int) {
	ref := e.cart.Lines[i].ProductRef
	e.cart.Lines = append(e.cart.Lines[:i:i], e.cart.Lines[i+1:]...)
	e.persistLocked()
	e.enqueueRemoteLocked(syncTask{owner: e.owner, op: opDelete, productRef: ref})
}

func (e *CartEngine) persistLocked() {
	e.cart.UpdatedAt = e.now()
	if e.closed {
		return
	}
	if e.unread {
		e.logger.Warn("local cart unread, holding back durable write", zap.String("owner", e.owner.String()))
		return
	}
	data, err := e.cart.MarshalSnapshot()
	if err != nil {
		e.logger.Error("encode cart snapshot", zap.String("owner", e.owner.String()), zap.Error(err))
		return
	}
	e.writer.set(e.owner.StorageKey(), data)
}

// switchLocked must be called with e.mu held. Pending writes of the previous owner
// are flushed before the new owner's snapshot is read.
func (e *CartEngine) switchLocked(ctx context.Context, owner domain.Owner) {
	previous := e.owner
	var handoff []domain.CartLine
	if e.guestHandoff && previous == domain.GuestOwner && !owner.IsGuest() && !e.cart.IsEmpty() {
		handoff = e.cart.Clone().Lines
	}
	e.writer.flush()

	e.owner = owner
	var ok bool
	e.cart, ok = e.readSnapshot(ctx, owner)
	e.unread = !ok
	if len(handoff) > 0 {
		e.cart = adoptLines(e.cart, handoff)
		e.persistLocked()
		// the guest copy stays until the owner's snapshot holds the lines
		if ok && !e.closed {
			e.writer.delete(previous.StorageKey())
		}
	}

	e.logger.Info("cart owner switched",
		zap.String("from", previous.String()),
		zap.String("to", owner.String()),
		zap.Int("lines", len(e.cart.Lines)),
		zap.Int("handed_over", len(handoff)),
	)
}

// readSnapshot reports false only when the store could not be read. A missing or
// undecodable snapshot is an empty cart.
func (e *CartEngine) readSnapshot(ctx context.Context, owner domain.Owner) (domain.Cart, bool) {
	data, err := e.local.Get(ctx, owner.StorageKey())
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewCart(owner), true
	}
	if err != nil {
		e.logger.Error("read local cart", zap.String("owner", owner.String()), zap.Error(err))
		return domain.NewCart(owner), false
	}

	cart, err := domain.UnmarshalSnapshot(data)
	if err != nil {
		e.logger.Error("decode local cart", zap.String("owner", owner.String()), zap.Error(err))
		return domain.NewCart(owner), true
	}
	cart.Owner = owner
	return cart, true
}

// cartFor returns the active cart when owner is active, otherwise owner's stored
// snapshot. It never hands out another owner's lines.
func (e *CartEngine) cartFor(ctx context.Context, owner domain.Owner) domain.Cart {
	if cart, ok := e.CartOf(owner); ok {
		return cart
	}
	cart, _ := e.readSnapshot(ctx, owner)
	return cart
}

// rereadLocked retries a failed snapshot read and folds the stored lines into the
// active cart. Lines changed in memory since the switch win.
func (e *CartEngine) rereadLocked(ctx context.Context) {
	if !e.unread {
		return
	}
	stored, ok := e.readSnapshot(ctx, e.owner)
	if !ok {
		return
	}
	e.unread = false
	e.cart = adoptLines(e.cart, stored.Lines)
	e.persistLocked()
	e.logger.Info("local cart read recovered",
		zap.String("owner", e.owner.String()),
		zap.Int("lines", len(e.cart.Lines)),
	)
}

// reconcile fetches the remote cart and merges it into the active cart when owner is
// still active. Guests have no remote cart.
func (e *CartEngine) reconcile(ctx context.Context, owner domain.Owner) domain.Cart {
	e.mu.Lock()
	if e.owner == owner {
		e.rereadLocked(ctx)
	}
	e.mu.Unlock()

	if owner.IsGuest() {
		return e.cartFor(ctx, owner)
	}

	remote, err := e.remote.FetchCart(ctx, owner)
	if err != nil {
		e.logger.Warn("remote cart unavailable, using local cart",
			zap.String("owner", owner.String()),
			zap.Error(err),
		)
		return e.cartFor(ctx, owner)
	}

	e.mu.Lock()
	if e.owner != owner {
		e.mu.Unlock()
		e.logger.Debug("dropping remote cart for inactive owner", zap.String("owner", owner.String()))
		return e.cartFor(ctx, owner)
	}
	defer e.mu.Unlock()

	merged, pushes := mergeCarts(e.cart, remote, e.now())
	e.cart = merged
	e.persistLocked()
	for _, line := range pushes {
		e.enqueueRemoteLocked(syncTask{owner: owner, op: opUpsert, line: line, reconcile: true})
	}

	e.logger.Info("cart reconciled",
		zap.String("owner", owner.String()),
		zap.Int("remote_lines", len(remote)),
		zap.Int("lines", len(e.cart.Lines)),
		zap.Int("pushed", len(pushes)),
	)
	return e.cart.Clone()
}
