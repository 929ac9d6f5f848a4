package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

var (
	errRemoteDown = errors.New("remote unavailable")
	errLocalDown  = errors.New("local store unavailable")
)

// memoryStore is an in-memory LocalStore.
type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	setErr  error
	getErr  error
	getKeys []string
	setKeys []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getKeys = append(m.getKeys, key)
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setKeys = append(m.setKeys, key)
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memoryStore) setGetErr(err error) {
	m.mu.Lock()
	m.getErr = err
	m.mu.Unlock()
}

func (m *memoryStore) snapshot(t *testing.T, owner domain.Owner) map[string]int {
	t.Helper()
	m.mu.Lock()
	data, ok := m.data[owner.StorageKey()]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	cart, err := domain.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return cart.Quantities()
}

func (m *memoryStore) seed(t *testing.T, cart domain.Cart) {
	t.Helper()
	data, err := cart.MarshalSnapshot()
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	m.mu.Lock()
	m.data[cart.Owner.StorageKey()] = data
	m.mu.Unlock()
}

// fakeGateway is an in-memory CartGateway with injectable failures.
type fakeGateway struct {
	mu       sync.Mutex
	lines    map[domain.Owner]map[string]domain.RemoteLine
	fetchErr   error
	writeErr   error
	block      chan struct{}
	fetchBlock map[domain.Owner]chan struct{}
	fetches    map[domain.Owner]int
	calls      []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		lines:      make(map[domain.Owner]map[string]domain.RemoteLine),
		fetchBlock: make(map[domain.Owner]chan struct{}),
		fetches:    make(map[domain.Owner]int),
	}
}

func (g *fakeGateway) FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.fetches[owner]++
	g.calls = append(g.calls, "fetch:"+owner.String())
	block := g.fetchBlock[owner]
	g.mu.Unlock()
	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	var out []domain.RemoteLine
	for _, line := range g.lines[owner] {
		out = append(out, line)
	}
	return out, nil
}

func (g *fakeGateway) UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error {
	if err := g.wait(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "upsert:"+owner.String()+":"+line.ProductRef)
	if g.writeErr != nil {
		return g.writeErr
	}
	if g.lines[owner] == nil {
		g.lines[owner] = make(map[string]domain.RemoteLine)
	}
	g.lines[owner][line.ProductRef] = domain.RemoteLine{
		ProductRef: line.ProductRef,
		Product:    line.Product,
		Quantity:   line.Quantity,
		AddedAt:    line.AddedAt,
	}
	return nil
}

func (g *fakeGateway) DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error {
	if err := g.wait(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "delete:"+owner.String()+":"+productRef)
	if g.writeErr != nil {
		return g.writeErr
	}
	delete(g.lines[owner], productRef)
	return nil
}

func (g *fakeGateway) DeleteAll(ctx context.Context, owner domain.Owner) error {
	if err := g.wait(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "delete_all:"+owner.String())
	if g.writeErr != nil {
		return g.writeErr
	}
	delete(g.lines, owner)
	return nil
}

func (g *fakeGateway) wait() error {
	g.mu.Lock()
	block := g.block
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (g *fakeGateway) seed(owner domain.Owner, ref string, qty int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lines[owner] == nil {
		g.lines[owner] = make(map[string]domain.RemoteLine)
	}
	g.lines[owner][ref] = domain.RemoteLine{ProductRef: ref, Product: product(ref, 100, "USD"), Quantity: qty}
}

func (g *fakeGateway) remote(owner domain.Owner) map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int)
	for ref, line := range g.lines[owner] {
		out[ref] = line.Quantity
	}
	return out
}

func (g *fakeGateway) fetchCount(owner domain.Owner) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[owner]
}

func (g *fakeGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) setWriteErr(err error) {
	g.mu.Lock()
	g.writeErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) setFetchErr(err error) {
	g.mu.Lock()
	g.fetchErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) setFetchBlock(owner domain.Owner, block chan struct{}) {
	g.mu.Lock()
	g.fetchBlock[owner] = block
	g.mu.Unlock()
}

func (g *fakeGateway) setBlock(block chan struct{}) {
	g.mu.Lock()
	g.block = block
	g.mu.Unlock()
}

func product(ref string, price int64, currency string) domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ProductRef: ref,
		Name:       "product " + ref,
		UnitPrice:  decimal.NewFromInt(price),
		Currency:   currency,
		StockHint:  10,
	}
}

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func cartWith(owner domain.Owner, quantities map[string]int) domain.Cart {
	cart := domain.NewCart(owner)
	for ref, qty := range quantities {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductRef: ref,
			Product:    product(ref, 100, "USD"),
			Quantity:   qty,
			AddedAt:    fixedNow,
		})
	}
	return cart
}

func newTestEngine(t *testing.T, local *memoryStore, remote *fakeGateway, opts ...EngineOption) *CartEngine {
	t.Helper()
	base := []EngineOption{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return fixedNow }),
		WithSyncWorkers(1),
	}
	engine := NewCartEngine(local, remote, append(base, opts...)...)
	t.Cleanup(engine.Close)
	return engine
}
