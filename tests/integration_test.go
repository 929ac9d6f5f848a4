package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
)

type testEnv struct {
	redis *redis.Client
	mysql *sql.DB
	db    *storage.MySQLAdapter
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/cartsync?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		rdb.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		rdb.Close()
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.Close()
		db.Close()
	})

	adapter := storage.NewMySQLAdapter(db)
	require.NoError(t, adapter.EnsureSchema(context.Background()))
	return &testEnv{redis: rdb, mysql: db, db: adapter}
}

// newDevice starts an engine with its own Redis namespace, as a second install would.
func (env *testEnv) newDevice(t *testing.T) *service.CartEngine {
	namespace := "it-" + uuid.NewString()
	engine := service.NewCartEngine(
		storage.NewRedisStore(env.redis, namespace),
		env.db,
		service.WithLogger(zaptest.NewLogger(t)),
	)
	t.Cleanup(func() {
		engine.Close()
		keys, _ := env.redis.Keys(context.Background(), namespace+":*").Result()
		if len(keys) > 0 {
			env.redis.Del(context.Background(), keys...)
		}
	})
	return engine
}

func (env *testEnv) cleanupOwner(t *testing.T, owner domain.Owner) {
	t.Cleanup(func() {
		ctx := context.Background()
		env.mysql.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = ?`, owner.String())
		env.mysql.ExecContext(ctx, `DELETE oi FROM order_items oi JOIN orders o ON o.id = oi.order_id WHERE o.owner_id = ?`, owner.String())
		env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE owner_id = ?`, owner.String())
	})
}

func product(ref string, price string) domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ProductRef: ref,
		Name:       "product " + ref,
		UnitPrice:  decimal.RequireFromString(price),
		Currency:   "CDF",
	}
}

func remoteQuantities(t *testing.T, env *testEnv, owner domain.Owner) map[string]int {
	t.Helper()
	lines, err := env.db.FetchCart(context.Background(), owner)
	require.NoError(t, err)
	out := make(map[string]int)
	for _, line := range lines {
		out[line.ProductRef] = line.Quantity
	}
	return out
}

func TestIntegration_CartFollowsUserAcrossDevices(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := domain.Owner("it-user-" + uuid.NewString())
	env.cleanupOwner(t, owner)

	phone := env.newDevice(t)
	monitor := service.NewIdentityMonitor(phone, zaptest.NewLogger(t))
	monitor.Observe(ctx, domain.GuestOwner)
	require.NoError(t, phone.ToggleLine(product("rice", "1000"), 2))

	monitor.Observe(ctx, owner)
	require.NoError(t, phone.ToggleLine(product("oil", "2500.50"), 1))
	phone.Wait()

	assert.Equal(t, map[string]int{"rice": 2, "oil": 1}, remoteQuantities(t, env, owner))

	tablet := env.newDevice(t)
	tablet.Load(ctx, domain.GuestOwner)
	require.NoError(t, tablet.ToggleLine(product("salt", "300"), 4))
	tablet.Load(ctx, owner)
	tablet.Wait()

	want := map[string]int{"rice": 2, "oil": 1, "salt": 4}
	assert.Equal(t, want, tablet.Cart().Quantities())
	assert.Equal(t, want, remoteQuantities(t, env, owner))

	phone.Load(ctx, owner)
	assert.Equal(t, want, phone.Cart().Quantities())
}

func TestIntegration_SubmitOrderPersistsAndClears(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := domain.Owner("it-user-" + uuid.NewString())
	env.cleanupOwner(t, owner)

	engine := env.newDevice(t)
	engine.Load(ctx, owner)
	require.NoError(t, engine.ToggleLine(product("rice", "1000"), 2))
	require.NoError(t, engine.ToggleLine(product("oil", "500"), 3))

	coordinator := service.NewOrderCoordinator(engine, env.db, zaptest.NewLogger(t))
	order, err := coordinator.Submit(ctx, owner, service.SubmitRequest{
		DeliveryAddress: "12 Avenue du Commerce, Kinshasa",
		PhoneNumber:     "+243810000000",
	})
	require.NoError(t, err)
	engine.Wait()

	totals, err := env.db.OrderTotals(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, totals["CDF"].Equal(decimal.NewFromInt(3500)))

	var items int
	require.NoError(t, env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = ?`, order.ID).Scan(&items))
	assert.Equal(t, 2, items)

	assert.True(t, engine.Cart().IsEmpty())
	assert.Empty(t, remoteQuantities(t, env, owner))
}

func TestIntegration_ConcurrentMutationsConverge(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := domain.Owner("it-user-" + uuid.NewString())
	env.cleanupOwner(t, owner)

	engine := env.newDevice(t)
	engine.Load(ctx, owner)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ref := fmt.Sprintf("sku-%d", n%5)
			if err := engine.ToggleLine(product(ref, "100"), n+1); err != nil {
				t.Errorf("toggle %s: %v", ref, err)
				return
			}
			if err := engine.SetQuantity(ref, n+2); err != nil {
				t.Errorf("set %s: %v", ref, err)
			}
		}(i)
	}
	wg.Wait()
	engine.Wait()

	// remote writes may land out of order; a load pushes local truth back
	engine.Load(ctx, owner)
	engine.Wait()

	assert.Equal(t, engine.Cart().Quantities(), remoteQuantities(t, env, owner))
}
