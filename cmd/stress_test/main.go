package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/config"
	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
)

const (
	productCount  = 10
	totalRequests = 500
	switchEvery   = 50
)

func main() {
	ctx := context.Background()
	cfg := config.FromEnv()

	logger, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	remote := storage.NewMySQLAdapter(db)
	if err := remote.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	namespace := "stress-" + uuid.NewString()
	owners := []domain.Owner{domain.Owner(namespace + "-a"), domain.Owner(namespace + "-b")}
	defer func() {
		for _, owner := range owners {
			remote.DeleteAll(ctx, owner)
		}
		keys, _ := rdb.Keys(ctx, namespace+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}()

	engine := service.NewCartEngine(
		storage.NewRedisStore(rdb, namespace),
		storage.NewBreakerGateway(remote, storage.BreakerSettings{MaxFailures: uint32(cfg.BreakerFailures), OpenTimeout: cfg.BreakerOpen}, logger),
		service.WithLogger(logger),
		service.WithSyncWorkers(cfg.SyncWorkers),
	)
	defer engine.Close()
	engine.Load(ctx, owners[0])

	var toggles, updates, rejected atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		if i > 0 && i%switchEvery == 0 {
			wg.Wait()
			engine.SwitchOwner(ctx, owners[(i/switchEvery)%len(owners)])
		}

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ref := fmt.Sprintf("sku-%d", n%productCount)
			p := domain.ProductSnapshot{
				ProductRef: ref,
				Name:       "stress " + ref,
				UnitPrice:  decimal.NewFromInt(int64(100 * (n%productCount + 1))),
				Currency:   "CDF",
			}

			var err error
			if n%3 == 0 {
				err = engine.SetQuantity(ref, n%7)
				updates.Add(1)
			} else {
				err = engine.ToggleLine(p, n%5+1)
				toggles.Add(1)
			}
			if err != nil {
				rejected.Add(1)
			}
		}(i)
	}

	wg.Wait()
	engine.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Owners:           %d\n", len(owners))
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Toggles:          %d\n", toggles.Load())
	fmt.Printf("Quantity Updates: %d\n", updates.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	for _, owner := range owners {
		local := engine.Load(ctx, owner).Quantities()
		engine.Wait()

		lines, err := remote.FetchCart(ctx, owner)
		if err != nil {
			log.Fatalf("failed to fetch remote cart: %v", err)
		}
		remoteQty := make(map[string]int, len(lines))
		for _, line := range lines {
			remoteQty[line.ProductRef] = line.Quantity
		}

		if reflect.DeepEqual(local, remoteQty) {
			fmt.Printf("PASS: %s converged with %d lines\n", owner, len(local))
		} else {
			failed = true
			fmt.Printf("FAIL: %s local %v remote %v\n", owner, local, remoteQty)
		}
	}
	if failed {
		log.Fatal("carts did not converge")
	}
}
