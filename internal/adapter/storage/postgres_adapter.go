package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// PostgresAdapter is the remote cart gateway and order creator for a Postgres
// backend. Tables come from internal/migrate.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error) {
	const q = `
SELECT product_ref, quantity, product, added_at
FROM cart_lines
WHERE owner_id = $1 AND quantity > 0
ORDER BY added_at
`
	rows, err := p.pool.Query(ctx, q, owner.String())
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.RemoteLine
	for rows.Next() {
		var line domain.RemoteLine
		var product []byte
		if err := rows.Scan(&line.ProductRef, &line.Quantity, &product, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if err := json.Unmarshal(product, &line.Product); err != nil {
			return nil, fmt.Errorf("decode product snapshot: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (p *PostgresAdapter) UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error {
	const q = `
INSERT INTO cart_lines (owner_id, product_ref, quantity, product, added_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, now())
ON CONFLICT (owner_id, product_ref)
DO UPDATE SET quantity = EXCLUDED.quantity, product = EXCLUDED.product, updated_at = now()
`
	product, err := json.Marshal(line.Product)
	if err != nil {
		return fmt.Errorf("encode product snapshot: %w", err)
	}
	addedAt := line.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	if _, err := p.pool.Exec(ctx, q, owner.String(), line.ProductRef, line.Quantity, string(product), addedAt); err != nil {
		return fmt.Errorf("upsert cart line: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error {
	const q = `DELETE FROM cart_lines WHERE owner_id = $1 AND product_ref = $2`
	if _, err := p.pool.Exec(ctx, q, owner.String(), productRef); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) DeleteAll(ctx context.Context, owner domain.Owner) error {
	const q = `DELETE FROM cart_lines WHERE owner_id = $1`
	if _, err := p.pool.Exec(ctx, q, owner.String()); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Create(ctx context.Context, order domain.OrderSnapshot) (domain.OrderReceipt, error) {
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("encode totals: %w", err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID string
	err = tx.QueryRow(ctx, `
INSERT INTO orders (id, order_number, owner_id, status, delivery_address, phone, notes, totals, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
RETURNING id
`,
		order.ID, order.OrderNumber, order.Owner.String(), string(order.Status),
		order.Delivery.Address, order.Delivery.Phone, order.Delivery.Notes, string(totals), order.CreatedAt,
	).Scan(&orderID)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range order.Items {
		batch.Queue(`
INSERT INTO order_items (order_id, product_ref, name, unit_price, currency, quantity, subtotal)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric)
`, orderID, item.ProductRef, item.Name, item.UnitPrice.String(), item.Currency, item.Quantity, item.Subtotal.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("commit order: %w", err)
	}
	return domain.OrderReceipt{OrderID: orderID, OrderNumber: order.OrderNumber}, nil
}
