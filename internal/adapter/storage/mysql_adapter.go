package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS cart_lines (
		owner_id    VARCHAR(128) NOT NULL,
		product_ref VARCHAR(128) NOT NULL,
		quantity    INT NOT NULL,
		product     JSON NOT NULL,
		added_at    DATETIME(6) NOT NULL,
		updated_at  DATETIME(6) NOT NULL,
		PRIMARY KEY (owner_id, product_ref)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               VARCHAR(64) PRIMARY KEY,
		order_number     VARCHAR(64) NOT NULL UNIQUE,
		owner_id         VARCHAR(128) NOT NULL,
		status           VARCHAR(16) NOT NULL,
		delivery_address TEXT NOT NULL,
		phone            VARCHAR(64) NOT NULL,
		notes            TEXT,
		totals           JSON NOT NULL,
		created_at       DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id    VARCHAR(64) NOT NULL,
		product_ref VARCHAR(128) NOT NULL,
		name        VARCHAR(255) NOT NULL,
		unit_price  DECIMAL(18,4) NOT NULL,
		currency    VARCHAR(8) NOT NULL,
		quantity    INT NOT NULL,
		subtotal    DECIMAL(18,4) NOT NULL,
		PRIMARY KEY (order_id, product_ref)
	)`,
}

// MySQLAdapter is the remote cart gateway and order creator backed by MySQL.
// Each call is its own statement; nothing spans lines except order creation.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) FetchCart(ctx context.Context, owner domain.Owner) ([]domain.RemoteLine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_ref, quantity, product, added_at
		FROM cart_lines WHERE owner_id = ? AND quantity > 0
		ORDER BY added_at`, owner.String(),
	)
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

func (m *MySQLAdapter) UpsertLine(ctx context.Context, owner domain.Owner, line domain.CartLine) error {
	product, err := json.Marshal(line.Product)
	if err != nil {
		return fmt.Errorf("encode product snapshot: %w", err)
	}
	addedAt := line.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO cart_lines (owner_id, product_ref, quantity, product, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), product = VALUES(product), updated_at = NOW(6)`,
		owner.String(), line.ProductRef, line.Quantity, product, addedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert cart line: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) DeleteLine(ctx context.Context, owner domain.Owner, productRef string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = ? AND product_ref = ?`,
		owner.String(), productRef)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) DeleteAll(ctx context.Context, owner domain.Owner) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = ?`, owner.String()); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// Create inserts the order and its items in one transaction.
func (m *MySQLAdapter) Create(ctx context.Context, order domain.OrderSnapshot) (domain.OrderReceipt, error) {
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("encode totals: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, owner_id, status, delivery_address, phone, notes, totals, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.Owner.String(), order.Status,
		order.Delivery.Address, order.Delivery.Phone, order.Delivery.Notes, totals, order.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_ref, name, unit_price, currency, quantity, subtotal)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order.ID, item.ProductRef, item.Name, item.UnitPrice.String(), item.Currency, item.Quantity, item.Subtotal.String(),
		)
		if err != nil {
			return domain.OrderReceipt{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("commit order: %w", err)
	}
	return domain.OrderReceipt{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// OrderTotals reads back the stored items of an order and sums them per currency.
func (m *MySQLAdapter) OrderTotals(ctx context.Context, orderID string) (map[string]decimal.Decimal, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT currency, subtotal FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency, subtotal string
		if err := rows.Scan(&currency, &subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		amount, err := decimal.NewFromString(subtotal)
		if err != nil {
			return nil, fmt.Errorf("parse subtotal: %w", err)
		}
		totals[currency] = totals[currency].Add(amount)
	}
	return totals, rows.Err()
}
