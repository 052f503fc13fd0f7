// Copyright (c) 2025 La Comanda Ops
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/la-comanda/internal/notify"
)

// ChangePublisher broadcasts an order document change onto the tenant's
// change feed. Satisfied by changefeed.Publisher.
type ChangePublisher interface {
	PublishChange(ctx context.Context, tenantID string, change notify.Change) error
}

// OrderStore persists kitchen orders and publishes a change document on
// every write. It stands in for the order CRUD service at the boundary
// the notification pipeline consumes.
type OrderStore struct {
	db        *sql.DB
	publisher ChangePublisher
}

// NewOrderStore initializes the schema and returns a ready store.
// publisher may be nil, in which case writes are silent (no feed).
func NewOrderStore(db *sql.DB, publisher ChangePublisher) (*OrderStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		restaurante_id TEXT NOT NULL,
		table_id TEXT NOT NULL,
		items TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_tenant_status ON orders(restaurante_id, status);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize orders schema: %w", err)
	}
	return &OrderStore{db: db, publisher: publisher}, nil
}

// CreateOrder inserts a new pending order and publishes the "added"
// change. A failed publish does not fail the create; the notification
// is advisory and displays re-sync through ListPending.
func (s *OrderStore) CreateOrder(ctx context.Context, tenantID, tableID string, items []notify.OrderItem) (notify.Order, error) {
	order := notify.Order{
		ID:        uuid.New().String(),
		TableID:   tableID,
		Items:     items,
		Status:    notify.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return notify.Order{}, fmt.Errorf("failed to marshal order items: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, restaurante_id, table_id, items, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, tenantID, order.TableID, string(itemsJSON), order.Status, order.CreatedAt)
	if err != nil {
		return notify.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	s.publish(ctx, tenantID, notify.Change{Kind: notify.ChangeAdded, Order: order})
	return order, nil
}

// UpdateStatus transitions an order's status and publishes the
// "modified" change. Status transitions never re-broadcast as new
// orders; the filter downstream ignores modified changes.
func (s *OrderStore) UpdateStatus(ctx context.Context, tenantID, orderID, status string) (notify.Order, error) {
	switch status {
	case notify.StatusPending, notify.StatusInProgress, notify.StatusReady:
	default:
		return notify.Order{}, fmt.Errorf("invalid order status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND restaurante_id = ?`,
		status, orderID, tenantID)
	if err != nil {
		return notify.Order{}, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return notify.Order{}, err
	}
	if affected == 0 {
		return notify.Order{}, fmt.Errorf("order %s not found for tenant %s", orderID, tenantID)
	}

	order, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return notify.Order{}, err
	}

	s.publish(ctx, tenantID, notify.Change{Kind: notify.ChangeModified, Order: order})
	return order, nil
}

// ListPending returns a tenant's pending orders, newest first. This is
// the re-sync read path displays fall back to after a missed push.
func (s *OrderStore) ListPending(ctx context.Context, tenantID string) ([]notify.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_id, items, status, created_at FROM orders
		 WHERE restaurante_id = ? AND status = ? ORDER BY created_at DESC`,
		tenantID, notify.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []notify.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *OrderStore) getOrder(ctx context.Context, tenantID, orderID string) (notify.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, items, status, created_at FROM orders
		 WHERE id = ? AND restaurante_id = ?`,
		orderID, tenantID)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (notify.Order, error) {
	var order notify.Order
	var itemsJSON string
	if err := row.Scan(&order.ID, &order.TableID, &itemsJSON, &order.Status, &order.CreatedAt); err != nil {
		return notify.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &order.Items); err != nil {
		return notify.Order{}, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	return order, nil
}

func (s *OrderStore) publish(ctx context.Context, tenantID string, change notify.Change) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, tenantID, change); err != nil {
		log.Printf("Failed to publish %s change for order %s (tenant %s): %v",
			change.Kind, change.Order.ID, tenantID, err)
	}
}
