package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, checkout_id, user_id, total_sats, status, intent_id, items, created_at, updated_at, paid_at`

// Repository is the order collaborator backed by postgres. Orders are keyed
// by checkout id so every call is safe to repeat.
type Repository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewRepository(db *sql.DB, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{db: db, log: log.With("component", "orders_repository")}
}

func (r *Repository) RunMigrations(dir string) error {
	return repository.Migrate(r.db, dir, "orders_schema_migrations")
}

func (r *Repository) CreateOrGetPendingOrder(ctx context.Context, checkoutID, buyerID string, snapshot *d.CartSnapshot) (string, error) {
	if snapshot == nil {
		return "", errors.New("create order: snapshot is required")
	}
	itemsJSON, err := json.Marshal(snapshot.Items)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order items: %w", err)
	}

	id := uuid.New()
	query := `INSERT INTO orders (id, checkout_id, user_id, total_sats, status, items, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`
	_, insertErr := r.db.ExecContext(ctx, query,
		id,
		checkoutID,
		buyerID,
		snapshot.TotalSats,
		OrderStatusPending,
		itemsJSON)
	if insertErr == nil {
		r.log.InfoContext(ctx, "pending order created", "order_id", id, "checkout_id", checkoutID)
		return id.String(), nil
	}

	var pqErr *pq.Error
	if !errors.As(insertErr, &pqErr) || pqErr.Code != "23505" {
		return "", fmt.Errorf("insert order: %w", insertErr)
	}

	existing, err := r.GetOrderByCheckoutID(ctx, checkoutID)
	if err != nil {
		return "", err
	}
	if existing.UserID != buyerID || existing.TotalSats != snapshot.TotalSats {
		return "", fmt.Errorf("%w: order %s has buyer %s total %d", ErrCheckoutMismatch, existing.ID, existing.UserID, existing.TotalSats)
	}
	return existing.ID.String(), nil
}

// MarkOrderPaid is a no-op when the order is already paid by the same intent.
func (r *Repository) MarkOrderPaid(ctx context.Context, orderID, intentID string) error {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	query := `UPDATE orders SET status = $1, intent_id = $2, paid_at = NOW(), updated_at = NOW()
	          WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, OrderStatusPaid, intentID, id, OrderStatusPending)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if n == 1 {
		return nil
	}

	order, err := r.GetOrderByID(ctx, id)
	if err != nil {
		return err
	}
	if order.Status == OrderStatusPaid && order.IntentID == intentID {
		return nil
	}
	return fmt.Errorf("%w: order %s paid by %s", ErrOrderAlreadyPaid, orderID, order.IntentID)
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *Repository) GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_id = $1`, checkoutID)
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var order Order
	var itemsJSON []byte
	var paidAt sql.NullTime
	if err := row.Scan(
		&order.ID,
		&order.CheckoutID,
		&order.UserID,
		&order.TotalSats,
		&order.Status,
		&order.IntentID,
		&itemsJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
		&paidAt,
	); err != nil {
		return nil, err
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}
