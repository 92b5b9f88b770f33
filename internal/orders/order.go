package orders

import (
	"errors"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderAlreadyPaid = errors.New("order already paid by another intent")
	ErrCheckoutMismatch = errors.New("existing order does not match checkout")
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
)

type Order struct {
	ID         uuid.UUID
	CheckoutID string
	UserID     string
	TotalSats  int64
	Status     OrderStatus
	IntentID   string
	Items      []d.CartSnapshotItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PaidAt     *time.Time
}
