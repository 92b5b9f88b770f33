package domain

import (
	"fmt"
	"math"
	"time"
)

type CartSnapshotItem struct {
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	UnitPriceSats int64  `json:"unit_price_sats"`
	Quantity      int32  `json:"quantity"`
	SubtotalSats  int64  `json:"subtotal_sats"`
}

// CartSnapshot represents the full cart state at checkout time.
// Totals are computed once in NewCartSnapshot and never recomputed.
type CartSnapshot struct {
	Items          []CartSnapshotItem `json:"items"`
	SubtotalSats   int64              `json:"subtotal_sats"`
	NetworkFeeSats int64              `json:"network_fee_sats"`
	TotalSats      int64              `json:"total_sats"`
	CapturedAt     time.Time          `json:"captured_at"`
}

// NewCartSnapshot copies items into a new snapshot. The caller's slice is not
// retained, so later cart edits cannot leak into an in-flight checkout.
func NewCartSnapshot(items []CartItem, networkFeeSats int64, capturedAt time.Time) (*CartSnapshot, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	if networkFeeSats < 0 {
		return nil, fmt.Errorf("%w: negative network fee %d", ErrInvalidCartItem, networkFeeSats)
	}

	snapshot := &CartSnapshot{
		Items:          make([]CartSnapshotItem, 0, len(items)),
		NetworkFeeSats: networkFeeSats,
		CapturedAt:     capturedAt.UTC(),
	}

	var subtotal int64
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %d has quantity %d", ErrInvalidCartItem, item.ProductID, item.Quantity)
		}
		if item.UnitPriceSats < 0 {
			return nil, fmt.Errorf("%w: product %d has negative price", ErrInvalidCartItem, item.ProductID)
		}
		if item.UnitPriceSats > 0 && int64(item.Quantity) > math.MaxInt64/item.UnitPriceSats {
			return nil, fmt.Errorf("%w: product %d subtotal overflows", ErrInvalidCartItem, item.ProductID)
		}
		line := item.UnitPriceSats * int64(item.Quantity)
		if subtotal > math.MaxInt64-line {
			return nil, fmt.Errorf("%w: cart subtotal overflows", ErrInvalidCartItem)
		}
		subtotal += line

		snapshot.Items = append(snapshot.Items, CartSnapshotItem{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			UnitPriceSats: item.UnitPriceSats,
			Quantity:      item.Quantity,
			SubtotalSats:  line,
		})
	}
	if subtotal > math.MaxInt64-networkFeeSats {
		return nil, fmt.Errorf("%w: cart total overflows", ErrInvalidCartItem)
	}

	snapshot.SubtotalSats = subtotal
	snapshot.TotalSats = subtotal + networkFeeSats
	return snapshot, nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *CartSnapshot) Clone() *CartSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Items = append([]CartSnapshotItem(nil), s.Items...)
	return &c
}

// ItemCount is the number of units across all lines.
func (s *CartSnapshot) ItemCount() int64 {
	var n int64
	for _, item := range s.Items {
		n += int64(item.Quantity)
	}
	return n
}
