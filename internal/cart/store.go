package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidItem = errors.New("invalid cart item")

// Store is the cart collaborator: mongo is the source of truth and redis a
// read-through cache in front of it.
type Store struct {
	repo  Repository
	cache Cache
	sfg   singleflight.Group // Prevents cache stampede
	log   *slog.Logger
	now   func() time.Time
}

func NewStore(repo Repository, cache Cache, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, cache: cache, log: log.With("component", "cart_store"), now: time.Now}
}

// GetCart returns an empty cart for a buyer who has none.
func (s *Store) GetCart(ctx context.Context, buyerID string) (*d.Cart, error) {
	v, err, _ := s.sfg.Do(buyerID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, buyerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "buyer_id", buyerID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, buyerID)
		if errors.Is(err, ErrCartNotFound) {
			now := s.now().UTC()
			return &d.Cart{BuyerID: buyerID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(context.WithoutCancel(ctx), buyerID, cart); err != nil {
			s.log.WarnContext(ctx, "cart cache set failed", "buyer_id", buyerID, "error", err)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*d.Cart), nil
}

func (s *Store) PutItem(ctx context.Context, buyerID string, item d.CartItem) error {
	if item.ProductID <= 0 || item.Quantity < 1 || item.UnitPriceSats < 0 {
		return fmt.Errorf("%w: product %d quantity %d price %d", ErrInvalidItem, item.ProductID, item.Quantity, item.UnitPriceSats)
	}
	if err := s.repo.PutItem(ctx, buyerID, item); err != nil {
		return err
	}
	s.invalidate(ctx, buyerID)
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, buyerID string, productID int64) error {
	if err := s.repo.RemoveItem(ctx, buyerID, productID); err != nil {
		return err
	}
	s.invalidate(ctx, buyerID)
	return nil
}

// ClearCart empties the buyer's cart. A missing cart is already clear.
func (s *Store) ClearCart(ctx context.Context, buyerID string) error {
	if err := s.repo.DeleteCart(ctx, buyerID); err != nil && !errors.Is(err, ErrCartNotFound) {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.invalidate(ctx, buyerID)
	return nil
}

func (s *Store) invalidate(ctx context.Context, buyerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, buyerID); err != nil {
		s.log.WarnContext(ctx, "cart cache invalidate failed", "buyer_id", buyerID, "error", err)
	}
}
