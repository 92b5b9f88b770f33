package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

// Repository is the cart persistence the store needs.
type Repository interface {
	GetCart(ctx context.Context, buyerID string) (*d.Cart, error)
	PutItem(ctx context.Context, buyerID string, item d.CartItem) error
	RemoveItem(ctx context.Context, buyerID string, productID int64) error
	DeleteCart(ctx context.Context, buyerID string) error
}

// MongoRepository keeps one document per buyer in the carts collection.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("carts")}
}

func (m *MongoRepository) GetCart(ctx context.Context, buyerID string) (*d.Cart, error) {
	var cart d.Cart
	err := m.collection.FindOne(ctx, bson.M{"user_id": buyerID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// PutItem adds the item or replaces the quantity and price of an existing
// line for the same product.
func (m *MongoRepository) PutItem(ctx context.Context, buyerID string, item d.CartItem) error {
	now := time.Now().UTC()
	item.AddedAt = now

	for attempt := 0; attempt < 2; attempt++ {
		updated, err := m.updateLine(ctx, buyerID, item)
		if err != nil || updated {
			return err
		}

		push := bson.M{
			"$push":        bson.M{"items": item},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		}
		filter := bson.M{"user_id": buyerID, "items.product_id": bson.M{"$ne": item.ProductID}}
		_, err = m.collection.UpdateOne(ctx, filter, push, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		// the line appeared concurrently: the upsert hit the unique user_id index
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to add new item: %w", err)
		}
	}
	return fmt.Errorf("failed to add item %d: concurrent updates", item.ProductID)
}

func (m *MongoRepository) updateLine(ctx context.Context, buyerID string, item d.CartItem) (bool, error) {
	filter := bson.M{"user_id": buyerID, "items.product_id": item.ProductID}
	update := bson.M{
		"$set": bson.M{
			"items.$.quantity":        item.Quantity,
			"items.$.unit_price_sats": item.UnitPriceSats,
			"items.$.product_name":    item.ProductName,
			"items.$.added_at":        item.AddedAt,
			"updated_at":              item.AddedAt,
		},
	}
	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update existing item: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *MongoRepository) RemoveItem(ctx context.Context, buyerID string, productID int64) error {
	filter := bson.M{"user_id": buyerID, "items.product_id": productID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, buyerID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"user_id": buyerID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
