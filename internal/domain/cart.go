package domain

import "time"

// Cart is the buyer's live cart as owned by the cart collaborator.
type Cart struct {
	BuyerID   string     `json:"buyer_id" bson:"user_id"`
	Items     []CartItem `json:"items" bson:"items"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

type CartItem struct {
	ProductID     int64     `json:"product_id" bson:"product_id"`
	ProductName   string    `json:"product_name" bson:"product_name"`
	UnitPriceSats int64     `json:"unit_price_sats" bson:"unit_price_sats"`
	Quantity      int32     `json:"quantity" bson:"quantity"`
	AddedAt       time.Time `json:"added_at" bson:"added_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
