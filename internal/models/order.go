package models

import "time"

type OrderStatus string
type FillSource string

const (
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"

	FillSourceAutoMatch  FillSource = "AUTO_MATCH"
	FillSourceManualSell FillSource = "MANUAL_SELL"
)

// Criteria selects the assets an order is willing to buy. A nil filter
// accepts any value of that attribute.
type Criteria struct {
	Title    string  `json:"title" db:"title"`
	Model    *string `json:"model_name,omitempty" db:"model_name"`
	Pattern  *string `json:"pattern_name,omitempty" db:"pattern_name"`
	Backdrop *string `json:"backdrop_name,omitempty" db:"backdrop_name"`
}

// Matches reports whether attrs satisfy every filter of c.
func (c Criteria) Matches(attrs Attributes) bool {
	if c.Title != attrs.Title {
		return false
	}
	return filterAccepts(c.Model, attrs.Model) &&
		filterAccepts(c.Pattern, attrs.Pattern) &&
		filterAccepts(c.Backdrop, attrs.Backdrop)
}

func filterAccepts(filter *string, value *string) bool {
	if filter == nil {
		return true
	}
	return value != nil && *value == *filter
}

type BuyOrder struct {
	ID                int64       `json:"id" db:"id"`
	BuyerID           int64       `json:"buyer_id" db:"buyer_id"`
	Criteria          Criteria    `json:"criteria"`
	PriceLimit        int64       `json:"price_limit" db:"price_limit"`
	QuantityTotal     int         `json:"quantity_total" db:"quantity_total"`
	QuantityRemaining int         `json:"quantity_remaining" db:"quantity_remaining"`
	FrozenAmount      int64       `json:"frozen_amount" db:"frozen_amount"`
	Status            OrderStatus `json:"status" db:"status"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// Fillable reports whether the order can absorb another fill.
func (o *BuyOrder) Fillable() bool {
	return o.Status == OrderStatusActive && o.QuantityRemaining > 0
}

// Fill is the immutable record of one execution of a buy order.
type Fill struct {
	ID                int64      `json:"id" db:"id"`
	OrderID           int64      `json:"order_id" db:"order_id"`
	AssetID           int64      `json:"nft_id" db:"nft_id"`
	GiftID            int64      `json:"gift_id" db:"gift_id"`
	BuyerID           int64      `json:"buyer_id" db:"buyer_id"`
	SellerID          int64      `json:"seller_id" db:"seller_id"`
	ReservedUnitPrice int64      `json:"reserved_unit_price" db:"reserved_unit_price"`
	ExecutionPrice    int64      `json:"execution_price" db:"execution_price"`
	Commission        int64      `json:"commission" db:"commission"`
	SellerAmount      int64      `json:"seller_amount" db:"seller_amount"`
	Refund            int64      `json:"refund" db:"-"`
	Source            FillSource `json:"source" db:"source"`
	DealID            int64      `json:"deal_id" db:"deal_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}
