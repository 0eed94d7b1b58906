package models

import "time"

// Attributes is the canonical catalog tuple of a collectible.
type Attributes struct {
	Title    string  `json:"title" db:"title"`
	Model    *string `json:"model_name,omitempty" db:"model_name"`
	Pattern  *string `json:"pattern_name,omitempty" db:"pattern_name"`
	Backdrop *string `json:"backdrop_name,omitempty" db:"backdrop_name"`
}

type Asset struct {
	ID             int64      `json:"id" db:"id"`
	GiftID         int64      `json:"gift_id" db:"gift_id"`
	OwnerID        int64      `json:"owner_id" db:"owner_id"`
	ListedPrice    *int64     `json:"listed_price,omitempty" db:"listed_price"`
	BundleID       *int64     `json:"bundle_id,omitempty" db:"bundle_id"`
	CustodyAccount *string    `json:"custody_account,omitempty" db:"custody_account"`
	Attributes     Attributes `json:"attributes"`
}

func (a *Asset) Listed() bool { return a.ListedPrice != nil }

// Tradable reports whether the asset may change hands on its own: it is
// neither held in a custody account nor part of a bundle.
func (a *Asset) Tradable() bool {
	return a.CustodyAccount == nil && a.BundleID == nil
}

// Deal is the canonical ownership-transfer record consumed by analytics.
type Deal struct {
	ID        int64     `json:"id" db:"id"`
	GiftID    int64     `json:"gift_id" db:"gift_id"`
	AssetID   int64     `json:"nft_id" db:"nft_id"`
	SellerID  int64     `json:"seller_id" db:"seller_id"`
	BuyerID   int64     `json:"buyer_id" db:"buyer_id"`
	Price     int64     `json:"price" db:"price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
