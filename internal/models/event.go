package models

import "time"

type EventType string

const (
	EventOrderCreated   EventType = "BUY_ORDER_CREATED"
	EventOrderFilled    EventType = "BUY_ORDER_FILLED"
	EventOrderCancelled EventType = "BUY_ORDER_CANCELLED"
	EventOrderRefused   EventType = "BUY_ORDER_REFUSED"
)

// Event is one append-only entry of the order event log.
type Event struct {
	ID             int64                  `json:"id" db:"id"`
	Type           EventType              `json:"event_type" db:"event_type"`
	OrderID        *int64                 `json:"order_id,omitempty" db:"order_id"`
	AssetID        *int64                 `json:"nft_id,omitempty" db:"nft_id"`
	ActorID        *int64                 `json:"actor_user_id,omitempty" db:"actor_user_id"`
	CounterpartyID *int64                 `json:"counterparty_user_id,omitempty" db:"counterparty_user_id"`
	Amount         *int64                 `json:"amount,omitempty" db:"amount"`
	Meta           map[string]interface{} `json:"meta,omitempty" db:"meta"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// Int64Ptr is a small helper for optional id fields.
func Int64Ptr(v int64) *int64 { return &v }

func StringPtr(v string) *string { return &v }
