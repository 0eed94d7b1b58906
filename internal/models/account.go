package models

type Balance struct {
	UserID    int64 `json:"user_id" db:"user_id"`
	Available int64 `json:"available_balance" db:"available_balance"`
	Frozen    int64 `json:"frozen_balance" db:"frozen_balance"`
}
