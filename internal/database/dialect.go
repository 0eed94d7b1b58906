package database

import "fmt"

// Dialect captures the SQL differences between the production MySQL store
// and the embedded SQLite store.
type Dialect struct {
	Name       string
	DriverName string

	// ForUpdate and SkipLocked are appended to locking reads. SQLite has no
	// row locks; its single writer already serializes transactions.
	ForUpdate  string
	SkipLocked string

	// InsertIgnore starts an insert that silently skips duplicate keys.
	InsertIgnore string

	Schema []string
}

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

var MySQL = Dialect{
	Name:         "mysql",
	DriverName:   "mysql",
	ForUpdate:    " FOR UPDATE",
	SkipLocked:   " FOR UPDATE SKIP LOCKED",
	InsertIgnore: "INSERT IGNORE INTO",
	Schema:       mysqlSchema,
}

var SQLite = Dialect{
	Name:         "sqlite",
	DriverName:   "sqlite",
	InsertIgnore: "INSERT OR IGNORE INTO",
	Schema:       sqliteSchema,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
	user_id BIGINT NOT NULL PRIMARY KEY,
	available_balance BIGINT NOT NULL DEFAULT 0,
	frozen_balance BIGINT NOT NULL DEFAULT 0,
	CONSTRAINT chk_accounts_available_non_negative CHECK (available_balance >= 0),
	CONSTRAINT chk_accounts_frozen_non_negative CHECK (frozen_balance >= 0)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS gifts (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	model_name VARCHAR(255) NULL,
	pattern_name VARCHAR(255) NULL,
	backdrop_name VARCHAR(255) NULL,
	INDEX ix_gifts_title (title)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS assets (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	gift_id BIGINT NOT NULL,
	owner_id BIGINT NOT NULL,
	listed_price BIGINT NULL,
	bundle_id BIGINT NULL,
	custody_account VARCHAR(255) NULL,
	INDEX ix_assets_owner_price (owner_id, listed_price),
	INDEX ix_assets_gift_price (gift_id, listed_price),
	CONSTRAINT chk_assets_price_positive CHECK (listed_price IS NULL OR listed_price > 0)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS promotions (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	nft_id BIGINT NOT NULL,
	is_active TINYINT NOT NULL DEFAULT 1,
	ends_at BIGINT NOT NULL,
	INDEX ix_promotions_nft_active (nft_id, is_active)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS buy_orders (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	buyer_id BIGINT NOT NULL,
	title VARCHAR(255) NOT NULL,
	model_name VARCHAR(255) NULL,
	pattern_name VARCHAR(255) NULL,
	backdrop_name VARCHAR(255) NULL,
	price_limit BIGINT NOT NULL,
	quantity_total INT NOT NULL,
	quantity_remaining INT NOT NULL,
	frozen_amount BIGINT NOT NULL,
	status VARCHAR(32) NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	INDEX ix_buy_orders_buyer (buyer_id),
	INDEX ix_buy_orders_title_status_price_created (title, status, price_limit DESC, created_at ASC),
	INDEX ix_buy_orders_title_model_pattern_backdrop (title, model_name, pattern_name, backdrop_name),
	CONSTRAINT chk_buy_orders_quantity_positive CHECK (quantity_total > 0),
	CONSTRAINT chk_buy_orders_remaining_non_negative CHECK (quantity_remaining >= 0),
	CONSTRAINT chk_buy_orders_price_positive CHECK (price_limit > 0),
	CONSTRAINT chk_buy_orders_frozen_non_negative CHECK (frozen_amount >= 0)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS asset_deals (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	gift_id BIGINT NOT NULL,
	nft_id BIGINT NOT NULL,
	seller_id BIGINT NOT NULL,
	buyer_id BIGINT NOT NULL,
	price BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	INDEX ix_asset_deals_seller_buyer (seller_id, buyer_id),
	INDEX ix_asset_deals_gift_price (gift_id, price),
	CONSTRAINT chk_asset_deals_price_positive CHECK (price > 0)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS buy_order_fills (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	order_id BIGINT NOT NULL,
	nft_id BIGINT NOT NULL,
	gift_id BIGINT NOT NULL,
	buyer_id BIGINT NOT NULL,
	seller_id BIGINT NOT NULL,
	reserved_unit_price BIGINT NOT NULL,
	execution_price BIGINT NOT NULL,
	commission BIGINT NOT NULL,
	seller_amount BIGINT NOT NULL,
	source VARCHAR(32) NOT NULL,
	deal_id BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	INDEX ix_buy_order_fills_order_nft (order_id, nft_id),
	INDEX ix_buy_order_fills_buyer_seller (buyer_id, seller_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS order_events (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	event_type VARCHAR(64) NOT NULL,
	order_id BIGINT NULL,
	nft_id BIGINT NULL,
	actor_user_id BIGINT NULL,
	counterparty_user_id BIGINT NULL,
	amount BIGINT NULL,
	meta JSON NULL,
	created_at BIGINT NOT NULL,
	INDEX ix_order_events_order (order_id),
	INDEX ix_order_events_nft (nft_id),
	INDEX ix_order_events_type (event_type),
	INDEX ix_order_events_created (created_at)
) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
	user_id INTEGER NOT NULL PRIMARY KEY,
	available_balance INTEGER NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
	frozen_balance INTEGER NOT NULL DEFAULT 0 CHECK (frozen_balance >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS gifts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	model_name TEXT NULL,
	pattern_name TEXT NULL,
	backdrop_name TEXT NULL
)`,
	`CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	gift_id INTEGER NOT NULL,
	owner_id INTEGER NOT NULL,
	listed_price INTEGER NULL CHECK (listed_price IS NULL OR listed_price > 0),
	bundle_id INTEGER NULL,
	custody_account TEXT NULL
)`,
	`CREATE TABLE IF NOT EXISTS promotions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nft_id INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	ends_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS buy_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	model_name TEXT NULL,
	pattern_name TEXT NULL,
	backdrop_name TEXT NULL,
	price_limit INTEGER NOT NULL CHECK (price_limit > 0),
	quantity_total INTEGER NOT NULL CHECK (quantity_total > 0),
	quantity_remaining INTEGER NOT NULL CHECK (quantity_remaining >= 0),
	frozen_amount INTEGER NOT NULL CHECK (frozen_amount >= 0),
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS asset_deals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	gift_id INTEGER NOT NULL,
	nft_id INTEGER NOT NULL,
	seller_id INTEGER NOT NULL,
	buyer_id INTEGER NOT NULL,
	price INTEGER NOT NULL CHECK (price > 0),
	created_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS buy_order_fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL,
	nft_id INTEGER NOT NULL,
	gift_id INTEGER NOT NULL,
	buyer_id INTEGER NOT NULL,
	seller_id INTEGER NOT NULL,
	reserved_unit_price INTEGER NOT NULL,
	execution_price INTEGER NOT NULL,
	commission INTEGER NOT NULL,
	seller_amount INTEGER NOT NULL,
	source TEXT NOT NULL,
	deal_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS order_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id INTEGER NULL,
	nft_id INTEGER NULL,
	actor_user_id INTEGER NULL,
	counterparty_user_id INTEGER NULL,
	amount INTEGER NULL,
	meta TEXT NULL,
	created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS ix_buy_orders_title_status_price_created ON buy_orders (title, status, price_limit DESC, created_at ASC)`,
	`CREATE INDEX IF NOT EXISTS ix_buy_orders_buyer ON buy_orders (buyer_id)`,
	`CREATE INDEX IF NOT EXISTS ix_assets_owner_price ON assets (owner_id, listed_price)`,
	`CREATE INDEX IF NOT EXISTS ix_promotions_nft_active ON promotions (nft_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS ix_buy_order_fills_order_nft ON buy_order_fills (order_id, nft_id)`,
	`CREATE INDEX IF NOT EXISTS ix_order_events_order ON order_events (order_id)`,
}
