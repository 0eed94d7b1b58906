// Package dbtest provides a migrated SQLite database and seed helpers for
// package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/database"
	"nftmarket/internal/models"
)

func Open(t testing.TB) *database.DB {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return OpenWithLogger(t, logger)
}

// OpenWithLogger is Open with the database's log output going to logger.
func OpenWithLogger(t testing.TB, logger logrus.FieldLogger) *database.DB {
	t.Helper()
	db, err := database.NewConnection("sqlite", filepath.Join(t.TempDir(), "market.db"), 1, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func CreateAccount(t testing.TB, db *database.DB, userID, available int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO accounts (user_id, available_balance, frozen_balance) VALUES (?, ?, 0)`, userID, available)
	require.NoError(t, err)
}

func Balance(t testing.TB, db *database.DB, userID int64) models.Balance {
	t.Helper()
	b := models.Balance{UserID: userID}
	err := db.QueryRow(`SELECT available_balance, frozen_balance FROM accounts WHERE user_id = ?`, userID).
		Scan(&b.Available, &b.Frozen)
	require.NoError(t, err)
	return b
}

// CreateGift inserts a catalog entry. Empty strings are stored as NULL.
func CreateGift(t testing.TB, db *database.DB, title, model, pattern, backdrop string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO gifts (title, model_name, pattern_name, backdrop_name) VALUES (?, ?, ?, ?)`,
		title, nullable(model), nullable(pattern), nullable(backdrop))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// CreateAsset inserts an asset; price 0 means not listed.
func CreateAsset(t testing.TB, db *database.DB, giftID, ownerID, price int64) int64 {
	t.Helper()
	var listed interface{}
	if price > 0 {
		listed = price
	}
	res, err := db.Exec(`INSERT INTO assets (gift_id, owner_id, listed_price) VALUES (?, ?, ?)`, giftID, ownerID, listed)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func SetBundle(t testing.TB, db *database.DB, assetID, bundleID int64) {
	t.Helper()
	_, err := db.Exec(`UPDATE assets SET bundle_id = ? WHERE id = ?`, bundleID, assetID)
	require.NoError(t, err)
}

func SetCustody(t testing.TB, db *database.DB, assetID int64, account string) {
	t.Helper()
	_, err := db.Exec(`UPDATE assets SET custody_account = ? WHERE id = ?`, account, assetID)
	require.NoError(t, err)
}

func CreatePromotion(t testing.TB, db *database.DB, assetID, endsAt int64) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO promotions (nft_id, is_active, ends_at) VALUES (?, 1, ?)`, assetID, endsAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func PromotionActive(t testing.TB, db *database.DB, promotionID int64) bool {
	t.Helper()
	var active int
	require.NoError(t, db.QueryRow(`SELECT is_active FROM promotions WHERE id = ?`, promotionID).Scan(&active))
	return active == 1
}

func AssetOwner(t testing.TB, db *database.DB, assetID int64) (owner int64, listed bool) {
	t.Helper()
	var price *int64
	require.NoError(t, db.QueryRow(`SELECT owner_id, listed_price FROM assets WHERE id = ?`, assetID).Scan(&owner, &price))
	return owner, price != nil
}

func Count(t testing.TB, db *database.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func CountEvents(t testing.TB, db *database.DB, eventType models.EventType) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM order_events WHERE event_type = ?`, string(eventType)).Scan(&n))
	return n
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
