//go:build integration

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/database"
	"nftmarket/internal/database/dbtest"
	"nftmarket/internal/models"
)

// Run with: MARKET_TEST_MYSQL_DSN=user:pass@tcp(localhost:3306)/market_test go test -tags integration ./internal/repository
// The database is emptied before each test.
func openMySQL(t *testing.T) *database.DB {
	t.Helper()
	dsn := os.Getenv("MARKET_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("MARKET_TEST_MYSQL_DSN not set")
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection("mysql", dsn, 4, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	for _, table := range []string{
		"order_events", "buy_order_fills", "asset_deals", "buy_orders",
		"promotions", "assets", "gifts", "accounts",
	} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	return db
}

func TestMySQLBestOrderSkipsLockedRows(t *testing.T) {
	db := openMySQL(t)
	r := newRepo(db)
	ctx := context.Background()

	gift := dbtest.CreateGift(t, db, "Cake", "M", "", "")
	assetID := dbtest.CreateAsset(t, db, gift, 2, 80)
	asset, err := r.LockAssetForSale(ctx, db, assetID)
	require.NoError(t, err)

	best := insertOrder(t, r, db, 10, models.Criteria{Title: "Cake"}, 100, 1, epoch)
	next := insertOrder(t, r, db, 11, models.Criteria{Title: "Cake"}, 90, 1, epoch)

	first, err := db.Begin(ctx)
	require.NoError(t, err)
	defer first.Close()
	got, err := r.FindBestOrderForAsset(ctx, first, asset)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, best.ID, got.ID)

	second, err := db.Begin(ctx)
	require.NoError(t, err)
	defer second.Close()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err = r.FindBestOrderForAsset(waitCtx, second, asset)
	require.NoError(t, err, "locked row must be skipped, not waited on")
	require.NotNil(t, got)
	assert.Equal(t, next.ID, got.ID)

	require.NoError(t, second.Rollback())
	require.NoError(t, first.Rollback())
}

func TestMySQLAssetLockLeavesGiftUnlocked(t *testing.T) {
	db := openMySQL(t)
	r := newRepo(db)
	ctx := context.Background()

	gift := dbtest.CreateGift(t, db, "Cake", "", "", "")
	a1 := dbtest.CreateAsset(t, db, gift, 2, 50)
	a2 := dbtest.CreateAsset(t, db, gift, 3, 50)

	first, err := db.Begin(ctx)
	require.NoError(t, err)
	defer first.Close()
	_, err = r.LockAssetForSale(ctx, first, a1)
	require.NoError(t, err)

	// a sibling asset of the same gift is not blocked by the join
	second, err := db.Begin(ctx)
	require.NoError(t, err)
	defer second.Close()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = r.LockAssetForSale(waitCtx, second, a2)
	require.NoError(t, err)
	require.NoError(t, second.Rollback())

	// the locked asset itself is
	third, err := db.Begin(ctx)
	require.NoError(t, err)
	defer third.Close()
	shortCtx, cancelShort := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelShort()
	start := time.Now()
	_, err = r.LockAssetForSale(shortCtx, third, a1)
	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	_ = third.Rollback()

	require.NoError(t, first.Rollback())
}
