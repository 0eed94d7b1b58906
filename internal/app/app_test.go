package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/config"
	"nftmarket/internal/database/dbtest"
	"nftmarket/internal/models"
	"nftmarket/internal/orders"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Database.URL = filepath.Join(t.TempDir(), "market.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestListingFillsRestingOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisAddr = mr.Addr()
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := New(ctx, cfg, quietLogger())
	require.NoError(t, err)

	require.NoError(t, a.Ledger.Deposit(ctx, a.DB, 1, 1000))
	gift := dbtest.CreateGift(t, a.DB, "Cake", "", "", "")
	asset := dbtest.CreateAsset(t, a.DB, gift, 2, 0)

	_, err = a.Orders.Create(ctx, orders.CreateRequest{BuyerID: 1, Criteria: models.Criteria{Title: "Cake"}, PriceLimit: 1000})
	require.NoError(t, err)

	_, err = a.Assets.SetPrice(ctx, asset, 2, models.Int64Ptr(600))
	require.NoError(t, err)
	// drain the listing hook before inspecting the books
	a.Pool.Close()
	defer a.Close()

	db := a.DB
	owner, listed := dbtest.AssetOwner(t, db, asset)
	assert.Equal(t, int64(1), owner)
	assert.False(t, listed)
	assert.Equal(t, models.Balance{UserID: 1, Available: 400, Frozen: 0}, dbtest.Balance(t, db, 1))
	assert.Equal(t, int64(594), dbtest.Balance(t, db, 2).Available)
	assert.Equal(t, 1, dbtest.CountEvents(t, db, models.EventOrderFilled))
}

func TestStrictRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisAddr = addr
	require.NoError(t, cfg.Validate())

	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)

	cfg.Lock.Mode = "degraded"
	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	a.Close()
}
