package assets

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database/dbtest"
	"nftmarket/internal/models"
	"nftmarket/internal/repository"
)

type hookSpy struct{ listed []int64 }

func (h *hookSpy) OnAssetListed(assetID int64) { h.listed = append(h.listed, assetID) }

func TestSetPrice(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	db := dbtest.Open(t)
	hook := &hookSpy{}
	svc := NewService(db, repository.New(db.Dialect, logger), hook, logger)
	ctx := context.Background()

	gift := dbtest.CreateGift(t, db, "Cake", "", "", "")
	asset := dbtest.CreateAsset(t, db, gift, 2, 0)

	got, err := svc.SetPrice(ctx, asset, 2, models.Int64Ptr(70))
	require.NoError(t, err)
	assert.Equal(t, int64(70), *got.ListedPrice)
	_, listed := dbtest.AssetOwner(t, db, asset)
	assert.True(t, listed)
	assert.Equal(t, []int64{asset}, hook.listed)

	_, err = svc.SetPrice(ctx, asset, 2, nil)
	require.NoError(t, err)
	_, listed = dbtest.AssetOwner(t, db, asset)
	assert.False(t, listed)
	assert.Len(t, hook.listed, 1)
}

func TestSetPriceRejections(t *testing.T) {
	db := dbtest.Open(t)
	hook := &hookSpy{}
	svc := NewService(db, repository.New(db.Dialect, nil), hook, nil)
	ctx := context.Background()

	gift := dbtest.CreateGift(t, db, "Cake", "", "", "")
	asset := dbtest.CreateAsset(t, db, gift, 2, 0)
	bundled := dbtest.CreateAsset(t, db, gift, 2, 50)
	dbtest.SetBundle(t, db, bundled, 1)
	custody := dbtest.CreateAsset(t, db, gift, 2, 0)
	dbtest.SetCustody(t, db, custody, "vault")

	_, err := svc.SetPrice(ctx, asset, 3, models.Int64Ptr(10))
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))
	_, err = svc.SetPrice(ctx, asset, 2, models.Int64Ptr(0))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	_, err = svc.SetPrice(ctx, 999, 2, models.Int64Ptr(10))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = svc.SetPrice(ctx, bundled, 2, models.Int64Ptr(10))
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
	_, err = svc.SetPrice(ctx, custody, 2, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	// a bundled asset can still be taken off sale
	_, err = svc.SetPrice(ctx, bundled, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, hook.listed)
}
