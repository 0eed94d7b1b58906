// Package assets lets an owner list or unlist an asset. Listing hands the
// asset to the auto-matcher.
package assets

import (
	"context"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
	"nftmarket/internal/repository"
)

// ListingHook is told about every committed listing.
type ListingHook interface {
	OnAssetListed(assetID int64)
}

type Service struct {
	db   *database.DB
	repo *repository.Repository
	hook ListingHook
	log  logrus.FieldLogger
}

func NewService(db *database.DB, repo *repository.Repository, hook ListingHook, logger logrus.FieldLogger) *Service {
	return &Service{db: db, repo: repo, hook: hook, log: logging.Component(logger, "assets")}
}

// SetPrice lists the asset at price, or unlists it when price is nil. A
// bundled asset may be unlisted but not listed; an asset in custody may do
// neither.
func (s *Service) SetPrice(ctx context.Context, assetID, ownerID int64, price *int64) (*models.Asset, error) {
	if price != nil && *price <= 0 {
		return nil, apperr.InvalidArgument("price", "must be positive")
	}

	var asset *models.Asset
	err := s.db.InTx(ctx, func(uow *database.UnitOfWork) error {
		var err error
		if asset, err = s.repo.LockAssetForSale(ctx, uow, assetID); err != nil {
			return err
		}
		if asset.OwnerID != ownerID {
			return apperr.AssetNotOwned(assetID)
		}
		if asset.CustodyAccount != nil || (price != nil && asset.BundleID != nil) {
			return apperr.AssetNotAvailable(assetID)
		}
		if err := s.repo.SetListedPrice(ctx, uow, assetID, price); err != nil {
			return err
		}
		asset.ListedPrice = price
		return uow.Commit()
	})
	if err != nil {
		return nil, err
	}

	logger := s.log.WithFields(logrus.Fields{"nft_id": assetID, "owner_id": ownerID})
	if price == nil {
		logger.Info("Asset removed from sale")
		return asset, nil
	}
	logger.WithField("price", *price).Info("Asset listed")
	if s.hook != nil {
		s.hook.OnAssetListed(assetID)
	}
	return asset, nil
}
