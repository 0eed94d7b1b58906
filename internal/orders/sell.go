package orders

import (
	"context"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/lock"
	"nftmarket/internal/models"
	"nftmarket/internal/notify"
	"nftmarket/internal/settlement"
)

type SellRequest struct {
	OrderID  int64
	SellerID int64
	// AssetID picks the asset to sell; nil lets the service choose the
	// seller's lowest-id matching asset.
	AssetID *int64
}

type SellResult struct {
	Status            models.OrderStatus `json:"status"`
	OrderID           int64              `json:"order_id"`
	AssetID           int64              `json:"nft_id"`
	DealID            int64              `json:"deal_id"`
	FillID            int64              `json:"fill_id"`
	ExecutionPrice    int64              `json:"execution_price"`
	Commission        int64              `json:"commission"`
	SellerAmount      int64              `json:"seller_amount"`
	QuantityRemaining int                `json:"quantity_remaining"`
}

// ManualSell sells one of the seller's assets into the order at the order's
// price limit. Checks that need no lock run first; everything is re-checked
// under the asset lock and the order and asset row locks.
func (s *Service) ManualSell(ctx context.Context, req SellRequest) (*SellResult, error) {
	preview, err := s.repo.GetOrder(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !preview.Fillable() {
		return nil, apperr.OrderNotActive(req.OrderID)
	}
	if preview.BuyerID == req.SellerID {
		return nil, apperr.SelfTrade(req.OrderID, req.SellerID)
	}

	assetID, err := s.candidateAsset(ctx, preview, req)
	if err != nil {
		return nil, err
	}

	var (
		fill  *models.Fill
		order *models.BuyOrder
	)
	err = s.locks.Do(ctx, lock.AssetSaleKey(assetID), s.locks.Defaults(), func(ctx context.Context) error {
		return s.db.InTx(ctx, func(uow *database.UnitOfWork) error {
			var err error
			if order, err = s.repo.LockActiveOrderForUpdate(ctx, uow, req.OrderID); err != nil {
				return err
			}
			asset, err := s.repo.LockAssetForSale(ctx, uow, assetID)
			if err != nil {
				return err
			}
			if asset.OwnerID != req.SellerID {
				return apperr.AssetNotOwned(asset.ID)
			}
			if !asset.Tradable() {
				return apperr.AssetNotAvailable(asset.ID)
			}
			if !order.Criteria.Matches(asset.Attributes) {
				return apperr.AttributeMismatch(order.ID, asset.ID)
			}

			fill, err = s.engine.ExecuteFill(ctx, uow, settlement.FillRequest{
				Order:          order,
				Asset:          asset,
				BuyerID:        order.BuyerID,
				SellerID:       req.SellerID,
				ExecutionPrice: order.PriceLimit,
				Source:         models.FillSourceManualSell,
			})
			if err != nil {
				return err
			}
			return uow.Commit()
		})
	})
	if err != nil {
		s.refuse(ctx, req, assetID, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":  fill.OrderID,
		"nft_id":    fill.AssetID,
		"seller_id": fill.SellerID,
		"price":     fill.ExecutionPrice,
	}).Info("Asset sold into buy order")
	s.publish(ctx, notify.Filled(fill))

	return &SellResult{
		Status:            order.Status,
		OrderID:           fill.OrderID,
		AssetID:           fill.AssetID,
		DealID:            fill.DealID,
		FillID:            fill.ID,
		ExecutionPrice:    fill.ExecutionPrice,
		Commission:        fill.Commission,
		SellerAmount:      fill.SellerAmount,
		QuantityRemaining: order.QuantityRemaining,
	}, nil
}

func (s *Service) candidateAsset(ctx context.Context, order *models.BuyOrder, req SellRequest) (int64, error) {
	if req.AssetID != nil {
		return *req.AssetID, nil
	}
	asset, err := s.repo.FindMatchingAssetForOrder(ctx, s.db, order, req.SellerID, nil, false)
	if err != nil {
		return 0, err
	}
	if asset == nil {
		return 0, apperr.NoMatchingAsset(order.ID, req.SellerID)
	}
	return asset.ID, nil
}

// refuse records a rejected sale in its own transaction. It is best effort:
// lock contention and storage failures are not recorded, and a failure to
// record is only logged.
func (s *Service) refuse(ctx context.Context, req SellRequest, assetID int64, cause error) {
	e, ok := apperr.As(cause)
	if !ok {
		return
	}
	switch e.Kind {
	case apperr.KindLockTimeout, apperr.KindLockUnavailable, apperr.KindTransaction:
		return
	}

	err := s.db.InTx(ctx, func(uow *database.UnitOfWork) error {
		if err := s.repo.AppendEvent(ctx, uow, &models.Event{
			Type:    models.EventOrderRefused,
			OrderID: models.Int64Ptr(req.OrderID),
			AssetID: models.Int64Ptr(assetID),
			ActorID: models.Int64Ptr(req.SellerID),
			Meta: map[string]interface{}{
				"code":   e.Code,
				"reason": e.Message,
			},
		}); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		s.log.WithError(err).WithField("order_id", req.OrderID).Warn("Failed to record refused sale")
	}
}
