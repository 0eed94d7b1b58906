// Package settlement executes one fill of a buy order against one asset.
// It never opens, commits or rolls back a transaction and never touches the
// distributed lock; the caller owns both.
package settlement

import (
	"context"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/ledger"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
	"nftmarket/internal/repository"
)

type FillRequest struct {
	Order          *models.BuyOrder
	Asset          *models.Asset
	BuyerID        int64
	SellerID       int64
	ExecutionPrice int64
	Source         models.FillSource
}

type Engine struct {
	repo   *repository.Repository
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

func NewEngine(repo *repository.Repository, l *ledger.Ledger, logger logrus.FieldLogger) *Engine {
	return &Engine{repo: repo, ledger: l, log: logging.Component(logger, "settlement")}
}

// ExecuteFill moves the asset to the buyer and settles one unit of the order
// inside uow. Order and asset must already be row-locked by the caller.
// Nothing is persisted when a precondition fails.
func (e *Engine) ExecuteFill(ctx context.Context, uow *database.UnitOfWork, req FillRequest) (*models.Fill, error) {
	if err := checkPreconditions(req); err != nil {
		return nil, err
	}
	order, asset := req.Order, req.Asset

	s, err := e.ledger.Settle(ctx, uow, order, req.SellerID, req.ExecutionPrice)
	if err != nil {
		return nil, err
	}

	if err := e.repo.TransferAsset(ctx, uow, asset.ID, req.BuyerID); err != nil {
		return nil, err
	}
	asset.OwnerID = req.BuyerID
	asset.ListedPrice = nil

	ended, err := e.repo.DeactivatePromotions(ctx, uow, asset.ID)
	if err != nil {
		return nil, err
	}

	deal := &models.Deal{
		GiftID:   asset.GiftID,
		AssetID:  asset.ID,
		SellerID: req.SellerID,
		BuyerID:  req.BuyerID,
		Price:    req.ExecutionPrice,
	}
	if err := e.repo.InsertDeal(ctx, uow, deal); err != nil {
		return nil, err
	}

	order.QuantityRemaining--
	order.FrozenAmount -= s.Reserved
	if order.QuantityRemaining == 0 {
		order.Status = models.OrderStatusFilled
	}
	if err := e.repo.UpdateOrderFill(ctx, uow, order); err != nil {
		return nil, err
	}

	fill := &models.Fill{
		OrderID:           order.ID,
		AssetID:           asset.ID,
		GiftID:            asset.GiftID,
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		ReservedUnitPrice: s.Reserved,
		ExecutionPrice:    s.ExecutionPrice,
		Commission:        s.Commission,
		SellerAmount:      s.SellerAmount,
		Refund:            s.Refund,
		Source:            req.Source,
		DealID:            deal.ID,
		CreatedAt:         deal.CreatedAt,
	}
	if err := e.repo.InsertFill(ctx, uow, fill); err != nil {
		return nil, err
	}

	if err := e.repo.AppendEvent(ctx, uow, &models.Event{
		Type:           models.EventOrderFilled,
		OrderID:        models.Int64Ptr(order.ID),
		AssetID:        models.Int64Ptr(asset.ID),
		ActorID:        models.Int64Ptr(req.SellerID),
		CounterpartyID: models.Int64Ptr(req.BuyerID),
		Amount:         models.Int64Ptr(req.ExecutionPrice),
		Meta: map[string]interface{}{
			"source":             string(req.Source),
			"reserved_price":     s.Reserved,
			"refund":             s.Refund,
			"commission":         s.Commission,
			"seller_amount":      s.SellerAmount,
			"quantity_remaining": order.QuantityRemaining,
			"deal_id":            deal.ID,
			"fill_id":            fill.ID,
		},
		CreatedAt: deal.CreatedAt,
	}); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"order_id":           order.ID,
		"nft_id":             asset.ID,
		"buyer_id":           req.BuyerID,
		"seller_id":          req.SellerID,
		"execution_price":    req.ExecutionPrice,
		"source":             req.Source,
		"quantity_remaining": order.QuantityRemaining,
		"promotions_ended":   ended,
	}).Info("Buy order filled")
	return fill, nil
}

func checkPreconditions(req FillRequest) error {
	order, asset := req.Order, req.Asset
	if order == nil || asset == nil {
		return apperr.InvalidArgument("fill", "order and asset are required")
	}
	if !order.Fillable() {
		return apperr.OrderNotActive(order.ID)
	}
	if order.BuyerID != req.BuyerID {
		return apperr.InvalidArgument("buyer_id", "does not match order")
	}
	if asset.OwnerID != req.SellerID {
		return apperr.AssetNotOwned(asset.ID)
	}
	if !asset.Tradable() {
		return apperr.AssetNotAvailable(asset.ID)
	}
	if req.BuyerID == req.SellerID {
		return apperr.SelfTrade(order.ID, req.SellerID)
	}
	if !order.Criteria.Matches(asset.Attributes) {
		return apperr.AttributeMismatch(order.ID, asset.ID)
	}
	if req.ExecutionPrice <= 0 {
		return apperr.InvalidArgument("execution_price", "must be positive")
	}
	if req.ExecutionPrice > order.PriceLimit {
		return apperr.PriceAboveLimit(order.ID, req.ExecutionPrice, order.PriceLimit)
	}
	if order.FrozenAmount < order.PriceLimit {
		return apperr.New(apperr.KindInvalidState, "BUY_ORDER_UNDERFUNDED",
			"buy order reservation does not cover one unit",
			map[string]interface{}{"order_id": order.ID, "frozen_amount": order.FrozenAmount})
	}
	return nil
}
