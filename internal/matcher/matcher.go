// Package matcher fills the best resting buy order when an asset is listed.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/lock"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
	"nftmarket/internal/notify"
	"nftmarket/internal/repository"
	"nftmarket/internal/settlement"
)

type Result struct {
	Matched bool         `json:"matched"`
	Fill    *models.Fill `json:"fill,omitempty"`
}

type Matcher struct {
	db       *database.DB
	repo     *repository.Repository
	engine   *settlement.Engine
	locks    *lock.Manager
	notifier notify.Notifier
	pool     *Pool
	timeout  time.Duration
	log      logrus.FieldLogger
}

// New builds a matcher. pool may be nil, in which case OnAssetListed runs
// the match on a fresh goroutine.
func New(db *database.DB, repo *repository.Repository, engine *settlement.Engine, locks *lock.Manager,
	notifier notify.Notifier, pool *Pool, timeout time.Duration, logger logrus.FieldLogger) *Matcher {
	return &Matcher{
		db:       db,
		repo:     repo,
		engine:   engine,
		locks:    locks,
		notifier: notifier,
		pool:     pool,
		timeout:  timeout,
		log:      logging.Component(logger, "matcher"),
	}
}

// Match sells the asset into the best matching order at its listed price.
// An asset that is gone, unlisted, bundled or in custody, or that no order
// accepts, is not an error: the result is simply unmatched.
func (m *Matcher) Match(ctx context.Context, assetID int64) (*Result, error) {
	res := &Result{}
	err := m.locks.Do(ctx, lock.AssetSaleKey(assetID), m.locks.Defaults(), func(ctx context.Context) error {
		return m.db.InTx(ctx, func(uow *database.UnitOfWork) error {
			asset, err := m.repo.LockAssetForSale(ctx, uow, assetID)
			if apperr.Is(err, apperr.KindNotFound) {
				return uow.Rollback()
			}
			if err != nil {
				return err
			}
			if !asset.Listed() || !asset.Tradable() {
				return uow.Rollback()
			}

			order, err := m.repo.FindBestOrderForAsset(ctx, uow, asset)
			if err != nil {
				return err
			}
			if order == nil {
				return uow.Rollback()
			}

			fill, err := m.engine.ExecuteFill(ctx, uow, settlement.FillRequest{
				Order:          order,
				Asset:          asset,
				BuyerID:        order.BuyerID,
				SellerID:       asset.OwnerID,
				ExecutionPrice: *asset.ListedPrice,
				Source:         models.FillSourceAutoMatch,
			})
			if err != nil {
				return err
			}
			if err := uow.Commit(); err != nil {
				return err
			}
			res.Matched, res.Fill = true, fill
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if res.Matched && m.notifier != nil {
		if err := m.notifier.Notify(ctx, notify.Filled(res.Fill)); err != nil {
			m.log.WithError(err).WithField("order_id", res.Fill.OrderID).Warn("Failed to send notification")
		}
	}
	return res, nil
}

// OnAssetListed schedules a match for a freshly listed asset and returns
// immediately. Failures are logged; the asset stays listed.
func (m *Matcher) OnAssetListed(assetID int64) {
	job := Job{
		Name:    fmt.Sprintf("match asset %d", assetID),
		Timeout: m.timeout,
		Do:      func(ctx context.Context) { m.matchAndLog(ctx, assetID) },
	}
	if m.pool != nil {
		m.pool.Submit(job)
		return
	}
	go func() {
		ctx, cancel := context.Background(), func() {}
		if m.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
		}
		defer cancel()
		job.Do(ctx)
	}()
}

func (m *Matcher) matchAndLog(ctx context.Context, assetID int64) {
	logger := m.log.WithField("nft_id", assetID)
	res, err := m.Match(ctx, assetID)
	if err != nil {
		logger.WithError(err).Error("Auto-match failed")
		return
	}
	if !res.Matched {
		logger.Debug("No buy order matched")
		return
	}
	logger.WithFields(logrus.Fields{
		"order_id": res.Fill.OrderID,
		"buyer_id": res.Fill.BuyerID,
		"price":    res.Fill.ExecutionPrice,
	}).Info("Listed asset matched to buy order")
}
