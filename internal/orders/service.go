// Package orders implements the buy order lifecycle: placing an order with
// its funds reserved, cancelling it with a refund, listing orders and
// selling an owned asset straight into an order.
package orders

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/ledger"
	"nftmarket/internal/lock"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
	"nftmarket/internal/notify"
	"nftmarket/internal/repository"
	"nftmarket/internal/settlement"
)

type Service struct {
	db       *database.DB
	repo     *repository.Repository
	ledger   *ledger.Ledger
	engine   *settlement.Engine
	locks    *lock.Manager
	notifier notify.Notifier
	log      logrus.FieldLogger
}

func NewService(db *database.DB, repo *repository.Repository, l *ledger.Ledger, engine *settlement.Engine,
	locks *lock.Manager, notifier notify.Notifier, logger logrus.FieldLogger) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		ledger:   l,
		engine:   engine,
		locks:    locks,
		notifier: notifier,
		log:      logging.Component(logger, "orders"),
	}
}

type CreateRequest struct {
	BuyerID    int64
	Criteria   models.Criteria
	PriceLimit int64
	// Quantity defaults to 1 when zero.
	Quantity int
}

func (r *CreateRequest) normalize() error {
	r.Criteria.Title = strings.TrimSpace(r.Criteria.Title)
	if r.Criteria.Title == "" {
		return apperr.InvalidArgument("title", "is required")
	}
	r.Criteria.Model = optional(r.Criteria.Model)
	r.Criteria.Pattern = optional(r.Criteria.Pattern)
	r.Criteria.Backdrop = optional(r.Criteria.Backdrop)
	if r.PriceLimit <= 0 {
		return apperr.InvalidArgument("price_limit", "must be positive")
	}
	if r.Quantity == 0 {
		r.Quantity = 1
	}
	if r.Quantity < 0 {
		return apperr.InvalidArgument("quantity", "must be at least 1")
	}
	if r.PriceLimit > math.MaxInt64/int64(r.Quantity) {
		return apperr.InvalidArgument("quantity", "reserve amount overflows")
	}
	return nil
}

// optional maps blank filters to "any value".
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Create reserves price_limit × quantity from the buyer's available balance
// and persists an ACTIVE order. Nothing is persisted when the balance does
// not cover the reserve.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.BuyOrder, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	reserve := req.PriceLimit * int64(req.Quantity)
	order := &models.BuyOrder{
		BuyerID:           req.BuyerID,
		Criteria:          req.Criteria,
		PriceLimit:        req.PriceLimit,
		QuantityTotal:     req.Quantity,
		QuantityRemaining: req.Quantity,
		FrozenAmount:      reserve,
		Status:            models.OrderStatusActive,
	}

	err := s.db.InTx(ctx, func(uow *database.UnitOfWork) error {
		if err := s.ledger.Freeze(ctx, uow, req.BuyerID, reserve); err != nil {
			return err
		}
		if err := s.repo.InsertOrder(ctx, uow, order); err != nil {
			return err
		}
		if err := s.repo.AppendEvent(ctx, uow, &models.Event{
			Type:      models.EventOrderCreated,
			OrderID:   models.Int64Ptr(order.ID),
			ActorID:   models.Int64Ptr(req.BuyerID),
			Amount:    models.Int64Ptr(reserve),
			Meta:      criteriaMeta(order),
			CreatedAt: order.CreatedAt,
		}); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"buyer_id":    order.BuyerID,
		"title":       order.Criteria.Title,
		"price_limit": order.PriceLimit,
		"quantity":    order.QuantityTotal,
		"reserved":    reserve,
	}).Info("Buy order created")
	return order, nil
}

func criteriaMeta(o *models.BuyOrder) map[string]interface{} {
	meta := map[string]interface{}{
		"title":       o.Criteria.Title,
		"price_limit": o.PriceLimit,
		"quantity":    o.QuantityTotal,
	}
	for k, v := range map[string]*string{
		"model_name":    o.Criteria.Model,
		"pattern_name":  o.Criteria.Pattern,
		"backdrop_name": o.Criteria.Backdrop,
	} {
		if v != nil {
			meta[k] = *v
		}
	}
	return meta
}

// Cancel refunds the order's remaining reservation to its buyer. Only the
// buyer may cancel, and only while the order is ACTIVE.
func (s *Service) Cancel(ctx context.Context, orderID, callerID int64) (*models.BuyOrder, error) {
	var (
		order    *models.BuyOrder
		refunded int64
	)
	err := s.db.InTx(ctx, func(uow *database.UnitOfWork) error {
		var err error
		if order, err = s.repo.LockOrderForUpdate(ctx, uow, orderID); err != nil {
			return err
		}
		if order.BuyerID != callerID {
			return apperr.OrderPermissionDenied(orderID)
		}
		if order.Status != models.OrderStatusActive {
			return apperr.OrderNotActive(orderID)
		}

		refunded = order.FrozenAmount
		if err := s.ledger.UnfreezeAndRefund(ctx, uow, order.BuyerID, refunded); err != nil {
			return err
		}
		if err := s.repo.CancelOrder(ctx, uow, order); err != nil {
			return err
		}
		if err := s.repo.AppendEvent(ctx, uow, &models.Event{
			Type:    models.EventOrderCancelled,
			OrderID: models.Int64Ptr(order.ID),
			ActorID: models.Int64Ptr(callerID),
			Amount:  models.Int64Ptr(refunded),
			Meta: map[string]interface{}{
				"quantity_remaining": order.QuantityRemaining,
				"quantity_total":     order.QuantityTotal,
			},
			CreatedAt: order.UpdatedAt,
		}); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"order_id": order.ID, "buyer_id": order.BuyerID, "refunded": refunded}).Info("Buy order cancelled")
	s.publish(ctx, notify.Cancelled(order, refunded))
	return order, nil
}

func (s *Service) List(ctx context.Context, f repository.Filter) (*repository.Page, error) {
	return s.repo.ListOrders(ctx, s.db, f)
}

// ListMine lists the caller's active orders.
func (s *Service) ListMine(ctx context.Context, buyerID int64, f repository.Filter) (*repository.Page, error) {
	active := models.OrderStatusActive
	f.BuyerID = &buyerID
	f.Status = &active
	return s.repo.ListOrders(ctx, s.db, f)
}

// publish sends a post-commit notification. A failure is only logged; the
// committed state stands.
func (s *Service) publish(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"order_id": n.OrderID, "type": n.Type}).Warn("Failed to send notification")
	}
}
