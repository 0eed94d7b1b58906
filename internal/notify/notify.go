// Package notify publishes order lifecycle notifications after commit. A
// failed publish is logged by the caller and never undoes a settlement.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/logging"
	"nftmarket/internal/models"
)

type Notification struct {
	ID         string           `json:"id"`
	Type       models.EventType `json:"event_type"`
	OrderID    int64            `json:"order_id"`
	AssetID    *int64           `json:"nft_id,omitempty"`
	BuyerID    int64            `json:"buyer_id"`
	SellerID   *int64           `json:"seller_id,omitempty"`
	Amount     *int64           `json:"amount,omitempty"`
	Source     string           `json:"source,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Filled builds the notification sent to the buyer after a fill commits.
func Filled(fill *models.Fill) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Type:       models.EventOrderFilled,
		OrderID:    fill.OrderID,
		AssetID:    models.Int64Ptr(fill.AssetID),
		BuyerID:    fill.BuyerID,
		SellerID:   models.Int64Ptr(fill.SellerID),
		Amount:     models.Int64Ptr(fill.ExecutionPrice),
		Source:     string(fill.Source),
		OccurredAt: fill.CreatedAt,
	}
}

// Cancelled builds the notification sent after an order is cancelled.
func Cancelled(order *models.BuyOrder, refunded int64) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Type:       models.EventOrderCancelled,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		Amount:     models.Int64Ptr(refunded),
		OccurredAt: order.UpdatedAt,
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// LogNotifier only writes notifications to the log. It is used when no
// broker is configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: logging.Component(logger, "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.log.WithFields(logrus.Fields{
		"id":       note.ID,
		"type":     note.Type,
		"order_id": note.OrderID,
		"buyer_id": note.BuyerID,
	}).Info("Notification")
	return nil
}

func (n *LogNotifier) Close() error { return nil }
