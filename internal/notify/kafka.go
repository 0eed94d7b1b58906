package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/logging"
)

const (
	maxRetries = 3
	retryDelay = 200 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes one JSON message per notification, keyed by order id
// so every notification of an order lands on the same partition.
type KafkaNotifier struct {
	writer     messageWriter
	retryDelay time.Duration
	log        logrus.FieldLogger
}

func NewKafkaNotifier(brokers []string, topic string, logger logrus.FieldLogger) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

func newKafkaNotifier(w messageWriter, logger logrus.FieldLogger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, retryDelay: retryDelay, log: logging.Component(logger, "notify")}
}

func encode(n Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to encode notification")
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(n.OrderID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(n.Type)},
			{Key: "notification_id", Value: []byte(n.ID)},
		},
		Time: n.OccurredAt,
	}, nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	msg, err := encode(n)
	if err != nil {
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err = k.writer.WriteMessages(ctx, msg)
		if err == nil {
			k.log.WithFields(logrus.Fields{"id": n.ID, "type": n.Type, "order_id": n.OrderID}).Debug("Notification published")
			return nil
		}
		k.log.WithError(err).WithField("attempt", i+1).Warn("Failed to publish notification")
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "notification publish cancelled")
		case <-time.After(k.retryDelay):
		}
	}
	return errors.Wrapf(err, "failed to publish notification after %d attempts", maxRetries)
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
