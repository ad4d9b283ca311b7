package orderfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"affiliates/internal/config"
	"affiliates/internal/domain"
)

// Canceler runs affiliate cancellation for an order event.
type Canceler interface {
	Cancel(ctx context.Context, order domain.Order, event domain.EventType) ([]domain.CancelOutcome, error)
}

// Open connects the consumer selected by cfg.
func Open(cfg config.FeedConfig) (Consumer, io.Closer, error) {
	switch cfg.Backend {
	case config.FeedKafka:
		c, err := NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.FeedMQTT:
		c, err := NewMQTTConsumer(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, errors.New("feed.backend is not configured")
}

type Worker struct {
	logger   *slog.Logger
	consumer Consumer
	canceler Canceler
	interval time.Duration
	batch    int
}

func NewWorker(logger *slog.Logger, consumer Consumer, canceler Canceler, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{logger: logger, consumer: consumer, canceler: canceler, interval: interval, batch: batch}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "orderfeed.worker",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce polls one batch and dispatches it. It returns the number of
// messages that reached the affiliates. A message is committed only after it
// was dispatched or rejected as undecodable. When dispatch fails and the
// consumer can redeliver, the rest of the batch is requeued and the error returned.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Poll(ctx, w.batch)
	handled := 0
	for i, msg := range msgs {
		event, order, derr := Decode(msg.Payload)
		if derr != nil {
			if !errors.Is(derr, errUnhandledType) {
				w.logger.WarnContext(ctx, "order message rejected",
					"module", "orderfeed.worker", "operation", "decode", "outcome", "failure",
					"topic", msg.Topic, "error", derr)
			}
			w.commit(ctx, msg)
			continue
		}
		outcomes, cerr := w.canceler.Cancel(ctx, order, event)
		if cerr != nil {
			w.logger.WarnContext(ctx, "order cancellation failed",
				"module", "orderfeed.worker", "operation", "cancel", "outcome", "failure",
				"order_number", order.Number, "event", event, "error", cerr)
			if rq, ok := w.consumer.(Requeuer); ok {
				rq.Requeue(msgs[i:])
				return handled, errors.Join(err, fmt.Errorf("cancel order %s: %w", order.Number, cerr))
			}
			continue
		}
		handled++
		w.logger.InfoContext(ctx, "order cancellation dispatched",
			"module", "orderfeed.worker", "operation", "cancel", "outcome", "success",
			"order_number", order.Number, "event", event, "affiliates", len(outcomes))
		w.commit(ctx, msg)
	}
	return handled, err
}

func (w *Worker) commit(ctx context.Context, msg Message) {
	if err := msg.Commit(ctx); err != nil {
		w.logger.WarnContext(ctx, "order message commit failed",
			"module", "orderfeed.worker", "operation", "commit", "outcome", "failure",
			"topic", msg.Topic, "error", err)
	}
}
