package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/http/middleware"
)

// DealNotifier announces won deals (email today).
type DealNotifier interface {
	SendDealWon(ctx context.Context, event StageChangedEvent) error
}

// Consumer is the subset of *amqp.Channel the worker needs.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

type Worker struct {
	Channel  Consumer
	Notifier DealNotifier
	logger   *zap.Logger
}

func NewWorker(ch Consumer, notifier DealNotifier, logger *zap.Logger) *Worker {
	return &Worker{
		Channel:  ch,
		Notifier: notifier,
		logger:   logger.Named("stage-worker"),
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context, queueName string) error {
	msgs, err := w.Channel.Consume(
		queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", queueName, err)
	}

	w.logger.Info("worker waiting for messages", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case d, ok := <-msgs:
			if !ok {
				w.logger.Warn("delivery channel closed")
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var event StageChangedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		w.logger.Warn("malformed stage change, dead-lettering", zap.Error(err))
		// No requeue: the DLX keeps the message for inspection.
		d.Nack(false, false)
		return
	}

	if err := w.processMessage(ctx, event); err != nil {
		middleware.RecordIntegrationError("smtp")
		w.logger.Error("stage change processing failed",
			zap.String("phone", event.Phone),
			zap.String("to_stage", event.ToStage),
			zap.Error(err),
		)
		d.Nack(false, false)
		return
	}

	d.Ack(false)
}

func (w *Worker) processMessage(ctx context.Context, event StageChangedEvent) error {
	switch event.ToStage {
	case string(entity.StageDealWon):
		w.logger.Info("deal won, notifying",
			zap.String("phone", event.Phone),
			zap.String("from_stage", event.FromStage),
		)
		return w.Notifier.SendDealWon(ctx, event)
	default:
		w.logger.Debug("stage change without notification",
			zap.String("phone", event.Phone),
			zap.String("to_stage", event.ToStage),
		)
		return nil
	}
}
