package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StageChangedEvent is published after a stage move has been persisted.
type StageChangedEvent struct {
	Phone            string    `json:"phone"`
	Name             string    `json:"nombres"`
	PropertyInterest string    `json:"interes_propiedad"`
	FromStage        string    `json:"from_stage"`
	ToStage          string    `json:"to_stage"`
	ChangedAt        time.Time `json:"changed_at"`
}

type QueueProducerInterface interface {
	PublishStageChange(ctx context.Context, event StageChangedEvent) error
}

// Publisher is the subset of *amqp.Channel the producer needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQProducer struct {
	Ch Publisher
}

func NewProducer(ch Publisher) *RabbitMQProducer {
	return &RabbitMQProducer{Ch: ch}
}

func (p *RabbitMQProducer) PublishStageChange(ctx context.Context, event StageChangedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode stage change: %w", err)
	}

	err = p.Ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.ChangedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("publish stage change: %w", err)
	}

	return nil
}
