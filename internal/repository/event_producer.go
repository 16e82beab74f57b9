package repository

import (
	"context"
	"encoding/json"

	"token-wallet/internal/domain"
	"token-wallet/pkg/rabbitmq"
)

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

type eventProducer struct {
	mq Publisher
}

// NewEventProducer accepts *rabbitmq.RabbitMQ or anything else that can publish a body.
func NewEventProducer(mq Publisher) domain.EventProducer {
	return &eventProducer{mq: mq}
}

func (p *eventProducer) PublishWalletEvent(ctx context.Context, event domain.WalletEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.mq.Publish(ctx, body)
}

var _ Publisher = (*rabbitmq.RabbitMQ)(nil)
