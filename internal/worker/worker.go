package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"token-wallet/internal/domain"
)

// Consumer is the queue side the worker reads from; *rabbitmq.RabbitMQ satisfies it.
type Consumer interface {
	Consume() (<-chan amqp.Delivery, error)
}

// Notifier delivers a receipt for a wallet event.
type Notifier interface {
	SendReceipt(ctx context.Context, event domain.WalletEvent) error
}

type Worker struct {
	mq       Consumer
	notifier Notifier
	logger   *slog.Logger
	done     chan struct{}
}

func NewWorker(mq Consumer, notifier Notifier, logger *slog.Logger) *Worker {
	return &Worker{mq: mq, notifier: notifier, logger: logger.With("component", "receipt_worker")}
}

// Start consumes events until the delivery channel closes or ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.mq.Consume()
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				w.settle(ctx, d)
			}
		}
	}()
	w.logger.Info("worker started consuming events")
	return nil
}

// Wait blocks until the consumer goroutine has acknowledged its last delivery and exited.
// It returns at once if Start was never called.
func (w *Worker) Wait() {
	if w.done != nil {
		<-w.done
	}
}

func (w *Worker) settle(ctx context.Context, d amqp.Delivery) {
	if err := w.handle(ctx, d.Body); err != nil {
		w.logger.Error("discarding event", "error", err)
		if err := d.Nack(false, false); err != nil {
			w.logger.Error("failed to nack event", "delivery_tag", d.DeliveryTag, "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		w.logger.Error("failed to ack event", "delivery_tag", d.DeliveryTag, "error", err)
	}
}

func (w *Worker) handle(ctx context.Context, body []byte) error {
	var event domain.WalletEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	switch event.Type {
	case domain.EventPurchaseCompleted, domain.EventTopUpCompleted:
		return w.notifier.SendReceipt(ctx, event)
	case domain.EventOrphanedCharge:
		w.logger.Error("orphaned charge reported",
			"account_id", event.AccountID, "tokens", event.Amount, "gateway_reference", event.GatewayReference)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
}

// LogNotifier writes receipts to the log instead of sending email.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendReceipt(ctx context.Context, event domain.WalletEvent) error {
	n.Logger.InfoContext(ctx, "receipt sent",
		"type", event.Type,
		"account_id", event.AccountID,
		"transaction_id", event.TransactionID,
		"amount", event.Amount,
		"balance_after", event.BalanceAfter)
	return nil
}
