package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// QueueSettlementsExecuted receives every executed settlement, whichever
// entry point produced it.
const QueueSettlementsExecuted = "outbound.settlements.executed"

// Publisher writes relayer results and executed settlements to RabbitMQ.
type Publisher struct {
	channel      Channel
	resultsQueue string
	logger       *zap.Logger
}

// NewPublisher declares the outbound queues on ch.
func NewPublisher(ch Channel, resultsQueue string, logger *zap.Logger) (*Publisher, error) {
	for _, q := range []string{resultsQueue, QueueSettlementsExecuted} {
		if err := declare(ch, q); err != nil {
			return nil, err
		}
	}
	return &Publisher{channel: ch, resultsQueue: resultsQueue, logger: logger}, nil
}

// Attach forwards executed settlements from bus.
func (p *Publisher) Attach(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(ctx context.Context, s model.Settlement) {
		if err := p.publish(ctx, QueueSettlementsExecuted, model.NewSettlementView(s), 0); err != nil {
			p.logger.Error("rabbitmq.settlement_publish_failed",
				zap.String("quote_id", s.QuoteID.Hex()),
				zap.Error(err))
		}
	})
}

// PublishResult reports the outcome of a queued relayer command.
func (p *Publisher) PublishResult(ctx context.Context, res model.SettlementResult) error {
	var priority uint8
	if res.Status == model.ResultRejected {
		priority = 5
	}
	return p.publish(ctx, p.resultsQueue, res, priority)
}

func (p *Publisher) publish(ctx context.Context, queue string, payload any, priority uint8) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", queue, err)
	}
	err = p.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Body:         body,
		},
	)
	if err != nil {
		metrics.IncQueueMessage(queue, "publish_failed")
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	metrics.IncQueueMessage(queue, "published")
	return nil
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
