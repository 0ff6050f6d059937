package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Settler executes relayer-initiated settlements.
type Settler interface {
	SettleRelayerInitiated(ctx context.Context, call engine.Call, q model.Quote, mmSig, userSig []byte) (*model.Settlement, error)
}

// ResultPublisher reports command outcomes.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res model.SettlementResult) error
}

// Consumer executes relayer commands read from a queue. Commands the engine
// rejects are acked with a rejected result; only cancellations and timeouts
// are requeued.
type Consumer struct {
	channel Channel
	queue   string
	settler Settler
	results ResultPublisher
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewConsumer(ch Channel, queue string, settler Settler, results ResultPublisher, logger *zap.Logger) *Consumer {
	return &Consumer{
		channel: ch,
		queue:   queue,
		settler: settler,
		results: results,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start declares the queue and consumes it in the background.
func (c *Consumer) Start(ctx context.Context) error {
	if err := declare(c.channel, c.queue); err != nil {
		return err
	}
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}
	c.logger.Info("rabbitmq.consumer_started", zap.String("queue", c.queue))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, msgs)
	}()
	return nil
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("rabbitmq.channel_closed", zap.String("queue", c.queue))
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var cmd model.RelayerCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		c.logger.Error("rabbitmq.decode_failed", zap.Error(err))
		metrics.IncQueueMessage(c.queue, "malformed")
		_ = msg.Nack(false, false)
		return
	}

	res, err := c.execute(ctx, cmd)
	if err != nil && isTransient(err) {
		c.logger.Warn("rabbitmq.settlement_requeued",
			zap.String("correlation_id", cmd.CorrelationID),
			zap.Error(err))
		metrics.IncQueueMessage(c.queue, "requeued")
		_ = msg.Nack(false, true)
		return
	}

	if perr := c.results.PublishResult(ctx, res); perr != nil {
		c.logger.Error("rabbitmq.result_publish_failed",
			zap.String("correlation_id", cmd.CorrelationID),
			zap.Error(perr))
	}
	metrics.IncQueueMessage(c.queue, res.Status)
	_ = msg.Ack(false)
}

func (c *Consumer) execute(ctx context.Context, cmd model.RelayerCommand) (model.SettlementResult, error) {
	res := model.SettlementResult{CorrelationID: cmd.CorrelationID, QuoteID: cmd.Quote.QuoteID}
	reject := func(reason string, err error) (model.SettlementResult, error) {
		res.Status = model.ResultRejected
		res.Reason = reason
		res.Error = err.Error()
		return res, err
	}

	relayer, err := model.ParseAddress("relayer", cmd.Relayer)
	if err != nil {
		return reject("bad_request", err)
	}
	q, err := cmd.Quote.Quote()
	if err != nil {
		return reject("bad_request", err)
	}
	mmSig, err := model.ParseSignature("marketMakerSignature", cmd.MarketMakerSignature)
	if err != nil {
		return reject("bad_request", err)
	}
	userSig, err := model.ParseSignature("userSignature", cmd.UserSignature)
	if err != nil {
		return reject("bad_request", err)
	}

	rec, err := c.settler.SettleRelayerInitiated(ctx, engine.Call{From: relayer}, q, mmSig, userSig)
	if err != nil {
		return reject(engine.Reason(err), err)
	}
	view := model.NewSettlementView(*rec)
	res.Status = model.ResultExecuted
	res.Settlement = &view
	return res, nil
}

func isTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Close stops consumption and closes the channel.
func (c *Consumer) Close() error {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
	return c.channel.Close()
}
