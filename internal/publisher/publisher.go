package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/pkg/logger"
	"github.com/Checker-Finance/settlement/pkg/model"
)

// Event kinds, appended to the subject prefix.
const (
	KindSettlementExecuted = "executed"
	KindFeeRateUpdated     = "fee_rate.updated"
	KindFeesWithdrawn      = "fees.withdrawn"
	KindFeesSnapshot       = "fees.snapshot"
)

// MsgPublisher is the part of a JetStream context the publisher uses.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS JetStream connection and publishes canonical
// settlement events.
type Publisher struct {
	nc      *nats.Conn
	js      MsgPublisher
	prefix  string
	service string
	chainID uint64
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, prefix, service string, chainID uint64) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return NewWithJetStream(nc, js, prefix, service, chainID), nil
}

// NewWithJetStream builds a publisher over an existing JetStream context.
func NewWithJetStream(nc *nats.Conn, js MsgPublisher, prefix, service string, chainID uint64) *Publisher {
	return &Publisher{nc: nc, js: js, prefix: prefix, service: service, chainID: chainID}
}

// Subject returns the full subject for an event kind.
func (p *Publisher) Subject(kind string) string {
	return fmt.Sprintf("%s.%s.v1", p.prefix, kind)
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(_ context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"chain_id":       []string{fmt.Sprint(env.ChainID)},
			"Nats-Msg-Id":    []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishEvent wraps payload in an envelope and publishes it under kind.
func (p *Publisher) PublishEvent(ctx context.Context, kind string, payload any) error {
	subject := p.Subject(kind)
	env, err := model.NewEnvelope(subject, "settlement."+kind, p.chainID, payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, subject, env)
}

func (p *Publisher) PublishSettlement(ctx context.Context, s model.Settlement) error {
	return p.PublishEvent(ctx, KindSettlementExecuted, s)
}

func (p *Publisher) PublishFeeRateUpdated(ctx context.Context, ev model.FeeRateUpdated) error {
	return p.PublishEvent(ctx, KindFeeRateUpdated, ev)
}

func (p *Publisher) PublishFeesWithdrawn(ctx context.Context, ev model.FeesWithdrawn) error {
	return p.PublishEvent(ctx, KindFeesWithdrawn, ev)
}

func (p *Publisher) PublishFeeSnapshot(ctx context.Context, balances []model.FeeBalance) error {
	return p.PublishEvent(ctx, KindFeesSnapshot, balances)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
