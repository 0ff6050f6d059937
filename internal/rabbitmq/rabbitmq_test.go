package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/model"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []published
	deliveries chan amqp.Delivery
	publishErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{queue: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu   sync.Mutex
	acks []ackRecord
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) records() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.acks...)
}

type mockSettler struct {
	err  error
	seen []engine.Call
}

func (m *mockSettler) SettleRelayerInitiated(_ context.Context, call engine.Call, q model.Quote, _, _ []byte) (*model.Settlement, error) {
	m.seen = append(m.seen, call)
	if m.err != nil {
		return nil, m.err
	}
	return &model.Settlement{
		QuoteID:      q.QuoteID,
		Model:        model.TradeModelRelayerInitiated,
		Caller:       call.From,
		AmountIn:     q.AmountIn,
		AmountOut:    q.AmountOut,
		Fee:          big.NewInt(3),
		UserReceived: new(big.Int).Sub(q.AmountOut, big.NewInt(3)),
	}, nil
}

const (
	relayerQueue = "inbound.settlements.relayer"
	resultsQueue = "outbound.settlements.results"
)

var relayerAddr = common.HexToAddress("0x000000000000000000000000000000000000BE1A")

func command(id string) model.RelayerCommand {
	q := model.Quote{
		User:        common.HexToAddress("0x01"),
		MarketMaker: common.HexToAddress("0x02"),
		TokenIn:     common.HexToAddress("0x03"),
		TokenOut:    common.HexToAddress("0x04"),
		AmountIn:    big.NewInt(100),
		AmountOut:   big.NewInt(1000),
		Expiry:      1_900_000_000,
		QuoteID:     common.HexToHash(id),
	}
	return model.RelayerCommand{
		CorrelationID: "corr-" + id,
		Relayer:       relayerAddr.Hex(),
		RelayerSettlementRequest: model.RelayerSettlementRequest{
			Quote:                model.NewQuotePayload(q),
			MarketMakerSignature: "0x" + fmt.Sprintf("%0130x", 1),
			UserSignature:        "0x" + fmt.Sprintf("%0130x", 2),
		},
	}
}

func delivery(t *testing.T, acker *fakeAcker, tag uint64, body any) amqp.Delivery {
	var data []byte
	switch b := body.(type) {
	case []byte:
		data = b
	default:
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: data}
}

func startConsumer(t *testing.T, settler Settler) (*fakeChannel, *fakeChannel, *Consumer) {
	t.Helper()
	in, out := newFakeChannel(), newFakeChannel()
	pub, err := NewPublisher(out, resultsQueue, zap.NewNop())
	require.NoError(t, err)
	c := NewConsumer(in, relayerQueue, settler, pub, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return in, out, c
}

func decodeResult(t *testing.T, p published) model.SettlementResult {
	var res model.SettlementResult
	require.NoError(t, json.Unmarshal(p.msg.Body, &res))
	return res
}

func TestConsumer_ExecutesCommand(t *testing.T) {
	settler := &mockSettler{}
	in, out, _ := startConsumer(t, settler)
	acker := &fakeAcker{}

	in.deliveries <- delivery(t, acker, 1, command("0xaa"))

	require.Eventually(t, func() bool { return len(acker.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ackRecord{tag: 1, ack: true}, acker.records()[0])
	assert.Contains(t, in.declared, relayerQueue)
	require.Len(t, settler.seen, 1)
	assert.Equal(t, relayerAddr, settler.seen[0].From)

	msgs := out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, resultsQueue, msgs[0].queue)
	res := decodeResult(t, msgs[0])
	assert.Equal(t, model.ResultExecuted, res.Status)
	assert.Equal(t, "corr-0xaa", res.CorrelationID)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, "997", res.Settlement.UserReceived)
}

func TestConsumer_RejectedCommandIsAcked(t *testing.T) {
	in, out, _ := startConsumer(t, &mockSettler{err: engine.ErrExpired})
	acker := &fakeAcker{}

	in.deliveries <- delivery(t, acker, 7, command("0xbb"))

	require.Eventually(t, func() bool { return len(acker.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, acker.records()[0].ack)

	msgs := out.messages()
	require.Len(t, msgs, 1)
	res := decodeResult(t, msgs[0])
	assert.Equal(t, model.ResultRejected, res.Status)
	assert.Equal(t, "expired", res.Reason)
	assert.EqualValues(t, 5, msgs[0].msg.Priority)
}

func TestConsumer_BadCommandFields(t *testing.T) {
	settler := &mockSettler{}
	in, out, _ := startConsumer(t, settler)
	acker := &fakeAcker{}

	cmd := command("0xcc")
	cmd.Relayer = "nobody"
	in.deliveries <- delivery(t, acker, 2, cmd)

	require.Eventually(t, func() bool { return len(acker.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, settler.seen)
	res := decodeResult(t, out.messages()[0])
	assert.Equal(t, "bad_request", res.Reason)
}

func TestConsumer_MalformedIsDropped(t *testing.T) {
	in, out, _ := startConsumer(t, &mockSettler{})
	acker := &fakeAcker{}

	in.deliveries <- delivery(t, acker, 3, []byte("{not json"))

	require.Eventually(t, func() bool { return len(acker.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ackRecord{tag: 3, requeue: false}, acker.records()[0])
	assert.Empty(t, out.messages())
}

func TestConsumer_TimeoutIsRequeued(t *testing.T) {
	in, out, _ := startConsumer(t, &mockSettler{err: fmt.Errorf("engine busy: %w", context.DeadlineExceeded)})
	acker := &fakeAcker{}

	in.deliveries <- delivery(t, acker, 4, command("0xdd"))

	require.Eventually(t, func() bool { return len(acker.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ackRecord{tag: 4, requeue: true}, acker.records()[0])
	assert.Empty(t, out.messages())
}

func TestConsumer_StopsOnClosedChannel(t *testing.T) {
	in := newFakeChannel()
	c := NewConsumer(in, relayerQueue, &mockSettler{}, &Publisher{channel: newFakeChannel(), logger: zap.NewNop()}, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	close(in.deliveries)
	require.NoError(t, c.Close())
	assert.True(t, in.closed)
}

func TestPublisher_AttachForwardsSettlements(t *testing.T) {
	out := newFakeChannel()
	pub, err := NewPublisher(out, resultsQueue, zap.NewNop())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{resultsQueue, QueueSettlementsExecuted}, out.declared)

	bus := eventbus.New(zap.NewNop())
	pub.Attach(bus)
	bus.PublishSync(context.Background(), model.Settlement{QuoteID: common.HexToHash("0xee"), Model: model.TradeModelUserInitiated})

	msgs := out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, QueueSettlementsExecuted, msgs[0].queue)
	assert.Equal(t, amqp.Persistent, msgs[0].msg.DeliveryMode)

	var view model.SettlementView
	require.NoError(t, json.Unmarshal(msgs[0].msg.Body, &view))
	assert.Equal(t, "RFQ-T", view.Model)
}

func TestPublisher_PublishError(t *testing.T) {
	out := newFakeChannel()
	pub, err := NewPublisher(out, resultsQueue, zap.NewNop())
	require.NoError(t, err)
	out.publishErr = errors.New("channel closed")

	err = pub.PublishResult(context.Background(), model.SettlementResult{Status: model.ResultExecuted})
	assert.ErrorContains(t, err, "channel closed")
	require.NoError(t, pub.Close())
}
