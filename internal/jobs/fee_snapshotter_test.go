package jobs

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/settlement/pkg/model"
)

type mockSource struct {
	balances []model.FeeBalance
	err      error
}

func (m *mockSource) FeeBalances(context.Context) ([]model.FeeBalance, error) {
	return m.balances, m.err
}

type mockStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockStore) RecordFeeSnapshot(context.Context, []model.FeeBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	mu   sync.Mutex
	sent [][]model.FeeBalance
	err  error
}

func (m *mockPublisher) PublishFeeSnapshot(_ context.Context, b []model.FeeBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, b)
	return m.err
}

func balances() []model.FeeBalance {
	return []model.FeeBalance{{Asset: model.NativeAsset, Amount: big.NewInt(2_700_000_000_000_000), AsOf: time.Now()}}
}

func TestRunOnce_PersistsAndPublishes(t *testing.T) {
	src := &mockSource{balances: balances()}
	st := &mockStore{}
	pub := &mockPublisher{}
	job := NewFeeSnapshotter(zap.NewNop(), src, st, pub, time.Hour)

	require.NoError(t, job.RunOnce(context.Background()))
	assert.Equal(t, 1, st.count())
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "2700000000000000", pub.sent[0][0].Amount.String())
}

func TestRunOnce_SourceError(t *testing.T) {
	st := &mockStore{}
	pub := &mockPublisher{}
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{err: errors.New("reentrant call")}, st, pub, time.Hour)

	require.Error(t, job.RunOnce(context.Background()))
	assert.Zero(t, st.count())
	assert.Empty(t, pub.sent)
}

func TestRunOnce_StoreErrorSkipsPublish(t *testing.T) {
	pub := &mockPublisher{}
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{balances: balances()}, &mockStore{err: errors.New("pg down")}, pub, time.Hour)

	require.Error(t, job.RunOnce(context.Background()))
	assert.Empty(t, pub.sent)
}

func TestRunOnce_PublishErrorIsNotFatal(t *testing.T) {
	st := &mockStore{}
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{balances: balances()}, st, &mockPublisher{err: errors.New("nats down")}, time.Hour)

	require.NoError(t, job.RunOnce(context.Background()))
	assert.Equal(t, 1, st.count())
}

func TestRunOnce_OptionalSinks(t *testing.T) {
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{balances: balances()}, nil, nil, time.Hour)
	require.NoError(t, job.RunOnce(context.Background()))
}

func TestStart_TicksAndStops(t *testing.T) {
	st := &mockStore{}
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{balances: balances()}, st, nil, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return st.count() >= 2 }, time.Second, 5*time.Millisecond)
	job.Stop()
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("snapshotter did not stop")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	job := NewFeeSnapshotter(zap.NewNop(), &mockSource{}, nil, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("snapshotter did not stop on cancel")
	}
}
