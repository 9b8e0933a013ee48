package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

type countingMetrics struct {
	purged int64
	failed int
}

func (m *countingMetrics) OrderCreated()                            {}
func (m *countingMetrics) StatusChanged(from, to order.OrderStatus) {}
func (m *countingMetrics) TransitionRejected(reason string)         {}
func (m *countingMetrics) OrdersPurged(n int64)                     { m.purged += n }
func (m *countingMetrics) SweepFailed()                             { m.failed++ }

func newTestSweeper(t *testing.T, repo order.Repository, cfg order.SweeperConfig, metrics order.Metrics) *order.Sweeper {
	t.Helper()
	sw, err := order.NewSweeper(repo, cfg, metrics, fixedClock(testNow))
	require.NoError(t, err)
	return sw
}

func TestSweeper_Sweep_Idempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.seed(customer.ID, order.StatusDelivered, testNow.Add(-31*24*time.Hour))
	}
	f.seed(customer.ID, order.StatusPending, testNow.Add(-40*24*time.Hour))
	keep := f.seed(customer.ID, order.StatusDelivered, testNow.Add(-29*24*time.Hour))

	metrics := &countingMetrics{}
	sw := newTestSweeper(t, f.store, order.SweeperConfig{}, metrics)

	purged, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)

	purged, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	assert.Equal(t, 1, f.store.count())
	_, ok := f.store.status(keep.ID)
	assert.True(t, ok)
	assert.Equal(t, int64(4), metrics.purged)
}

func TestSweeper_Sweep_TerminalOnly(t *testing.T) {
	f := newFixture(t)
	active := f.seed(customer.ID, order.StatusOutForDelivery, testNow.Add(-60*24*time.Hour))
	f.seed(customer.ID, order.StatusCancelled, testNow.Add(-60*24*time.Hour))
	f.seed(customer.ID, order.StatusDelivered, testNow.Add(-60*24*time.Hour))

	sw := newTestSweeper(t, f.store, order.SweeperConfig{TerminalOnly: true}, nil)

	purged, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	status, ok := f.store.status(active.ID)
	require.True(t, ok)
	assert.Equal(t, order.StatusOutForDelivery, status)
}

func TestSweeper_Sweep_BatchSize(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seed(customer.ID, order.StatusDelivered, testNow.Add(-time.Duration(31+i)*24*time.Hour))
	}

	sw := newTestSweeper(t, f.store, order.SweeperConfig{BatchSize: 2}, nil)

	for _, want := range []int64{2, 2, 1, 0} {
		purged, err := sw.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, purged)
	}
}

func TestSweeper_Sweep_CustomWindow(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	sw := newTestSweeper(t, mockRepo, order.SweeperConfig{RetentionWindow: 7 * 24 * time.Hour, BatchSize: 100}, nil)

	mockRepo.On("PurgeOrders", mock.Anything, order.PurgeQuery{
		CreatedBefore: testNow.Add(-7 * 24 * time.Hour),
		Limit:         100,
	}).Return(int64(3), nil).Once()

	purged, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	mockRepo.AssertExpectations(t)
}

func TestSweeper_Sweep_Failure(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	metrics := &countingMetrics{}
	sw := newTestSweeper(t, mockRepo, order.SweeperConfig{}, metrics)

	mockRepo.On("PurgeOrders", mock.Anything, mock.AnythingOfType("order.PurgeQuery")).
		Return(int64(0), &order.StorageError{Op: "purge orders", Err: errors.New("deadlock")}).
		Once()

	purged, err := sw.Sweep(context.Background())
	require.ErrorIs(t, err, order.ErrStorage)
	assert.Equal(t, int64(0), purged)
	assert.Equal(t, 1, metrics.failed)
	mockRepo.AssertExpectations(t)
}

func TestSweeper_TransitionAfterPurge(t *testing.T) {
	f := newFixture(t)
	old := f.seed(customer.ID, order.StatusPending, testNow.Add(-45*24*time.Hour))

	sw := newTestSweeper(t, f.store, order.SweeperConfig{}, nil)
	_, err := sw.Sweep(context.Background())
	require.NoError(t, err)

	_, err = f.svc.TransitionOrder(context.Background(), staff, old.ID, order.StatusConfirmed, nil)
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestSweeper_Run_StopsOnCancel(t *testing.T) {
	mockRepo := new(MockOrderRepository)
	sw := newTestSweeper(t, mockRepo, order.SweeperConfig{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan struct{})
	mockRepo.On("PurgeOrders", mock.Anything, mock.AnythingOfType("order.PurgeQuery")).
		Return(int64(0), nil).
		Run(func(mock.Arguments) { close(swept) }).
		Once()

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run the initial sweep")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	mockRepo.AssertExpectations(t)
}

func TestNewSweeper_Validation(t *testing.T) {
	_, err := order.NewSweeper(nil, order.SweeperConfig{}, nil, nil)
	require.Error(t, err)

	_, err = order.NewSweeper(newMemStore(), order.SweeperConfig{BatchSize: -1}, nil, nil)
	require.Error(t, err)
}
