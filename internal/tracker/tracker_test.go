package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/swap"
	"github.com/sniperlabs/solsniper/internal/types"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

var trackedMint = solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R")

type fakePrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakePrices) Price(_ context.Context, _ solana.PublicKey) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakePrices) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

type fakeSeller struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSeller) Sell(_ context.Context, _, _ solana.PublicKey, _ uint64) (*swap.TxResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &swap.TxResult{Signature: "sell-sig", Success: true}, nil
}

func newTestTracker(prices PriceSource, seller Seller) *Tracker {
	return New(prices, seller, nil, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop(), Config{
		StopLossPercent:   5,
		TakeProfitPercent: 20,
		PollInterval:      10 * time.Millisecond,
	})
}

func TestOpenRejectsDuplicateMint(t *testing.T) {
	tr := newTestTracker(&fakePrices{}, &fakeSeller{})

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.0, 100, "buy-1")
	require.NoError(t, err)

	_, err = tr.Open(trackedMint, types.WrappedSOL, 1.1, 100, "buy-2")
	assert.Error(t, err, "at most one open position per mint")
	assert.Equal(t, 1, tr.Len())
}

func TestTakeProfitTriggersExit(t *testing.T) {
	prices := &fakePrices{price: 1.21}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	tr.evaluate(context.Background(), trackedMint)

	assert.Equal(t, int32(1), seller.calls.Load(), "+21%% against a 20%% target must sell")
	assert.Zero(t, tr.Len(), "closed position leaves the active set")
}

func TestStopLossTriggersExit(t *testing.T) {
	prices := &fakePrices{price: 0.94}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	tr.evaluate(context.Background(), trackedMint)

	assert.Equal(t, int32(1), seller.calls.Load(), "-6%% against a 5%% stop must sell")
	assert.Zero(t, tr.Len())
}

func TestInsideThresholdsHolds(t *testing.T) {
	prices := &fakePrices{price: 1.10}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	tr.evaluate(context.Background(), trackedMint)

	assert.Zero(t, seller.calls.Load())
	assert.Equal(t, 1, tr.Len())
}

func TestNoDoubleExit(t *testing.T) {
	prices := &fakePrices{price: 2.00}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	// Force the position into CLOSING as a concurrent pass would.
	tr.mu.Lock()
	tr.positions[trackedMint.String()].Status = StatusClosing
	tr.mu.Unlock()

	tr.evaluate(context.Background(), trackedMint)
	assert.Zero(t, seller.calls.Load(), "a CLOSING position must not sell again")
}

func TestSellFailureKeepsPositionOpen(t *testing.T) {
	prices := &fakePrices{price: 1.50}
	seller := &fakeSeller{err: errors.New("blockhash expired")}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	tr.evaluate(context.Background(), trackedMint)
	require.Equal(t, 1, tr.Len(), "failed exit keeps the position")
	assert.Equal(t, StatusOpen, tr.Active()[0].Status, "status reverts for the next poll")

	// Next poll retries and succeeds.
	seller.err = nil
	tr.evaluate(context.Background(), trackedMint)
	assert.Zero(t, tr.Len())
	assert.Equal(t, int32(2), seller.calls.Load())
}

func TestPriceFailureIsContained(t *testing.T) {
	prices := &fakePrices{err: errors.New("quote API down")}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	tr.evaluate(context.Background(), trackedMint)
	assert.Equal(t, 1, tr.Len(), "price failure leaves the position untouched")
	assert.Zero(t, seller.calls.Load())
}

func TestManualClose(t *testing.T) {
	prices := &fakePrices{price: 1.00}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	require.NoError(t, tr.Close(context.Background(), trackedMint))
	assert.Equal(t, int32(1), seller.calls.Load())
	assert.Zero(t, tr.Len())
}

func TestPollSweepsAllPositions(t *testing.T) {
	otherMint := solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	prices := &fakePrices{price: 10.0}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.0, 100, "buy-1")
	require.NoError(t, err)
	_, err = tr.Open(otherMint, types.WrappedSOL, 1.0, 100, "buy-2")
	require.NoError(t, err)

	tr.Poll(context.Background())

	require.Eventually(t, func() bool { return tr.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), seller.calls.Load())
}

type holdingSeller struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func (s *holdingSeller) Sell(ctx context.Context, _, _ solana.PublicKey, _ uint64) (*swap.TxResult, error) {
	close(s.entered)
	<-s.release
	s.mu.Lock()
	s.ctxErr = ctx.Err()
	s.mu.Unlock()
	return &swap.TxResult{Signature: "sell-sig", Success: true}, nil
}

func (s *holdingSeller) contextErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxErr
}

func TestRunCompletesInFlightSellOnCancel(t *testing.T) {
	prices := &fakePrices{price: 2.00}
	seller := &holdingSeller{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()

	select {
	case <-seller.entered:
	case <-time.After(time.Second):
		t.Fatal("sell never started")
	}

	cancel()

	// Run must wait for the claimed exit instead of abandoning it.
	select {
	case <-done:
		t.Fatal("run returned with a sell still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(seller.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after the sell finished")
	}

	assert.NoError(t, seller.contextErr(), "cancellation must not reach a claimed exit")
	assert.Zero(t, tr.Len(), "completed exit must close the position")
}

func TestNoNewExitAfterCancel(t *testing.T) {
	prices := &fakePrices{price: 2.00}
	seller := &fakeSeller{}
	tr := newTestTracker(prices, seller)

	_, err := tr.Open(trackedMint, types.WrappedSOL, 1.00, 500, "buy-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.evaluate(ctx, trackedMint)

	assert.Zero(t, seller.calls.Load(), "no exit may start after cancellation")
	assert.Equal(t, 1, tr.Len())
}

func TestPnLPercent(t *testing.T) {
	assert.InDelta(t, 21.0, pnlPercent(1.00, 1.21), 1e-9)
	assert.InDelta(t, -6.0, pnlPercent(1.00, 0.94), 1e-9)
	assert.Zero(t, pnlPercent(0, 5))
}
