package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/feed"
	"livetape/internal/market"
	"livetape/internal/store"
)

type fakeFeed struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	open        bool
	onTrade     feed.TradeFunc
	onStatus    feed.StatusFunc
	onTicker    feed.TickerFunc
}

func (f *fakeFeed) Connect(onTrade feed.TradeFunc, onStatus feed.StatusFunc, onTicker feed.TickerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.onTrade, f.onStatus, f.onTicker = onTrade, onStatus, onTicker
}

func (f *fakeFeed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeFeed) setOpen(open bool) {
	f.mu.Lock()
	f.open = open
	f.mu.Unlock()
}

func (f *fakeFeed) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func createTestTrade(id int64) market.Trade {
	return market.Trade{
		ID:        "BTC/USDT-1",
		TradeID:   id,
		Timestamp: 1,
		Symbol:    "BTC/USDT",
		Side:      market.SideBuy,
		Price:     100,
		Amount:    1,
		Cost:      100,
		Exchange:  "binance",
	}
}

func newTestSession(f *fakeFeed, s *store.Store, tickers bool) *Session {
	return New(f, s, Options{
		Logger:       zerolog.Nop(),
		ReconnectGap: 10 * time.Millisecond,
		Tickers:      tickers,
		Now:          func() time.Time { return time.UnixMilli(42) },
	})
}

func TestFirstConnectClearsStore(t *testing.T) {
	st := store.New()
	st.AddTrade(createTestTrade(1))
	st.SetError(&market.APIError{Code: "OLD"})
	f := &fakeFeed{}
	sess := newTestSession(f, st, true)

	sess.Connect()
	assert.Empty(t, st.Trades())
	assert.Nil(t, st.Error())
	assert.Equal(t, market.StatusConnecting, st.ConnectionStatus())
	assert.NotNil(t, f.onTicker)

	// Later connects keep what was collected.
	f.onTrade(createTestTrade(2))
	sess.Connect()
	assert.Len(t, st.Trades(), 1)
	connects, _ := f.counts()
	assert.Equal(t, 2, connects)
}

func TestConnectWhileOpenKeepsStatus(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	sess := newTestSession(f, st, false)
	sess.Connect()
	f.onStatus(market.StatusConnected)
	f.setOpen(true)

	sess.Connect()
	assert.Equal(t, market.StatusConnected, st.ConnectionStatus())
	connects, _ := f.counts()
	assert.Equal(t, 2, connects, "callbacks are still handed over")
}

func TestTickerCallbackOnlyWhenEnabled(t *testing.T) {
	f := &fakeFeed{}
	newTestSession(f, store.New(), false).Connect()
	assert.Nil(t, f.onTicker)
	assert.NotNil(t, f.onTrade)
	assert.NotNil(t, f.onStatus)
}

func TestStatusTranslation(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	sess := newTestSession(f, st, false)
	sess.Connect()

	f.onStatus(market.StatusError)
	assert.Equal(t, market.StatusError, st.ConnectionStatus())
	require.NotNil(t, st.Error())
	assert.Equal(t, &market.APIError{
		Code:      "WS_ERROR",
		Message:   "WebSocket connection error (attempt 1)",
		Timestamp: 42,
		Exchange:  "binance",
	}, st.Error())

	f.onStatus(market.StatusReconnecting)
	assert.Equal(t, market.StatusReconnecting, st.ConnectionStatus())

	f.onStatus(market.StatusError)
	assert.Equal(t, "WebSocket connection error (attempt 2)", st.Error().Message)
	assert.Equal(t, 2, sess.Attempts())

	f.onStatus(market.StatusConnected)
	assert.Equal(t, market.StatusConnected, st.ConnectionStatus())
	assert.Equal(t, 0, sess.Attempts())

	f.onStatus(market.StatusError)
	assert.Equal(t, "WebSocket connection error (attempt 1)", st.Error().Message)

	f.onStatus(market.StatusDisconnected)
	assert.Equal(t, market.StatusDisconnected, st.ConnectionStatus())
}

func TestTradeResetsAttempts(t *testing.T) {
	st := store.New(store.WithDedup(16))
	f := &fakeFeed{}
	sess := newTestSession(f, st, false)
	sess.Connect()

	f.onStatus(market.StatusError)
	require.Equal(t, 1, sess.Attempts())

	f.onTrade(createTestTrade(7))
	assert.Equal(t, 0, sess.Attempts())
	assert.Len(t, st.Trades(), 1)

	f.onTrade(createTestTrade(7))
	assert.Len(t, st.Trades(), 1, "duplicate dropped")
}

func TestTickerUpdatesStore(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	newTestSession(f, st, true).Connect()

	f.onTicker(market.Ticker{Symbol: "ETH/USDT", Last: 2000})
	assert.Equal(t, 2000.0, st.Tickers()["ETH/USDT"].Last)
}

func TestDisconnect(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	sess := newTestSession(f, st, false)
	sess.Connect()
	f.onStatus(market.StatusConnected)

	sess.Disconnect()
	_, disconnects := f.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, market.StatusDisconnected, st.ConnectionStatus())
}

func TestReconnect(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	sess := newTestSession(f, st, false)
	sess.Connect()

	require.NoError(t, sess.Reconnect(context.Background()))
	connects, disconnects := f.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, market.StatusConnecting, st.ConnectionStatus())
}

func TestReconnectCanceled(t *testing.T) {
	st := store.New()
	f := &fakeFeed{}
	sess := New(f, st, Options{Logger: zerolog.Nop(), ReconnectGap: time.Hour})
	sess.Connect()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sess.Reconnect(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	connects, _ := f.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, market.StatusDisconnected, st.ConnectionStatus())
}
