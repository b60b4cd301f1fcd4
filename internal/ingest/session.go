// Package ingest binds the feed client to the store. It owns the dashboard-level view
// of the connection: retry counting, the error shown to the user and the manual
// reconnect.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livetape/internal/feed"
	"livetape/internal/market"
	"livetape/internal/metrics"
	"livetape/internal/normalize"
	"livetape/internal/store"
)

const (
	ErrorCode           = "WS_ERROR"
	DefaultReconnectGap = time.Second
)

// Feed is the part of feed.Client a Session drives.
type Feed interface {
	Connect(onTrade feed.TradeFunc, onStatus feed.StatusFunc, onTicker feed.TickerFunc)
	Disconnect()
	IsConnected() bool
}

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// ReconnectGap is the pause between the disconnect and connect of Reconnect.
	ReconnectGap time.Duration
	// Tickers subscribes the ticker stream as well as trades.
	Tickers bool
	Now     func() time.Time
}

type Session struct {
	feed    Feed
	store   *store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	gap     time.Duration
	tickers bool
	now     func() time.Time

	mu          sync.Mutex
	initialized bool
	attempts    int
}

func New(f Feed, s *store.Store, opts Options) *Session {
	if opts.ReconnectGap <= 0 {
		opts.ReconnectGap = DefaultReconnectGap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		feed:    f,
		store:   s,
		log:     opts.Logger.With().Str("component", "ingest").Logger(),
		metrics: opts.Metrics,
		gap:     opts.ReconnectGap,
		tickers: opts.Tickers,
		now:     opts.Now,
	}
}

// Connect starts streaming into the store. The first call of a Session wipes any data
// the store already holds.
func (s *Session) Connect() {
	s.mu.Lock()
	first := !s.initialized
	s.initialized = true
	s.mu.Unlock()

	if first {
		s.store.ClearAllData()
	}
	// An open feed emits no new connected status, so leave the current one in place.
	if !s.feed.IsConnected() {
		s.setStatus(market.StatusConnecting)
		s.store.SetError(nil)
	}

	var onTicker feed.TickerFunc
	if s.tickers {
		onTicker = s.onTicker
	}
	s.feed.Connect(s.onTrade, s.onStatus, onTicker)
}

// Disconnect stops the feed and marks the store disconnected.
func (s *Session) Disconnect() {
	s.feed.Disconnect()
	s.setStatus(market.StatusDisconnected)
}

// Reconnect disconnects, waits the reconnect gap and connects again. It returns early
// without connecting when ctx ends during the wait.
func (s *Session) Reconnect(ctx context.Context) error {
	s.log.Info().Msg("manual reconnect")
	s.Disconnect()
	t := time.NewTimer(s.gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("reconnect: %w", ctx.Err())
	case <-t.C:
	}
	s.Connect()
	return nil
}

// Attempts is the number of consecutive connection errors since the last success.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) IsConnected() bool {
	return s.feed.IsConnected()
}

func (s *Session) setStatus(status market.ConnectionStatus) {
	s.store.SetConnectionStatus(status)
	s.metrics.SetStatus(status)
}

func (s *Session) onTrade(t market.Trade) {
	if !s.store.AddTrade(t) {
		s.metrics.DuplicateDropped()
		return
	}
	s.store.UpdateLastUpdate()
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

func (s *Session) onTicker(t market.Ticker) {
	s.store.UpdateTicker(t)
	s.store.UpdateLastUpdate()
}

func (s *Session) onStatus(status market.ConnectionStatus) {
	s.setStatus(status)
	switch status {
	case market.StatusError:
		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()
		s.store.SetError(&market.APIError{
			Code:      ErrorCode,
			Message:   fmt.Sprintf("WebSocket connection error (attempt %d)", n),
			Timestamp: s.now().UnixMilli(),
			Exchange:  normalize.Exchange,
		})
		s.log.Warn().Int("attempt", n).Msg("feed connection error")
	case market.StatusConnected:
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
	}
}
