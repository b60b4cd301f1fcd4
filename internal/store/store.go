// Package store holds the dashboard's runtime state: connection status, the trade
// tape, the latest ticker per symbol and the last error. A Store is constructed
// explicitly and shared by reference; there is no package-level instance.
package store

import (
	"sort"
	"sync"
	"time"

	"livetape/internal/market"
)

// Slice names one independently observable part of the state.
type Slice uint8

const (
	SliceStatus Slice = 1 << iota
	SliceError
	SliceTrades
	SliceTickers
	SliceLastUpdate

	SliceAll = SliceStatus | SliceError | SliceTrades | SliceTickers | SliceLastUpdate
)

// Snapshot is a consistent copy of the whole state.
type Snapshot struct {
	ConnectionStatus market.ConnectionStatus  `json:"connectionStatus"`
	LastUpdate       int64                    `json:"lastUpdate"`
	Error            *market.APIError         `json:"error"`
	Trades           []market.Trade           `json:"trades"`
	Tickers          map[string]market.Ticker `json:"tickers"`
}

type subscriber struct {
	mask Slice
	ch   chan struct{}
}

type tradeKey struct {
	symbol string
	id     int64
}

// Option configures a Store.
type Option func(*Store)

// WithDedup rejects trades whose (symbol, exchange trade id) was among the last n
// appended trades. Trades without an exchange id are never considered duplicates.
func WithDedup(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.dedupWindow = n
			s.seen = make(map[tradeKey]struct{}, n)
		}
	}
}

// WithClock replaces the wall clock used for LastUpdate.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	mu         sync.RWMutex
	status     market.ConnectionStatus
	lastUpdate int64
	err        *market.APIError
	trades     []market.Trade // oldest first; accessors reverse it
	tickers    map[string]market.Ticker

	dedupWindow int
	seen        map[tradeKey]struct{}
	seenOrder   []tradeKey

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]*subscriber

	now func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		status:  market.StatusDisconnected,
		tickers: make(map[string]market.Ticker),
		subs:    make(map[int]*subscriber),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastUpdate = s.now().UnixMilli()
	return s
}

// Subscribe registers interest in the given slices (all slices when none are given).
// The returned channel carries a token whenever one of them changes; tokens coalesce,
// so a slow reader sees one pending notification and then reads current state.
func (s *Store) Subscribe(slices ...Slice) (int, <-chan struct{}) {
	var mask Slice
	for _, sl := range slices {
		mask |= sl
	}
	if mask == 0 {
		mask = SliceAll
	}
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = &subscriber{mask: mask, ch: ch}
	s.subMu.Unlock()
	return id, ch
}

func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	if sub, ok := s.subs[id]; ok {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

func (s *Store) notify(changed Slice) {
	s.subMu.Lock()
	for _, sub := range s.subs {
		if sub.mask&changed == 0 {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// touchLocked refreshes lastUpdate; callers hold mu.
func (s *Store) touchLocked() {
	s.lastUpdate = s.now().UnixMilli()
}

func (s *Store) SetConnectionStatus(status market.ConnectionStatus) {
	s.mu.Lock()
	s.status = status
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceStatus | SliceLastUpdate)
}

// SetError records the last error; nil clears it.
func (s *Store) SetError(err *market.APIError) {
	s.mu.Lock()
	if err != nil {
		cp := *err
		err = &cp
	}
	s.err = err
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceError | SliceLastUpdate)
}

// AddTrade puts a trade at the head of the tape. It returns false when the trade
// was rejected as a duplicate.
func (s *Store) AddTrade(trade market.Trade) bool {
	s.mu.Lock()
	if s.isDuplicateLocked(trade) {
		s.mu.Unlock()
		return false
	}
	s.trades = append(s.trades, trade)
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceTrades | SliceLastUpdate)
	return true
}

func (s *Store) isDuplicateLocked(trade market.Trade) bool {
	if s.dedupWindow == 0 || trade.TradeID == 0 {
		return false
	}
	key := tradeKey{symbol: trade.Symbol, id: trade.TradeID}
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	s.seenOrder = append(s.seenOrder, key)
	if len(s.seenOrder) > s.dedupWindow {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	return false
}

// UpdateTicker replaces the snapshot held for ticker.Symbol.
func (s *Store) UpdateTicker(ticker market.Ticker) {
	s.mu.Lock()
	s.tickers[ticker.Symbol] = ticker
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceTickers | SliceLastUpdate)
}

func (s *Store) UpdateLastUpdate() {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceLastUpdate)
}

// ClearAllData empties trades and tickers and clears the error in one transition.
func (s *Store) ClearAllData() {
	s.mu.Lock()
	s.trades = nil
	s.tickers = make(map[string]market.Ticker)
	s.err = nil
	if s.seen != nil {
		s.seen = make(map[tradeKey]struct{}, s.dedupWindow)
		s.seenOrder = nil
	}
	s.touchLocked()
	s.mu.Unlock()
	s.notify(SliceTrades | SliceTickers | SliceError | SliceLastUpdate)
}

func (s *Store) ConnectionStatus() market.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) LastUpdate() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

func (s *Store) Error() *market.APIError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err == nil {
		return nil
	}
	cp := *s.err
	return &cp
}

// Trades returns a copy of the tape, most recent first.
func (s *Store) Trades() []market.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.trades, len(s.trades))
}

// RecentTrades returns at most n trades, most recent first.
func (s *Store) RecentTrades(n int) []market.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.trades, n)
}

// TradesFor returns the trades of one symbol, most recent first.
func (s *Store) TradesFor(symbol string) []market.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Trade, 0)
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].Symbol == symbol {
			out = append(out, s.trades[i])
		}
	}
	return out
}

func newestFirst(trades []market.Trade, n int) []market.Trade {
	if n <= 0 || n > len(trades) {
		n = len(trades)
	}
	out := make([]market.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = trades[len(trades)-1-i]
	}
	return out
}

// TradeCount returns the tape length without copying it.
func (s *Store) TradeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

func (s *Store) Tickers() map[string]market.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Ticker, len(s.tickers))
	for k, v := range s.tickers {
		out[k] = v
	}
	return out
}

// Symbols returns the ticker symbols in sorted order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tickers))
	for k := range s.tickers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ConnectionStatus: s.status,
		LastUpdate:       s.lastUpdate,
		Trades:           newestFirst(s.trades, len(s.trades)),
		Tickers:          make(map[string]market.Ticker, len(s.tickers)),
	}
	for k, v := range s.tickers {
		snap.Tickers[k] = v
	}
	if s.err != nil {
		cp := *s.err
		snap.Error = &cp
	}
	return snap
}
