// Package feed keeps a trade stream and an optional ticker stream open against the
// exchange and hands normalized records to registered callbacks.
//
// One event-loop goroutine owns all channel state. Dials, socket readers and the
// reconnect timer never touch that state directly; they post events to the loop, which
// also runs every callback, so callbacks are serialized and see frames in socket order.
// Callbacks must not call Connect or Disconnect.
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livetape/internal/market"
	"livetape/internal/metrics"
	"livetape/internal/normalize"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	dialTimeout           = 10 * time.Second
	eventBuffer           = 256
)

type (
	TradeFunc  func(market.Trade)
	StatusFunc func(market.ConnectionStatus)
	TickerFunc func(market.Ticker)
)

type Options struct {
	Endpoints      Endpoints
	Dialer         Dialer
	ReconnectDelay time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Client is safe for concurrent use.
type Client struct {
	endpoints Endpoints
	dialer    Dialer
	delay     time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics

	state atomic.Int32 // trade channel State

	mu  sync.Mutex
	run *runner
}

func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	c := &Client{
		endpoints: opts.Endpoints,
		dialer:    opts.Dialer,
		delay:     opts.ReconnectDelay,
		log:       opts.Logger.With().Str("component", "feed").Logger(),
		metrics:   opts.Metrics,
	}
	c.state.Store(int32(StateIdle))
	return c
}

// Connect registers the callbacks and opens the trade stream, plus the ticker stream
// when onTicker is non-nil. Channels already connecting or open are left alone, so
// repeated calls only replace the callbacks.
func (c *Client) Connect(onTrade TradeFunc, onStatus StatusFunc, onTicker TickerFunc) {
	c.mu.Lock()
	if c.run == nil {
		c.run = c.start()
	}
	r := c.run
	c.mu.Unlock()

	r.post(connectEvent{h: handlers{onTrade: onTrade, onStatus: onStatus, onTicker: onTicker}})
}

// Disconnect cancels any pending reconnect, closes both sockets and drops the
// callbacks. It returns once no callback can run anymore and may be called any
// number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		c.run.stop()
		c.run = nil
	}
	c.state.Store(int32(StateDisconnected))
}

// IsConnected reports whether the trade stream is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// State returns the trade channel state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// TradeURL and TickerURL expose the stream locations for health reporting.
func (c *Client) TradeURL() string  { return c.endpoints.TradeURL() }
func (c *Client) TickerURL() string { return c.endpoints.TickerURL() }

func (c *Client) start() *runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{
		c:      c,
		log:    c.log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan any, eventBuffer),
		done:   make(chan struct{}),
	}
	r.chans[tradeChannel] = &channel{kind: tradeChannel, url: c.endpoints.TradeURL()}
	r.chans[tickerChannel] = &channel{kind: tickerChannel, url: c.endpoints.TickerURL()}
	go r.loop()
	return r
}

type handlers struct {
	onTrade  TradeFunc
	onStatus StatusFunc
	onTicker TickerFunc
}

type (
	connectEvent struct{ h handlers }
	dialedEvent  struct {
		kind channelKind
		gen  uint64
		conn Conn
		err  error
	}
	frameEvent struct {
		kind channelKind
		gen  uint64
		data []byte
	}
	droppedEvent struct {
		kind channelKind
		gen  uint64
		err  error
	}
	reconnectEvent struct{ gen uint64 }
)

// channel is one socket's slot. gen increments on every dial so events from an
// abandoned socket are recognized and ignored.
type channel struct {
	kind   channelKind
	url    string
	state  State
	gen    uint64
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// runner is one Connect..Disconnect lifetime of the loop.
type runner struct {
	c      *Client
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	done   chan struct{}
	wg     sync.WaitGroup

	// owned by loop
	h        handlers
	chans    [2]*channel
	timer    *time.Timer
	timerGen uint64
}

func (r *runner) post(ev any) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *runner) stop() {
	r.cancel()
	<-r.done
	r.wg.Wait()
}

func (r *runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.teardown()
			r.drain()
			return
		case ev := <-r.events:
			if r.ctx.Err() != nil {
				discard(ev)
				continue
			}
			r.handle(ev)
		}
	}
}

// drain closes sockets whose dial results were queued but never handled. Results
// posted after this point are closed by their dial goroutine.
func (r *runner) drain() {
	for {
		select {
		case ev := <-r.events:
			discard(ev)
		default:
			return
		}
	}
}

func discard(ev any) {
	if d, ok := ev.(dialedEvent); ok && d.conn != nil {
		d.conn.Close()
	}
}

func (r *runner) handle(ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		r.h = ev.h
		r.open(tradeChannel)
		if r.h.onTicker != nil {
			r.open(tickerChannel)
		}
	case dialedEvent:
		r.dialed(ev)
	case frameEvent:
		r.frame(ev)
	case droppedEvent:
		ch := r.chans[ev.kind]
		if ev.gen != ch.gen || ch.state != StateOpen {
			return
		}
		r.lost(ch, ev.err)
	case reconnectEvent:
		r.reconnect(ev)
	}
}

func (r *runner) setState(ch *channel, st State) {
	ch.state = st
	if ch.kind == tradeChannel {
		r.c.state.Store(int32(st))
	}
}

func (r *runner) emit(status market.ConnectionStatus) {
	if r.h.onStatus != nil {
		r.h.onStatus(status)
	}
}

func (r *runner) open(kind channelKind) {
	ch := r.chans[kind]
	if ch.state.active() {
		return
	}
	ch.gen++
	ch.ctx, ch.cancel = context.WithCancel(r.ctx)
	r.setState(ch, StateConnecting)

	gen, url, ctx, cancel := ch.gen, ch.url, ch.ctx, ch.cancel
	r.log.Debug().Str("channel", kind.String()).Str("url", url).Msg("dialing")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// The socket outlives the dial, so the timeout cancels the channel context
		// only while the handshake is pending.
		t := time.AfterFunc(dialTimeout, cancel)
		conn, err := r.c.dialer.Dial(ctx, url)
		t.Stop()
		posted := r.post(dialedEvent{kind: kind, gen: gen, conn: conn, err: err})
		// Once the runner is stopping nothing may adopt the socket, even a queued result.
		if conn != nil && (!posted || r.ctx.Err() != nil) {
			conn.Close()
		}
	}()
}

func (r *runner) dialed(ev dialedEvent) {
	ch := r.chans[ev.kind]
	if ev.gen != ch.gen || ch.state != StateConnecting {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}
	r.c.metrics.Dial(ev.kind.String(), ev.err)
	if ev.err != nil {
		r.lost(ch, ev.err)
		return
	}
	ch.conn = ev.conn
	r.setState(ch, StateOpen)
	r.log.Info().Str("channel", ev.kind.String()).Msg("stream connected")
	if ch.kind == tradeChannel {
		r.emit(market.StatusConnected)
	}

	r.wg.Add(1)
	go r.read(ch.ctx, ch.kind, ch.gen, ch.conn)
}

func (r *runner) read(ctx context.Context, kind channelKind, gen uint64, conn Conn) {
	defer r.wg.Done()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			r.post(droppedEvent{kind: kind, gen: gen, err: err})
			return
		}
		if !r.post(frameEvent{kind: kind, gen: gen, data: data}) {
			return
		}
	}
}

func (r *runner) frame(ev frameEvent) {
	ch := r.chans[ev.kind]
	if ev.gen != ch.gen || ch.state != StateOpen {
		return
	}
	switch ev.kind {
	case tradeChannel:
		trade, err := normalize.DecodeTrade(ev.data)
		if err != nil {
			r.c.metrics.ParseError(ev.kind.String())
			r.log.Warn().Err(err).Msg("dropping trade frame")
			return
		}
		r.c.metrics.TradeReceived()
		if r.h.onTrade != nil {
			r.h.onTrade(trade)
		}
	case tickerChannel:
		ticker, err := normalize.DecodeTicker(ev.data)
		if err != nil {
			r.c.metrics.ParseError(ev.kind.String())
			r.log.Warn().Err(err).Msg("dropping ticker frame")
			return
		}
		r.c.metrics.TickerReceived()
		if r.h.onTicker != nil {
			r.h.onTicker(ticker)
		}
	}
}

// lost handles a failed dial or a socket that stopped reading. Only the trade channel
// reports status; both channels share the single reconnect timer.
func (r *runner) lost(ch *channel, err error) {
	release(ch)
	logEvt := r.log.Warn()
	status := market.StatusError
	st := StateErrored
	if errors.Is(err, ErrRemoteClosed) {
		logEvt = r.log.Info()
		status = market.StatusDisconnected
		st = StateClosed
	}
	r.setState(ch, st)
	logEvt.Err(err).Str("channel", ch.kind.String()).Dur("retry_in", r.c.delay).Msg("stream lost")
	if ch.kind == tradeChannel {
		r.emit(status)
	}
	r.scheduleReconnect()
}

func (r *runner) scheduleReconnect() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerGen++
	gen := r.timerGen
	r.timer = time.AfterFunc(r.c.delay, func() {
		r.post(reconnectEvent{gen: gen})
	})
}

func (r *runner) reconnect(ev reconnectEvent) {
	if ev.gen != r.timerGen || r.timer == nil {
		return
	}
	r.timer = nil
	r.c.metrics.Reconnect()
	if !r.chans[tradeChannel].state.active() {
		r.emit(market.StatusReconnecting)
		r.open(tradeChannel)
	}
	if r.h.onTicker != nil {
		r.open(tickerChannel)
	}
}

func (r *runner) teardown() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	for _, ch := range r.chans {
		release(ch)
		r.setState(ch, StateDisconnected)
	}
	r.h = handlers{}
	r.log.Info().Msg("feed disconnected")
}

func release(ch *channel) {
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	if ch.conn != nil {
		ch.conn.Close()
		ch.conn = nil
	}
}
