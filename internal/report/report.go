// Package report periodically logs a summary of the store and refreshes the store
// gauges.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"livetape/internal/market"
	"livetape/internal/metrics"
	"livetape/internal/store"
)

// Summary is what one report run observed.
type Summary struct {
	Status     market.ConnectionStatus `json:"status"`
	Trades     int                     `json:"trades"`
	NewTrades  int                     `json:"newTrades"`
	Tickers    int                     `json:"tickers"`
	LastUpdate time.Time               `json:"lastUpdate"`
	Error      string                  `json:"error,omitempty"`
	Last       map[string]float64      `json:"last"`
}

type Reporter struct {
	cron    *cron.Cron
	store   *store.Store
	metrics *metrics.Metrics
	log     zerolog.Logger

	prevTrades int
}

func New(st *store.Store, m *metrics.Metrics, log zerolog.Logger) *Reporter {
	return &Reporter{
		cron:    cron.New(),
		store:   st,
		metrics: m,
		log:     log.With().Str("component", "report").Logger(),
	}
}

// Schedule registers the summary job with a standard cron spec or a descriptor such
// as "@every 1m".
func (r *Reporter) Schedule(spec string) error {
	if _, err := r.cron.AddFunc(spec, func() { r.RunNow() }); err != nil {
		return fmt.Errorf("register report %q: %w", spec, err)
	}
	return nil
}

func (r *Reporter) Start() {
	r.cron.Start()
	r.log.Info().Msg("reporter started")
}

// Stop halts the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("reporter stopped")
}

// RunNow builds, logs and returns a summary. cron never overlaps runs of one job,
// so prevTrades needs no lock.
func (r *Reporter) RunNow() Summary {
	tickers := r.store.Tickers()
	s := Summary{
		Status:     r.store.ConnectionStatus(),
		Trades:     r.store.TradeCount(),
		Tickers:    len(tickers),
		LastUpdate: time.UnixMilli(r.store.LastUpdate()).UTC(),
		Last:       make(map[string]float64, len(tickers)),
	}
	// A clear in between makes the tape shorter than last time.
	s.NewTrades = s.Trades - r.prevTrades
	if s.NewTrades < 0 {
		s.NewTrades = s.Trades
	}
	r.prevTrades = s.Trades
	if err := r.store.Error(); err != nil {
		s.Error = err.Message
	}
	for sym, t := range tickers {
		s.Last[sym] = t.Last
	}

	r.metrics.SetStored(s.Trades, s.Tickers)

	evt := r.log.Info().
		Str("status", string(s.Status)).
		Int("trades", s.Trades).
		Int("new_trades", s.NewTrades).
		Int("tickers", s.Tickers).
		Time("last_update", s.LastUpdate)
	if s.Error != "" {
		evt = evt.Str("error", s.Error)
	}
	symbols := make([]string, 0, len(s.Last))
	for sym := range s.Last {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	last := zerolog.Dict()
	for _, sym := range symbols {
		last = last.Float64(sym, s.Last[sym])
	}
	evt.Dict("last", last).Msg("summary")
	return s
}
