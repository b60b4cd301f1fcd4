package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"livetape/internal/aggregate"
	"livetape/internal/feed"
	"livetape/internal/market"
	"livetape/internal/metrics"
	"livetape/internal/normalize"
	"livetape/internal/panel"
	"livetape/internal/store"
)

// Session is the reconnect control of the ingest session.
type Session interface {
	Reconnect(ctx context.Context) error
	Attempts() int
}

// FeedStatus reports the trade stream for health checks.
type FeedStatus interface {
	State() feed.State
	TradeURL() string
}

type Config struct {
	TradeRows       int
	RefreshInterval time.Duration
	ChartSymbol     string
	ChartRange      aggregate.Range
	Symbols         []string
	Venue           string
}

type Deps struct {
	Store   *store.Store
	Session Session
	Feed    FeedStatus
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type Server struct {
	router  *mux.Router
	cfg     Config
	store   *store.Store
	session Session
	feed    FeedStatus
	metrics *metrics.Metrics
	log     zerolog.Logger

	reconnecting atomic.Bool
	bg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

func New(cfg Config, deps Deps) (*Server, error) {
	static, err := staticHandler()
	if err != nil {
		return nil, err
	}
	if cfg.TradeRows <= 0 {
		cfg.TradeRows = panel.DefaultTradeRows
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = panel.DefaultRefreshInterval
	}
	if cfg.ChartSymbol == "" {
		cfg.ChartSymbol = panel.DefaultChartSymbol
	}
	if cfg.ChartRange == "" {
		cfg.ChartRange = aggregate.Range1H
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		router:  mux.NewRouter(),
		cfg:     cfg,
		store:   deps.Store,
		session: deps.Session,
		feed:    deps.Feed,
		metrics: deps.Metrics,
		log:     deps.Logger.With().Str("component", "server").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	srv.routes(static)
	return srv, nil
}

func (s *Server) routes(static http.Handler) {
	s.router.HandleFunc("/stream/trades", s.handleTradesStream).Methods(http.MethodGet)
	s.router.HandleFunc("/stream/chart", s.handleChartStream).Methods(http.MethodGet)
	s.router.HandleFunc("/stream/market", s.handleMarketStream).Methods(http.MethodGet)
	s.router.HandleFunc("/stream/status", s.handleStatusStream).Methods(http.MethodGet)
	s.router.HandleFunc("/api/defaults", s.handleDefaults).Methods(http.MethodGet)
	s.router.HandleFunc("/api/layout", s.handleLayout).Methods(http.MethodGet)
	s.router.HandleFunc("/api/reconnect", s.handleReconnect).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	// Unmatched paths reach the dashboard; a known path with the wrong method still
	// gets mux's 405.
	s.router.NotFoundHandler = static
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close cancels a manual reconnect still in flight and waits for it.
func (s *Server) Close() {
	s.cancel()
	s.bg.Wait()
}

func (s *Server) handleTradesStream(w http.ResponseWriter, r *http.Request) {
	rows := parsePositiveInt(r, "rows", s.cfg.TradeRows)
	s.stream(w, r, "trades", []store.Slice{store.SliceTrades}, func() any {
		return panel.LiveTrades(s.store.RecentTrades(rows), rows)
	})
}

func (s *Server) handleChartStream(w http.ResponseWriter, r *http.Request) {
	symbol := s.cfg.ChartSymbol
	if raw := strings.TrimSpace(r.URL.Query().Get("symbol")); raw != "" {
		symbol = normalize.Symbol(raw)
	}
	rng := s.cfg.ChartRange
	if raw := r.URL.Query().Get("range"); raw != "" {
		parsed, err := aggregate.ParseRange(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rng = parsed
	}
	s.stream(w, r, "chart", []store.Slice{store.SliceTrades}, func() any {
		return panel.PriceChart(s.store.TradesFor(symbol), symbol, rng)
	})
}

func (s *Server) handleMarketStream(w http.ResponseWriter, r *http.Request) {
	q := panel.MarketQuery{Search: r.URL.Query().Get("q")}
	for _, raw := range r.URL.Query()["fav"] {
		for _, sym := range strings.Split(raw, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				q.Favorites = append(q.Favorites, normalize.Symbol(sym))
			}
		}
	}
	s.stream(w, r, "market", []store.Slice{store.SliceTickers}, func() any {
		return panel.MarketData(s.store.Tickers(), q)
	})
}

type statusView struct {
	Status     market.ConnectionStatus `json:"status"`
	Error      *market.APIError        `json:"error"`
	LastUpdate int64                   `json:"lastUpdate"`
	Attempts   int                     `json:"attempts"`
	Trades     int                     `json:"trades"`
}

func (s *Server) statusView() statusView {
	v := statusView{
		Status:     s.store.ConnectionStatus(),
		Error:      s.store.Error(),
		LastUpdate: s.store.LastUpdate(),
		Trades:     s.store.TradeCount(),
	}
	if s.session != nil {
		v.Attempts = s.session.Attempts()
	}
	return v
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	slices := []store.Slice{store.SliceStatus, store.SliceError, store.SliceLastUpdate}
	s.stream(w, r, "status", slices, func() any { return s.statusView() })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"connection": s.statusView(),
		"tickers":    len(s.store.Symbols()),
		"time":       time.Now().UTC(),
	}
	if s.feed != nil {
		body["feed"] = map[string]any{
			"state":    s.feed.State().String(),
			"tradeUrl": s.feed.TradeURL(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	symbols := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		symbols = append(symbols, normalize.Symbol(sym))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    s.cfg.ChartSymbol,
		"range":     s.cfg.ChartRange,
		"ranges":    aggregate.Ranges,
		"symbols":   symbols,
		"venue":     s.cfg.Venue,
		"tradeRows": s.cfg.TradeRows,
		"refreshMs": s.cfg.RefreshInterval.Milliseconds(),
	})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"panels": panel.DefaultLayout()})
}

// handleReconnect starts a manual reconnect and returns before it completes.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		http.Error(w, "no session", http.StatusServiceUnavailable)
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "reconnect already in progress"})
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.reconnecting.Store(false)
		if err := s.session.Reconnect(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("manual reconnect aborted")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func parsePositiveInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
