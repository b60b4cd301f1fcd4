package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"livetape/internal/aggregate"
	"livetape/internal/config"
	"livetape/internal/feed"
	"livetape/internal/ingest"
	"livetape/internal/logging"
	"livetape/internal/metrics"
	"livetape/internal/report"
	"livetape/internal/server"
	"livetape/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	m := metrics.New()
	st := store.New(store.WithDedup(cfg.Store.DedupWindow))

	client := feed.NewClient(feed.Options{
		Endpoints:      cfg.Feed.Endpoints(),
		Dialer:         feed.WebsocketDialer{ReadLimit: cfg.Feed.ReadLimit},
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		Logger:         log,
		Metrics:        m,
	})
	session := ingest.New(client, st, ingest.Options{
		Logger:  log,
		Metrics: m,
		Tickers: cfg.Feed.Tickers,
	})

	rng, err := aggregate.ParseRange(cfg.Panel.ChartRange)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		TradeRows:       cfg.Panel.TradeRows,
		RefreshInterval: cfg.Panel.RefreshInterval,
		ChartSymbol:     cfg.Panel.ChartSymbol,
		ChartRange:      rng,
		Symbols:         cfg.Feed.Symbols,
		Venue:           cfg.Feed.Venue,
	}, server.Deps{
		Store:   st,
		Session: session,
		Feed:    client,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	reporter := report.New(st, m, log)
	if cfg.Report.Schedule != "" {
		if err := reporter.Schedule(cfg.Report.Schedule); err != nil {
			return err
		}
		reporter.Start()
		defer reporter.Stop()
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Info().
		Str("url", fmt.Sprintf("http://%s", ln.Addr().String())).
		Str("trades", client.TradeURL()).
		Msg("serving")

	// Event streams end when baseCtx is cancelled; Shutdown alone would wait on them.
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	httpServer := &http.Server{
		Handler:     loggingMiddleware(log, srv),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	session.Connect()
	defer stopIngest(srv, session)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("shutting down")
	stopStreams()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// stopIngest closes the server before disconnecting the session: the server owns any
// manual reconnect in flight, which would otherwise connect again afterwards.
func stopIngest(srv interface{ Close() }, session interface{ Disconnect() }) {
	srv.Close()
	session.Disconnect()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	return lw.ResponseWriter.Write(b)
}

// Flush keeps event streams working behind the middleware.
func (lw *loggingResponseWriter) Flush() {
	if fl, ok := lw.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacker not supported")
}

func loggingMiddleware(log zerolog.Logger, next http.Handler) http.Handler {
	log = log.With().Str("component", "http").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lrw.status).
			Dur("elapsed", time.Since(start).Round(time.Millisecond)).
			Msg("request")
	})
}
