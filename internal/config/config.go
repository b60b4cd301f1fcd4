// Package config loads livetape settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"livetape/internal/aggregate"
	"livetape/internal/feed"
	"livetape/internal/normalize"
)

// EnvPrefix prefixes every overriding environment variable, e.g. LIVETAPE_LOG_LEVEL.
const EnvPrefix = "LIVETAPE"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Feed   FeedConfig   `mapstructure:"feed"`
	Store  StoreConfig  `mapstructure:"store"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Panel  PanelConfig  `mapstructure:"panel"`
	Report ReportConfig `mapstructure:"report"`
	Log    LogConfig    `mapstructure:"log"`
}

type FeedConfig struct {
	// Venue selects the default stream host: global or us.
	Venue string `mapstructure:"venue"`
	// WSBase overrides the venue host.
	WSBase         string        `mapstructure:"ws_base"`
	Symbols        []string      `mapstructure:"symbols"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	Tickers        bool          `mapstructure:"tickers"`
}

type StoreConfig struct {
	// DedupWindow is how many recent trade ids are remembered; 0 disables it.
	DedupWindow int `mapstructure:"dedup_window"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PanelConfig struct {
	TradeRows       int           `mapstructure:"trade_rows"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ChartSymbol     string        `mapstructure:"chart_symbol"`
	ChartRange      string        `mapstructure:"chart_range"`
}

type ReportConfig struct {
	// Schedule is a cron spec; empty disables the reporter.
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Endpoints resolves the stream locations.
func (c FeedConfig) Endpoints() feed.Endpoints {
	base := c.WSBase
	if strings.TrimSpace(base) == "" {
		base = feed.WSBaseForVenue(c.Venue)
	}
	return feed.Endpoints{WSBase: base, Symbols: c.Symbols}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.venue", "global")
	v.SetDefault("feed.ws_base", "")
	v.SetDefault("feed.symbols", feed.DefaultSymbols)
	v.SetDefault("feed.reconnect_delay", feed.DefaultReconnectDelay)
	v.SetDefault("feed.read_limit", 1<<20)
	v.SetDefault("feed.tickers", true)

	v.SetDefault("store.dedup_window", 4096)

	v.SetDefault("http.addr", "127.0.0.1:0")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("panel.trade_rows", 100)
	v.SetDefault("panel.refresh_interval", 500*time.Millisecond)
	v.SetDefault("panel.chart_symbol", "BTC/USDT")
	v.SetDefault("panel.chart_range", string(aggregate.Range1H))

	v.SetDefault("report.schedule", "@every 1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads path when it is non-empty, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Older deployment variable names still apply.
	_ = v.BindEnv("feed.ws_base", EnvPrefix+"_FEED_WS_BASE", "BINANCE_SPOT_WS_BASE")
	_ = v.BindEnv("feed.venue", EnvPrefix+"_FEED_VENUE", "BINANCE_VENUE")
	_ = v.BindEnv("panel.chart_symbol", EnvPrefix+"_PANEL_CHART_SYMBOL", "DEFAULT_SYMBOL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// PORT and APP_PORT bind loopback unless the address was set explicitly.
	if os.Getenv(EnvPrefix+"_HTTP_ADDR") == "" && !v.InConfig("http.addr") {
		if p := os.Getenv("PORT"); p != "" {
			cfg.HTTP.Addr = "127.0.0.1:" + p
		} else if p := os.Getenv("APP_PORT"); p != "" {
			cfg.HTTP.Addr = "127.0.0.1:" + p
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	symbols := make([]string, 0, len(c.Feed.Symbols))
	for _, s := range c.Feed.Symbols {
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				symbols = append(symbols, part)
			}
		}
	}
	c.Feed.Symbols = symbols
	c.Panel.ChartSymbol = normalize.Symbol(c.Panel.ChartSymbol)
	c.Panel.ChartRange = strings.ToUpper(strings.TrimSpace(c.Panel.ChartRange))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c *Config) Validate() error {
	switch {
	case len(c.Feed.Symbols) == 0:
		return fmt.Errorf("%w: feed.symbols is empty", ErrInvalid)
	case c.Feed.ReconnectDelay <= 0:
		return fmt.Errorf("%w: feed.reconnect_delay must be positive", ErrInvalid)
	case c.Feed.ReadLimit <= 0:
		return fmt.Errorf("%w: feed.read_limit must be positive", ErrInvalid)
	case c.Store.DedupWindow < 0:
		return fmt.Errorf("%w: store.dedup_window is negative", ErrInvalid)
	case c.HTTP.Addr == "":
		return fmt.Errorf("%w: http.addr is empty", ErrInvalid)
	case c.HTTP.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: http.shutdown_timeout must be positive", ErrInvalid)
	case c.Panel.TradeRows <= 0:
		return fmt.Errorf("%w: panel.trade_rows must be positive", ErrInvalid)
	case c.Panel.RefreshInterval <= 0:
		return fmt.Errorf("%w: panel.refresh_interval must be positive", ErrInvalid)
	case c.Panel.ChartSymbol == "":
		return fmt.Errorf("%w: panel.chart_symbol is empty", ErrInvalid)
	}
	if _, err := aggregate.ParseRange(c.Panel.ChartRange); err != nil {
		return fmt.Errorf("%w: panel.chart_range: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
