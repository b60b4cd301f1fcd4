package feed

import (
	"strings"
)

const (
	GlobalWSBase = "wss://stream.binance.com:9443"
	USWSBase     = "wss://stream.binance.us:9443"
)

// DefaultSymbols are the markets subscribed when none are configured.
var DefaultSymbols = []string{"btcusdt", "ethusdt", "adausdt", "dotusdt", "linkusdt"}

// Endpoints locates the raw trade and ticker streams for a set of symbols.
type Endpoints struct {
	WSBase  string
	Symbols []string
}

// WSBaseForVenue returns the spot stream base of a venue selector (global/us).
func WSBaseForVenue(venue string) string {
	switch strings.ToLower(strings.TrimSpace(venue)) {
	case "us", "binanceus":
		return USWSBase
	default:
		return GlobalWSBase
	}
}

// StreamPath joins one stream per symbol into a raw multi-stream path, e.g.
// /ws/btcusdt@trade/ethusdt@trade.
func StreamPath(symbols []string, stream string) string {
	var b strings.Builder
	b.WriteString("/ws")
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(s)
		b.WriteByte('@')
		b.WriteString(stream)
	}
	return b.String()
}

func (e Endpoints) base() string {
	base := strings.TrimRight(strings.TrimSpace(e.WSBase), "/")
	if base == "" {
		return GlobalWSBase
	}
	return base
}

func (e Endpoints) symbols() []string {
	if len(e.Symbols) == 0 {
		return DefaultSymbols
	}
	return e.Symbols
}

func (e Endpoints) TradeURL() string {
	return e.base() + StreamPath(e.symbols(), "trade")
}

func (e Endpoints) TickerURL() string {
	return e.base() + StreamPath(e.symbols(), "ticker")
}
