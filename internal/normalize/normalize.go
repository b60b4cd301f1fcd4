// Package normalize turns Binance wire frames into dashboard trades and tickers.
// Everything here is pure: the same frame always yields the same record.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"livetape/internal/market"
)

// Exchange is the venue name stamped on every record.
const Exchange = "binance"

// ErrMalformed marks a frame that failed validation and must be dropped.
var ErrMalformed = errors.New("malformed frame")

// quoteAssets is checked longest first so FDUSD wins over USD.
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"BTC", "ETH", "BNB", "EUR", "TRY", "BRL", "GBP", "USD", "DAI",
}

// minBase is the shortest base asset a quote suffix may leave when a shorter quote
// also fits: DOTUSD is DOT/USD, not DO/TUSD.
const minBase = 3

// Symbol rewrites an exchange symbol such as BTCUSDT to BTC/USDT. Symbols without a
// known quote asset are returned upper-cased and otherwise untouched.
func Symbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if strings.Contains(s, "/") {
		return s
	}
	fallback := ""
	for _, quote := range quoteAssets {
		if len(s) <= len(quote) || !strings.HasSuffix(s, quote) {
			continue
		}
		if len(s)-len(quote) >= minBase {
			return s[:len(s)-len(quote)] + "/" + quote
		}
		if fallback == "" {
			fallback = quote
		}
	}
	if fallback != "" {
		return s[:len(s)-len(fallback)] + "/" + fallback
	}
	return s
}

// BaseAsset returns the part of a slash symbol before the slash.
func BaseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// TradeID is the synthetic identifier of a trade.
func TradeID(symbol string, ts int64) string {
	return symbol + "-" + strconv.FormatInt(ts, 10)
}

// DecodeTrade validates a raw trade frame and maps it to a market.Trade.
func DecodeTrade(data []byte) (market.Trade, error) {
	var msg TradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return market.Trade{}, fmt.Errorf("%w: trade: %v", ErrMalformed, err)
	}
	return Trade(msg)
}

// Trade maps a decoded trade message to a market.Trade.
func Trade(msg TradeMessage) (market.Trade, error) {
	switch {
	case msg.Symbol == nil || *msg.Symbol == "":
		return market.Trade{}, fmt.Errorf("%w: trade: missing symbol", ErrMalformed)
	case msg.TradeTime == nil:
		return market.Trade{}, fmt.Errorf("%w: trade: missing trade time", ErrMalformed)
	case msg.Maker == nil:
		return market.Trade{}, fmt.Errorf("%w: trade: missing maker flag", ErrMalformed)
	}
	price, err := parseDecimal("p", msg.Price)
	if err != nil {
		return market.Trade{}, fmt.Errorf("trade: %w", err)
	}
	qty, err := parseDecimal("q", msg.Quantity)
	if err != nil {
		return market.Trade{}, fmt.Errorf("trade: %w", err)
	}

	symbol := Symbol(*msg.Symbol)
	ts := *msg.TradeTime
	side := market.SideBuy
	if *msg.Maker {
		side = market.SideSell
	}
	return market.Trade{
		ID:        TradeID(symbol, ts),
		TradeID:   msg.TradeID,
		Timestamp: ts,
		Datetime:  market.Datetime(ts),
		Symbol:    symbol,
		Side:      side,
		Amount:    qty.InexactFloat64(),
		Price:     price.InexactFloat64(),
		Cost:      price.Mul(qty).InexactFloat64(),
		Exchange:  Exchange,
	}, nil
}

// DecodeTicker validates a raw 24h ticker frame and maps it to a market.Ticker.
func DecodeTicker(data []byte) (market.Ticker, error) {
	var msg TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return market.Ticker{}, fmt.Errorf("%w: ticker: %v", ErrMalformed, err)
	}
	return Ticker(msg)
}

// Ticker maps a decoded ticker message to a market.Ticker.
func Ticker(msg TickerMessage) (market.Ticker, error) {
	if msg.Symbol == nil || *msg.Symbol == "" {
		return market.Ticker{}, fmt.Errorf("%w: ticker: missing symbol", ErrMalformed)
	}
	if msg.CloseTime == nil {
		return market.Ticker{}, fmt.Errorf("%w: ticker: missing close time", ErrMalformed)
	}

	var firstErr error
	num := func(key string, raw *string) float64 {
		d, err := parseDecimal(key, raw)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return d.InexactFloat64()
	}

	ts := *msg.CloseTime
	t := market.Ticker{
		Symbol:      Symbol(*msg.Symbol),
		Timestamp:   ts,
		Datetime:    market.Datetime(ts),
		High:        num("h", msg.HighPrice),
		Low:         num("l", msg.LowPrice),
		Bid:         num("b", msg.BidPrice),
		Ask:         num("a", msg.AskPrice),
		Last:        num("c", msg.LastPrice),
		Change:      num("p", msg.PriceChange),
		Percentage:  num("P", msg.ChangePercent),
		Average:     num("w", msg.WeightedAvg),
		BaseVolume:  num("v", msg.BaseVolume),
		QuoteVolume: num("q", msg.QuoteVolume),
	}
	if firstErr != nil {
		return market.Ticker{}, fmt.Errorf("ticker: %w", firstErr)
	}
	t.Close = t.Last
	return t, nil
}

func parseDecimal(key string, raw *string) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return d, nil
}
