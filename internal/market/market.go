package market

import (
	"time"
)

// Side is the taker direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ConnectionStatus is the dashboard-facing state of the feed.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusError, StatusReconnecting:
		return true
	default:
		return false
	}
}

// Trade is a single executed trade as shown on the dashboard.
type Trade struct {
	ID        string  `json:"id"`
	TradeID   int64   `json:"tradeId,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Datetime  string  `json:"datetime"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Cost      float64 `json:"cost"`
	Exchange  string  `json:"exchange"`
}

// Ticker is the latest 24h statistics snapshot for one symbol.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Timestamp   int64   `json:"timestamp"`
	Datetime    string  `json:"datetime"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Last        float64 `json:"last"`
	Close       float64 `json:"close"`
	Change      float64 `json:"change"`
	Percentage  float64 `json:"percentage"`
	Average     float64 `json:"average"`
	BaseVolume  float64 `json:"baseVolume"`
	QuoteVolume float64 `json:"quoteVolume"`
}

// APIError is the last user-visible failure. It is replaced or cleared on the next
// successful event.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Exchange  string `json:"exchange,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Bucket is one fixed-width time window of aggregated trades.
// Price mirrors Close and is what the line chart plots.
type Bucket struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
}

// Datetime formats an epoch-millisecond timestamp the way the dashboard displays it.
func Datetime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
