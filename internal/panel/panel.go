// Package panel builds the views the dashboard panels render. Every builder is a pure
// function of store state plus the panel's local selection.
package panel

import (
	"sort"
	"strings"

	"livetape/internal/aggregate"
	"livetape/internal/market"
	"livetape/internal/normalize"
)

const (
	DefaultTradeRows   = 100
	DefaultChartSymbol = "BTC/USDT"
)

// TradeRow is one line of the Live Trades grid.
type TradeRow struct {
	Symbol string      `json:"symbol"`
	Side   market.Side `json:"side"`
	Price  float64     `json:"price"`
	Amount float64     `json:"amount"`
	Cost   float64     `json:"cost"`
	Time   string      `json:"time"`
}

// LiveTrades maps the n most recent trades (store order, newest first) to grid rows.
// The grid replaces its whole data set with every call.
func LiveTrades(trades []market.Trade, n int) []TradeRow {
	if n <= 0 {
		n = DefaultTradeRows
	}
	if len(trades) > n {
		trades = trades[:n]
	}
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{
			Symbol: t.Symbol,
			Side:   t.Side,
			Price:  t.Price,
			Amount: t.Amount,
			Cost:   t.Cost,
			Time:   t.Datetime,
		}
	}
	return rows
}

type ChartView struct {
	Symbol  string          `json:"symbol"`
	Range   aggregate.Range `json:"range"`
	Buckets []market.Bucket `json:"buckets"`
	Trades  int             `json:"trades"`
	Waiting bool            `json:"waiting"`
}

// PriceChart aggregates the trades of symbol for the selected range. Trades of other
// symbols are ignored.
func PriceChart(trades []market.Trade, symbol string, r aggregate.Range) ChartView {
	if symbol == "" {
		symbol = DefaultChartSymbol
	}
	own := make([]market.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Symbol == symbol {
			own = append(own, t)
		}
	}
	buckets := aggregate.Aggregate(own, r)
	return ChartView{
		Symbol:  symbol,
		Range:   r,
		Buckets: buckets,
		Trades:  len(own),
		Waiting: len(buckets) == 0,
	}
}

// MarketRow is one ticker card of the Market Data panel.
type MarketRow struct {
	market.Ticker
	BaseAsset string  `json:"baseAsset"`
	Spread    float64 `json:"spread"`
	Favorite  bool    `json:"favorite"`
}

// MarketQuery is the panel-local selection.
type MarketQuery struct {
	Search    string
	Favorites []string
}

// Spread is the bid/ask spread as a percentage of the bid, 0 without a bid.
func Spread(t market.Ticker) float64 {
	if t.Bid <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / t.Bid * 100
}

// MarketData filters tickers by a case-insensitive match on symbol or base asset and
// orders them favorites first, then by quote volume, highest first.
func MarketData(tickers map[string]market.Ticker, q MarketQuery) []MarketRow {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	favorites := make(map[string]bool, len(q.Favorites))
	for _, f := range q.Favorites {
		favorites[strings.ToUpper(strings.TrimSpace(f))] = true
	}

	rows := make([]MarketRow, 0, len(tickers))
	for _, t := range tickers {
		base := normalize.BaseAsset(t.Symbol)
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Symbol), search) &&
			!strings.Contains(strings.ToLower(base), search) {
			continue
		}
		rows = append(rows, MarketRow{
			Ticker:    t,
			BaseAsset: base,
			Spread:    Spread(t),
			Favorite:  favorites[t.Symbol],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Favorite != b.Favorite {
			return a.Favorite
		}
		if a.QuoteVolume != b.QuoteVolume {
			return a.QuoteVolume > b.QuoteVolume
		}
		return a.Symbol < b.Symbol
	})
	return rows
}

// Spec places one panel in the layout.
type Spec struct {
	ID        string `json:"id"`
	Component string `json:"component"`
	Title     string `json:"title"`
}

// DefaultLayout is the arrangement restored by a layout reset.
func DefaultLayout() []Spec {
	return []Spec{
		{ID: "live-trades", Component: "live-trades", Title: "Live Trades"},
		{ID: "price-chart", Component: "price-chart", Title: "Price Chart"},
		{ID: "market-data", Component: "market-data", Title: "Market Data"},
	}
}
