package normalize

// Binance uses keys that differ only by case (m/M, b/B, l/L ...). encoding/json falls
// back to case-insensitive matching, so every such key is declared explicitly even
// when the value is unused.

// TradeMessage mirrors the Binance raw trade stream payload.
// Pointer fields mark values that must be present.
type TradeMessage struct {
	EventType     string  `json:"e"`
	EventTime     int64   `json:"E"`
	Symbol        *string `json:"s"`
	TradeID       int64   `json:"t"`
	Price         *string `json:"p"`
	Quantity      *string `json:"q"`
	BuyerOrderID  int64   `json:"b"`
	SellerOrderID int64   `json:"a"`
	TradeTime     *int64  `json:"T"`
	Maker         *bool   `json:"m"`
	Ignore        bool    `json:"M"`
}

// TickerMessage mirrors the Binance 24h rolling ticker payload.
type TickerMessage struct {
	EventType     string  `json:"e"`
	EventTime     int64   `json:"E"`
	Symbol        *string `json:"s"`
	PriceChange   *string `json:"p"`
	ChangePercent *string `json:"P"`
	WeightedAvg   *string `json:"w"`
	PrevClose     string  `json:"x"`
	LastPrice     *string `json:"c"`
	LastQty       string  `json:"Q"`
	BidPrice      *string `json:"b"`
	BidQty        string  `json:"B"`
	AskPrice      *string `json:"a"`
	AskQty        string  `json:"A"`
	OpenPrice     string  `json:"o"`
	HighPrice     *string `json:"h"`
	LowPrice      *string `json:"l"`
	BaseVolume    *string `json:"v"`
	QuoteVolume   *string `json:"q"`
	OpenTime      int64   `json:"O"`
	CloseTime     *int64  `json:"C"`
	FirstTradeID  int64   `json:"F"`
	LastTradeID   int64   `json:"L"`
	Count         int64   `json:"n"`
}
