package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetape/internal/market"
)

func tradeWithMaker(maker string) []byte {
	return []byte(`{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":12345,"p":"42000.50","q":"0.250","b":88,"a":50,"T":1700000000000,"m":` + maker + `,"M":true}`)
}

const tickerFrame = `{"e":"24hrTicker","E":1700000000500,"s":"ETHUSDT","p":"-12.50","P":"-0.55","w":"2250.10","x":"2260.00","c":"2247.50","Q":"0.10","b":"2247.40","B":"3.2","a":"2247.60","A":"1.1","o":"2260.00","h":"2290.00","l":"2230.00","v":"150000.5","q":"337500000.25","O":1699913600000,"C":1700000000000,"F":1,"L":900,"n":900}`

func TestSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "BTC/USDT"},
		{"ethusdt", "ETH/USDT"},
		{"LINKUSDT", "LINK/USDT"},
		{"ETHBTC", "ETH/BTC"},
		{"BTCFDUSD", "BTC/FDUSD"},
		{"BTCUSD", "BTC/USD"},
		{"DOTUSD", "DOT/USD"},
		{"BNBUSD", "BNB/USD"},
		{"ETHBUSD", "ETH/BUSD"},
		{"BTCTUSD", "BTC/TUSD"},
		{"OPUSDT", "OP/USDT"},
		{"dotusd", "DOT/USD"},
		{"BTC/USDT", "BTC/USDT"},
		{"USDT", "USDT"},
		{"FOOBAR", "FOOBAR"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Symbol(tt.in))
		})
	}
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", BaseAsset("BTC/USDT"))
	assert.Equal(t, "FOOBAR", BaseAsset("FOOBAR"))
}

func TestDecodeTrade(t *testing.T) {
	trade, err := DecodeTrade(tradeWithMaker("false"))
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT-1700000000000", trade.ID)
	assert.Equal(t, int64(12345), trade.TradeID)
	assert.Equal(t, int64(1700000000000), trade.Timestamp)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", trade.Datetime)
	assert.Equal(t, "BTC/USDT", trade.Symbol)
	assert.Equal(t, market.SideBuy, trade.Side)
	assert.Equal(t, 42000.5, trade.Price)
	assert.Equal(t, 0.25, trade.Amount)
	assert.Equal(t, 10500.125, trade.Cost)
	assert.Equal(t, Exchange, trade.Exchange)
}

func TestDecodeTradeSideFromMakerFlag(t *testing.T) {
	sell, err := DecodeTrade(tradeWithMaker("true"))
	require.NoError(t, err)
	assert.Equal(t, market.SideSell, sell.Side)

	// "M" is always true on the wire and must not leak into the maker flag.
	buy, err := DecodeTrade(tradeWithMaker("false"))
	require.NoError(t, err)
	assert.Equal(t, market.SideBuy, buy.Side)
}

func TestDecodeTradeIsDeterministic(t *testing.T) {
	a, err := DecodeTrade(tradeWithMaker("true"))
	require.NoError(t, err)
	b, err := DecodeTrade(tradeWithMaker("true"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeTradeFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"e":"trade",`},
		{"price as number", `{"s":"BTCUSDT","p":42000.5,"q":"1","T":1,"m":false}`},
		{"maker as string", `{"s":"BTCUSDT","p":"1","q":"1","T":1,"m":"false"}`},
		{"missing symbol", `{"p":"1","q":"1","T":1,"m":false}`},
		{"missing trade time", `{"s":"BTCUSDT","p":"1","q":"1","m":false}`},
		{"missing maker", `{"s":"BTCUSDT","p":"1","q":"1","T":1}`},
		{"missing quantity", `{"s":"BTCUSDT","p":"1","T":1,"m":false}`},
		{"garbage price", `{"s":"BTCUSDT","p":"abc","q":"1","T":1,"m":false}`},
		{"NaN price", `{"s":"BTCUSDT","p":"NaN","q":"1","T":1,"m":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTrade([]byte(tt.frame))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeTradeIgnoresUnknownFields(t *testing.T) {
	trade, err := DecodeTrade([]byte(`{"s":"ADAUSDT","p":"0.5","q":"100","T":1000,"m":false,"extra":{"nested":[1,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, "ADA/USDT", trade.Symbol)
	assert.Equal(t, 50.0, trade.Cost)
}

func TestDecodeTicker(t *testing.T) {
	ticker, err := DecodeTicker([]byte(tickerFrame))
	require.NoError(t, err)

	assert.Equal(t, "ETH/USDT", ticker.Symbol)
	assert.Equal(t, int64(1700000000000), ticker.Timestamp)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", ticker.Datetime)
	assert.Equal(t, 2290.0, ticker.High)
	assert.Equal(t, 2230.0, ticker.Low)
	assert.Equal(t, 2247.4, ticker.Bid)
	assert.Equal(t, 2247.6, ticker.Ask)
	assert.Equal(t, 2247.5, ticker.Last)
	assert.Equal(t, ticker.Last, ticker.Close)
	assert.Equal(t, -12.5, ticker.Change)
	assert.Equal(t, -0.55, ticker.Percentage)
	assert.Equal(t, 2250.1, ticker.Average)
	assert.Equal(t, 150000.5, ticker.BaseVolume)
	assert.Equal(t, 337500000.25, ticker.QuoteVolume)
}

func TestDecodeTickerFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"missing symbol", `{"C":1,"h":"1","l":"1","b":"1","a":"1","c":"1","p":"1","P":"1","w":"1","v":"1","q":"1"}`},
		{"missing close time", `{"s":"BTCUSDT","h":"1","l":"1","b":"1","a":"1","c":"1","p":"1","P":"1","w":"1","v":"1","q":"1"}`},
		{"missing bid", `{"s":"BTCUSDT","C":1,"h":"1","l":"1","a":"1","c":"1","p":"1","P":"1","w":"1","v":"1","q":"1"}`},
		{"high as number", `{"s":"BTCUSDT","C":1,"h":1,"l":"1","b":"1","a":"1","c":"1","p":"1","P":"1","w":"1","v":"1","q":"1"}`},
		{"garbage volume", `{"s":"BTCUSDT","C":1,"h":"1","l":"1","b":"1","a":"1","c":"1","p":"1","P":"1","w":"1","v":"x","q":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTicker([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
