package broker

import (
	"context"
	"time"
)

// Balance is the account-level view in the broker's reporting currency
// (KRW for KIS; the caller applies the configured FX rate).
type Balance struct {
	TotalEquity   float64 // stock valuation + cash
	OrderableCash float64
}

// Holding is one broker-reported position row. The broker is ground truth
// for existence, quantity and average price.
type Holding struct {
	Ticker   string
	Quantity int64
	AvgPrice float64
	Exchange string
}

// UnfilledOrder is one broker-reported open entry order.
type UnfilledOrder struct {
	Ticker   string
	Price    float64
	Quantity int64
	OrderID  string
	PlacedAt time.Time
	Exchange string
}

// Candle is one OHLC bar from the quotation endpoint.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Client is the brokerage gateway boundary. Every call can fail for
// network, auth or business reasons and reports that as an error; callers
// must treat the last successful read as the current truth.
type Client interface {
	// RefreshToken ensures a valid access token is cached. Cheap when the
	// cached token has not expired.
	RefreshToken(ctx context.Context) error

	// GetBalance returns total equity and orderable cash.
	GetBalance(ctx context.Context) (Balance, error)

	// GetHoldings returns every position with its broker-reported quantity
	// and cost basis.
	GetHoldings(ctx context.Context) ([]Holding, error)

	// GetUnfilledOrders returns the open (unfilled) buy orders.
	GetUnfilledOrders(ctx context.Context) ([]UnfilledOrder, error)

	// PlaceBuy submits a limit buy and returns the broker order id.
	PlaceBuy(ctx context.Context, ticker string, price float64, qty int64, exchange string) (string, error)

	// PlaceSell submits a limit sell.
	PlaceSell(ctx context.Context, ticker string, price float64, qty int64, exchange string) error

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, ticker, orderID string, qty int64) error

	// GetQuote returns the last traded price.
	GetQuote(ctx context.Context, ticker, exchange string) (float64, error)

	// GetCandles returns recent 5-minute bars, oldest first.
	GetCandles(ctx context.Context, ticker, exchange string) ([]Candle, error)
}

// tossToKIS maps Toss market codes to KIS exchange codes.
var tossToKIS = map[string]string{
	"NSQ": "NASD", // Nasdaq
	"NYS": "NYSE", // New York
	"ASE": "AMEX",
}

// ExchangeCode converts a Toss market code into the KIS venue code,
// defaulting to Nasdaq for anything unrecognized.
func ExchangeCode(tossCode string) string {
	if code, ok := tossToKIS[tossCode]; ok {
		return code
	}
	return "NASD"
}
