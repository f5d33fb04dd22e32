// broker/broker_test.go
package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeCodeMapsTossVenues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NASD", ExchangeCode("NSQ"))
	assert.Equal(t, "NYSE", ExchangeCode("NYS"))
	assert.Equal(t, "AMEX", ExchangeCode("ASE"))
	// Unknown venues default to NASDAQ.
	assert.Equal(t, "NASD", ExchangeCode("???"))
}

func TestMockBuyLifecycle(t *testing.T) {
	t.Parallel()

	c := NewMockClient()
	ctx := context.Background()

	orderID, err := c.PlaceBuy(ctx, "ABCD", 10, 5, "NASD")
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	orders, err := c.GetUnfilledOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ABCD", orders[0].Ticker)

	require.NoError(t, c.CancelOrder(ctx, "ABCD", orderID, 5))
	orders, err = c.GetUnfilledOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMockRejectsBuyBeyondCash(t *testing.T) {
	t.Parallel()

	c := NewMockClient()
	c.SetInitialCash(1000) // KRW; far below one share

	_, err := c.PlaceBuy(context.Background(), "ABCD", 10, 1, "NASD")
	assert.Error(t, err)
}

func TestMockSellReducesHolding(t *testing.T) {
	t.Parallel()

	c := NewMockClient()
	c.holdings["ABCD"] = &Holding{Ticker: "ABCD", Quantity: 10, AvgPrice: 10, Exchange: "NASD"}

	require.NoError(t, c.PlaceSell(context.Background(), "ABCD", 11, 4, "NASD"))

	holdings, err := c.GetHoldings(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(6), holdings[0].Quantity)

	// Selling the rest removes the holding entirely.
	require.NoError(t, c.PlaceSell(context.Background(), "ABCD", 11, 6, "NASD"))
	holdings, _ = c.GetHoldings(context.Background())
	assert.Empty(t, holdings)
}

func TestMockSellRejectsOversell(t *testing.T) {
	t.Parallel()

	c := NewMockClient()
	c.holdings["ABCD"] = &Holding{Ticker: "ABCD", Quantity: 3, AvgPrice: 10, Exchange: "NASD"}

	assert.Error(t, c.PlaceSell(context.Background(), "ABCD", 11, 5, "NASD"))
}

func TestMockCandlesAreOldestFirst(t *testing.T) {
	t.Parallel()

	c := NewMockClient()
	candles, err := c.GetCandles(context.Background(), "ABCD", "NASD")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(candles), 60)

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Time.After(candles[i-1].Time))
	}
}
