// signal/signal_test.go
package signal

import (
	"testing"
	"time"

	"auto_kis_go/broker"
	"auto_kis_go/config"

	"github.com/stretchr/testify/assert"
)

func flatCandles(n int, price float64) []broker.Candle {
	candles := make([]broker.Candle, n)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = broker.Candle{
			Time:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
	}
	return candles
}

func newTestChecker() *Checker {
	return NewChecker(config.NewConfig().Signal, nil)
}

func TestEvaluateFlatBaseAbovePriceHits(t *testing.T) {
	t.Parallel()

	c := newTestChecker()
	candles := flatCandles(80, 10)

	// Recent closes hold slightly above a flat Span B.
	for i := len(candles) - 5; i < len(candles); i++ {
		candles[i].Close = 10.1
	}

	ok, price := c.Evaluate(candles)
	assert.True(t, ok)
	// The reference price is the flat base the entry limit rests at, not
	// the last traded close.
	assert.Equal(t, 10.0, price)
}

func TestEvaluateTooLittleHistory(t *testing.T) {
	t.Parallel()

	c := newTestChecker()
	ok, _ := c.Evaluate(flatCandles(40, 10))
	assert.False(t, ok)
}

func TestEvaluateRejectsSlopedSpanB(t *testing.T) {
	t.Parallel()

	c := newTestChecker()
	candles := flatCandles(120, 10)

	// Each bar sets a fresh 52-bar high, ramping Span B well past the 2%
	// tolerance.
	for i := len(candles) - 5; i < len(candles); i++ {
		candles[i].High = 12 + float64(i-(len(candles)-5))*2
		candles[i].Close = candles[i].High
	}

	ok, _ := c.Evaluate(candles)
	assert.False(t, ok)
}

func TestEvaluateRejectsCloseBelowBase(t *testing.T) {
	t.Parallel()

	c := newTestChecker()
	candles := flatCandles(80, 10)

	// One recent close dipping under the discounted Span B floor kills the
	// signal even when the base itself is flat.
	candles[len(candles)-2].Close = 9.5

	ok, _ := c.Evaluate(candles)
	assert.False(t, ok)
}
