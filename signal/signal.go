// signal/signal.go
package signal

import (
	"context"
	"fmt"

	"auto_kis_go/broker"
	"auto_kis_go/config"
)

// CandleSource supplies 5-minute candle history, oldest first.
type CandleSource interface {
	GetCandles(ctx context.Context, ticker, exchange string) ([]broker.Candle, error)
}

// spanBPeriod is the Ichimoku Senkou Span B lookback in bars.
const spanBPeriod = 52

// Checker gates entries on an Ichimoku Span B consolidation breakout: the
// cloud base must be flat over the recent window and price must be holding
// above it, not just poking through on a single bar.
type Checker struct {
	cfg    *config.SignalConfig
	source CandleSource
}

// NewChecker creates a signal checker over the given candle source.
func NewChecker(cfg *config.SignalConfig, source CandleSource) *Checker {
	return &Checker{cfg: cfg, source: source}
}

// Eligible fetches candles for the ticker and reports whether the entry
// signal is present, along with the flat Span B level as the reference
// price. Too little history is a quiet no, not an error.
func (c *Checker) Eligible(ctx context.Context, ticker, exchange string) (bool, float64, error) {
	candles, err := c.source.GetCandles(ctx, ticker, exchange)
	if err != nil {
		return false, 0, fmt.Errorf("fetch candles for %s: %w", ticker, err)
	}
	ok, price := c.Evaluate(candles)
	return ok, price, nil
}

// Evaluate applies the signal to a candle series (oldest first) and
// returns the latest Span B value as the reference price on a hit. The
// entry is a limit order resting at the flat base, not a chase of the
// last trade.
//
// Conditions, all required over the last FlatBars bars:
//   - Span B is flat: every recent Span B value sits within TolerancePct
//     of the latest one.
//   - Every recent close holds above the Span B floor, the latest value
//     discounted by TolerancePct.
func (c *Checker) Evaluate(candles []broker.Candle) (bool, float64) {
	n := c.cfg.FlatBars
	if len(candles) < c.cfg.MinCandles || len(candles) < spanBPeriod+n {
		return false, 0
	}

	spanB := spanBSeries(candles)
	if len(spanB) < n {
		return false, 0
	}

	latest := spanB[len(spanB)-1]
	if latest <= 0 {
		return false, 0
	}

	for _, v := range spanB[len(spanB)-n:] {
		diff := (v - latest) / latest * 100
		if diff < 0 {
			diff = -diff
		}
		if diff > c.cfg.TolerancePct {
			return false, 0
		}
	}

	floor := latest * (1 - c.cfg.TolerancePct/100)
	for _, candle := range candles[len(candles)-n:] {
		if candle.Close <= floor {
			return false, 0
		}
	}
	return true, latest
}

// spanBSeries computes Senkou Span B for every bar with a full lookback:
// the midpoint of the window high and low.
func spanBSeries(candles []broker.Candle) []float64 {
	if len(candles) < spanBPeriod {
		return nil
	}

	out := make([]float64, 0, len(candles)-spanBPeriod+1)
	for i := spanBPeriod - 1; i < len(candles); i++ {
		high := candles[i-spanBPeriod+1].High
		low := candles[i-spanBPeriod+1].Low
		for _, candle := range candles[i-spanBPeriod+2 : i+1] {
			if candle.High > high {
				high = candle.High
			}
			if candle.Low < low {
				low = candle.Low
			}
		}
		out = append(out, (high+low)/2)
	}
	return out
}
