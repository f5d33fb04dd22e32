// exits/engine.go
package exits

import (
	"math"

	"auto_kis_go/config"
	"auto_kis_go/ledger"
	"auto_kis_go/logs"
)

// Exit reasons, also used as journal and metric labels.
const (
	ReasonStopLoss      = "stop_loss"
	ReasonBreakevenStop = "breakeven_stop"
	ReasonTrailingStop  = "trailing_stop"
	ReasonStagedTake    = "staged_take"
	ReasonLiquidation   = "liquidation"
)

// SellFunc submits a limit sell for a position slice and returns an error
// when the broker rejects it. The engine only mutates local state after a
// nil return.
type SellFunc func(ticker string, price float64, qty int64, exchange string) error

// Event describes one confirmed exit order for observers (journal, metrics).
type Event struct {
	Reason    string
	Ticker    string
	Quantity  int64
	Price     float64
	StageFrom int
	StageTo   int
	ProfitPct float64
	PeakPct   float64
}

// ExitCallback receives a confirmed exit Event.
type ExitCallback func(Event)

// Engine is the per-position exit ladder. It is purely a function of the
// position's profit, stage, peak and quantity, evaluated once per cycle in
// strict priority order: hard stop, breakeven stop, trailing stop, staged
// profit-taking.
type Engine struct {
	cfg    *config.ExitConfig
	sell   SellFunc
	onExit ExitCallback
}

// New creates an exit engine selling through the given closure.
func New(cfg *config.ExitConfig, sell SellFunc) *Engine {
	return &Engine{cfg: cfg, sell: sell}
}

// SetOnExit registers an observer for confirmed exits.
func (e *Engine) SetOnExit(cb ExitCallback) {
	e.onExit = cb
}

func (e *Engine) emit(ev Event) {
	if e.onExit != nil {
		e.onExit(ev)
	}
}

// finalStage is the ladder's terminal stage; positions may be fully
// exhausted only when graduating into it.
func (e *Engine) finalStage() int {
	return e.cfg.ProfitSteps[len(e.cfg.ProfitSteps)-1].Stage
}

// Evaluate runs the ladder for one position at the current price. The
// position is mutated in place (peak, quantity, stage); the caller commits
// it back to the ledger afterwards. Returns true when the position was
// fully exited and must be deleted.
//
// The first matching stop wins and ends the tick for this ticker. The
// staged ladder may cascade through several stages in one tick when a
// single jump clears multiple triggers, but a rejected sell stops the
// cascade: no stage is skipped past an unconfirmed exit.
func (e *Engine) Evaluate(pos *ledger.Position, currentPrice float64) bool {
	if pos.Quantity <= 0 {
		return true
	}
	if pos.AvgPrice <= 0 || currentPrice <= 0 {
		return false
	}

	profitPct := (currentPrice - pos.AvgPrice) / pos.AvgPrice * 100
	if profitPct > pos.MaxProfitPct {
		pos.MaxProfitPct = profitPct
	}
	peak := pos.MaxProfitPct

	// 1. Hard stop-loss.
	if profitPct <= e.cfg.StopLossPct {
		logs.Warnf("[Exit] %s hit stop-loss: profit %.2f%% <= %.2f%%, selling all %d",
			pos.Ticker, profitPct, e.cfg.StopLossPct, pos.Quantity)
		return e.closeAll(pos, currentPrice, profitPct, peak, ReasonStopLoss)
	}

	// 2. Breakeven stop: an early pop that round-tripped back to flat.
	if pos.Stage == 0 && peak >= e.cfg.BreakevenPeakPct && profitPct <= e.cfg.BreakevenFloorPct {
		logs.Warnf("[Exit] %s breakeven stop: peaked at %.2f%% and fell to %.2f%%, selling all %d",
			pos.Ticker, peak, profitPct, pos.Quantity)
		return e.closeAll(pos, currentPrice, profitPct, peak, ReasonBreakevenStop)
	}

	// 3. Trailing stop from the position's own peak.
	if pos.Stage >= 1 {
		if dd, ok := e.cfg.TrailingDrawdown[pos.Stage]; ok && peak-profitPct >= dd {
			logs.Warnf("[Exit] %s trailing stop: stage=%d peak=%.2f%% now=%.2f%% (drawdown %.2fpp >= %.2fpp), selling all %d",
				pos.Ticker, pos.Stage, peak, profitPct, peak-profitPct, dd, pos.Quantity)
			return e.closeAll(pos, currentPrice, profitPct, peak, ReasonTrailingStop)
		}
	}

	// 4. Staged profit-taking ladder.
	for _, step := range e.cfg.ProfitSteps {
		if pos.Stage >= step.Stage || profitPct < step.TriggerPct {
			continue
		}

		// Recover the original entry size from the fraction expected to
		// remain at the current stage, instead of persisting it.
		ratio := e.cfg.RemainingRatio[pos.Stage]
		if ratio <= 0 {
			ratio = 1.0
		}
		estimatedInit := float64(pos.Quantity) / ratio

		sellQty := e.sellQuantity(estimatedInit, step.SellRatio, pos.Quantity, step.Stage)
		if sellQty <= 0 {
			// Threshold met even though the rounded size is zero; advance
			// the stage and keep walking the ladder.
			pos.Stage = step.Stage
			continue
		}

		logs.Infof("[Exit] %s staged take: stage %d->%d profit=%.2f%% trigger=%.2f%% sell %d/%d",
			pos.Ticker, pos.Stage, step.Stage, profitPct, step.TriggerPct, sellQty, pos.Quantity)

		if err := e.sell(pos.Ticker, currentPrice, sellQty, pos.Exchange); err != nil {
			logs.Errorf("[Exit] %s staged sell rejected, retrying next cycle: %v", pos.Ticker, err)
			return false
		}

		stageFrom := pos.Stage
		pos.Quantity -= sellQty
		pos.Stage = step.Stage
		e.emit(Event{
			Reason:    ReasonStagedTake,
			Ticker:    pos.Ticker,
			Quantity:  sellQty,
			Price:     currentPrice,
			StageFrom: stageFrom,
			StageTo:   pos.Stage,
			ProfitPct: profitPct,
			PeakPct:   peak,
		})

		if pos.Quantity <= 0 {
			logs.Infof("[Exit] %s graduated: position fully exited at stage %d", pos.Ticker, pos.Stage)
			return true
		}
	}
	return false
}

// closeAll sells the entire remaining quantity. On rejection the position
// stays as-is and the same stop fires again next cycle.
func (e *Engine) closeAll(pos *ledger.Position, price, profitPct, peak float64, reason string) bool {
	if err := e.sell(pos.Ticker, price, pos.Quantity, pos.Exchange); err != nil {
		logs.Errorf("[Exit] %s full exit (%s) rejected: %v", pos.Ticker, reason, err)
		return false
	}
	e.emit(Event{
		Reason:    reason,
		Ticker:    pos.Ticker,
		Quantity:  pos.Quantity,
		Price:     price,
		StageFrom: pos.Stage,
		StageTo:   pos.Stage,
		ProfitPct: profitPct,
		PeakPct:   peak,
	})
	pos.Quantity = 0
	return true
}

// sellQuantity sizes a staged sell. Small estimated positions round to
// nearest so a ceiling cannot overshoot the intended fraction; larger ones
// round up to honor the minimum take. Before the terminal stage at least
// MinRemainShares must survive.
func (e *Engine) sellQuantity(estimatedInit, sellRatio float64, curQty int64, targetStage int) int64 {
	desired := estimatedInit * sellRatio

	var sellQty int64
	if estimatedInit <= float64(e.cfg.SmallInitQty) {
		sellQty = int64(math.Round(desired))
		if sellQty <= 0 && desired > 0 {
			sellQty = 1
		}
	} else {
		sellQty = int64(math.Ceil(desired))
	}

	if targetStage < e.finalStage() && curQty > e.cfg.MinRemainShares {
		if maxSell := curQty - e.cfg.MinRemainShares; sellQty > maxSell {
			sellQty = maxSell
		}
	}

	if sellQty > curQty {
		sellQty = curQty
	}
	if sellQty < 0 {
		sellQty = 0
	}
	return sellQty
}
