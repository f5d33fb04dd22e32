// trader/scheduler.go
package trader

import (
	"context"
	"fmt"
	"time"

	"auto_kis_go/allocator"
	"auto_kis_go/broker"
	"auto_kis_go/candidates"
	"auto_kis_go/config"
	"auto_kis_go/exits"
	"auto_kis_go/ledger"
	"auto_kis_go/logs"
	"auto_kis_go/monitor"
	"auto_kis_go/signal"
	"auto_kis_go/state"
	"auto_kis_go/utils"
)

// EntryCallback receives every accepted entry order for journaling.
type EntryCallback func(ticker, exchange string, qty int64, price float64, orderID string)

// Scheduler is the single writer of the position ledger and pending book.
// Each cycle it refreshes broker truth, expires stale entry orders, opens
// new positions up to the slot budget, walks the exit ladder for every
// holding and persists a snapshot. Outside the trading windows it winds
// everything down instead.
type Scheduler struct {
	cfg     *config.Config
	client  broker.Client
	book    *ledger.Book
	pending *ledger.PendingBook
	list    *candidates.List
	checker *signal.Checker
	engine  *exits.Engine
	states  *state.Manager
	loc     *time.Location
	now     func() time.Time
	onEntry EntryCallback
	onExit  exits.ExitCallback
}

// NewScheduler wires the trade loop together. Wall-clock decisions (the
// trading windows) are taken in KST regardless of host timezone.
func NewScheduler(
	cfg *config.Config,
	client broker.Client,
	book *ledger.Book,
	pending *ledger.PendingBook,
	list *candidates.List,
	checker *signal.Checker,
	engine *exits.Engine,
	states *state.Manager,
) *Scheduler {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		logs.Errorf("[Trader] Failed to load Asia/Seoul timezone, falling back to local: %v", err)
		loc = time.Local
	}
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		book:    book,
		pending: pending,
		list:    list,
		checker: checker,
		engine:  engine,
		states:  states,
		loc:     loc,
		now:     time.Now,
	}
}

// SetOnEntry registers an observer for accepted entry orders.
func (s *Scheduler) SetOnEntry(cb EntryCallback) {
	s.onEntry = cb
}

// SetOnExit registers an observer for off-hours liquidations. Ladder exits
// are observed on the exit engine itself.
func (s *Scheduler) SetOnExit(cb exits.ExitCallback) {
	s.onExit = cb
}

// Run drives the loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Trader.IntervalSeconds) * time.Second
	offHours := time.Duration(s.cfg.Trader.OffHoursSeconds) * time.Second

	logs.Infof("[Trader] Started: %d slots, %s cycle interval", s.cfg.Trader.MaxSlots, interval)
	for {
		var sleep time.Duration
		if withinWindows(s.now().In(s.loc), s.cfg.Trader.Windows) {
			s.safeCycle(ctx)
			sleep = interval
		} else {
			s.windDown(ctx)
			sleep = offHours
		}

		select {
		case <-ctx.Done():
			logs.Infof("[Trader] Stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// safeCycle runs one cycle behind a panic barrier so an unexpected failure
// ends the cycle, not the process.
func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Trader] Cycle panicked, skipping to next cycle: %v", r)
			monitor.CountCycle("error")
		}
	}()

	if err := s.runCycle(ctx); err != nil {
		logs.Errorf("[Trader] Cycle ended early: %v", err)
		monitor.CountCycle("error")
		return
	}
	monitor.CountCycle("ok")
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	if err := s.client.RefreshToken(ctx); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	s.refreshBooks(ctx)
	s.expireStaleOrders(ctx)
	s.evaluateEntries(ctx)
	s.evaluateExits(ctx)
	s.persist()
	return nil
}

// refreshBooks merges broker truth into the books. A failed read leaves
// the affected book at its last known good state for this cycle.
func (s *Scheduler) refreshBooks(ctx context.Context) {
	holdings, err := s.client.GetHoldings(ctx)
	if err != nil {
		logs.Errorf("[Trader] Holdings refresh failed, keeping last known ledger: %v", err)
	} else {
		s.book.Reconcile(holdings)
	}

	unfilled, err := s.client.GetUnfilledOrders(ctx)
	if err != nil {
		logs.Errorf("[Trader] Unfilled order refresh failed, keeping last known pending set: %v", err)
	} else {
		s.pending.ReplaceAll(unfilled)
	}
}

// expireStaleOrders cancels entry orders older than the configured
// lifetime. Confirmed cancels free their slot immediately; failures stay
// tracked and are retried next sweep.
func (s *Scheduler) expireStaleOrders(ctx context.Context) {
	lifetime := time.Duration(s.cfg.Trader.OrderLifetimeMinutes) * time.Minute
	for _, order := range s.pending.Stale(s.now(), lifetime) {
		logs.Infof("[Trader] Order %s for %s exceeded its %s lifetime, cancelling",
			order.OrderID, order.Ticker, lifetime)
		if err := s.client.CancelOrder(ctx, order.Ticker, order.OrderID, order.Quantity); err != nil {
			logs.Errorf("[Trader] Cancel of %s failed, will retry: %v", order.OrderID, err)
			continue
		}
		s.pending.Remove(order.Ticker)
		monitor.CountExpiredOrder()
	}
}

// evaluateEntries walks the candidate ranking, opening new positions while
// slots remain. A failure on one candidate never aborts the sweep.
func (s *Scheduler) evaluateEntries(ctx context.Context) {
	for _, cand := range s.list.Snapshot() {
		if s.book.Len()+s.pending.Len() >= s.cfg.Trader.MaxSlots {
			break
		}
		if s.book.Has(cand.Ticker) || s.pending.Has(cand.Ticker) {
			continue
		}

		venue := broker.ExchangeCode(cand.Exchange)
		eligible, refPrice, err := s.checker.Eligible(ctx, cand.Ticker, venue)
		if err != nil {
			logs.Debugf("[Trader] Signal check failed for %s: %v", cand.Ticker, err)
			continue
		}
		if !eligible || refPrice <= 0 {
			continue
		}
		orderPrice := utils.RoundToPrecision(refPrice, 2)

		balance, err := s.client.GetBalance(ctx)
		if err != nil {
			logs.Errorf("[Trader] Balance lookup failed for %s entry: %v", cand.Ticker, err)
			continue
		}
		monitor.SetEquity(balance.TotalEquity)

		// KIS reports the account in KRW; sizing happens in USD.
		rate := s.cfg.Trader.KRWUSDRate
		qty := allocator.OrderQuantity(balance.TotalEquity/rate, balance.OrderableCash/rate, orderPrice, s.cfg.Trader.BuyPercent)
		if qty < 1 {
			continue
		}

		orderID, err := s.client.PlaceBuy(ctx, cand.Ticker, orderPrice, qty, venue)
		if err != nil {
			logs.Errorf("[Trader] Buy order for %s rejected: %v", cand.Ticker, err)
			continue
		}

		logs.Infof("[Trader] Entry signal on %s (%s): buy $%.2f x %d (%.0f%% of equity)",
			cand.Ticker, venue, orderPrice, qty, s.cfg.Trader.BuyPercent)
		s.pending.Add(ledger.PendingOrder{
			Ticker:   cand.Ticker,
			Price:    orderPrice,
			Quantity: qty,
			OrderID:  orderID,
			PlacedAt: s.now(),
		})
		monitor.CountOrder("buy")
		if s.onEntry != nil {
			s.onEntry(cand.Ticker, venue, qty, orderPrice, orderID)
		}
	}
}

// evaluateExits runs the exit ladder over every holding. Positions are
// copied out, evaluated with I/O outside the ledger lock, then committed
// back under the monotonic merge rules.
func (s *Scheduler) evaluateExits(ctx context.Context) {
	for _, pos := range s.book.List() {
		quote, err := s.client.GetQuote(ctx, pos.Ticker, pos.Exchange)
		if err != nil || quote <= 0 {
			logs.Errorf("[Trader] Quote for %s unavailable, skipping exit check: %v", pos.Ticker, err)
			continue
		}

		if s.engine.Evaluate(&pos, quote) {
			s.book.Delete(pos.Ticker)
			continue
		}
		s.book.Commit(pos)
	}
	monitor.SetBookSizes(s.book.Len(), s.pending.Len(), s.list.Len())
}

// windDown liquidates holdings and cancels pending entries outside the
// trading windows. When the quote is unavailable the sell goes out at 95%
// of cost basis so the exit still fills.
func (s *Scheduler) windDown(ctx context.Context) {
	if s.book.Len() == 0 && s.pending.Len() == 0 {
		return
	}
	logs.Warnf("[Trader] Outside trading windows with open exposure, winding down: %d positions, %d pending",
		s.book.Len(), s.pending.Len())

	for _, pos := range s.book.List() {
		price, err := s.client.GetQuote(ctx, pos.Ticker, pos.Exchange)
		if err != nil || price <= 0 {
			price = utils.RoundToPrecision(pos.AvgPrice*0.95, 2)
			logs.Warnf("[Trader] Quote for %s unavailable, selling at 95%% of cost basis ($%.2f)", pos.Ticker, price)
		}

		if err := s.client.PlaceSell(ctx, pos.Ticker, price, pos.Quantity, pos.Exchange); err != nil {
			logs.Errorf("[Trader] Liquidation sell for %s failed: %v", pos.Ticker, err)
			continue
		}

		logs.Infof("[Trader] Liquidated %s x %d @ $%.2f", pos.Ticker, pos.Quantity, price)
		monitor.CountOrder("sell")
		monitor.CountExit(exits.ReasonLiquidation)
		if s.onExit != nil {
			profitPct := 0.0
			if pos.AvgPrice > 0 {
				profitPct = (price - pos.AvgPrice) / pos.AvgPrice * 100
			}
			s.onExit(exits.Event{
				Reason:    exits.ReasonLiquidation,
				Ticker:    pos.Ticker,
				Quantity:  pos.Quantity,
				Price:     price,
				StageFrom: pos.Stage,
				StageTo:   pos.Stage,
				ProfitPct: profitPct,
				PeakPct:   pos.MaxProfitPct,
			})
		}
		s.book.Delete(pos.Ticker)
	}

	for _, order := range s.pending.List() {
		if err := s.client.CancelOrder(ctx, order.Ticker, order.OrderID, order.Quantity); err != nil {
			logs.Errorf("[Trader] Wind-down cancel of %s failed: %v", order.OrderID, err)
			continue
		}
		logs.Infof("[Trader] Cancelled pending order %s for %s", order.OrderID, order.Ticker)
		s.pending.Remove(order.Ticker)
	}

	s.persist()
}

// persist writes the end-of-cycle snapshot. A write failure never corrupts
// the previous snapshot, so it is logged and the cycle moves on.
func (s *Scheduler) persist() {
	if err := s.states.Save(s.book.Snapshot(), s.pending.Snapshot()); err != nil {
		logs.Errorf("[Trader] Snapshot write failed: %v", err)
	}
}
