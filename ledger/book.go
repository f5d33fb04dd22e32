// ledger/book.go
package ledger

import (
	"sort"
	"sync"

	"auto_kis_go/broker"
	"auto_kis_go/logs"
)

// MaxProfitSentinel initializes the high-water mark far below any real
// return so the first observed profit always establishes the peak.
const MaxProfitSentinel = -999.0

// Position is one held ticker. AvgPrice, Quantity and Exchange are
// broker-owned and overwritten on every reconciliation; Stage and
// MaxProfitPct are progress fields owned by the exit ladder and survive
// reconciliation untouched.
type Position struct {
	Ticker       string  `json:"ticker"`
	AvgPrice     float64 `json:"avg_price"`
	Quantity     int64   `json:"qty"`
	Exchange     string  `json:"excg"`
	Stage        int     `json:"stage"`
	MaxProfitPct float64 `json:"max_profit"`
}

// Book is the in-memory position ledger. A single writer (the trade loop)
// mutates it; the mutex only guards in-memory reads and updates and is
// never held across a broker call.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Reconcile merges broker-reported holdings into the ledger. Broker truth
// wins for existence, quantity, price and venue; Stage and MaxProfitPct are
// preserved for tickers that persist. Rows with non-positive quantity are
// not real holdings and count as absent.
func (b *Book) Reconcile(holdings []broker.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		seen[h.Ticker] = true

		if pos, ok := b.positions[h.Ticker]; ok {
			pos.Quantity = h.Quantity
			pos.AvgPrice = h.AvgPrice
			pos.Exchange = h.Exchange
			continue
		}
		logs.Infof("[Ledger] Fill detected: %s x %d landed in the account", h.Ticker, h.Quantity)
		b.positions[h.Ticker] = &Position{
			Ticker:       h.Ticker,
			AvgPrice:     h.AvgPrice,
			Quantity:     h.Quantity,
			Exchange:     h.Exchange,
			Stage:        0,
			MaxProfitPct: MaxProfitSentinel,
		}
	}

	for ticker := range b.positions {
		if !seen[ticker] {
			logs.Infof("[Ledger] %s no longer reported by the broker, removing from the ledger", ticker)
			delete(b.positions, ticker)
		}
	}
}

// Get returns a copy of the position for a ticker.
func (b *Book) Get(ticker string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[ticker]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Has reports whether a ticker is held.
func (b *Book) Has(ticker string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[ticker]
	return ok
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// List returns position copies sorted by ticker for stable iteration.
func (b *Book) List() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Commit writes back a position evaluated outside the lock. Stage and the
// high-water mark only ever move forward; quantity only shrinks, so a
// concurrent reconciliation cannot be clobbered by a stale evaluation.
func (b *Book) Commit(updated Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[updated.Ticker]
	if !ok {
		return
	}
	if updated.Stage > pos.Stage {
		pos.Stage = updated.Stage
	}
	if updated.MaxProfitPct > pos.MaxProfitPct {
		pos.MaxProfitPct = updated.MaxProfitPct
	}
	if updated.Quantity < pos.Quantity {
		pos.Quantity = updated.Quantity
	}
}

// Delete removes a position after a confirmed full exit.
func (b *Book) Delete(ticker string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, ticker)
}

// Snapshot returns a deep copy keyed by ticker for persistence.
func (b *Book) Snapshot() map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Position, len(b.positions))
	for ticker, pos := range b.positions {
		out[ticker] = *pos
	}
	return out
}
