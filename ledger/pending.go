// ledger/pending.go
package ledger

import (
	"sort"
	"sync"
	"time"

	"auto_kis_go/broker"
)

// PendingOrder is one outstanding entry order occupying a slot.
type PendingOrder struct {
	Ticker   string    `json:"ticker"`
	Price    float64   `json:"order_price"`
	Quantity int64     `json:"qty"`
	OrderID  string    `json:"order_no"`
	PlacedAt time.Time `json:"placed_at"`
}

// PendingBook tracks outstanding entry orders, one per ticker. Unlike the
// position ledger it carries no progress fields, so each cycle simply
// replaces the whole table with broker truth.
type PendingBook struct {
	mu     sync.Mutex
	orders map[string]PendingOrder
}

// NewPendingBook creates an empty tracker.
func NewPendingBook() *PendingBook {
	return &PendingBook{orders: make(map[string]PendingOrder)}
}

// ReplaceAll swaps in the broker-reported unfilled list wholesale.
func (p *PendingBook) ReplaceAll(orders []broker.UnfilledOrder) {
	next := make(map[string]PendingOrder, len(orders))
	for _, o := range orders {
		next[o.Ticker] = PendingOrder{
			Ticker:   o.Ticker,
			Price:    o.Price,
			Quantity: o.Quantity,
			OrderID:  o.OrderID,
			PlacedAt: o.PlacedAt,
		}
	}

	p.mu.Lock()
	p.orders = next
	p.mu.Unlock()
}

// Add records a freshly accepted entry order so it occupies a slot before
// the next broker refresh.
func (p *PendingBook) Add(order PendingOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[order.Ticker] = order
}

// Remove drops a ticker's pending order, typically right after a confirmed
// cancel so slot accounting is correct within the same cycle.
func (p *PendingBook) Remove(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, ticker)
}

// Has reports whether a ticker has an outstanding entry order.
func (p *PendingBook) Has(ticker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.orders[ticker]
	return ok
}

// Len returns the number of outstanding entry orders.
func (p *PendingBook) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Stale returns the orders older than lifetime at the given instant,
// sorted oldest first.
func (p *PendingBook) Stale(now time.Time, lifetime time.Duration) []PendingOrder {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []PendingOrder
	for _, o := range p.orders {
		if now.Sub(o.PlacedAt) > lifetime {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].PlacedAt.Before(stale[j].PlacedAt) })
	return stale
}

// List returns order copies sorted by ticker.
func (p *PendingBook) List() []PendingOrder {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PendingOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Snapshot returns a copy keyed by ticker for persistence.
func (p *PendingBook) Snapshot() map[string]PendingOrder {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]PendingOrder, len(p.orders))
	for ticker, o := range p.orders {
		out[ticker] = o
	}
	return out
}
