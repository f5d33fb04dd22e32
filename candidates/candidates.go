// candidates/candidates.go
package candidates

import (
	"sync"
)

// Candidate is one entry-eligible small-cap surfaced by the volume ranking.
type Candidate struct {
	Rank          int     `json:"rank"`
	Ticker        string  `json:"ticker"`
	Exchange      string  `json:"exchange"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangeRatePct float64 `json:"change_rate"`
	MarketCapUSD  float64 `json:"market_cap_usd"`
}

// List is the shared candidate table between the crawler and the trade
// loop. The crawler replaces it wholesale on each successful scrape; a
// failed scrape leaves the previous list standing.
type List struct {
	mu    sync.Mutex
	items []Candidate
}

// NewList creates an empty candidate list.
func NewList() *List {
	return &List{}
}

// Replace swaps in a freshly scraped ranking.
func (l *List) Replace(items []Candidate) {
	copied := make([]Candidate, len(items))
	copy(copied, items)

	l.mu.Lock()
	l.items = copied
	l.mu.Unlock()
}

// Snapshot returns a copy of the current ranking in rank order.
func (l *List) Snapshot() []Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Candidate, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the current candidate count.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
