// ledger/book_test.go
package ledger

import (
	"testing"

	"auto_kis_go/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCreatesWithSentinels(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Reconcile([]broker.Holding{
		{Ticker: "ABCD", Quantity: 10, AvgPrice: 4.20, Exchange: "NASD"},
	})

	pos, ok := b.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, 0, pos.Stage)
	assert.Equal(t, MaxProfitSentinel, pos.MaxProfitPct)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, 4.20, pos.AvgPrice)
	assert.Equal(t, "NASD", pos.Exchange)
}

func TestReconcilePreservesProgress(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Reconcile([]broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 4.20, Exchange: "NASD"}})

	// Exit ladder advances the position.
	b.Commit(Position{Ticker: "ABCD", Quantity: 7, Stage: 2, MaxProfitPct: 55.5})

	// Broker reports a new quantity and price; progress must survive.
	b.Reconcile([]broker.Holding{{Ticker: "ABCD", Quantity: 7, AvgPrice: 4.25, Exchange: "NASD"}})

	pos, ok := b.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, 2, pos.Stage)
	assert.Equal(t, 55.5, pos.MaxProfitPct)
	assert.Equal(t, int64(7), pos.Quantity)
	assert.Equal(t, 4.25, pos.AvgPrice)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	holdings := []broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 4.20, Exchange: "NASD"}}

	b := NewBook()
	b.Reconcile(holdings)
	b.Commit(Position{Ticker: "ABCD", Quantity: 10, Stage: 1, MaxProfitPct: 20})
	before, _ := b.Get("ABCD")

	b.Reconcile(holdings)
	after, ok := b.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestReconcileRemovesMissingAndNonPositive(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Reconcile([]broker.Holding{
		{Ticker: "GONE", Quantity: 5, AvgPrice: 1, Exchange: "NASD"},
		{Ticker: "ZERO", Quantity: 3, AvgPrice: 1, Exchange: "NASD"},
		{Ticker: "KEEP", Quantity: 8, AvgPrice: 1, Exchange: "NASD"},
	})

	b.Reconcile([]broker.Holding{
		{Ticker: "ZERO", Quantity: 0, AvgPrice: 1, Exchange: "NASD"},
		{Ticker: "KEEP", Quantity: 8, AvgPrice: 1, Exchange: "NASD"},
	})

	assert.False(t, b.Has("GONE"))
	assert.False(t, b.Has("ZERO"))
	assert.True(t, b.Has("KEEP"))
	assert.Equal(t, 1, b.Len())
}

func TestCommitIsMonotonic(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Reconcile([]broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 4, Exchange: "NASD"}})
	b.Commit(Position{Ticker: "ABCD", Quantity: 7, Stage: 3, MaxProfitPct: 60})

	// A stale evaluation must not move anything backwards or grow quantity.
	b.Commit(Position{Ticker: "ABCD", Quantity: 9, Stage: 1, MaxProfitPct: 10})

	pos, _ := b.Get("ABCD")
	assert.Equal(t, 3, pos.Stage)
	assert.Equal(t, 60.0, pos.MaxProfitPct)
	assert.Equal(t, int64(7), pos.Quantity)
}

func TestCommitIgnoresUnknownTicker(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Commit(Position{Ticker: "NOPE", Quantity: 1, Stage: 1})
	assert.False(t, b.Has("NOPE"))
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	b := NewBook()
	b.Reconcile([]broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 4, Exchange: "NASD"}})

	snap := b.Snapshot()
	entry := snap["ABCD"]
	entry.Quantity = 999
	snap["ABCD"] = entry

	pos, _ := b.Get("ABCD")
	assert.Equal(t, int64(10), pos.Quantity)
}
