// trader/scheduler_test.go
package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"auto_kis_go/broker"
	"auto_kis_go/candidates"
	"auto_kis_go/config"
	"auto_kis_go/exits"
	"auto_kis_go/ledger"
	"auto_kis_go/signal"
	"auto_kis_go/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placedSell struct {
	ticker string
	price  float64
	qty    int64
}

// fakeClient is a canned-response broker for scheduler tests.
type fakeClient struct {
	balance   broker.Balance
	holdings  []broker.Holding
	unfilled  []broker.UnfilledOrder
	quotes    map[string]float64
	candles   map[string][]broker.Candle
	buys      []string
	sells     []placedSell
	cancels   []string
	buyErr    error
	cancelErr error
}

var _ broker.Client = (*fakeClient)(nil)

func (f *fakeClient) RefreshToken(ctx context.Context) error { return nil }

func (f *fakeClient) GetBalance(ctx context.Context) (broker.Balance, error) {
	return f.balance, nil
}

func (f *fakeClient) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	return f.holdings, nil
}

func (f *fakeClient) GetUnfilledOrders(ctx context.Context) ([]broker.UnfilledOrder, error) {
	return f.unfilled, nil
}

func (f *fakeClient) PlaceBuy(ctx context.Context, ticker string, price float64, qty int64, exchange string) (string, error) {
	if f.buyErr != nil {
		return "", f.buyErr
	}
	f.buys = append(f.buys, ticker)
	return fmt.Sprintf("ORD-%d", len(f.buys)), nil
}

func (f *fakeClient) PlaceSell(ctx context.Context, ticker string, price float64, qty int64, exchange string) error {
	f.sells = append(f.sells, placedSell{ticker: ticker, price: price, qty: qty})
	return nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, ticker, orderID string, qty int64) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeClient) GetQuote(ctx context.Context, ticker, exchange string) (float64, error) {
	price, ok := f.quotes[ticker]
	if !ok {
		return 0, errors.New("no quote")
	}
	return price, nil
}

func (f *fakeClient) GetCandles(ctx context.Context, ticker, exchange string) ([]broker.Candle, error) {
	return f.candles[ticker], nil
}

// flatCandles always trip the entry signal at the given price.
func flatCandles(price float64) []broker.Candle {
	candles := make([]broker.Candle, 80)
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

func newTestScheduler(t *testing.T, client *fakeClient) (*Scheduler, *ledger.Book, *ledger.PendingBook, *candidates.List) {
	t.Helper()

	cfg := config.NewConfig()
	book := ledger.NewBook()
	pending := ledger.NewPendingBook()
	list := candidates.NewList()
	checker := signal.NewChecker(cfg.Signal, client)
	engine := exits.New(cfg.Exit, func(ticker string, price float64, qty int64, exchange string) error {
		return client.PlaceSell(context.Background(), ticker, price, qty, exchange)
	})
	states, err := state.NewManager(t.TempDir())
	require.NoError(t, err)

	return NewScheduler(cfg, client, book, pending, list, checker, engine, states), book, pending, list
}

func TestEntriesRespectSlotBudget(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		balance: broker.Balance{TotalEquity: 15_000_000, OrderableCash: 15_000_000},
		holdings: []broker.Holding{
			{Ticker: "HLD1", Quantity: 1, AvgPrice: 1, Exchange: "NASD"},
			{Ticker: "HLD2", Quantity: 1, AvgPrice: 1, Exchange: "NASD"},
			{Ticker: "HLD3", Quantity: 1, AvgPrice: 1, Exchange: "NASD"},
			{Ticker: "HLD4", Quantity: 1, AvgPrice: 1, Exchange: "NASD"},
		},
		candles: map[string][]broker.Candle{
			"NEW1": flatCandles(10),
			"NEW2": flatCandles(10),
			"NEW3": flatCandles(10),
		},
	}
	s, book, pending, list := newTestScheduler(t, client)
	book.Reconcile(client.holdings)
	list.Replace([]candidates.Candidate{
		{Ticker: "NEW1", Exchange: "NSQ"},
		{Ticker: "NEW2", Exchange: "NSQ"},
		{Ticker: "NEW3", Exchange: "NSQ"},
	})

	s.evaluateEntries(context.Background())

	// 4 positions + 1 new entry fills the 5-slot budget.
	assert.Equal(t, []string{"NEW1"}, client.buys)
	assert.LessOrEqual(t, book.Len()+pending.Len(), s.cfg.Trader.MaxSlots)
}

func TestEntriesSkipHeldAndPendingTickers(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		balance:  broker.Balance{TotalEquity: 15_000_000, OrderableCash: 15_000_000},
		holdings: []broker.Holding{{Ticker: "HELD", Quantity: 1, AvgPrice: 1, Exchange: "NASD"}},
		candles: map[string][]broker.Candle{
			"HELD": flatCandles(10),
			"PEND": flatCandles(10),
			"FRSH": flatCandles(10),
		},
	}
	s, book, pending, list := newTestScheduler(t, client)
	book.Reconcile(client.holdings)
	pending.Add(ledger.PendingOrder{Ticker: "PEND", OrderID: "1", PlacedAt: time.Now()})
	list.Replace([]candidates.Candidate{
		{Ticker: "HELD", Exchange: "NSQ"},
		{Ticker: "PEND", Exchange: "NSQ"},
		{Ticker: "FRSH", Exchange: "NSQ"},
	})

	s.evaluateEntries(context.Background())
	assert.Equal(t, []string{"FRSH"}, client.buys)
}

func TestEntriesSkipWithoutSignal(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		balance: broker.Balance{TotalEquity: 15_000_000, OrderableCash: 15_000_000},
		candles: map[string][]broker.Candle{
			"THIN": flatCandles(10)[:30], // too little history
		},
	}
	s, _, _, list := newTestScheduler(t, client)
	list.Replace([]candidates.Candidate{{Ticker: "THIN", Exchange: "NSQ"}})

	s.evaluateEntries(context.Background())
	assert.Empty(t, client.buys)
}

func TestExpireStaleOrdersCancelsAndFreesSlot(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	s, _, pending, _ := newTestScheduler(t, client)
	pending.Add(ledger.PendingOrder{Ticker: "OLD", OrderID: "42", Quantity: 3, PlacedAt: time.Now().Add(-3 * time.Hour)})
	pending.Add(ledger.PendingOrder{Ticker: "FRESH", OrderID: "43", Quantity: 3, PlacedAt: time.Now()})

	s.expireStaleOrders(context.Background())

	assert.Equal(t, []string{"42"}, client.cancels)
	assert.False(t, pending.Has("OLD"))
	assert.True(t, pending.Has("FRESH"))
}

func TestExpireStaleOrdersKeepsOrderOnCancelFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{cancelErr: errors.New("down")}
	s, _, pending, _ := newTestScheduler(t, client)
	pending.Add(ledger.PendingOrder{Ticker: "OLD", OrderID: "42", Quantity: 3, PlacedAt: time.Now().Add(-3 * time.Hour)})

	s.expireStaleOrders(context.Background())
	assert.True(t, pending.Has("OLD"))
}

func TestEvaluateExitsCommitsProgress(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		holdings: []broker.Holding{{Ticker: "ABCD", Quantity: 100, AvgPrice: 100, Exchange: "NASD"}},
		quotes:   map[string]float64{"ABCD": 116},
	}
	s, book, _, _ := newTestScheduler(t, client)
	book.Reconcile(client.holdings)

	s.evaluateExits(context.Background())

	require.Len(t, client.sells, 1)
	assert.Equal(t, int64(30), client.sells[0].qty)

	pos, ok := book.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, 1, pos.Stage)
	assert.Equal(t, int64(70), pos.Quantity)
	assert.InDelta(t, 16.0, pos.MaxProfitPct, 1e-9)
}

func TestEvaluateExitsDeletesOnFullExit(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		holdings: []broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 100, Exchange: "NASD"}},
		quotes:   map[string]float64{"ABCD": 89},
	}
	s, book, _, _ := newTestScheduler(t, client)
	book.Reconcile(client.holdings)

	s.evaluateExits(context.Background())

	require.Len(t, client.sells, 1)
	assert.Equal(t, int64(10), client.sells[0].qty)
	assert.False(t, book.Has("ABCD"))
}

func TestWindDownLiquidatesWithQuoteFallback(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		holdings: []broker.Holding{{Ticker: "DARK", Quantity: 10, AvgPrice: 100, Exchange: "NASD"}},
	}
	s, book, pending, _ := newTestScheduler(t, client)
	book.Reconcile(client.holdings)
	pending.Add(ledger.PendingOrder{Ticker: "PEND", OrderID: "9", Quantity: 2, PlacedAt: time.Now()})

	s.windDown(context.Background())

	// No quote available: sell at 95% of cost basis.
	require.Len(t, client.sells, 1)
	assert.Equal(t, 95.0, client.sells[0].price)
	assert.Equal(t, int64(10), client.sells[0].qty)
	assert.Equal(t, 0, book.Len())

	assert.Equal(t, []string{"9"}, client.cancels)
	assert.Equal(t, 0, pending.Len())
}

func TestRunCycleRefreshesBooksFromBrokerTruth(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		holdings: []broker.Holding{{Ticker: "ABCD", Quantity: 10, AvgPrice: 4, Exchange: "NASD"}},
		unfilled: []broker.UnfilledOrder{{Ticker: "WXYZ", Price: 2, Quantity: 5, OrderID: "7", PlacedAt: time.Now()}},
		quotes:   map[string]float64{"ABCD": 4.1},
	}
	s, book, pending, _ := newTestScheduler(t, client)

	require.NoError(t, s.runCycle(context.Background()))

	assert.True(t, book.Has("ABCD"))
	assert.True(t, pending.Has("WXYZ"))

	snap, err := s.states.Load()
	require.NoError(t, err)
	assert.Contains(t, snap.Positions, "ABCD")
	assert.Contains(t, snap.Pending, "WXYZ")
}
