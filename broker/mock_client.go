// broker/mock_client.go
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"auto_kis_go/logs"

	"github.com/google/uuid"
)

//
// In-memory simulated brokerage for running the bot without a real account.
//

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// MockClient simulates an account: quotes follow a random walk, resting buy
// orders fill when the walk crosses their limit, sells fill immediately.
type MockClient struct {
	mu         sync.RWMutex
	cashKRW    float64
	fxRate     float64 // KRW per USD, used to mark holdings to market
	holdings   map[string]*Holding
	openOrders map[string]*UnfilledOrder
	prices     map[string]float64
	rng        *rand.Rand
	stopChan   chan struct{}
	started    bool
}

// NewMockClient creates a simulated account holding 15M KRW in cash.
func NewMockClient() *MockClient {
	return &MockClient{
		cashKRW:    15_000_000,
		fxRate:     1500,
		holdings:   make(map[string]*Holding),
		openOrders: make(map[string]*UnfilledOrder),
		prices:     make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan:   make(chan struct{}),
	}
}

// SetInitialCash overrides the starting cash balance (KRW).
func (c *MockClient) SetInitialCash(krw float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cashKRW = krw
}

// Start launches the price walk and fill matching loop.
func (c *MockClient) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run()
}

// Stop terminates the simulation loop.
func (c *MockClient) Stop() {
	close(c.stopChan)
}

func (c *MockClient) run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.step()
		}
	}
}

// step advances every known price by one random-walk tick and fills any
// resting buy order whose limit the walk crossed.
func (c *MockClient) step() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ticker, price := range c.prices {
		drift := price * (c.rng.Float64()*0.04 - 0.02)
		next := price + drift
		if next < 0.01 {
			next = 0.01
		}
		c.prices[ticker] = next
	}

	for id, order := range c.openOrders {
		price := c.prices[order.Ticker]
		if price > order.Price {
			continue
		}
		c.fillBuyLocked(order)
		delete(c.openOrders, id)
	}
}

func (c *MockClient) fillBuyLocked(order *UnfilledOrder) {
	cost := order.Price * float64(order.Quantity) * c.fxRate
	c.cashKRW -= cost

	if h, ok := c.holdings[order.Ticker]; ok {
		totalCost := h.AvgPrice*float64(h.Quantity) + order.Price*float64(order.Quantity)
		h.Quantity += order.Quantity
		h.AvgPrice = totalCost / float64(h.Quantity)
	} else {
		c.holdings[order.Ticker] = &Holding{
			Ticker:   order.Ticker,
			Quantity: order.Quantity,
			AvgPrice: order.Price,
			Exchange: order.Exchange,
		}
	}
	logs.Infof("[Mock] Filled buy %s x %d @ %.2f", order.Ticker, order.Quantity, order.Price)
}

// seedPriceLocked establishes a starting quote for a ticker on first touch.
func (c *MockClient) seedPriceLocked(ticker string, hint float64) float64 {
	if p, ok := c.prices[ticker]; ok {
		return p
	}
	price := hint
	if price <= 0 {
		price = 1 + c.rng.Float64()*49
	}
	c.prices[ticker] = price
	return price
}

func (c *MockClient) RefreshToken(ctx context.Context) error { return nil }

func (c *MockClient) GetBalance(ctx context.Context) (Balance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	equity := c.cashKRW
	for _, h := range c.holdings {
		price := c.prices[h.Ticker]
		if price <= 0 {
			price = h.AvgPrice
		}
		equity += price * float64(h.Quantity) * c.fxRate
	}
	return Balance{TotalEquity: equity, OrderableCash: c.cashKRW}, nil
}

func (c *MockClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	holdings := make([]Holding, 0, len(c.holdings))
	for _, h := range c.holdings {
		holdings = append(holdings, *h)
	}
	return holdings, nil
}

func (c *MockClient) GetUnfilledOrders(ctx context.Context) ([]UnfilledOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	orders := make([]UnfilledOrder, 0, len(c.openOrders))
	for _, o := range c.openOrders {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (c *MockClient) PlaceBuy(ctx context.Context, ticker string, price float64, qty int64, exchange string) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("buy quantity must be positive, got %d", qty)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if cost := price * float64(qty) * c.fxRate; cost > c.cashKRW {
		return "", fmt.Errorf("insufficient simulated cash: need %.0f KRW, have %.0f", cost, c.cashKRW)
	}

	c.seedPriceLocked(ticker, price*1.01)
	orderID := uuid.NewString()
	c.openOrders[orderID] = &UnfilledOrder{
		Ticker:   ticker,
		Price:    price,
		Quantity: qty,
		OrderID:  orderID,
		PlacedAt: time.Now(),
		Exchange: exchange,
	}
	logs.Infof("[Mock] Accepted buy order %s x %d @ %.2f (id %s)", ticker, qty, price, orderID)
	return orderID, nil
}

func (c *MockClient) PlaceSell(ctx context.Context, ticker string, price float64, qty int64, exchange string) error {
	if qty <= 0 {
		return fmt.Errorf("sell quantity must be positive, got %d", qty)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.holdings[ticker]
	if !ok || h.Quantity < qty {
		return fmt.Errorf("insufficient simulated holdings for %s: want %d", ticker, qty)
	}

	// Sells fill immediately at the limit, paper-account style.
	h.Quantity -= qty
	c.cashKRW += price * float64(qty) * c.fxRate
	if h.Quantity == 0 {
		delete(c.holdings, ticker)
	}
	logs.Infof("[Mock] Filled sell %s x %d @ %.2f", ticker, qty, price)
	return nil
}

func (c *MockClient) CancelOrder(ctx context.Context, ticker, orderID string, qty int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.openOrders[orderID]; !ok {
		return fmt.Errorf("no open simulated order %s for %s", orderID, ticker)
	}
	delete(c.openOrders, orderID)
	logs.Infof("[Mock] Cancelled order %s for %s", orderID, ticker)
	return nil
}

func (c *MockClient) GetQuote(ctx context.Context, ticker, exchange string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seedPriceLocked(ticker, 0), nil
}

// GetCandles synthesizes a random-walk candle history ending at the current
// quote, enough for the signal code to chew on.
func (c *MockClient) GetCandles(ctx context.Context, ticker, exchange string) ([]Candle, error) {
	c.mu.Lock()
	last := c.seedPriceLocked(ticker, 0)
	c.mu.Unlock()

	const bars = 120
	candles := make([]Candle, bars)
	price := last
	now := time.Now().Truncate(5 * time.Minute)
	for i := bars - 1; i >= 0; i-- {
		open := price * (1 + c.rng.Float64()*0.01 - 0.005)
		high := price * (1 + c.rng.Float64()*0.01)
		low := price * (1 - c.rng.Float64()*0.01)
		candles[i] = Candle{
			Time:  now.Add(-time.Duration(bars-1-i) * 5 * time.Minute),
			Open:  open,
			High:  high,
			Low:   low,
			Close: price,
		}
		price *= 1 + (c.rng.Float64()*0.01 - 0.005)
	}
	return candles, nil
}
