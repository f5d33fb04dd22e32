// orchestrator.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auto_kis_go/broker"
	"auto_kis_go/candidates"
	"auto_kis_go/config"
	"auto_kis_go/exits"
	"auto_kis_go/journal"
	"auto_kis_go/ledger"
	"auto_kis_go/logs"
	"auto_kis_go/monitor"
	"auto_kis_go/signal"
	"auto_kis_go/state"
	"auto_kis_go/trader"
)

// Orchestrator owns every long-lived component and supervises the two
// loops (trader, crawler). If either loop dies, both are cancelled,
// drained and relaunched after a cooldown; the books are rebuilt from
// broker truth by the first reconciliation of the new run.
type Orchestrator struct {
	cfg     *config.Config
	client  broker.Client
	mock    *broker.MockClient
	book    *ledger.Book
	pending *ledger.PendingBook
	list    *candidates.List
	crawler *candidates.Crawler
	sched   *trader.Scheduler
	server  *monitor.Server
	trades  *journal.Journal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	var client broker.Client
	var mock *broker.MockClient
	if cfg.UseSimulation {
		mock = broker.NewMockClient()
		mock.Start()
		client = mock
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		kis, err := broker.NewKISClient(envCfg, cfg.Normal.HTTPTimeoutSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to create KIS client: %w", err)
		}
		client = kis
	}

	book := ledger.NewBook()
	pending := ledger.NewPendingBook()
	list := candidates.NewList()

	scraper, err := candidates.NewTossScraper(cfg.Crawler, time.Duration(cfg.Normal.HTTPTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate scraper: %w", err)
	}
	crawler := candidates.NewCrawler(cfg.Crawler, scraper, list)

	states, err := state.NewManager(cfg.Normal.StateDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}

	trades, err := journal.Open(cfg.Normal.JournalDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade journal: %w", err)
	}

	// Exit engine sells through the broker; local state moves only after a
	// confirmed order.
	sell := func(ticker string, price float64, qty int64, exchange string) error {
		err := client.PlaceSell(context.Background(), ticker, price, qty, exchange)
		if err == nil {
			monitor.CountOrder("sell")
		}
		return err
	}
	engine := exits.New(cfg.Exit, sell)
	engine.SetOnExit(func(ev exits.Event) {
		monitor.CountExit(ev.Reason)
		if err := trades.RecordExit(ev); err != nil {
			logs.Errorf("[Orchestrator] Failed to journal exit for %s: %v", ev.Ticker, err)
		}
	})

	checker := signal.NewChecker(cfg.Signal, client)
	sched := trader.NewScheduler(cfg, client, book, pending, list, checker, engine, states)
	sched.SetOnEntry(func(ticker, exchange string, qty int64, price float64, orderID string) {
		if err := trades.RecordEntry(ticker, exchange, qty, price, orderID); err != nil {
			logs.Errorf("[Orchestrator] Failed to journal entry for %s: %v", ticker, err)
		}
	})
	sched.SetOnExit(func(ev exits.Event) {
		if err := trades.RecordExit(ev); err != nil {
			logs.Errorf("[Orchestrator] Failed to journal liquidation for %s: %v", ev.Ticker, err)
		}
	})

	server := monitor.NewServer(cfg.Normal.MonitorListenAddr, states, list)

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		mock:    mock,
		book:    book,
		pending: pending,
		list:    list,
		crawler: crawler,
		sched:   sched,
		server:  server,
		trades:  trades,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the HTTP server and the supervised loop pair.
func (o *Orchestrator) Start() {
	o.server.Start()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.supervise()
	}()
	logs.Infof("Bot started with %d position slots, press Ctrl+C to exit.", o.cfg.Trader.MaxSlots)
}

// supervise runs the crawler and trader loops, restarting both after a
// cooldown whenever either one dies.
func (o *Orchestrator) supervise() {
	cooldown := time.Duration(o.cfg.Normal.RestartCooldownSeconds) * time.Second
	for {
		if err := o.runLoops(); err != nil {
			logs.Errorf("[Orchestrator] Loop failure: %v", err)
		}

		select {
		case <-o.ctx.Done():
			return
		case <-time.After(cooldown):
		}
		monitor.CountRestart()
		logs.Warnf("[Orchestrator] Restarting trader and crawler loops after %s cooldown", cooldown)
	}
}

// runLoops runs both loops until one fails or shutdown is requested. Both
// are always cancelled and drained together.
func (o *Orchestrator) runLoops() (err error) {
	runCtx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	failures := make(chan error, 2)
	var wg sync.WaitGroup

	launch := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failures <- fmt.Errorf("%s loop panicked: %v", name, r)
				}
			}()
			run(runCtx)
			failures <- nil
		}()
	}

	launch("crawler", o.crawler.Run)
	launch("trader", o.sched.Run)

	select {
	case err = <-failures:
	case <-o.ctx.Done():
	}
	cancel()
	wg.Wait()
	return err
}

// Stop shuts everything down gracefully.
func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")
	o.cancel()
	o.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.server.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("[Orchestrator] HTTP server shutdown failed: %v", err)
	}

	if o.mock != nil {
		o.mock.Stop()
	}
	if err := o.trades.Close(); err != nil {
		logs.Errorf("[Orchestrator] Trade journal close failed: %v", err)
	}
	logs.Info("All services stopped successfully.")
}
