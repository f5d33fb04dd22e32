// candidates/crawler.go
package candidates

import (
	"context"
	"time"

	"auto_kis_go/config"
	"auto_kis_go/logs"
)

// Scraper produces a fresh candidate ranking.
type Scraper interface {
	Scrape(ctx context.Context) ([]Candidate, error)
}

// Crawler refreshes the shared candidate list on a fixed interval. Scrape
// failures are logged and skipped so the trade loop keeps working off the
// last good ranking.
type Crawler struct {
	cfg     *config.CrawlerConfig
	scraper Scraper
	list    *List
}

// NewCrawler wires a scraper to the shared list.
func NewCrawler(cfg *config.CrawlerConfig, scraper Scraper, list *List) *Crawler {
	return &Crawler{cfg: cfg, scraper: scraper, list: list}
}

// RefreshOnce runs a single scrape and publishes the result. An empty
// ranking keeps the previous list: every product being filtered out on a
// thin tape must not blank the trade loop's candidate feed.
func (c *Crawler) RefreshOnce(ctx context.Context) error {
	items, err := c.scraper.Scrape(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logs.Warnf("[Crawler] Scrape returned no candidates, keeping previous list (%d tickers)", c.list.Len())
		return nil
	}
	c.list.Replace(items)
	logs.Infof("[Crawler] Candidate list refreshed: %d tickers", len(items))
	return nil
}

// Run loops until the context is cancelled, scraping immediately and then
// on every interval tick.
func (c *Crawler) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logs.Infof("[Crawler] Started with a %s interval", interval)
	for {
		if err := c.RefreshOnce(ctx); err != nil {
			logs.Errorf("[Crawler] Scrape failed, keeping previous list: %v", err)
		}
		select {
		case <-ctx.Done():
			logs.Infof("[Crawler] Stopped")
			return
		case <-ticker.C:
		}
	}
}
