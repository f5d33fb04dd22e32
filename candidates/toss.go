// candidates/toss.go
package candidates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"auto_kis_go/config"
	"auto_kis_go/logs"

	"github.com/PuerkitoBio/goquery"
)

const (
	tossPageURL    = "https://tossinvest.com/?market=us&live-chart=biggest_total_amount"
	tossRankURL    = "https://wts-cert-api.tossinvest.com/api/v2/dashboard/wts/overview/ranking"
	tossInfoURL    = "https://wts-info-api.tossinvest.com/api/v1/stock-infos"
	tossUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	excludedGroup  = "EF" // ETFs and funds
	defaultMarket  = "NSQ"
	bootstrapEvery = 30 * time.Minute
)

// TossScraper pulls the realtime biggest-traded-amount ranking from Toss
// Invest. A browser-like bootstrap request against the dashboard page
// collects the session cookies the JSON APIs require; the cookies are
// refreshed periodically.
type TossScraper struct {
	cfg           *config.CrawlerConfig
	client        *http.Client
	lastBootstrap time.Time
}

// NewTossScraper creates a scraper with its own cookie jar.
func NewTossScraper(cfg *config.CrawlerConfig, timeout time.Duration) (*TossScraper, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &TossScraper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

type rankRequest struct {
	ID       string   `json:"id"`
	Filters  []string `json:"filters"`
	Duration string   `json:"duration"`
	Tag      string   `json:"tag"`
}

type rankResponse struct {
	Result struct {
		Products []rankProduct `json:"products"`
	} `json:"result"`
}

type rankProduct struct {
	Rank        int     `json:"rank"`
	Name        string  `json:"name"`
	ProductCode string  `json:"productCode"`
	TradedKRW   float64 `json:"tossSecuritiesAmount"`
	Price       struct {
		Close float64 `json:"close"`
		Base  float64 `json:"base"`
	} `json:"price"`
}

type infoResponse struct {
	Result []stockInfo `json:"result"`
}

type stockInfo struct {
	Code              string  `json:"code"`
	Symbol            string  `json:"symbol"`
	SharesOutstanding float64 `json:"sharesOutstanding"`
	Group             struct {
		Code string `json:"code"`
	} `json:"group"`
	Market struct {
		Code string `json:"code"`
	} `json:"market"`
}

// Scrape fetches the ranking, joins it with per-ticker stock info and
// applies the liquidity and market-cap filters. The returned slice keeps
// the ranking order.
func (s *TossScraper) Scrape(ctx context.Context) ([]Candidate, error) {
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}

	products, err := s.fetchRanking(ctx)
	if err != nil {
		return nil, err
	}

	liquid := products[:0]
	codes := make([]string, 0, len(products))
	for _, p := range products {
		if p.TradedKRW < s.cfg.MinTradedKRW {
			continue
		}
		liquid = append(liquid, p)
		codes = append(codes, p.ProductCode)
	}
	if len(codes) == 0 {
		return nil, nil
	}

	infos, err := s.fetchStockInfos(ctx, codes)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, p := range liquid {
		info, ok := infos[p.ProductCode]
		if !ok || info.Symbol == "" || info.Group.Code == excludedGroup {
			continue
		}

		marketCap := p.Price.Close * info.SharesOutstanding
		if marketCap > s.cfg.MaxMarketCapUSD {
			continue
		}

		changeRate := 0.0
		if p.Price.Base > 0 {
			changeRate = (p.Price.Close - p.Price.Base) / p.Price.Base * 100
		}

		market := info.Market.Code
		if market == "" {
			market = defaultMarket
		}

		out = append(out, Candidate{
			Rank:          p.Rank,
			Ticker:        info.Symbol,
			Exchange:      market,
			Name:          p.Name,
			Price:         p.Price.Close,
			ChangeRatePct: changeRate,
			MarketCapUSD:  marketCap,
		})
	}
	return out, nil
}

// bootstrap loads the dashboard page so the jar picks up session cookies,
// and sanity-checks that Toss served the real app rather than a block page.
func (s *TossScraper) bootstrap(ctx context.Context) error {
	if time.Since(s.lastBootstrap) < bootstrapEvery {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tossPageURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", tossUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bootstrap page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parse bootstrap page: %w", err)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title == "" {
		return fmt.Errorf("bootstrap page has no title, likely blocked")
	}

	s.lastBootstrap = time.Now()
	logs.Debugf("[Crawler] Session bootstrapped, %d cookies in jar", len(s.client.Jar.Cookies(req.URL)))
	return nil
}

func (s *TossScraper) fetchRanking(ctx context.Context) ([]rankProduct, error) {
	payload, err := json.Marshal(rankRequest{
		ID:       "biggest_total_amount",
		Filters:  []string{},
		Duration: "realtime",
		Tag:      "us",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tossRankURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	s.apiHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var parsed rankResponse
	if err := s.doJSON(req, &parsed); err != nil {
		return nil, fmt.Errorf("ranking request: %w", err)
	}
	return parsed.Result.Products, nil
}

func (s *TossScraper) fetchStockInfos(ctx context.Context, codes []string) (map[string]stockInfo, error) {
	url := tossInfoURL + "?codes=" + strings.Join(codes, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	s.apiHeaders(req)

	var parsed infoResponse
	if err := s.doJSON(req, &parsed); err != nil {
		return nil, fmt.Errorf("stock info request: %w", err)
	}

	out := make(map[string]stockInfo, len(parsed.Result))
	for _, info := range parsed.Result {
		if info.Code != "" {
			out[info.Code] = info
		}
	}
	return out, nil
}

func (s *TossScraper) apiHeaders(req *http.Request) {
	req.Header.Set("User-Agent", tossUserAgent)
	req.Header.Set("Referer", tossPageURL)
	req.Header.Set("Origin", "https://tossinvest.com")
	req.Header.Set("Accept", "application/json")
}

func (s *TossScraper) doJSON(req *http.Request, target interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Force a fresh bootstrap next time; the session likely expired.
		s.lastBootstrap = time.Time{}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
