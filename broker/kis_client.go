// broker/kis_client.go
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"auto_kis_go/config"
	"auto_kis_go/logs"

	"github.com/shopspring/decimal"
)

// Ensure KISClient implements the Client interface.
var _ Client = (*KISClient)(nil)

// tokenLifetime is how long an issued access token is trusted. KIS tokens
// last 24h; refreshing an hour early avoids racing the expiry.
const tokenLifetime = 23 * time.Hour

// KISClient talks to the KIS overseas-stock REST API.
type KISClient struct {
	appKey      string
	appSecret   string
	accountNo   string
	accountCode string
	baseURL     string
	http        *http.Client
	loc         *time.Location // Asia/Seoul, order timestamps are KST

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewKISClient creates a client from the environment credentials.
func NewKISClient(env *config.EnvConfig, timeoutSeconds int) (*KISClient, error) {
	if env.AppKey == "" || env.AppSecret == "" {
		return nil, fmt.Errorf("KIS credentials missing: set KIS_APP_KEY and KIS_APP_SECRET")
	}
	if env.AccountNo == "" || env.AccountCode == "" {
		return nil, fmt.Errorf("KIS account missing: set KIS_CANO and KIS_ACNT_PRDT_CD")
	}
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("failed to load KST timezone: %w", err)
	}
	return &KISClient{
		appKey:      env.AppKey,
		appSecret:   env.AppSecret,
		accountNo:   env.AccountNo,
		accountCode: env.AccountCode,
		baseURL:     env.BaseURL,
		http:        &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		loc:         loc,
	}, nil
}

// isPaper reports whether the client targets the paper-trading endpoint.
// TR ids differ between the paper and live environments.
func (c *KISClient) isPaper() bool {
	return strings.Contains(c.baseURL, "openapivts")
}

func (c *KISClient) trID(paper, live string) string {
	if c.isPaper() {
		return paper
	}
	return live
}

// RefreshToken issues or reuses the cached OAuth access token.
func (c *KISClient) RefreshToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(respBody, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return fmt.Errorf("token issue failed: HTTP %d, body: %s", resp.StatusCode, string(respBody))
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	logs.Infof("[KIS] Access token issued, valid until %s", c.tokenExpiry.Format("2006-01-02 15:04:05"))
	return nil
}

func (c *KISClient) authHeaders(req *http.Request, trID string) error {
	c.tokenMu.Lock()
	token := c.accessToken
	c.tokenMu.Unlock()
	if token == "" {
		return fmt.Errorf("no access token cached, call RefreshToken first")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appKey", c.appKey)
	req.Header.Set("appSecret", c.appSecret)
	req.Header.Set("tr_id", trID)
	return nil
}

// sendRequest performs one authenticated call and decodes the response into
// target. For GET and cancel-style POSTs the parameters travel in the query
// string; order placement sends a JSON body.
func (c *KISClient) sendRequest(ctx context.Context, method, endpoint, trID string, params url.Values, jsonBody interface{}, target interface{}) error {
	fullURL := c.baseURL + endpoint
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if jsonBody != nil {
		data, err := json.Marshal(jsonBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authHeaders(req, trID); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}
	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// envelope is the common KIS response header. rt_cd "0" means success.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e *envelope) ok() bool { return e.RtCd == "0" }

func (e *envelope) err(op string) error {
	return fmt.Errorf("%s rejected: %s (code: %s)", op, strings.TrimSpace(e.Msg1), e.MsgCd)
}

// parseAmount converts a KIS string-decimal field to float64. Empty fields
// come back as zero, matching how the API reports flat accounts.
func parseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func parseQty(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some endpoints report quantities with a decimal point.
		return int64(parseAmount(s))
	}
	return n
}

func (c *KISClient) accountParams() url.Values {
	params := url.Values{}
	params.Set("CANO", c.accountNo)
	params.Set("ACNT_PRDT_CD", c.accountCode)
	return params
}

// GetBalance returns total equity (stock valuation + cash) and orderable
// cash, both in KRW as reported by the present-balance endpoint.
func (c *KISClient) GetBalance(ctx context.Context) (Balance, error) {
	params := c.accountParams()
	params.Set("WCRC_FRCR_DVSN_CD", "02")
	params.Set("NATN_CD", "840")
	params.Set("TR_MKET_CD", "00")
	params.Set("INQR_DVSN_CD", "00")

	var resp struct {
		envelope
		Output3 struct {
			StockValuation string `json:"evlu_amt_smtl"`
			CashValuation  string `json:"frcr_evlu_tota"`
		} `json:"output3"`
	}
	err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-present-balance",
		c.trID("VTRP6504R", "CTRP6504R"), params, nil, &resp)
	if err != nil {
		return Balance{}, err
	}
	if !resp.ok() {
		return Balance{}, resp.err("balance inquiry")
	}

	stockVal := parseAmount(resp.Output3.StockValuation)
	cashVal := parseAmount(resp.Output3.CashValuation)
	return Balance{TotalEquity: stockVal + cashVal, OrderableCash: cashVal}, nil
}

// GetHoldings returns every broker-reported position row.
func (c *KISClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	params := c.accountParams()
	params.Set("OVRS_EXCG_CD", "NASD")
	params.Set("TR_CRCY_CD", "USD")
	params.Set("CTX_AREA_FK200", "")
	params.Set("CTX_AREA_NK200", "")

	var resp struct {
		envelope
		Output1 []struct {
			Ticker   string `json:"ovrs_pdno"`
			Quantity string `json:"ord_psbl_qty"`
			AvgPrice string `json:"pchs_avg_pric"`
			Exchange string `json:"ovrs_excg_cd"`
		} `json:"output1"`
	}
	err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-balance",
		c.trID("VTTS3012R", "TTTS3012R"), params, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.err("holdings inquiry")
	}

	holdings := make([]Holding, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		holdings = append(holdings, Holding{
			Ticker:   row.Ticker,
			Quantity: parseQty(row.Quantity),
			AvgPrice: parseAmount(row.AvgPrice),
			Exchange: row.Exchange,
		})
	}
	return holdings, nil
}

// GetUnfilledOrders returns the open buy orders. The paper environment has
// no dedicated unfilled endpoint, so it scans the last two days of order
// history and keeps buy rows with remaining quantity.
func (c *KISClient) GetUnfilledOrders(ctx context.Context) ([]UnfilledOrder, error) {
	type orderRow struct {
		Ticker    string `json:"pdno"`
		Price     string `json:"ft_ord_unpr3"`
		AltPrice  string `json:"ovrs_ord_unpr"`
		Remaining string `json:"nccs_qty"`
		OrderID   string `json:"odno"`
		OrderDate string `json:"ord_dt"`
		OrderTime string `json:"ord_tmd"`
		SideCode  string `json:"sll_buy_dvsn_cd"`
		Exchange  string `json:"ovrs_excg_cd"`
	}
	var resp struct {
		envelope
		Output []orderRow `json:"output"`
	}

	if c.isPaper() {
		now := time.Now().In(c.loc)
		params := c.accountParams()
		params.Set("PDNO", "%")
		params.Set("ORD_STRT_DT", now.AddDate(0, 0, -1).Format("20060102"))
		params.Set("ORD_END_DT", now.Format("20060102"))
		params.Set("SLL_BUY_DVSN", "00")
		params.Set("CCLD_NCCS_DVSN", "00")
		params.Set("OVRS_EXCG_CD", "%")
		params.Set("SORT_SQN", "DS")
		params.Set("ORD_DT", "")
		params.Set("ODNO", "")
		params.Set("CTX_AREA_FK200", "")
		params.Set("CTX_AREA_NK200", "")

		err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-ccnl",
			"VTTS3035R", params, nil, &resp)
		if err != nil {
			return nil, err
		}
	} else {
		params := c.accountParams()
		params.Set("OVRS_EXCG_CD", "NASD")
		params.Set("SORT_SQN", "DS")
		params.Set("CTX_AREA_FK200", "")
		params.Set("CTX_AREA_NK200", "")

		err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-nccs",
			"TTTS3018R", params, nil, &resp)
		if err != nil {
			return nil, err
		}
	}
	if !resp.ok() {
		return nil, resp.err("unfilled order inquiry")
	}

	orders := make([]UnfilledOrder, 0, len(resp.Output))
	for _, row := range resp.Output {
		remaining := parseQty(row.Remaining)
		if remaining <= 0 {
			continue
		}
		// The order-history scan includes sells; only buys occupy slots.
		if c.isPaper() && row.SideCode != "02" {
			continue
		}
		price := parseAmount(row.Price)
		if price == 0 {
			price = parseAmount(row.AltPrice)
		}
		placedAt, err := time.ParseInLocation("20060102 150405", row.OrderDate+" "+row.OrderTime, c.loc)
		if err != nil {
			logs.Warnf("[KIS] Unparseable order timestamp %q %q for %s, treating as just placed", row.OrderDate, row.OrderTime, row.Ticker)
			placedAt = time.Now().In(c.loc)
		}
		orders = append(orders, UnfilledOrder{
			Ticker:   row.Ticker,
			Price:    price,
			Quantity: remaining,
			OrderID:  row.OrderID,
			PlacedAt: placedAt,
			Exchange: row.Exchange,
		})
	}
	return orders, nil
}

type orderBody struct {
	CANO         string `json:"CANO"`
	AcntPrdtCd   string `json:"ACNT_PRDT_CD"`
	OvrsExcgCd   string `json:"OVRS_EXCG_CD"`
	Pdno         string `json:"PDNO"`
	OrdQty       string `json:"ORD_QTY"`
	OvrsOrdUnpr  string `json:"OVRS_ORD_UNPR"`
	OrdSvrDvsnCd string `json:"ORD_SVR_DVSN_CD"`
	OrdDvsn      string `json:"ORD_DVSN"`
}

func (c *KISClient) newOrderBody(ticker string, price float64, qty int64, exchange string) orderBody {
	return orderBody{
		CANO:         c.accountNo,
		AcntPrdtCd:   c.accountCode,
		OvrsExcgCd:   exchange,
		Pdno:         ticker,
		OrdQty:       strconv.FormatInt(qty, 10),
		OvrsOrdUnpr:  strconv.FormatFloat(price, 'f', 2, 64),
		OrdSvrDvsnCd: "0",
		OrdDvsn:      "00", // limit order
	}
}

// PlaceBuy submits a limit buy and returns the broker order number.
func (c *KISClient) PlaceBuy(ctx context.Context, ticker string, price float64, qty int64, exchange string) (string, error) {
	var resp struct {
		envelope
		Output struct {
			OrderNo string `json:"ODNO"`
		} `json:"output"`
	}
	err := c.sendRequest(ctx, http.MethodPost, "/uapi/overseas-stock/v1/trading/order",
		c.trID("VTTT1002U", "TTTT1002U"), nil, c.newOrderBody(ticker, price, qty, exchange), &resp)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", resp.err("buy order")
	}
	logs.Infof("[KIS] Buy order accepted: %s $%.2f x %d (order no: %s)", ticker, price, qty, resp.Output.OrderNo)
	return resp.Output.OrderNo, nil
}

// PlaceSell submits a limit sell.
func (c *KISClient) PlaceSell(ctx context.Context, ticker string, price float64, qty int64, exchange string) error {
	var resp struct {
		envelope
		Output struct {
			OrderNo string `json:"ODNO"`
		} `json:"output"`
	}
	err := c.sendRequest(ctx, http.MethodPost, "/uapi/overseas-stock/v1/trading/order",
		c.trID("VTTT1001U", "TTTT1006U"), nil, c.newOrderBody(ticker, price, qty, exchange), &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err("sell order")
	}
	logs.Infof("[KIS] Sell order accepted: %s $%.2f x %d (order no: %s)", ticker, price, qty, resp.Output.OrderNo)
	return nil
}

// CancelOrder cancels an open order. Cancel parameters travel in the query
// string on this endpoint.
func (c *KISClient) CancelOrder(ctx context.Context, ticker, orderID string, qty int64) error {
	params := c.accountParams()
	params.Set("OVRS_EXCG_CD", "NASD")
	params.Set("PDNO", ticker)
	params.Set("ORGN_ODNO", orderID)
	params.Set("RVSE_CNCL_DVSN_CD", "02") // 02 = cancel
	params.Set("ORD_QTY", strconv.FormatInt(qty, 10))
	params.Set("OVRS_ORD_UNPR", "0")

	var resp struct {
		envelope
	}
	err := c.sendRequest(ctx, http.MethodPost, "/uapi/overseas-stock/v1/trading/order-rvsecncl",
		c.trID("VTTT1004U", "TTTT1004U"), params, nil, &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err("order cancel")
	}
	logs.Infof("[KIS] Cancelled order %s for %s", orderID, ticker)
	return nil
}

// priceExchangeCode maps KIS order venue codes to the short codes the
// quotation endpoints expect.
var priceExchangeCode = map[string]string{
	"NASD": "NAS",
	"NYSE": "NYS",
	"AMEX": "AMS",
}

func quoteVenue(exchange string) string {
	if code, ok := priceExchangeCode[exchange]; ok {
		return code
	}
	return "NAS"
}

// GetQuote returns the last traded price from the quotation endpoint.
func (c *KISClient) GetQuote(ctx context.Context, ticker, exchange string) (float64, error) {
	params := url.Values{}
	params.Set("AUTH", "")
	params.Set("EXCD", quoteVenue(exchange))
	params.Set("SYMB", ticker)

	var resp struct {
		envelope
		Output struct {
			Last string `json:"last"`
		} `json:"output"`
	}
	err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/price",
		"HHDFS00000300", params, nil, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, resp.err("price inquiry")
	}
	last := parseAmount(resp.Output.Last)
	if last <= 0 {
		return 0, fmt.Errorf("price inquiry returned no last price for %s", ticker)
	}
	return last, nil
}

// GetCandles returns recent 5-minute bars, oldest first.
func (c *KISClient) GetCandles(ctx context.Context, ticker, exchange string) ([]Candle, error) {
	params := url.Values{}
	params.Set("AUTH", "")
	params.Set("EXCD", quoteVenue(exchange))
	params.Set("SYMB", ticker)
	params.Set("NMIN", "5")
	params.Set("PINC", "1")
	params.Set("NEXT", "")
	params.Set("NREC", "120")
	params.Set("FILL", "")
	params.Set("KEYB", "")

	var resp struct {
		envelope
		Output2 []struct {
			Date  string `json:"xymd"`
			Time  string `json:"xhms"`
			Open  string `json:"open"`
			High  string `json:"high"`
			Low   string `json:"low"`
			Close string `json:"last"`
		} `json:"output2"`
	}
	err := c.sendRequest(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/inquire-time-itemchartprice",
		"HHDFS76950200", params, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.err("candle inquiry")
	}

	// Rows arrive newest first; the signal code wants them oldest first.
	candles := make([]Candle, 0, len(resp.Output2))
	for i := len(resp.Output2) - 1; i >= 0; i-- {
		row := resp.Output2[i]
		ts, err := time.ParseInLocation("20060102 150405", row.Date+" "+row.Time, c.loc)
		if err != nil {
			continue
		}
		candles = append(candles, Candle{
			Time:  ts,
			Open:  parseAmount(row.Open),
			High:  parseAmount(row.High),
			Low:   parseAmount(row.Low),
			Close: parseAmount(row.Close),
		})
	}
	return candles, nil
}
