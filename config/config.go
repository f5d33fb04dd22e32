// config/config.go
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v2"
)

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Window is an intraday trading window in local (KST) wall-clock time.
// End may be earlier than Start, in which case the window wraps midnight.
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ProfitStep is one rung of the staged profit-taking ladder.
type ProfitStep struct {
	Stage      int     `yaml:"stage"`
	TriggerPct float64 `yaml:"trigger_pct"`
	SellRatio  float64 `yaml:"sell_ratio"`
}

// ExitConfig holds every threshold the exit ladder consults.
type ExitConfig struct {
	StopLossPct       float64         `yaml:"stop_loss_pct"`
	BreakevenPeakPct  float64         `yaml:"breakeven_peak_pct"`
	BreakevenFloorPct float64         `yaml:"breakeven_floor_pct"`
	TrailingDrawdown  map[int]float64 `yaml:"trailing_drawdown"`
	ProfitSteps       []ProfitStep    `yaml:"profit_steps"`
	RemainingRatio    map[int]float64 `yaml:"remaining_ratio"`
	SmallInitQty      int64           `yaml:"small_init_qty"`
	MinRemainShares   int64           `yaml:"min_remain_shares"`
}

// SignalConfig tunes the span-B flatness entry signal.
type SignalConfig struct {
	FlatBars     int     `yaml:"flat_bars"`
	TolerancePct float64 `yaml:"tolerance_pct"`
	MinCandles   int     `yaml:"min_candles"`
}

// CrawlerConfig tunes the Toss ranking crawler loop.
type CrawlerConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	MinTradedKRW    float64 `yaml:"min_traded_krw"`
	MaxMarketCapUSD float64 `yaml:"max_market_cap_usd"`
}

// TraderConfig tunes the trading loop itself.
type TraderConfig struct {
	IntervalSeconds      int      `yaml:"interval_seconds"`
	OffHoursSeconds      int      `yaml:"off_hours_seconds"`
	MaxSlots             int      `yaml:"max_slots"`
	BuyPercent           float64  `yaml:"buy_percent"`
	KRWUSDRate           float64  `yaml:"krw_usd_rate"`
	OrderLifetimeMinutes int      `yaml:"order_lifetime_minutes"`
	Windows              []Window `yaml:"trading_windows"`
}

// NormalConfig holds general, non-strategy configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds     int    `yaml:"http_timeout_seconds"`
	MonitorListenAddr      string `yaml:"monitor_listen_addr"`
	RestartCooldownSeconds int    `yaml:"restart_cooldown_seconds"`
	LogDirectory           string `yaml:"log_directory"`
	StateDirectory         string `yaml:"state_directory"`
	JournalDirectory       string `yaml:"journal_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	UseSimulation bool           `yaml:"use_simulation"`
	Trader        *TraderConfig  `yaml:"trader"`
	Crawler       *CrawlerConfig `yaml:"crawler"`
	Signal        *SignalConfig  `yaml:"signal"`
	Exit          *ExitConfig    `yaml:"exit"`
	Normal        *NormalConfig  `yaml:"normal_config"`
	Logs          *LogConfig     `yaml:"logs"`
}

// NewConfig returns a Config carrying the strategy defaults the bot shipped
// with. config.yaml overrides any of them; Validate keeps overrides sane.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		Trader: &TraderConfig{
			IntervalSeconds:      20,
			OffHoursSeconds:      600,
			MaxSlots:             5,
			BuyPercent:           19,
			KRWUSDRate:           1500,
			OrderLifetimeMinutes: 120,
			Windows: []Window{
				{Start: "18:00", End: "22:00"},
				{Start: "23:00", End: "02:00"},
			},
		},
		Crawler: &CrawlerConfig{
			IntervalSeconds: 120,
			MinTradedKRW:    100_000_000,
			MaxMarketCapUSD: 50_000_000,
		},
		Signal: &SignalConfig{
			FlatBars:     5,
			TolerancePct: 2,
			MinCandles:   60,
		},
		Exit: &ExitConfig{
			StopLossPct:       -10,
			BreakevenPeakPct:  15,
			BreakevenFloorPct: 1,
			TrailingDrawdown:  map[int]float64{1: 12, 2: 15, 3: 18, 4: 22, 5: 28},
			ProfitSteps: []ProfitStep{
				{Stage: 1, TriggerPct: 15, SellRatio: 0.30},
				{Stage: 2, TriggerPct: 50, SellRatio: 0.20},
				{Stage: 3, TriggerPct: 100, SellRatio: 0.20},
				{Stage: 4, TriggerPct: 150, SellRatio: 0.15},
				{Stage: 5, TriggerPct: 200, SellRatio: 0.15},
			},
			RemainingRatio:  map[int]float64{0: 1.0, 1: 0.70, 2: 0.50, 3: 0.30, 4: 0.15, 5: 0.0},
			SmallInitQty:    25,
			MinRemainShares: 1,
		},
		Normal: &NormalConfig{
			HTTPTimeoutSeconds:     15,
			MonitorListenAddr:      ":8000",
			RestartCooldownSeconds: 5,
			LogDirectory:           "logs",
			StateDirectory:         "state",
			JournalDirectory:       "state",
		},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig loads configuration from a given path on top of the defaults
// and validates the result. A missing file is allowed: the defaults stand.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("default configuration invalid: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the logical consistency of the entire configuration.
func (c *Config) Validate() error {
	if c.Trader == nil || c.Crawler == nil || c.Signal == nil || c.Exit == nil || c.Normal == nil || c.Logs == nil {
		return fmt.Errorf("config error: every configuration block must be present")
	}

	t := c.Trader
	if t.IntervalSeconds <= 0 {
		return fmt.Errorf("config error: trader.interval_seconds must be positive")
	}
	if t.OffHoursSeconds <= 0 {
		return fmt.Errorf("config error: trader.off_hours_seconds must be positive")
	}
	if t.MaxSlots <= 0 {
		return fmt.Errorf("config error: trader.max_slots must be positive")
	}
	if t.BuyPercent <= 0 || t.BuyPercent > 100 {
		return fmt.Errorf("config error: trader.buy_percent must be in (0,100], got %.2f", t.BuyPercent)
	}
	if t.KRWUSDRate <= 0 {
		return fmt.Errorf("config error: trader.krw_usd_rate must be positive")
	}
	if t.OrderLifetimeMinutes <= 0 {
		return fmt.Errorf("config error: trader.order_lifetime_minutes must be positive")
	}
	if len(t.Windows) == 0 {
		return fmt.Errorf("config error: trader.trading_windows must contain at least one window")
	}
	for _, w := range t.Windows {
		if _, err := time.Parse("15:04", w.Start); err != nil {
			return fmt.Errorf("config error: bad trading window start %q: %w", w.Start, err)
		}
		if _, err := time.Parse("15:04", w.End); err != nil {
			return fmt.Errorf("config error: bad trading window end %q: %w", w.End, err)
		}
	}

	if c.Crawler.IntervalSeconds <= 0 {
		return fmt.Errorf("config error: crawler.interval_seconds must be positive")
	}
	if c.Signal.FlatBars <= 0 {
		return fmt.Errorf("config error: signal.flat_bars must be positive")
	}
	if c.Signal.TolerancePct <= 0 {
		return fmt.Errorf("config error: signal.tolerance_pct must be positive")
	}
	if c.Signal.MinCandles <= 0 {
		return fmt.Errorf("config error: signal.min_candles must be positive")
	}

	e := c.Exit
	if e.StopLossPct >= 0 {
		return fmt.Errorf("config error: exit.stop_loss_pct must be negative, got %.2f", e.StopLossPct)
	}
	if e.BreakevenPeakPct <= e.BreakevenFloorPct {
		return fmt.Errorf("config error: exit.breakeven_peak_pct (%.2f) must exceed breakeven_floor_pct (%.2f)",
			e.BreakevenPeakPct, e.BreakevenFloorPct)
	}
	if len(e.ProfitSteps) == 0 {
		return fmt.Errorf("config error: exit.profit_steps must not be empty")
	}
	if !sort.SliceIsSorted(e.ProfitSteps, func(i, j int) bool {
		return e.ProfitSteps[i].Stage < e.ProfitSteps[j].Stage
	}) {
		return fmt.Errorf("config error: exit.profit_steps must be ordered by stage")
	}
	for _, step := range e.ProfitSteps {
		if step.Stage <= 0 {
			return fmt.Errorf("config error: exit.profit_steps stages must be positive")
		}
		if step.SellRatio <= 0 || step.SellRatio > 1 {
			return fmt.Errorf("config error: exit.profit_steps sell_ratio must be in (0,1], got %.2f", step.SellRatio)
		}
		if _, ok := e.TrailingDrawdown[step.Stage]; !ok {
			return fmt.Errorf("config error: exit.trailing_drawdown missing entry for stage %d", step.Stage)
		}
		if _, ok := e.RemainingRatio[step.Stage]; !ok {
			return fmt.Errorf("config error: exit.remaining_ratio missing entry for stage %d", step.Stage)
		}
	}
	if r, ok := e.RemainingRatio[0]; !ok || r != 1.0 {
		return fmt.Errorf("config error: exit.remaining_ratio must map stage 0 to 1.0")
	}
	if e.SmallInitQty < 0 {
		return fmt.Errorf("config error: exit.small_init_qty cannot be negative")
	}
	if e.MinRemainShares < 0 {
		return fmt.Errorf("config error: exit.min_remain_shares cannot be negative")
	}

	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("config error: normal_config.http_timeout_seconds must be positive")
	}
	if c.Normal.RestartCooldownSeconds <= 0 {
		return fmt.Errorf("config error: normal_config.restart_cooldown_seconds must be positive")
	}
	if c.Normal.LogDirectory == "" || c.Normal.StateDirectory == "" || c.Normal.JournalDirectory == "" {
		return fmt.Errorf("config error: normal_config log/state/journal directories must be specified")
	}

	if c.Logs.LogLevel == "" {
		return fmt.Errorf("config error: logs.log_level must be specified (e.g., 'info', 'debug')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("config error: logs rotation settings must be positive")
	}

	return nil
}

// EnvConfig carries the KIS credentials pulled from the environment.
type EnvConfig struct {
	AppKey      string
	AppSecret   string
	AccountNo   string
	AccountCode string
	BaseURL     string
}

// PaperBaseURL is the KIS paper-trading endpoint, used whenever
// KIS_BASE_URL is not set.
const PaperBaseURL = "https://openapivts.koreainvestment.com:29443"

// LoadEnvConfig reads KIS credentials. KIS_BASE_URL defaults to the paper
// trading endpoint; the live endpoint must be set deliberately.
func LoadEnvConfig() *EnvConfig {
	baseURL := os.Getenv("KIS_BASE_URL")
	if baseURL == "" {
		baseURL = PaperBaseURL
	}
	return &EnvConfig{
		AppKey:      os.Getenv("KIS_APP_KEY"),
		AppSecret:   os.Getenv("KIS_APP_SECRET"),
		AccountNo:   os.Getenv("KIS_CANO"),
		AccountCode: os.Getenv("KIS_ACNT_PRDT_CD"),
		BaseURL:     baseURL,
	}
}
