package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is read when --config is not given. The file is optional.
const DefaultSettingsPath = "config/config.yaml"

// DefaultCandidatePairs are scanned by the symbol selector in this order.
var DefaultCandidatePairs = []string{
	"BTC/USDT", "ETH/USDT", "XRP/USDT", "LTC/USDT", "ADA/USDT",
	"DOT/USDT", "DOGE/USDT", "SOL/USDT", "AVAX/USDT", "MATIC/USDT",
}

// Settings holds the operational knobs that do not come from the command line.
type Settings struct {
	State          StateConfig          `yaml:"state"`
	Logging        LoggingConfig        `yaml:"logging"`
	Trading        TradingConfig        `yaml:"trading"`
	Fees           map[string]FeeRate   `yaml:"fees"`
	Exchanges      ExchangesConfig      `yaml:"exchanges"`
	Telegram       TelegramConfig       `yaml:"telegram"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type LoggingConfig struct {
	Dir        string `yaml:"dir"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TradingConfig struct {
	ProfitCriteriaPct Decimal  `yaml:"profit_criteria_pct"`
	PollIntervalMs    int64    `yaml:"poll_interval_ms"`
	SafetyFactor      Decimal  `yaml:"safety_factor"`
	ShortAmountRatio  Decimal  `yaml:"short_amount_ratio"`
	FuturesExchange   string   `yaml:"futures_exchange"`
	DefaultPair       string   `yaml:"default_pair"`
	CandidatePairs    []string `yaml:"candidate_pairs"`
}

// FeeRate is the taker fee charged on the asset given away and on the asset received.
type FeeRate struct {
	Give    Decimal `yaml:"give"`
	Receive Decimal `yaml:"receive"`
}

type ExchangesConfig struct {
	Binance              BinanceConfig `yaml:"binance"`
	KucoinBaseURL        string        `yaml:"kucoin_base_url"`
	KucoinFuturesBaseURL string        `yaml:"kucoinfutures_base_url"`
	OKXBaseURL           string        `yaml:"okx_base_url"`
	BybitBaseURL         string        `yaml:"bybit_base_url"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"`
	RetryAttempts        int           `yaml:"retry_attempts"`
	RetryDelayMs         int64         `yaml:"retry_delay_ms"`
	HTTPTimeoutSec       int64         `yaml:"http_timeout_sec"`
}

type BinanceConfig struct {
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	RestBaseURL   string `yaml:"rest_base_url"`
	StreamBaseURL string `yaml:"stream_base_url"`
	StreamEnabled bool   `yaml:"stream_enabled"`
	RecvWindowMs  int64  `yaml:"recv_window_ms"`
}

type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	ChatID        string `yaml:"chat_id"`
	APIBaseURL    string `yaml:"api_base_url"`
	TimeoutSec    int64  `yaml:"timeout_sec"`
	DropReportSec int64  `yaml:"drop_report_sec"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxPlaceFailures int  `yaml:"max_place_failures"`
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// LoadDotEnv reads .env style files into the process environment.
// Missing files are ignored; existing variables are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the settings file and overlays the process environment.
func Load(path string) (Settings, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookup LookupEnv) (Settings, error) {
	var cfg Settings
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Settings{}, err
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			if err == nil {
				return Settings{}, fmt.Errorf("config must contain a single YAML document")
			}
			return Settings{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Settings{}, err
	}
	cfg.normalize()
	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return Settings{}, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Default returns the settings used when no file and no environment is present.
func Default() Settings {
	var cfg Settings
	cfg.applyDefaults()
	return cfg
}

// Fee returns the fee rate for an exchange, falling back to 0.1% both ways.
func (s Settings) Fee(exchange string) FeeRate {
	if rate, ok := s.Fees[strings.ToLower(exchange)]; ok {
		return rate
	}
	return FeeRate{Give: Decimal{defaultFee}, Receive: Decimal{defaultFee}}
}

var defaultFee = decimal.RequireFromString("0.001")

func defaultFeeTable() map[string]FeeRate {
	okxGive := decimal.RequireFromString("0.0008")
	table := make(map[string]FeeRate, len(SupportedExchanges))
	for _, ex := range SupportedExchanges {
		table[ex] = FeeRate{Give: Decimal{defaultFee}, Receive: Decimal{defaultFee}}
	}
	table["okx"] = FeeRate{Give: Decimal{okxGive}, Receive: Decimal{defaultFee}}
	return table
}

func (c *Settings) normalize() {
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Logging.Dir = strings.TrimSpace(c.Logging.Dir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Trading.FuturesExchange = strings.ToLower(strings.TrimSpace(c.Trading.FuturesExchange))
	c.Trading.DefaultPair = strings.ToUpper(strings.TrimSpace(c.Trading.DefaultPair))
	for i, p := range c.Trading.CandidatePairs {
		c.Trading.CandidatePairs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	if len(c.Fees) > 0 {
		fees := make(map[string]FeeRate, len(c.Fees))
		for k, v := range c.Fees {
			fees[strings.ToLower(strings.TrimSpace(k))] = v
		}
		c.Fees = fees
	}
	b := &c.Exchanges.Binance
	b.APIKey = strings.TrimSpace(b.APIKey)
	b.APISecret = strings.TrimSpace(b.APISecret)
	b.RestBaseURL = strings.TrimSpace(b.RestBaseURL)
	b.StreamBaseURL = strings.TrimSpace(b.StreamBaseURL)
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
	c.Telegram.APIBaseURL = strings.TrimSpace(c.Telegram.APIBaseURL)
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
}

func (c *Settings) applyEnv(lookup LookupEnv) error {
	if v, ok := lookup("ENABLE_TELEGRAM"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ENABLE_TELEGRAM must be true or false")
		}
		c.Telegram.Enabled = enabled
	}
	overlay := []struct {
		key    string
		target *string
	}{
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &c.Telegram.ChatID},
		{"BINANCE_API_KEY", &c.Exchanges.Binance.APIKey},
		{"BINANCE_API_SECRET", &c.Exchanges.Binance.APISecret},
		{"ARBBOT_STATE_DIR", &c.State.Dir},
		{"ARBBOT_METRICS_ADDR", &c.Metrics.Addr},
	}
	for _, o := range overlay {
		if v, ok := lookup(o.key); ok && strings.TrimSpace(v) != "" {
			*o.target = strings.TrimSpace(v)
		}
	}
	return nil
}

func (c *Settings) applyDefaults() {
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
	if c.Trading.PollIntervalMs == 0 {
		c.Trading.PollIntervalMs = 100
	}
	if c.Trading.SafetyFactor.IsZero() {
		c.Trading.SafetyFactor = Decimal{decimal.RequireFromString("0.99")}
	}
	if c.Trading.ShortAmountRatio.IsZero() {
		c.Trading.ShortAmountRatio = Decimal{decimal.NewFromInt(1).Div(decimal.NewFromInt(3))}
	}
	if c.Trading.FuturesExchange == "" {
		c.Trading.FuturesExchange = "kucoinfutures"
	}
	if c.Trading.DefaultPair == "" {
		c.Trading.DefaultPair = "BTC/USDT"
	}
	if len(c.Trading.CandidatePairs) == 0 {
		c.Trading.CandidatePairs = append([]string(nil), DefaultCandidatePairs...)
	}
	defaults := defaultFeeTable()
	if c.Fees == nil {
		c.Fees = defaults
	} else {
		for k, v := range defaults {
			if _, ok := c.Fees[k]; !ok {
				c.Fees[k] = v
			}
		}
	}
	b := &c.Exchanges.Binance
	if b.RestBaseURL == "" {
		b.RestBaseURL = "https://api.binance.com"
	}
	if b.StreamBaseURL == "" {
		b.StreamBaseURL = "wss://stream.binance.com:9443/ws"
	}
	if b.RecvWindowMs == 0 {
		b.RecvWindowMs = 5000
	}
	if c.Exchanges.KucoinBaseURL == "" {
		c.Exchanges.KucoinBaseURL = "https://api.kucoin.com"
	}
	if c.Exchanges.KucoinFuturesBaseURL == "" {
		c.Exchanges.KucoinFuturesBaseURL = "https://api-futures.kucoin.com"
	}
	if c.Exchanges.OKXBaseURL == "" {
		c.Exchanges.OKXBaseURL = "https://www.okx.com"
	}
	if c.Exchanges.BybitBaseURL == "" {
		c.Exchanges.BybitBaseURL = "https://api.bybit.com"
	}
	if c.Exchanges.RequestsPerSecond == 0 {
		c.Exchanges.RequestsPerSecond = 10
	}
	if c.Exchanges.RetryAttempts == 0 {
		c.Exchanges.RetryAttempts = 3
	}
	if c.Exchanges.RetryDelayMs == 0 {
		c.Exchanges.RetryDelayMs = 1000
	}
	if c.Exchanges.HTTPTimeoutSec == 0 {
		c.Exchanges.HTTPTimeoutSec = 15
	}
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Telegram.TimeoutSec == 0 {
		c.Telegram.TimeoutSec = 10
	}
	if c.Telegram.DropReportSec == 0 {
		c.Telegram.DropReportSec = 60
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
}

func (c Settings) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	if c.Logging.MaxSizeMB < 1 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging rotation limits must be positive")
	}
	if c.Trading.ProfitCriteriaPct.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("trading.profit_criteria_pct must be >= 0")
	}
	if c.Trading.PollIntervalMs < 10 || c.Trading.PollIntervalMs > 60000 {
		return fmt.Errorf("trading.poll_interval_ms must be between 10 and 60000")
	}
	one := decimal.NewFromInt(1)
	if c.Trading.SafetyFactor.Cmp(decimal.Zero) <= 0 || c.Trading.SafetyFactor.Cmp(one) > 0 {
		return fmt.Errorf("trading.safety_factor must be in (0, 1]")
	}
	if c.Trading.ShortAmountRatio.Cmp(decimal.Zero) <= 0 || c.Trading.ShortAmountRatio.Cmp(one) >= 0 {
		return fmt.Errorf("trading.short_amount_ratio must be in (0, 1)")
	}
	if !ValidateExchangeSupported(c.Trading.FuturesExchange) {
		return fmt.Errorf("trading.futures_exchange %q is not supported", c.Trading.FuturesExchange)
	}
	if c.Trading.DefaultPair == "" || ValidateSymbol(c.Trading.DefaultPair) != nil {
		return fmt.Errorf("trading.default_pair must be a BASE/USDT pair")
	}
	for _, p := range c.Trading.CandidatePairs {
		if p == "" || ValidateSymbol(p) != nil {
			return fmt.Errorf("trading.candidate_pairs entry %q must be a BASE/USDT pair", p)
		}
	}
	for ex, rate := range c.Fees {
		if !ValidateExchangeSupported(ex) {
			return fmt.Errorf("fees: unsupported exchange %q", ex)
		}
		if rate.Give.Cmp(decimal.Zero) < 0 || rate.Receive.Cmp(decimal.Zero) < 0 {
			return fmt.Errorf("fees.%s rates must be >= 0", ex)
		}
	}
	urls := []struct {
		name    string
		raw     string
		schemes []string
	}{
		{"exchanges.binance.rest_base_url", c.Exchanges.Binance.RestBaseURL, []string{"http", "https"}},
		{"exchanges.binance.stream_base_url", c.Exchanges.Binance.StreamBaseURL, []string{"ws", "wss"}},
		{"exchanges.kucoin_base_url", c.Exchanges.KucoinBaseURL, []string{"http", "https"}},
		{"exchanges.kucoinfutures_base_url", c.Exchanges.KucoinFuturesBaseURL, []string{"http", "https"}},
		{"exchanges.okx_base_url", c.Exchanges.OKXBaseURL, []string{"http", "https"}},
		{"exchanges.bybit_base_url", c.Exchanges.BybitBaseURL, []string{"http", "https"}},
	}
	for _, u := range urls {
		if err := validateURL(u.raw, u.schemes...); err != nil {
			return fmt.Errorf("%s %v", u.name, err)
		}
	}
	if c.Exchanges.Binance.RecvWindowMs < 1 || c.Exchanges.Binance.RecvWindowMs > 60000 {
		return fmt.Errorf("exchanges.binance.recv_window_ms must be between 1 and 60000")
	}
	if c.Exchanges.RequestsPerSecond <= 0 {
		return fmt.Errorf("exchanges.requests_per_second must be > 0")
	}
	if c.Exchanges.RetryAttempts < 0 || c.Exchanges.RetryAttempts > 10 {
		return fmt.Errorf("exchanges.retry_attempts must be between 0 and 10")
	}
	if c.Exchanges.RetryDelayMs < 0 || c.Exchanges.RetryDelayMs > 60000 {
		return fmt.Errorf("exchanges.retry_delay_ms must be between 0 and 60000")
	}
	if c.Exchanges.HTTPTimeoutSec < 1 || c.Exchanges.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchanges.http_timeout_sec must be between 1 and 120")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram enabled")
		}
		if c.Telegram.TimeoutSec < 1 || c.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("telegram.api_base_url %v", err)
		}
	}
	if c.Telegram.DropReportSec < 0 || c.Telegram.DropReportSec > 3600 {
		return fmt.Errorf("telegram.drop_report_sec must be between 0 and 3600")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.MaxPlaceFailures < 1 {
		return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	return nil
}

// HasBinanceCredentials reports whether signed binance endpoints can be used.
func (c Settings) HasBinanceCredentials() bool {
	return c.Exchanges.Binance.APIKey != "" && c.Exchanges.Binance.APISecret != ""
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
