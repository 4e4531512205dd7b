// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable configuration snapshot every component reads
// at startup. It is validated once at load and never mutated.
type Config struct {
	WebSocketURL  string `mapstructure:"websocket_url"`
	RPCURL        string `mapstructure:"rpc_url"`
	AggregatorURL string `mapstructure:"aggregator_url"`
	SafetyAPIURL  string `mapstructure:"safety_api_url"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	ProgramID     string `mapstructure:"program_id"`
	Commitment    string `mapstructure:"commitment"`
	PrivateKey    string `mapstructure:"private_key"`
	DebugLogging  bool   `mapstructure:"debug_logging"`
	LogFile       string `mapstructure:"log_file"`
	JournalFile   string `mapstructure:"journal_file"`

	Executor  ExecutorConfig  `mapstructure:"executor"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Trade     TradeConfig     `mapstructure:"trade"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
}

// ExecutorConfig bounds the drain loop.
type ExecutorConfig struct {
	MaxConcurrent      int `mapstructure:"max_concurrent"`
	BatchSize          int `mapstructure:"batch_size"`
	TransactionDelayMs int `mapstructure:"transaction_delay_ms"`
	QueueCapacity      int `mapstructure:"queue_capacity"`
}

// ReconnectConfig shapes the supervisor's backoff.
type ReconnectConfig struct {
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffCapMs  int `mapstructure:"backoff_cap_ms"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	CooldownMs    int `mapstructure:"cooldown_ms"`
}

// RatesConfig holds per-resource windows for the rate limiter.
type RatesConfig struct {
	Subscription RateWindow `mapstructure:"subscription"`
	Quote        RateWindow `mapstructure:"quote"`
	Safety       RateWindow `mapstructure:"safety"`
}

// RateWindow is one resource ceiling.
type RateWindow struct {
	Ceiling  int `mapstructure:"ceiling"`
	WindowMs int `mapstructure:"window_ms"`
}

// SafetyConfig is the screener policy.
type SafetyConfig struct {
	AllowMintAuthority   bool     `mapstructure:"allow_mint_authority"`
	AllowFreezeAuthority bool     `mapstructure:"allow_freeze_authority"`
	MinLiquiditySol      float64  `mapstructure:"min_liquidity_sol"`
	MaxHolderPercent     float64  `mapstructure:"max_holder_percent"`
	MaxRiskScore         int      `mapstructure:"max_risk_score"`
	NameBlocklist        []string `mapstructure:"name_blocklist"`
	SymbolBlocklist      []string `mapstructure:"symbol_blocklist"`
	SpamSignatures       []string `mapstructure:"spam_signatures"`
}

// TradeConfig sizes and manages trades.
type TradeConfig struct {
	AmountSol           float64 `mapstructure:"amount_sol"`
	SlippageBps         int     `mapstructure:"slippage_bps"`
	PriorityFeeLamports uint64  `mapstructure:"priority_fee_lamports"`
	StopLossPercent     float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent   float64 `mapstructure:"take_profit_percent"`
	PollIntervalMs      int     `mapstructure:"poll_interval_ms"`
	NotTradableRetries  int     `mapstructure:"not_tradable_retries"`
	NotTradableDelayMs  int     `mapstructure:"not_tradable_delay_ms"`
}

// DedupConfig bounds the recency cache.
type DedupConfig struct {
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

const (
	DefaultMaxConcurrent  = 1
	DefaultBatchSize      = 5
	DefaultTxDelayMs      = 1000
	DefaultQueueCapacity  = 100
	DefaultBackoffBaseMs  = 500
	DefaultBackoffCapMs   = 30_000
	DefaultMaxAttempts    = 10
	DefaultCooldownMs     = 2000
	DefaultPollIntervalMs = 5000
	DefaultRetentionMin   = 30
)

// Load reads configuration from path plus SOLSNIPER_-prefixed
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"commitment":                    "confirmed",
		"executor.max_concurrent":       DefaultMaxConcurrent,
		"executor.batch_size":           DefaultBatchSize,
		"executor.transaction_delay_ms": DefaultTxDelayMs,
		"executor.queue_capacity":       DefaultQueueCapacity,
		"reconnect.backoff_base_ms":     DefaultBackoffBaseMs,
		"reconnect.backoff_cap_ms":      DefaultBackoffCapMs,
		"reconnect.max_attempts":        DefaultMaxAttempts,
		"reconnect.cooldown_ms":         DefaultCooldownMs,
		"rates.subscription.ceiling":    5,
		"rates.subscription.window_ms":  60_000,
		"rates.quote.ceiling":           30,
		"rates.quote.window_ms":         60_000,
		"rates.safety.ceiling":          20,
		"rates.safety.window_ms":        60_000,
		"safety.min_liquidity_sol":      10.0,
		"safety.max_holder_percent":     30.0,
		"safety.max_risk_score":         50,
		"trade.amount_sol":              0.1,
		"trade.slippage_bps":            300,
		"trade.stop_loss_percent":       15.0,
		"trade.take_profit_percent":     50.0,
		"trade.poll_interval_ms":        DefaultPollIntervalMs,
		"trade.not_tradable_retries":    3,
		"trade.not_tradable_delay_ms":   2000,
		"dedup.retention_minutes":       DefaultRetentionMin,
		"log_file":                      "solsniper.log",
		"journal_file":                  "trades.csv",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SOLSNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if key := v.GetString("PRIVATE_KEY"); key != "" {
		cfg.PrivateKey = key
	}

	return &cfg, Validate(&cfg)
}

// Validate checks the configuration once at startup.
func Validate(cfg *Config) error {
	if cfg.WebSocketURL == "" {
		return errors.New("websocket_url is required")
	}
	if err := validateScheme(cfg.WebSocketURL, "ws"); err != nil {
		return fmt.Errorf("websocket_url: %w", err)
	}
	if cfg.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if err := validateScheme(cfg.RPCURL, "http"); err != nil {
		return fmt.Errorf("rpc_url: %w", err)
	}
	if cfg.AggregatorURL == "" {
		return errors.New("aggregator_url is required")
	}
	if err := validateScheme(cfg.AggregatorURL, "http"); err != nil {
		return fmt.Errorf("aggregator_url: %w", err)
	}
	if cfg.SafetyAPIURL == "" {
		return errors.New("safety_api_url is required")
	}
	if err := validateScheme(cfg.SafetyAPIURL, "http"); err != nil {
		return fmt.Errorf("safety_api_url: %w", err)
	}
	if cfg.ProgramID == "" {
		return errors.New("program_id is required")
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Executor.MaxConcurrent <= 0 {
		return errors.New("executor.max_concurrent must be positive")
	}
	if cfg.Executor.QueueCapacity <= 0 {
		return errors.New("executor.queue_capacity must be positive")
	}
	if cfg.Executor.TransactionDelayMs < 0 {
		return errors.New("executor.transaction_delay_ms cannot be negative")
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		return errors.New("reconnect.max_attempts must be positive")
	}
	if cfg.Reconnect.BackoffBaseMs <= 0 || cfg.Reconnect.BackoffCapMs < cfg.Reconnect.BackoffBaseMs {
		return errors.New("invalid reconnect backoff bounds")
	}
	for name, rw := range map[string]RateWindow{
		"subscription": cfg.Rates.Subscription,
		"quote":        cfg.Rates.Quote,
		"safety":       cfg.Rates.Safety,
	} {
		if rw.Ceiling <= 0 || rw.WindowMs <= 0 {
			return fmt.Errorf("rates.%s: ceiling and window must be positive", name)
		}
	}
	if cfg.Trade.AmountSol <= 0 {
		return errors.New("trade.amount_sol must be positive")
	}
	if cfg.Trade.SlippageBps <= 0 || cfg.Trade.SlippageBps > 10_000 {
		return errors.New("trade.slippage_bps must be in (0, 10000]")
	}
	if cfg.Trade.StopLossPercent <= 0 || cfg.Trade.TakeProfitPercent <= 0 {
		return errors.New("stop-loss and take-profit percents must be positive")
	}
	if cfg.Trade.PollIntervalMs <= 0 {
		return errors.New("trade.poll_interval_ms must be positive")
	}
	if cfg.Safety.MinLiquiditySol < 0 || cfg.Safety.MaxHolderPercent <= 0 || cfg.Safety.MaxHolderPercent > 100 {
		return errors.New("invalid safety thresholds")
	}
	if cfg.Dedup.RetentionMinutes <= 0 {
		return errors.New("dedup.retention_minutes must be positive")
	}
	return nil
}

func validateScheme(rawURL, prefix string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, prefix) {
		return fmt.Errorf("scheme must start with %q", prefix)
	}
	return nil
}

// Timing helpers so callers do not re-derive durations.

func (c ExecutorConfig) TransactionDelay() time.Duration {
	return time.Duration(c.TransactionDelayMs) * time.Millisecond
}

func (c ReconnectConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c ReconnectConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

func (c ReconnectConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (w RateWindow) Window() time.Duration {
	return time.Duration(w.WindowMs) * time.Millisecond
}

func (c TradeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c TradeConfig) NotTradableDelay() time.Duration {
	return time.Duration(c.NotTradableDelayMs) * time.Millisecond
}

func (c TradeConfig) AmountLamports() uint64 {
	return uint64(c.AmountSol * 1_000_000_000)
}

func (c DedupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}
