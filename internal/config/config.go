// Package config provides application-wide configuration management.
// All configuration is loaded from a JSON file; a fixed set of fields can
// be overridden by KRXTRADER_-prefixed environment variables (see
// applyEnvOverrides). app.New builds the sizing, signal and risk
// components from those packages' own DefaultConfig values, not from the
// sections here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects whether orders are actually placed (live) or simulated
// against the paper broker (paper).
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Duration is a time.Duration that marshals as a Go duration string
// ("48h", "15m") instead of a bare integer of nanoseconds, so config
// files stay human-editable.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config holds all system configuration. Loaded once at startup and
// passed as read-only to all components.
type Config struct {
	// ActiveBroker selects which broker implementation to use (e.g. "krxapi").
	ActiveBroker string `json:"active_broker"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode Mode `json:"trading_mode"`

	// Capital is the total capital available for trading (KRW).
	Capital decimal.Decimal `json:"capital"`

	Risk      RiskConfig      `json:"risk"`
	Sizing    SizingConfig    `json:"sizing"`
	Signals   SignalsConfig   `json:"signals"`
	Monitor   MonitorConfig   `json:"monitor"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Paths for file-based communication with the external scoring layer
	// (C3's data source, out of this repo's scope).
	Paths PathsConfig `json:"paths"`

	// Broker-specific configuration (API keys, endpoints, etc.).
	BrokerConfig map[string]json.RawMessage `json:"broker_config"`

	// DatabaseURL is the Postgres DSN for internal/database.
	DatabaseURL string `json:"database_url"`

	// RedisURL backs internal/clients/krxfeed's pub/sub.
	RedisURL string `json:"redis_url"`

	// KRXFeedURL is the upstream websocket endpoint internal/clients/krxfeed
	// dials for live quotes.
	KRXFeedURL string `json:"krx_feed_url"`

	// MarketCalendarPath points to the extra-closures data file consumed
	// by market.Calendar.RegisterClosure at startup.
	MarketCalendarPath string `json:"market_calendar_path"`

	Server ServerConfig `json:"server"`

	// Webhook receives asynchronous order-status postbacks from the
	// active broker. Disabled by default, since paper mode and brokers
	// without a postback API never need it.
	Webhook WebhookConfig `json:"webhook"`
}

// RiskConfig mirrors internal/risk.Config and internal/risk.CircuitBreakerConfig.
// The risk package does not import config, and nothing in this module
// copies this section into risk.Config or risk.CircuitBreakerConfig.
type RiskConfig struct {
	RequireRecentDataHours    int             `json:"require_recent_data_hours"`
	MinDataQualityScore       decimal.Decimal `json:"min_data_quality_score"`
	MaxPositions              int             `json:"max_positions"`
	MaxConcentrationPct       decimal.Decimal `json:"max_concentration_pct"`
	MaxSectorConcentrationPct decimal.Decimal `json:"max_sector_concentration_pct"`
	MaxTotalLossPct           decimal.Decimal `json:"max_total_loss_pct"`
	WarningThresholdPct       decimal.Decimal `json:"warning_threshold_pct"`
	CheckInterval             Duration        `json:"check_interval"`
}

// SizingConfig mirrors internal/sizing.Config.
type SizingConfig struct {
	MaxPositionSizePct decimal.Decimal `json:"max_position_size_pct"`
	RiskTolerancePct   decimal.Decimal `json:"risk_tolerance_pct"`
	MedianVolatility   decimal.Decimal `json:"median_volatility"`
}

// SignalsConfig mirrors internal/signals.Config.
type SignalsConfig struct {
	MinCompositeScore           decimal.Decimal `json:"min_composite_score"`
	MinMomentumScore             decimal.Decimal `json:"min_momentum_score"`
	MinConvictionScore           decimal.Decimal `json:"min_conviction_score"`
	StopLossPct                  decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct                 decimal.Decimal `json:"take_profit_pct"`
	LimitOrderDiscountPct        decimal.Decimal `json:"limit_order_discount_pct"`
	UseMarketOrders               bool            `json:"use_market_orders"`
	ScoreDeteriorationThreshold   decimal.Decimal `json:"score_deterioration_threshold"`
}

// MonitorConfig mirrors internal/monitor.Config.
type MonitorConfig struct {
	TakeProfitUseTechnical bool `json:"take_profit_use_technical"`
}

// SchedulerConfig drives internal/scheduler job registration (C11).
type SchedulerConfig struct {
	DataCollectionCron   string   `json:"data_collection_cron"`   // default "0 16 * * MON-FRI"
	IndicatorCalcCron    string   `json:"indicator_calc_cron"`    // default "0 17 * * MON-FRI"
	WatchlistUpdateCron  string   `json:"watchlist_update_cron"`  // default "0 18 * * MON-FRI"
	SignalGenerationCron string   `json:"signal_generation_cron"` // default "45 8 * * MON-FRI"
	PositionMonitorEvery Duration `json:"position_monitor_every"` // default 15m
	RiskCheckEvery       Duration `json:"risk_check_every"`       // default 30m
	GracePeriod          Duration `json:"grace_period"`           // default 5m
	ShutdownDeadline     Duration `json:"shutdown_deadline"`      // default 60s
}

// PathsConfig defines filesystem paths for inter-layer communication.
type PathsConfig struct {
	AIOutputDir   string `json:"ai_output_dir"`
	MarketDataDir string `json:"market_data_dir"`
	LogDir        string `json:"log_dir"`
}

// ServerConfig configures internal/server's HTTP surface.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port internal/server should bind to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebhookConfig configures internal/webhook's postback receiver.
type WebhookConfig struct {
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// Load reads configuration from a JSON file, applies environment variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the baseline tunables, applied before the config
// file is unmarshalled so any field the file omits keeps a sane value.
func Default() Config {
	return Config{
		TradingMode: ModePaper,
		Risk: RiskConfig{
			RequireRecentDataHours:    48,
			MinDataQualityScore:       decimal.NewFromInt(75),
			MaxPositions:              20,
			MaxConcentrationPct:       decimal.NewFromInt(30),
			MaxSectorConcentrationPct: decimal.NewFromInt(40),
			MaxTotalLossPct:           decimal.NewFromInt(28),
			WarningThresholdPct:       decimal.NewFromInt(80),
			CheckInterval:             Duration(30 * time.Minute),
		},
		Sizing: SizingConfig{
			MaxPositionSizePct: decimal.NewFromInt(10),
			RiskTolerancePct:   decimal.NewFromInt(2),
			MedianVolatility:   decimal.NewFromFloat(0.30),
		},
		Signals: SignalsConfig{
			MinConvictionScore:          decimal.NewFromInt(60),
			StopLossPct:                 decimal.NewFromInt(10),
			TakeProfitPct:                decimal.NewFromInt(20),
			LimitOrderDiscountPct:       decimal.NewFromInt(1),
			ScoreDeteriorationThreshold: decimal.NewFromInt(20),
		},
		Scheduler: SchedulerConfig{
			DataCollectionCron:   "0 16 * * MON-FRI",
			IndicatorCalcCron:    "0 17 * * MON-FRI",
			WatchlistUpdateCron:  "0 18 * * MON-FRI",
			SignalGenerationCron: "45 8 * * MON-FRI",
			PositionMonitorEvery: Duration(15 * time.Minute),
			RiskCheckEvery:       Duration(30 * time.Minute),
			GracePeriod:          Duration(5 * time.Minute),
			ShutdownDeadline:     Duration(60 * time.Second),
		},
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
	}
}

// envPrefix starts every override name: KRXTRADER_{PARAM} for top-level
// fields, KRXTRADER_{SECTION}_{PARAM} for fields inside a section.
const envPrefix = "KRXTRADER"

// applyEnvOverrides scans the process environment for KRXTRADER_-prefixed
// variables and overrides the matching field. Only the handful of
// operationally-sensitive fields are overridable; the rest require a
// config file change and restart.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv(envPrefix + "_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}
	if v := os.Getenv(envPrefix + "_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(envPrefix + "_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv(envPrefix + "_KRX_FEED_URL"); v != "" {
		cfg.KRXFeedURL = v
	}
	if v := os.Getenv(envPrefix + "_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(envPrefix + "_RISK_MAX_TOTAL_LOSS_PCT"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Risk.MaxTotalLossPct = d
		}
	}
	if v := os.Getenv(envPrefix + "_CAPITAL"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Capital = d
		}
	}
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if !c.Capital.IsPositive() {
		return fmt.Errorf("capital must be positive, got %s", c.Capital)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.MaxTotalLossPct.LessThanOrEqual(decimal.Zero) || c.Risk.MaxTotalLossPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("risk.max_total_loss_pct must be in (0, 100], got %s", c.Risk.MaxTotalLossPct)
	}
	if c.Sizing.MaxPositionSizePct.LessThanOrEqual(decimal.Zero) || c.Sizing.MaxPositionSizePct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("sizing.max_position_size_pct must be in (0, 100], got %s", c.Sizing.MaxPositionSizePct)
	}
	if c.Paths.AIOutputDir == "" {
		return fmt.Errorf("paths.ai_output_dir is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	if c.BrokerConfig == nil {
		return fmt.Errorf("broker_config is required for live trading")
	}
	if _, ok := c.BrokerConfig[c.ActiveBroker]; !ok {
		return fmt.Errorf("broker_config[%q] is required for live trading", c.ActiveBroker)
	}
	if c.Risk.MaxPositions > 20 {
		return fmt.Errorf("risk.max_positions cannot exceed 20 in live mode (got %d)", c.Risk.MaxPositions)
	}
	if c.Sizing.MaxPositionSizePct.GreaterThan(decimal.NewFromInt(15)) {
		return fmt.Errorf("sizing.max_position_size_pct cannot exceed 15%% in live mode (got %s%%)", c.Sizing.MaxPositionSizePct)
	}
	return nil
}
