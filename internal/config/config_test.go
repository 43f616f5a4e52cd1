package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const baseConfigJSON = `{
	"active_broker": "krxapi",
	"trading_mode": "paper",
	"capital": 500000000,
	"risk": {
		"max_positions": 20,
		"max_concentration_pct": 30,
		"max_sector_concentration_pct": 40,
		"max_total_loss_pct": 28
	},
	"sizing": {
		"max_position_size_pct": 10
	},
	"paths": {
		"ai_output_dir": "./ai_outputs",
		"market_data_dir": "./market_data",
		"log_dir": "./logs"
	},
	"broker_config": {},
	"database_url": "postgres://localhost/test",
	"market_calendar_path": "./holidays.json"
}`

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, baseConfigJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ActiveBroker != "krxapi" {
		t.Errorf("expected krxapi, got %s", cfg.ActiveBroker)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper, got %s", cfg.TradingMode)
	}
	if !cfg.Capital.Equal(decimal.NewFromInt(500_000_000)) {
		t.Errorf("expected 500000000, got %s", cfg.Capital)
	}
	// Fields the file omits keep Default()'s values.
	if cfg.Scheduler.SignalGenerationCron != "45 8 * * MON-FRI" {
		t.Errorf("expected default signal generation cron, got %s", cfg.Scheduler.SignalGenerationCron)
	}
}

func TestConfig_RejectsInvalidMode(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(baseConfigJSON, `"trading_mode": "paper"`, `"trading_mode": "invalid"`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid trading mode")
	}
}

func TestConfig_RejectsZeroCapital(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(baseConfigJSON, `"capital": 500000000`, `"capital": 0`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for zero capital")
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(baseConfigJSON,
		`"broker_config": {}`,
		`"broker_config": {"krxapi": {"api_key": "test", "secret": "test"}}`, 1))

	os.Setenv("KRXTRADER_TRADING_MODE", "live")
	defer os.Unsetenv("KRXTRADER_TRADING_MODE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected env override to live, got %s", cfg.TradingMode)
	}
}

func TestConfig_EnvOverrideMaxTotalLoss(t *testing.T) {
	path := writeTestConfig(t, baseConfigJSON)

	os.Setenv("KRXTRADER_RISK_MAX_TOTAL_LOSS_PCT", "25")
	defer os.Unsetenv("KRXTRADER_RISK_MAX_TOTAL_LOSS_PCT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Risk.MaxTotalLossPct.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected env override to 25, got %s", cfg.Risk.MaxTotalLossPct)
	}
}

// ────────────────────────────────────────────────────────────────────
// Live mode validation tests
// ────────────────────────────────────────────────────────────────────

func validLiveConfig() Config {
	cfg := Default()
	cfg.ActiveBroker = "krxapi"
	cfg.TradingMode = ModeLive
	cfg.Capital = decimal.NewFromInt(500_000_000)
	cfg.Risk.MaxPositions = 10
	cfg.Sizing.MaxPositionSizePct = decimal.NewFromInt(10)
	cfg.Paths = PathsConfig{AIOutputDir: "./ai_outputs"}
	cfg.BrokerConfig = map[string]json.RawMessage{
		"krxapi": json.RawMessage(`{"api_key":"test","secret":"test"}`),
	}
	cfg.DatabaseURL = "postgres://localhost/test"
	return cfg
}

func TestLiveMode_RequiresBrokerConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when broker_config is nil in live mode")
	}
	if !strings.Contains(err.Error(), "broker_config") {
		t.Errorf("error should mention broker_config, got: %v", err)
	}
}

func TestLiveMode_RequiresActiveBrokerInConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = map[string]json.RawMessage{
		"other_broker": json.RawMessage(`{}`),
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when active broker not in broker_config")
	}
	if !strings.Contains(err.Error(), "krxapi") {
		t.Errorf("error should mention active broker name, got: %v", err)
	}
}

func TestLiveMode_MaxPositionsCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxPositions = 21 // Exceeds live mode cap of 20

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_positions > 20 in live mode")
	}
	if !strings.Contains(err.Error(), "max_positions") {
		t.Errorf("error should mention max_positions, got: %v", err)
	}
}

func TestLiveMode_MaxPositionSizeCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Sizing.MaxPositionSizePct = decimal.NewFromInt(20) // Exceeds live mode cap of 15%

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_position_size_pct > 15 in live mode")
	}
	if !strings.Contains(err.Error(), "max_position_size_pct") {
		t.Errorf("error should mention max_position_size_pct, got: %v", err)
	}
}

func TestLiveMode_RequiresDatabaseURL(t *testing.T) {
	cfg := validLiveConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when database_url is empty")
	}
	if !strings.Contains(err.Error(), "database_url") {
		t.Errorf("error should mention database_url, got: %v", err)
	}
}

func TestLiveMode_ValidConfigPasses(t *testing.T) {
	cfg := validLiveConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid live config should pass validation, got: %v", err)
	}
}

func TestPaperMode_SkipsLiveChecks(t *testing.T) {
	cfg := Default()
	cfg.ActiveBroker = "krxapi"
	cfg.TradingMode = ModePaper
	cfg.Capital = decimal.NewFromInt(500_000_000)
	cfg.Risk.MaxPositions = 50               // Would fail live mode, but fine for paper
	cfg.Sizing.MaxPositionSizePct = decimal.NewFromInt(50) // Would fail live mode, but fine for paper
	cfg.Paths = PathsConfig{AIOutputDir: "./ai_outputs"}
	cfg.DatabaseURL = "postgres://localhost/test"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("paper mode should not enforce live mode caps, got: %v", err)
	}
}
