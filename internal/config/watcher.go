// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when risk parameters change.
//
// Only risk configuration is reloadable. Broker config, database URL,
// trading mode, and other structural settings require a restart.
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when risk-related fields change. It uses stat-based polling (no external
// dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked when the config file changes and
// the new config passes validation. Multiple callbacks may be registered.
//
// Only risk config changes trigger callbacks. Changes to broker config,
// database URL, or trading mode are ignored (they require a restart).
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[config-watcher] watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[config-watcher] stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ────────────────────────────────────────────────────────────────────
// Internal
// ────────────────────────────────────────────────────────────────────

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] stat error: %v", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return // file hasn't changed
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] read error: %v", err)
		return
	}

	newCfg := Default()
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Printf("[config-watcher] parse error (keeping old config): %v", err)
		return
	}

	if err := newCfg.Validate(); err != nil {
		w.logger.Printf("[config-watcher] validation error (keeping old config): %v", err)
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !riskConfigChanged(oldCfg.Risk, newCfg.Risk) {
		w.logger.Printf("[config-watcher] file changed but risk config unchanged, skipping")
		return
	}

	w.logRiskChanges(oldCfg.Risk, newCfg.Risk)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// riskConfigChanged returns true if any risk-related field changed.
func riskConfigChanged(old, new RiskConfig) bool {
	if !old.MinDataQualityScore.Equal(new.MinDataQualityScore) {
		return true
	}
	if old.MaxPositions != new.MaxPositions {
		return true
	}
	if !old.MaxConcentrationPct.Equal(new.MaxConcentrationPct) {
		return true
	}
	if !old.MaxSectorConcentrationPct.Equal(new.MaxSectorConcentrationPct) {
		return true
	}
	if !old.MaxTotalLossPct.Equal(new.MaxTotalLossPct) {
		return true
	}
	if !old.WarningThresholdPct.Equal(new.WarningThresholdPct) {
		return true
	}
	if old.CheckInterval != new.CheckInterval {
		return true
	}
	if old.RequireRecentDataHours != new.RequireRecentDataHours {
		return true
	}
	return false
}

func (w *ConfigWatcher) logRiskChanges(old, new RiskConfig) {
	if old.MaxPositions != new.MaxPositions {
		w.logger.Printf("[config-watcher] risk.max_positions: %d -> %d", old.MaxPositions, new.MaxPositions)
	}
	if !old.MaxConcentrationPct.Equal(new.MaxConcentrationPct) {
		w.logger.Printf("[config-watcher] risk.max_concentration_pct: %s -> %s", old.MaxConcentrationPct, new.MaxConcentrationPct)
	}
	if !old.MaxSectorConcentrationPct.Equal(new.MaxSectorConcentrationPct) {
		w.logger.Printf("[config-watcher] risk.max_sector_concentration_pct: %s -> %s", old.MaxSectorConcentrationPct, new.MaxSectorConcentrationPct)
	}
	if !old.MaxTotalLossPct.Equal(new.MaxTotalLossPct) {
		w.logger.Printf("[config-watcher] risk.max_total_loss_pct: %s -> %s", old.MaxTotalLossPct, new.MaxTotalLossPct)
	}
	if !old.WarningThresholdPct.Equal(new.WarningThresholdPct) {
		w.logger.Printf("[config-watcher] risk.warning_threshold_pct: %s -> %s", old.WarningThresholdPct, new.WarningThresholdPct)
	}
	if old.CheckInterval != new.CheckInterval {
		w.logger.Printf("[config-watcher] risk.check_interval: %s -> %s", old.CheckInterval.Duration(), new.CheckInterval.Duration())
	}
	if old.RequireRecentDataHours != new.RequireRecentDataHours {
		w.logger.Printf("[config-watcher] risk.require_recent_data_hours: %d -> %d", old.RequireRecentDataHours, new.RequireRecentDataHours)
	}
}
