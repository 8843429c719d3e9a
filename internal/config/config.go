// Package config implements the ConfigStore contract from SPEC_FULL.md §6:
// JSON files under config/, loaded into immutable snapshots and swapped by
// pointer on reload (spec.md §5, §9 "Global singletons ... become
// dependencies injected into the core's constructor"). Grounded on the
// teacher's config/loader.go for the env-var half of configuration and on
// original_source/price_feeds/alert_config.py for the on-disk JSON half.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sentineldesk/tracker/internal/errs"
)

// Paths are project-root-relative, per spec.md §6.
const (
	SettingsPath        = "config/settings.json"
	ChannelsPath         = "config/channels.json"
	SymbolMappingsPath   = "config/symbol_mappings.json"
	AlertDistancesPath   = "config/alert_distances.json"
	TPConfigurationPath  = "config/tp_configuration.json"
	HealthConfigPath     = "config/health_config.json"
	NewsEventsPath       = "config/news_events.json"
)

// LoadEnv loads process secrets from .env, tolerating a missing file exactly
// as the teacher's config/loader.go and main.go do.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		// Not fatal: production deploys set real environment variables.
	}
}

// LoadJSON reads and unmarshals path into v. The named error kind is
// errs.ErrConfig; callers are expected to fall back to a default value
// rather than propagate this as fatal (SPEC_FULL.md §6.1).
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w: %w", path, errs.ErrConfig, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w: %w", path, errs.ErrConfig, err)
	}
	return nil
}

// SaveJSONAtomic writes v to path by writing to a temp file in the same
// directory and renaming over the target, so a crash mid-write never
// corrupts the existing config (spec.md §4.5: "rewrites the file atomically").
func SaveJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename into %s: %w", path, err)
	}
	return nil
}

// Settings mirrors spec.md §6's settings.json schema.
type Settings struct {
	SpreadBufferEnabled bool               `json:"spread_buffer_enabled"`
	SpreadBufferConfig  SpreadBufferConfig `json:"spread_buffer_config"`
	BotPrefix           string             `json:"bot_prefix"`
}

type SpreadBufferConfig struct {
	ApplyToApproaching bool    `json:"apply_to_approaching"`
	ApplyToHit         bool    `json:"apply_to_hit"`
	ApplyToStopLoss    bool    `json:"apply_to_stop_loss"` // not read: stop-loss checks never take a buffer
	FallbackSpread     float64 `json:"fallback_spread"`
	LogBufferUsage     bool    `json:"log_buffer_usage"`
}

// DefaultSettings matches the teacher's posture of safe, logged defaults.
func DefaultSettings() Settings {
	return Settings{
		SpreadBufferEnabled: false,
		SpreadBufferConfig: SpreadBufferConfig{
			ApplyToApproaching: false,
			ApplyToHit:         true,
			ApplyToStopLoss:    false,
			FallbackSpread:     0,
			LogBufferUsage:     true,
		},
		BotPrefix: "!",
	}
}

// LoadSettings loads settings.json, falling back to defaults on any error.
func LoadSettings(path string) Settings {
	var s Settings
	if err := LoadJSON(path, &s); err != nil {
		return DefaultSettings()
	}
	return s
}

// HealthConfig mirrors spec.md §6's health_config.json schema, consumed by
// the Feed Health Monitor (C4).
type HealthConfig struct {
	CheckIntervalSeconds      int                   `json:"check_interval_seconds"`
	StaleThresholdSeconds     int                   `json:"stale_threshold_seconds"`
	MaxReconnectAttempts      int                   `json:"max_reconnect_attempts"`
	ReconnectDelaySeconds     int                   `json:"reconnect_delay_seconds"`
	AlertCooldownMinutes      int                   `json:"alert_cooldown_minutes"`
	StartupGracePeriodSeconds int                   `json:"startup_grace_period_seconds"`
	MarketHours               MarketHoursConfig     `json:"market_hours"`
}

type MarketHoursConfig struct {
	SpreadHourStart string   `json:"spread_hour_start"` // "17:00"
	SpreadHourEnd   string   `json:"spread_hour_end"`   // "18:00"
	StockOpen       string   `json:"stock_open"`        // "09:30"
	StockClose      string   `json:"stock_close"`       // "17:00"
	Holidays        []string `json:"holidays"`          // "2025-12-25" style dates
}

// DefaultHealthConfig matches the numeric defaults spec.md §4.4 names.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckIntervalSeconds:      60,
		StaleThresholdSeconds:     300,
		MaxReconnectAttempts:      3,
		ReconnectDelaySeconds:     10,
		AlertCooldownMinutes:      15,
		StartupGracePeriodSeconds: 120,
		MarketHours: MarketHoursConfig{
			SpreadHourStart: "17:00",
			SpreadHourEnd:   "18:00",
			StockOpen:       "09:30",
			StockClose:      "17:00",
		},
	}
}

func LoadHealthConfig(path string) HealthConfig {
	var c HealthConfig
	if err := LoadJSON(path, &c); err != nil {
		return DefaultHealthConfig()
	}
	return c
}

// ChannelsConfig maps Discord/Slack-style channel IDs to routing metadata;
// the core only needs the routing key itself (spec.md §3's channel_id), so
// this is kept intentionally small — full channel administration is the
// chat front-end's concern (spec.md §1 Out of scope).
type ChannelsConfig struct {
	Channels map[string]ChannelEntry `json:"channels"`
}

type ChannelEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func LoadChannelsConfig(path string) ChannelsConfig {
	var c ChannelsConfig
	if err := LoadJSON(path, &c); err != nil {
		return ChannelsConfig{Channels: map[string]ChannelEntry{}}
	}
	return c
}

// SymbolMappingsConfig mirrors spec.md §6's symbol_mappings.json: per-feed
// specific_mappings/reverse_mappings overrides layered on top of the pure
// internal/symbol rules, plus the asset-class→feed priority table. The
// internal/symbol package hardcodes the common-case rules grounded on
// original_source/price_feeds/symbol_mapper.py; this config only needs to
// carry the *exceptions* an operator has added.
type SymbolMappingsConfig struct {
	SpecificMappings map[string]map[string]string `json:"specific_mappings"` // feed -> internal -> feed symbol
	ReverseMappings  map[string]map[string]string `json:"reverse_mappings"`  // feed -> feed symbol -> internal
	FeedPriority     map[string][]string          `json:"feed_priority"`     // asset_class -> ordered feeds
}

func LoadSymbolMappingsConfig(path string) SymbolMappingsConfig {
	var c SymbolMappingsConfig
	if err := LoadJSON(path, &c); err != nil {
		return SymbolMappingsConfig{
			SpecificMappings: map[string]map[string]string{},
			ReverseMappings:  map[string]map[string]string{},
			FeedPriority:     map[string][]string{},
		}
	}
	return c
}
