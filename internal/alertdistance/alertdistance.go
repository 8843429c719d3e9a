// Package alertdistance implements the Alert Distance Config (SPEC_FULL.md
// C5): per-asset-class and per-symbol approach thresholds in pips, dollars
// or percent, with override > default > fallback resolution and an atomic
// on-disk migration path. Grounded on
// original_source/price_feeds/alert_config.py.
package alertdistance

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/symbol"
)

// DistanceType selects how Value is interpreted.
type DistanceType string

const (
	TypePips       DistanceType = "pips"
	TypeDollars    DistanceType = "dollars"
	TypePercentage DistanceType = "percentage"
)

// Entry is one distance setting, shared shape for defaults and overrides.
type Entry struct {
	Type        DistanceType    `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
	SetBy       string          `json:"set_by,omitempty"`
	SetAt       *time.Time      `json:"set_at,omitempty"`
}

// fileFormat is the on-disk shape of alert_distances.json.
type fileFormat struct {
	Defaults  map[string]Entry `json:"defaults"`
	Overrides map[string]Entry `json:"overrides"`
}

// legacyFileFormat is a flat symbol->value mapping from before the
// type/value/description schema existed; migrated on first load.
type legacyFileFormat map[string]float64

var hardcodedFallback = Entry{Type: TypePips, Value: decimal.NewFromInt(10)}

var defaultsByClass = map[string]Entry{
	"forex":     {Type: TypePips, Value: decimal.NewFromInt(10), Description: "default forex approach distance"},
	"forex_jpy": {Type: TypePips, Value: decimal.NewFromInt(10), Description: "default JPY-pair approach distance"},
	"metals":    {Type: TypeDollars, Value: decimal.NewFromFloat(2.0), Description: "default metals approach distance"},
	"indices":   {Type: TypeDollars, Value: decimal.NewFromInt(5), Description: "default indices approach distance"},
	"stocks":    {Type: TypePercentage, Value: decimal.NewFromFloat(0.2), Description: "default stocks approach distance"},
	"crypto":    {Type: TypePercentage, Value: decimal.NewFromFloat(0.3), Description: "default crypto approach distance"},
	"oil":       {Type: TypeDollars, Value: decimal.NewFromFloat(0.5), Description: "default oil approach distance"},
}

// Config is the loaded, reloadable Alert Distance configuration. Read
// access is protected by a mutex so a reload (pointer swap of the
// underlying snapshot) never races a concurrent lookup.
type Config struct {
	path string
	mu   sync.RWMutex
	data fileFormat
}

// Load reads path, migrating a legacy schema in place if found, and returns
// a ready Config. A missing or corrupt file falls back to built-in defaults
// (errs.ErrConfig handling per SPEC_FULL.md §6.1).
func Load(path string) *Config {
	c := &Config{path: path}
	c.reloadLocked()
	return c
}

func (c *Config) reloadLocked() {
	var ff fileFormat
	if err := config.LoadJSON(c.path, &ff); err == nil && ff.Defaults != nil {
		c.data = ff
		return
	}

	// Try the legacy flat schema before giving up to built-ins.
	var legacy legacyFileFormat
	if err := config.LoadJSON(c.path, &legacy); err == nil && len(legacy) > 0 {
		migrated := fileFormat{
			Defaults:  cloneDefaults(),
			Overrides: map[string]Entry{},
		}
		for sym, v := range legacy {
			migrated.Overrides[sym] = Entry{Type: TypePips, Value: decimal.NewFromFloat(v), Description: "migrated from legacy config"}
		}
		_ = config.SaveJSONAtomic(c.path, migrated)
		c.data = migrated
		return
	}

	c.data = fileFormat{Defaults: cloneDefaults(), Overrides: map[string]Entry{}}
}

func cloneDefaults() map[string]Entry {
	out := make(map[string]Entry, len(defaultsByClass))
	for k, v := range defaultsByClass {
		out[k] = v
	}
	return out
}

// Reload re-reads the config file from disk, replacing the in-memory
// snapshot wholesale (spec.md §9: "hot-reload swaps the pointer").
func (c *Config) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadLocked()
}

// resolve returns the effective Entry for sym: override, else asset-class
// default, else hardcoded fallback (spec.md §4.5 resolution order).
func (c *Config) resolve(sym string) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.data.Overrides[sym]; ok {
		return e
	}
	class := symbol.AssetClass(sym).String()
	if e, ok := c.data.Defaults[class]; ok {
		return e
	}
	return hardcodedFallback
}

// Distance returns the effective approach distance in price units for sym
// at currentPrice, per spec.md §4.5's three unit conversions.
func (c *Config) Distance(sym string, currentPrice decimal.Decimal) decimal.Decimal {
	e := c.resolve(sym)
	switch e.Type {
	case TypePips:
		return e.Value.Mul(symbol.PipSize(sym))
	case TypeDollars:
		return e.Value
	case TypePercentage:
		return e.Value.Div(decimal.NewFromInt(100)).Mul(currentPrice)
	default:
		return e.Value
	}
}

// SetOverride records a per-symbol override, stamping set_by/set_at, and
// persists the change atomically.
func (c *Config) SetOverride(sym string, entry Entry, setBy string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.SetBy = setBy
	entry.SetAt = &now
	if c.data.Overrides == nil {
		c.data.Overrides = map[string]Entry{}
	}
	c.data.Overrides[sym] = entry
	return config.SaveJSONAtomic(c.path, c.data)
}

// RemoveOverride deletes a per-symbol override and persists the change.
func (c *Config) RemoveOverride(sym string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data.Overrides, sym)
	return config.SaveJSONAtomic(c.path, c.data)
}

// Overrides returns a snapshot copy of all current overrides, for the
// show-alert-distances control command.
func (c *Config) Overrides() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.data.Overrides))
	for k, v := range c.data.Overrides {
		out[k] = v
	}
	return out
}
