// Package takeprofit implements the Take-Profit Config & Evaluator
// (SPEC_FULL.md C6): per-asset-class/per-symbol auto-TP thresholds (with a
// separate scalp table), a per-signal cache of hit limits, and the trigger
// evaluation of spec.md §4.7. Grounded on
// original_source/price_feeds/tp_config.py and tp_monitor.py.
package takeprofit

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/symbol"
)

// epsilon tolerates float/decimal rounding noise in the pnl(last) >=
// threshold comparison (spec.md §4.7).
var epsilon = decimal.NewFromFloat(0.0001)

type fileFormat struct {
	Defaults       map[string]decimal.Decimal `json:"defaults"`
	ScalpDefaults  map[string]decimal.Decimal `json:"scalp_defaults"`
	Overrides      map[string]decimal.Decimal `json:"overrides"`
	ScalpOverrides map[string]decimal.Decimal `json:"scalp_overrides"`
	// UsePriceLevelForEarlier implements the SPEC_FULL.md §10 open-question
	// decision: when true, earlier-limit PnL is computed against
	// price_level instead of hit_price.
	UsePriceLevelForEarlier bool `json:"use_price_level_for_earlier"`
}

var defaultThresholds = map[string]decimal.Decimal{
	"forex":     decimal.NewFromInt(20),
	"forex_jpy": decimal.NewFromInt(20),
	"metals":    decimal.NewFromInt(5),
	"indices":   decimal.NewFromInt(10),
	"stocks":    decimal.NewFromFloat(1),
	"crypto":    decimal.NewFromFloat(1.5),
	"oil":       decimal.NewFromFloat(0.5),
}

var scalpThresholds = map[string]decimal.Decimal{
	"forex":     decimal.NewFromInt(8),
	"forex_jpy": decimal.NewFromInt(8),
	"metals":    decimal.NewFromFloat(2),
	"indices":   decimal.NewFromInt(4),
	"stocks":    decimal.NewFromFloat(0.4),
	"crypto":    decimal.NewFromFloat(0.6),
	"oil":       decimal.NewFromFloat(0.2),
}

// Config resolves the effective TP threshold for a symbol, honoring the
// scalp flag.
type Config struct {
	path string
	mu   sync.RWMutex
	data fileFormat
}

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
	c.data = fileFormat{
		Defaults:       cloneMap(defaultThresholds),
		ScalpDefaults:  cloneMap(scalpThresholds),
		Overrides:      map[string]decimal.Decimal{},
		ScalpOverrides: map[string]decimal.Decimal{},
	}
}

func cloneMap(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (c *Config) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadLocked()
}

// Threshold returns the PnL threshold (in native units: pips for forex,
// dollars otherwise) that triggers auto-TP for sym, given scalp.
func (c *Config) Threshold(sym string, scalp bool) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	class := symbol.AssetClass(sym).String()
	if scalp {
		if v, ok := c.data.ScalpOverrides[sym]; ok {
			return v
		}
		if v, ok := c.data.ScalpDefaults[class]; ok {
			return v
		}
	}
	if v, ok := c.data.Overrides[sym]; ok {
		return v
	}
	if v, ok := c.data.Defaults[class]; ok {
		return v
	}
	return decimal.NewFromInt(10)
}

func (c *Config) useLevelForEarlier() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.UsePriceLevelForEarlier
}

func (c *Config) SetOverride(sym string, value decimal.Decimal, scalp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scalp {
		c.data.ScalpOverrides[sym] = value
	} else {
		c.data.Overrides[sym] = value
	}
	return config.SaveJSONAtomic(c.path, c.data)
}

func (c *Config) RemoveOverride(sym string, scalp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scalp {
		delete(c.data.ScalpOverrides, sym)
	} else {
		delete(c.data.Overrides, sym)
	}
	return config.SaveJSONAtomic(c.path, c.data)
}

// hitEntry is one cached hit limit, keyed to a signal for TP evaluation.
type hitEntry struct {
	SequenceNumber int
	PriceLevel     decimal.Decimal
	HitPrice       decimal.Decimal
}

// Evaluator holds the per-signal hit-limit cache and evaluates the auto-TP
// condition on every tick (spec.md §4.7).
type Evaluator struct {
	cfg *Config

	mu    sync.Mutex
	cache map[int64][]hitEntry // signal_id -> hit limits, in sequence order
}

func NewEvaluator(cfg *Config) *Evaluator {
	return &Evaluator{cfg: cfg, cache: make(map[int64][]hitEntry)}
}

// Refresh replaces the cached hit-limit list for a signal, called by the
// Signal Tracker after each persisted limit hit (spec.md §4.7 cache
// lifecycle).
func (e *Evaluator) Refresh(signalID int64, hits []model.Limit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := make([]hitEntry, 0, len(hits))
	for _, l := range hits {
		if l.HitPrice == nil {
			continue
		}
		entries = append(entries, hitEntry{
			SequenceNumber: l.SequenceNumber,
			PriceLevel:     l.PriceLevel,
			HitPrice:       *l.HitPrice,
		})
	}
	e.cache[signalID] = entries
}

// Evict removes a signal's cache entry, called when it terminates.
func (e *Evaluator) Evict(signalID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, signalID)
}

// Tracked reports whether signalID currently has a non-empty hit-limit cache.
func (e *Evaluator) Tracked(signalID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache[signalID]) > 0
}

func pnl(entryPrice, closePrice decimal.Decimal, dir model.Direction, pipSize decimal.Decimal, usePips bool) decimal.Decimal {
	diff := closePrice.Sub(entryPrice)
	if dir == model.Short {
		diff = diff.Neg()
	}
	if usePips {
		return diff.Div(pipSize)
	}
	return diff
}

// Evaluate runs the trigger check for signalID against closePrice. Returns
// (triggered, lastPnL, earlierPnLSum). A signal with fewer than one hit
// limit in the cache never triggers.
func (e *Evaluator) Evaluate(signalID int64, sym string, dir model.Direction, scalp bool, closePrice decimal.Decimal) (triggered bool, lastPnL decimal.Decimal, earlierSum decimal.Decimal) {
	e.mu.Lock()
	entries := append([]hitEntry(nil), e.cache[signalID]...)
	e.mu.Unlock()

	if len(entries) == 0 {
		return false, decimal.Zero, decimal.Zero
	}

	class := symbol.AssetClass(sym).String()
	usePips := class == "forex" || class == "forex_jpy"
	pip := symbol.PipSize(sym)
	useLevel := e.cfg.useLevelForEarlier()

	last := entries[len(entries)-1]
	lastPnL = pnl(last.HitPrice, closePrice, dir, pip, usePips)

	earlierSum = decimal.Zero
	for _, en := range entries[:len(entries)-1] {
		basis := en.HitPrice
		if useLevel {
			basis = en.PriceLevel
		}
		earlierSum = earlierSum.Add(pnl(basis, closePrice, dir, pip, usePips))
	}

	threshold := e.cfg.Threshold(sym, scalp)
	triggered = lastPnL.Add(epsilon).GreaterThanOrEqual(threshold) && earlierSum.GreaterThanOrEqual(decimal.Zero)
	return triggered, lastPnL, earlierSum
}
