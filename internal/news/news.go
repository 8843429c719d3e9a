// Package news implements the News Manager (SPEC_FULL.md C7): an ordered
// collection of non-expired NewsEvents, category→instrument matching, and
// JSON persistence on every mutation. Grounded on
// original_source/core/news_manager.py.
package news

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/symbol"
)

const categoryAll = "ALL"

var namedBuckets = map[string][]string{
	"GOLD": {"XAUUSD"},
	"OIL":  {"USOIL", "UKOIL", "WTI", "BRENT"},
	"BTC":  {"BTCUSDT"},
	"ETH":  {"ETHUSDT"},
}

var metalPrefixes = []string{"XAU", "XAG", "XPT", "XPD", "BCO", "WTI"}

type fileFormat struct {
	NextID int64              `json:"next_id"`
	Events []model.NewsEvent `json:"events"`
}

// Manager is the live set of news events plus a monotonic id counter.
type Manager struct {
	path  string
	clock clock.Clock

	mu     sync.Mutex
	nextID int64
	events []model.NewsEvent
}

// Load reads path (discarding any already-expired events per spec.md §4.9)
// and returns a ready Manager.
func Load(path string, c clock.Clock) *Manager {
	m := &Manager{path: path, clock: c, nextID: 1}

	var ff fileFormat
	if err := config.LoadJSON(path, &ff); err == nil {
		now := c.Now()
		for _, e := range ff.Events {
			if !now.After(e.End()) {
				m.events = append(m.events, e)
			}
		}
		if ff.NextID > m.nextID {
			m.nextID = ff.NextID
		}
	}
	return m
}

func (m *Manager) persistLocked() error {
	ff := fileFormat{NextID: m.nextID, Events: m.events}
	return config.SaveJSONAtomic(m.path, ff)
}

// Add creates a new NewsEvent and persists it.
func (m *Manager) Add(category string, newsTime time.Time, windowMinutes int, createdBy string) (model.NewsEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := model.NewsEvent{
		EventID:       m.nextID,
		Category:      strings.ToUpper(category),
		NewsTime:      newsTime,
		WindowMinutes: windowMinutes,
		CreatedBy:     createdBy,
		CreatedAt:     m.clock.Now(),
	}
	m.nextID++
	m.events = append(m.events, e)
	sort.Slice(m.events, func(i, j int) bool { return m.events[i].NewsTime.Before(m.events[j].NewsTime) })

	if err := m.persistLocked(); err != nil {
		return model.NewsEvent{}, err
	}
	return e, nil
}

// Remove deletes an event by id and persists the change. Returns false if
// no such event exists.
func (m *Manager) Remove(eventID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.events {
		if e.EventID == eventID {
			m.events = append(m.events[:i], m.events[i+1:]...)
			_ = m.persistLocked()
			return true
		}
	}
	return false
}

// All returns a snapshot copy of every currently-held event.
func (m *Manager) All() []model.NewsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.NewsEvent, len(m.events))
	copy(out, m.events)
	return out
}

// ActiveFor returns the first event active at now whose category matches
// sym, or (zero, false) if none does (spec.md §4.9).
func (m *Manager) ActiveFor(sym string, now time.Time) (model.NewsEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.Active(now) && categoryMatches(e.Category, sym) {
			return e, true
		}
	}
	return model.NewsEvent{}, false
}

// Purge drops expired events and returns how many were removed. No
// background worker in this repository calls it.
func (m *Manager) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	removed := 0
	for _, e := range m.events {
		if now.After(e.End()) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	if removed > 0 {
		_ = m.persistLocked()
	}
	return removed
}

// PendingActivations returns events whose window has just opened: their
// start (news_time minus window) lies in (now-pollInterval, now]. The
// manager keeps no record of which events were already reported, and no
// background worker in this repository calls it.
func (m *Manager) PendingActivations(now time.Time, pollInterval time.Duration) []model.NewsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.NewsEvent
	for _, e := range m.events {
		start := e.Start()
		if !start.After(now) && start.After(now.Add(-pollInterval)) {
			out = append(out, e)
		}
	}
	return out
}

func categoryMatches(category, sym string) bool {
	if category == categoryAll {
		return true
	}
	if category == "CRYPTO" {
		return symbol.AssetClass(sym).String() == "crypto"
	}
	if bucket, ok := namedBuckets[category]; ok {
		for _, s := range bucket {
			if strings.EqualFold(s, sym) {
				return true
			}
		}
		return false
	}
	// Currency code: matches a 6-letter forex pair containing it on
	// either side, excluding metal-prefixed symbols.
	up := strings.ToUpper(sym)
	if len(up) != 6 {
		return false
	}
	for _, p := range metalPrefixes {
		if strings.HasPrefix(up, p) {
			return false
		}
	}
	return up[:3] == category || up[3:] == category
}
