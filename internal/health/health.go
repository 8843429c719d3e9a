// Package health implements the Feed Health Monitor (SPEC_FULL.md C4):
// per-feed-symbol staleness classification against a market-hours
// calendar, reconnect triggers and throttled admin notifications. Grounded
// on original_source/price_feeds/feed_health_monitor.py.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/symbol"
)

// Status is a feed's classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Reconnector is the subset of a Stream Manager the monitor needs to
// trigger a reconnect without depending on the full stream package (avoids
// an import cycle, since Stream Manager also reports into this monitor).
type Reconnector interface {
	ReconnectFeed(feed symbol.Feed) error
}

type feedStats struct {
	lastSeen        map[string]time.Time // feed-symbol -> last update
	status          Status
	reconnectCount  int
	lastAlertAt     time.Time
	failedAttempts  int
}

// Monitor tracks liveness per feed-symbol and classifies each feed.
type Monitor struct {
	cfg         config.HealthConfig
	clock       clock.Clock
	sink        alertsink.AlertSink
	reconnector Reconnector
	log         *obslog.Logger
	startedAt   time.Time

	mu    sync.Mutex
	feeds map[symbol.Feed]*feedStats
}

func New(cfg config.HealthConfig, c clock.Clock, sink alertsink.AlertSink, r Reconnector) *Monitor {
	return &Monitor{
		cfg:         cfg,
		clock:       c,
		sink:        sink,
		reconnector: r,
		log:         obslog.New("health"),
		startedAt:   c.Now(),
		feeds:       make(map[symbol.Feed]*feedStats),
	}
}

func (m *Monitor) ensure(feed symbol.Feed) *feedStats {
	fs, ok := m.feeds[feed]
	if !ok {
		fs = &feedStats{lastSeen: make(map[string]time.Time), status: StatusHealthy}
		m.feeds[feed] = fs
	}
	return fs
}

// Observe records a tick's arrival for health-tracking purposes. Called by
// the Stream Manager on every ingested update.
func (m *Monitor) Observe(feed symbol.Feed, feedSymbol string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs := m.ensure(feed)
	fs.lastSeen[feedSymbol] = at
}

// inGracePeriod reports whether the startup grace period is still active,
// during which classification is suppressed entirely (spec.md §4.4).
func (m *Monitor) inGracePeriod(now time.Time) bool {
	return now.Sub(m.startedAt) < time.Duration(m.cfg.StartupGracePeriodSeconds)*time.Second
}

// Check runs one classification pass over every tracked feed. Intended to
// be called every check_interval_seconds by a periodic worker.
func (m *Monitor) Check() {
	now := m.clock.Now()
	if m.inGracePeriod(now) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staleThreshold := time.Duration(m.cfg.StaleThresholdSeconds) * time.Second

	for feed, fs := range m.feeds {
		total, stale := 0, 0
		for feedSymbol, last := range fs.lastSeen {
			class := symbol.AssetClass(feedSymbol).String()
			if !MarketOpen(class, now, m.cfg.MarketHours) {
				continue
			}
			total++
			if now.Sub(last) > staleThreshold {
				stale++
			}
		}

		var next Status
		switch {
		case total == 0 || stale == 0:
			next = StatusHealthy
		case stale*2 < total:
			next = StatusDegraded
		default:
			next = StatusDown
		}

		prev := fs.status
		fs.status = next

		if next == StatusHealthy && prev != StatusHealthy {
			fs.failedAttempts = 0
			m.log.Printf("feed %s recovered to healthy", feed)
		}

		if next == StatusDown {
			m.handleDown(feed, fs, now)
		}
	}
}

func (m *Monitor) handleDown(feed symbol.Feed, fs *feedStats, now time.Time) {
	if fs.failedAttempts < m.cfg.MaxReconnectAttempts {
		fs.failedAttempts++
		fs.reconnectCount++
		if m.reconnector != nil {
			if err := m.reconnector.ReconnectFeed(feed); err != nil {
				m.log.Printf("reconnect of %s failed: %v", feed, err)
			}
		}
		return
	}

	cooldown := time.Duration(m.cfg.AlertCooldownMinutes) * time.Minute
	if now.Sub(fs.lastAlertAt) < cooldown {
		return
	}
	fs.lastAlertAt = now
	if m.sink != nil {
		m.sink.AdminNotification(alertsink.AdminNotification{
			Message: fmt.Sprintf("feed %s is down after %d reconnect attempts", feed, fs.failedAttempts),
			At:      now,
		})
	}
}

// Stats returns a snapshot of per-feed reconnect counters and status, for
// the control-plane reconnect/health command (SPEC_FULL.md §9 supplement).
func (m *Monitor) Stats() map[symbol.Feed]struct {
	Status         Status
	ReconnectCount int
} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[symbol.Feed]struct {
		Status         Status
		ReconnectCount int
	}, len(m.feeds))
	for feed, fs := range m.feeds {
		out[feed] = struct {
			Status         Status
			ReconnectCount int
		}{Status: fs.status, ReconnectCount: fs.reconnectCount}
	}
	return out
}

// ServeHTTP reports process liveness plus the current per-feed
// classification, generalized from the teacher's SimpleHealthCheck (a bare
// 200-OK liveness probe) into a real status payload for the engine's
// feeds.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"time":   m.clock.Now().Format(time.RFC3339),
		"feeds":  m.Stats(),
	})
}

// MarketOpen reports whether the market for class is open at now,
// evaluated in America/New_York wall-clock time per spec.md §4.4/§9.
// Crypto is always open; stocks follow a Mon-Fri session excluding
// holidays; forex/metals/indices run Sun 18:00 -> Fri 17:00 with the daily
// spread hour still counted as "open" for liveness purposes.
func MarketOpen(class string, now time.Time, cfg config.MarketHoursConfig) bool {
	if class == "crypto" || class == "" {
		return true
	}
	ny := now.In(clock.NewYork)

	if class == "stocks" {
		if ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
			return false
		}
		for _, h := range cfg.Holidays {
			if h == ny.Format("2006-01-02") {
				return false
			}
		}
		open := parseClock(cfg.StockOpen, ny, 9, 30)
		closeT := parseClock(cfg.StockClose, ny, 17, 0)
		return !ny.Before(open) && !ny.After(closeT)
	}

	// forex/metals/indices: Sun 18:00 -> Fri 17:00 America/New_York.
	switch ny.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		open := time.Date(ny.Year(), ny.Month(), ny.Day(), 18, 0, 0, 0, clock.NewYork)
		return !ny.Before(open)
	case time.Friday:
		closeT := time.Date(ny.Year(), ny.Month(), ny.Day(), 17, 0, 0, 0, clock.NewYork)
		return ny.Before(closeT)
	default:
		return true
	}
}

// IsSpreadHour reports whether now falls within the configured daily
// spread-hour window (default 17:00-18:00 America/New_York, weekdays),
// used by the Signal Tracker's hit pipeline (spec.md §4.6.3b).
func IsSpreadHour(now time.Time, cfg config.MarketHoursConfig) bool {
	ny := now.In(clock.NewYork)
	if ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
		return false
	}
	start := parseClock(cfg.SpreadHourStart, ny, 17, 0)
	end := parseClock(cfg.SpreadHourEnd, ny, 18, 0)
	return !ny.Before(start) && ny.Before(end)
}

func parseClock(hhmm string, ref time.Time, defHour, defMin int) time.Time {
	h, m := defHour, defMin
	if len(hhmm) == 5 && hhmm[2] == ':' {
		var hh, mm int
		if _, err := fmt.Sscanf(hhmm, "%2d:%2d", &hh, &mm); err == nil {
			h, m = hh, mm
		}
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, clock.NewYork)
}
