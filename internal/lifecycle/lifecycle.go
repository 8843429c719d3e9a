// Package lifecycle implements the Lifecycle & Expiry Manager
// (SPEC_FULL.md C9): the signal status transition table of spec.md §4.8,
// expiry-time computation in America/New_York wall-clock time, and the
// periodic expiry sweep. Grounded on
// original_source/core/signal_lifecycle.py for the transition table and
// expiry rules, expressed with the tracker's map-behind-mutex idiom.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/store"
)

// SweepInterval is how often the expiry sweep runs (spec.md §4.8, default 5m).
const SweepInterval = 5 * time.Minute

// transitions is the state machine transition table of spec.md §4.8: a
// transition not present here is rejected.
var transitions = map[model.SignalStatus]map[model.SignalStatus]bool{
	model.StatusActive: {
		model.StatusActive:     true, // limit hit, still tracking
		model.StatusHit:        true,
		model.StatusProfit:     true,
		model.StatusBreakeven:  true,
		model.StatusStopLoss:   true,
		model.StatusCancelled:  true,
	},
	model.StatusHit: {
		model.StatusProfit:    true,
		model.StatusBreakeven: true,
		model.StatusStopLoss:  true,
		model.StatusCancelled: true,
	},
}

// Allowed reports whether from->to is a legal transition (spec.md §4.8).
// A manual override bypasses the table entirely (operators may force any
// status), matching spec.md's "manual override bypasses transition
// validation, with an audited reason".
func Allowed(from, to model.SignalStatus, change model.ChangeType) bool {
	if change == model.ChangeManual {
		return true
	}
	if from == to {
		return true
	}
	return transitions[from][to]
}

// Tracker is the subset of tracker.Tracker the lifecycle manager needs to
// keep the in-memory working set consistent with the store.
type Tracker interface {
	Untrack(signalID int64)
}

// Manager runs the expiry sweep and computes expiry times for new signals.
type Manager struct {
	store   store.SignalStore
	tracker Tracker
	clock   clock.Clock
	log     *obslog.Logger
}

func New(s store.SignalStore, t Tracker, c clock.Clock) *Manager {
	return &Manager{store: s, tracker: t, clock: c, log: obslog.New("lifecycle")}
}

// ExpiryFor computes the absolute expiry instant for a new signal, per
// spec.md §4.8: day/week/month end are all evaluated in America/New_York
// wall-clock time; custom carries its own instant; none never expires.
func ExpiryFor(now time.Time, kind model.ExpiryType, custom *time.Time) *time.Time {
	ny := now.In(clock.NewYork)

	switch kind {
	case model.ExpiryNone:
		return nil
	case model.ExpiryCustom:
		return custom
	case model.ExpiryDayEnd:
		t := time.Date(ny.Year(), ny.Month(), ny.Day(), 23, 59, 59, 0, clock.NewYork)
		return &t
	case model.ExpiryWeekEnd:
		daysUntilSunday := (7 - int(ny.Weekday())) % 7
		d := ny.AddDate(0, 0, daysUntilSunday)
		t := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, clock.NewYork)
		return &t
	case model.ExpiryMonthEnd:
		firstOfNextMonth := time.Date(ny.Year(), ny.Month(), 1, 0, 0, 0, 0, clock.NewYork).AddDate(0, 1, 0)
		lastOfMonth := firstOfNextMonth.Add(-24 * time.Hour)
		t := time.Date(lastOfMonth.Year(), lastOfMonth.Month(), lastOfMonth.Day(), 23, 59, 59, 0, clock.NewYork)
		return &t
	default:
		return nil
	}
}

// ForceTransition applies an operator-issued status override, bypassing
// the automatic transition table but always writing an audited status
// change row (spec.md §4.8).
func (m *Manager) ForceTransition(ctx context.Context, signalID int64, newStatus model.SignalStatus, reason string) error {
	now := m.clock.Now()
	if err := m.store.TransitionStatus(ctx, signalID, newStatus, model.ChangeManual, reason, now); err != nil {
		return fmt.Errorf("lifecycle: force transition: %w", err)
	}
	if newStatus.Terminal() {
		m.tracker.Untrack(signalID)
	}
	return nil
}

// Sweep cancels every trackable signal whose expiry time has passed
// (spec.md §4.8). Intended to run every SweepInterval.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now()
	n, err := m.store.ExpireOld(ctx, now, "expired")
	if err != nil {
		return 0, fmt.Errorf("lifecycle: sweep: %w", err)
	}
	if n > 0 {
		m.log.Printf("expired %d signals", n)
	}
	return n, nil
}

// RunSweepLoop runs Sweep every SweepInterval until ctx is cancelled.
func (m *Manager) RunSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Printf("sweep failed: %v", err)
			}
		}
	}
}
