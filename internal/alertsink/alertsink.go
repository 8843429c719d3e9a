// Package alertsink defines the AlertSink contract (SPEC_FULL.md C8/C10
// external interface) and a fanout implementation that broadcasts to every
// configured concrete sink. Grounded on the teacher's hub.go/
// notification_service.go dual-channel (websocket dashboard + Telegram)
// broadcast pattern.
package alertsink

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/model"
)

// ApproachAlert is emitted when price enters the approach distance of a
// pending limit (spec.md §4.6.1).
type ApproachAlert struct {
	Signal     model.Signal
	Limit      model.Limit
	Price      decimal.Decimal
	DistanceTo decimal.Decimal
	At         time.Time
}

// LimitHitAlert is emitted when a limit is confirmed hit (spec.md §4.6.2/3).
type LimitHitAlert struct {
	Signal   model.Signal
	Limit    model.Limit
	HitPrice decimal.Decimal
	At       time.Time
}

// StopLossAlert is emitted when a signal's stop loss is hit (spec.md §4.6.4).
type StopLossAlert struct {
	Signal model.Signal
	Price  decimal.Decimal
	At     time.Time
}

// SpreadHourCancelAlert is emitted when a pending signal is cancelled
// because its hit occurred during the daily spread hour (spec.md §4.6.3b).
type SpreadHourCancelAlert struct {
	Signal model.Signal
	At     time.Time
}

// NewsCancelAlert is emitted when a signal is cancelled due to an active
// news blackout window (spec.md §4.9).
type NewsCancelAlert struct {
	Signal model.Signal
	Event  model.NewsEvent
	At     time.Time
}

// NewsActivatedAlert describes a news window opening for an instrument
// with live signals. No component in this repository emits it.
type NewsActivatedAlert struct {
	Event     model.NewsEvent
	Instrument string
	At        time.Time
}

// AutoTPAlert is emitted when the Take-Profit Evaluator triggers a signal
// close (spec.md §4.7).
type AutoTPAlert struct {
	Signal     model.Signal
	LastPnL    decimal.Decimal
	EarlierSum decimal.Decimal
	At         time.Time
}

// AdminNotification is a free-form operational message (feed down,
// reconnect exhausted, daily summary) routed only to admin channels.
type AdminNotification struct {
	Message string
	At      time.Time
}

// AlertSink is implemented by every outbound notification channel. A
// failure from one sink must never block or fail the others (spec.md §5
// "never blocks the tracker"): concrete sinks are expected to log and
// swallow their own transport errors rather than propagate them up through
// a slow or unreachable downstream.
type AlertSink interface {
	Approach(ApproachAlert)
	LimitHit(LimitHitAlert)
	StopLoss(StopLossAlert)
	SpreadHourCancel(SpreadHourCancelAlert)
	NewsCancel(NewsCancelAlert)
	NewsActivated(NewsActivatedAlert)
	AutoTP(AutoTPAlert)
	AdminNotification(AdminNotification)
}

// Fanout broadcasts every call to all of its member sinks.
type Fanout struct {
	sinks []AlertSink
}

func NewFanout(sinks ...AlertSink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Approach(a ApproachAlert) {
	for _, s := range f.sinks {
		s.Approach(a)
	}
}

func (f *Fanout) LimitHit(a LimitHitAlert) {
	for _, s := range f.sinks {
		s.LimitHit(a)
	}
}

func (f *Fanout) StopLoss(a StopLossAlert) {
	for _, s := range f.sinks {
		s.StopLoss(a)
	}
}

func (f *Fanout) SpreadHourCancel(a SpreadHourCancelAlert) {
	for _, s := range f.sinks {
		s.SpreadHourCancel(a)
	}
}

func (f *Fanout) NewsCancel(a NewsCancelAlert) {
	for _, s := range f.sinks {
		s.NewsCancel(a)
	}
}

func (f *Fanout) NewsActivated(a NewsActivatedAlert) {
	for _, s := range f.sinks {
		s.NewsActivated(a)
	}
}

func (f *Fanout) AutoTP(a AutoTPAlert) {
	for _, s := range f.sinks {
		s.AutoTP(a)
	}
}

func (f *Fanout) AdminNotification(a AdminNotification) {
	for _, s := range f.sinks {
		s.AdminNotification(a)
	}
}
