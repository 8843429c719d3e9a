// Package model holds the core named records for the signal-tracking engine:
// Signal, Limit, StatusChange, NewsEvent and Quote, plus the small enums that
// decorate them. Nothing here talks to a store, a feed or a clock — it is the
// vocabulary the rest of the packages share.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass buckets an Instrument for pip-size, alert-distance and
// feed-priority lookups.
type AssetClass string

const (
	AssetForex    AssetClass = "forex"
	AssetForexJPY AssetClass = "forex_jpy"
	AssetMetals   AssetClass = "metals"
	AssetIndices  AssetClass = "indices"
	AssetStocks   AssetClass = "stocks"
	AssetCrypto   AssetClass = "crypto"
	AssetOil      AssetClass = "oil"
)

// Direction is the signal's directional intent.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// SignalStatus is the lifecycle state of a Signal. See §4.8 of SPEC_FULL.md
// for the valid transition table.
type SignalStatus string

const (
	StatusActive     SignalStatus = "active"
	StatusHit        SignalStatus = "hit"
	StatusProfit     SignalStatus = "profit"
	StatusBreakeven  SignalStatus = "breakeven"
	StatusStopLoss   SignalStatus = "stop_loss"
	StatusCancelled  SignalStatus = "cancelled"
)

// Terminal reports whether a status requires closed_at to be set (I2).
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusProfit, StatusBreakeven, StatusStopLoss, StatusCancelled:
		return true
	default:
		return false
	}
}

// Trackable reports whether a signal in this status must hold a live price
// subscription (I7).
func (s SignalStatus) Trackable() bool {
	return s == StatusActive || s == StatusHit
}

// ExpiryType selects how a Signal's expiry_time is computed. See §4.8.
type ExpiryType string

const (
	ExpiryDayEnd   ExpiryType = "day_end"
	ExpiryWeekEnd  ExpiryType = "week_end"
	ExpiryMonthEnd ExpiryType = "month_end"
	ExpiryNone     ExpiryType = "no_expiry"
	ExpiryCustom   ExpiryType = "custom"
)

// ChangeType distinguishes automatic (state-machine-driven) transitions from
// manual operator overrides. Manual overrides may bypass the transition
// table (I6) but are still audited.
type ChangeType string

const (
	ChangeAutomatic ChangeType = "automatic"
	ChangeManual    ChangeType = "manual"
)

// LimitStatus is the lifecycle state of a single entry Limit.
type LimitStatus string

const (
	LimitPending   LimitStatus = "pending"
	LimitHit       LimitStatus = "hit"
	LimitCancelled LimitStatus = "cancelled"
)

// ManualMessagePrefix marks a message_id as operator-authored rather than
// produced by the automatic NL parser (spec.md §3).
const ManualMessagePrefix = "manual-"

// IsManualMessage reports whether a message_id was created by an operator.
func IsManualMessage(messageID string) bool {
	return len(messageID) >= len(ManualMessagePrefix) && messageID[:len(ManualMessagePrefix)] == ManualMessagePrefix
}

// Limit is a single entry level belonging to a Signal.
type Limit struct {
	ID                   int64
	SignalID             int64
	SequenceNumber       int // 1-based, unique within the signal
	PriceLevel           decimal.Decimal
	Status               LimitStatus
	HitTime              *time.Time
	HitPrice             *decimal.Decimal
	ApproachingAlertSent bool
	HitAlertSent         bool
}

// IsFirst reports whether this is the sequence-1 limit, the only one
// eligible for approach detection (I4).
func (l *Limit) IsFirst() bool {
	return l.SequenceNumber == 1
}

// Signal is a directional trade intent with up to four entry Limits and a
// single stop loss.
type Signal struct {
	ID                 int64
	MessageID          string
	ChannelID          string
	Instrument         string
	Direction           Direction
	StopLoss           decimal.Decimal
	Status             SignalStatus
	ExpiryType         ExpiryType
	ExpiryTime         *time.Time
	TotalLimits        int
	LimitsHit          int
	FirstLimitHitTime  *time.Time
	ClosedAt           *time.Time
	ClosedReason       string
	Scalp              bool
	Limits             []*Limit
}

// PendingLimits returns the limits still awaiting a hit, in sequence order.
func (s *Signal) PendingLimits() []*Limit {
	out := make([]*Limit, 0, len(s.Limits))
	for _, l := range s.Limits {
		if l.Status == LimitPending {
			out = append(out, l)
		}
	}
	return out
}

// FirstLimit returns the sequence-1 limit, or nil if the signal has none.
func (s *Signal) FirstLimit() *Limit {
	for _, l := range s.Limits {
		if l.SequenceNumber == 1 {
			return l
		}
	}
	return nil
}

// HitLimits returns the limits already marked hit, in sequence order.
func (s *Signal) HitLimits() []*Limit {
	out := make([]*Limit, 0, len(s.Limits))
	for _, l := range s.Limits {
		if l.Status == LimitHit {
			out = append(out, l)
		}
	}
	return out
}

// StatusChange is an immutable audit row recording one Signal transition.
type StatusChange struct {
	ID        int64
	SignalID  int64
	OldStatus SignalStatus
	NewStatus SignalStatus
	ChangeType ChangeType
	Reason    string
	ChangedAt time.Time
}

// NewsEvent is an operator-scheduled blackout window.
type NewsEvent struct {
	EventID        int64
	Category       string // currency code, named bucket, or "ALL"
	NewsTime       time.Time
	WindowMinutes  int
	CreatedBy      string
	CreatedAt      time.Time
}

// Start and End return the closed interval [news_time-window, news_time+window]
// over which the event is active (spec.md §8: closed interval, inclusive of
// both endpoints).
func (e NewsEvent) Start() time.Time {
	return e.NewsTime.Add(-time.Duration(e.WindowMinutes) * time.Minute)
}

func (e NewsEvent) End() time.Time {
	return e.NewsTime.Add(time.Duration(e.WindowMinutes) * time.Minute)
}

// Active reports whether now falls within the event's closed window.
func (e NewsEvent) Active(now time.Time) bool {
	return !now.Before(e.Start()) && !now.After(e.End())
}

// Quote is a canonical price update on the internal symbol bus.
type Quote struct {
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Timestamp  time.Time
	FeedOrigin string
}

// Spread returns ask-bid, clamped to zero (spec.md §3 invariant: spread is
// always non-negative).
func (q Quote) Spread() decimal.Decimal {
	s := q.Ask.Sub(q.Bid)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// PriceFor returns the direction-appropriate side of the quote: ask for
// long, bid for short (spec.md §4.6 step 2).
func (q Quote) PriceFor(dir Direction) decimal.Decimal {
	if dir == Long {
		return q.Ask
	}
	return q.Bid
}

// OppositeSideFor returns the side used for stop-loss checks: bid for long
// (SL below), ask for short (SL above) — the opposite of PriceFor.
func (q Quote) OppositeSideFor(dir Direction) decimal.Decimal {
	if dir == Long {
		return q.Bid
	}
	return q.Ask
}
