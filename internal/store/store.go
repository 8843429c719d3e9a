// Package store defines the SignalStore contract (SPEC_FULL.md §4.10): the
// durable half of the Signal Tracker, responsible for persisting signals,
// limits and status changes and for answering the tracker's recovery and
// bookkeeping queries. Grounded on the shape (not the SQL) of
// ChoSanghyuk-blackholedex's internal/db.TransactionRecorder.
package store

import (
	"context"
	"time"

	"github.com/sentineldesk/tracker/internal/model"
)

// SignalStore is implemented by every persistence backend (sqlstore,
// memstore). All methods are expected to be safe for concurrent use.
type SignalStore interface {
	InsertSignal(ctx context.Context, s *model.Signal) error
	InsertLimits(ctx context.Context, signalID int64, limits []*model.Limit) error

	// GetActiveForTracking returns every signal whose status is trackable
	// (spec.md §4.8), with its limits populated, for warm-start recovery
	// and the periodic refresh.
	GetActiveForTracking(ctx context.Context) ([]*model.Signal, error)

	// GetByMessage looks a signal up by its originating channel/message,
	// for edit-based control-plane updates.
	GetByMessage(ctx context.Context, channelID, messageID string) (*model.Signal, error)

	MarkLimitHit(ctx context.Context, limitID int64, hitPrice float64, hitAt time.Time) error
	MarkApproachingSent(ctx context.Context, limitID int64) error

	TransitionStatus(ctx context.Context, signalID int64, newStatus model.SignalStatus, change model.ChangeType, reason string, at time.Time) error

	// HitLimitsFor returns every already-hit limit for a signal, ordered by
	// sequence number, for the Take-Profit Evaluator's cache rebuild.
	HitLimitsFor(ctx context.Context, signalID int64) ([]model.Limit, error)

	// ExpireOld transitions every trackable signal whose expiry has passed
	// to StatusCancelled and returns how many were affected (spec.md §4.8
	// expiry sweep).
	ExpireOld(ctx context.Context, now time.Time, reason string) (int, error)

	// UpdateFromEdit applies an operator edit (new stop loss / expiry / limits)
	// to an existing signal.
	UpdateFromEdit(ctx context.Context, signalID int64, stopLoss *float64, expiryTime *time.Time) error

	// DeleteSignal removes a signal and its limits entirely (control-plane
	// delete-signal, distinct from a lifecycle cancellation).
	DeleteSignal(ctx context.Context, signalID int64) error

	// ClearAll cancels every currently-trackable signal, for the
	// control-plane clear-all command.
	ClearAll(ctx context.Context, reason string, at time.Time) (int, error)
}
