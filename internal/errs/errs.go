// Package errs defines the named error kinds from SPEC_FULL.md §7 as
// sentinel values. Call sites wrap them with fmt.Errorf("...: %w", Kind) and
// callers compare with errors.Is, the same convention the db package in the
// pack's blackholedex example uses for its own wrapped errors.
package errs

import "errors"

var (
	// ErrConfig covers invalid schema, unknown key, or a failed migration.
	// Local handling: log and fall back to default, never crash.
	ErrConfig = errors.New("config error")

	// ErrMap means a symbol has no mapping on any available feed. Local
	// handling: reject the subscription, surface the reason to the operator.
	ErrMap = errors.New("symbol mapping error")

	// ErrFeedTransient covers a lost connection or failed handshake. Local
	// handling: backoff and reconnect.
	ErrFeedTransient = errors.New("feed transient error")

	// ErrFeedPermanent covers invalid credentials or an unauthorized
	// account. Local handling: mark the feed not_configured, one admin
	// notification, no retry.
	ErrFeedPermanent = errors.New("feed permanent error")

	// ErrStoreConflict means a requested state transition is invalid.
	// Local handling: abort the mutation, surface to the operator.
	ErrStoreConflict = errors.New("store conflict")

	// ErrStoreUnavailable covers a store timeout or connection loss. Local
	// handling: drop the tick/command, count the failure, no alert.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPolicyVeto is not a failure but a first-class outcome: a news
	// blackout or spread-hour cancellation vetoed what would have been a hit.
	ErrPolicyVeto = errors.New("policy veto")

	// ErrFatal covers an unrecoverable fault from a feed worker. Propagates
	// to the supervisor, which may restart the worker after a cooldown.
	ErrFatal = errors.New("fatal error")
)
