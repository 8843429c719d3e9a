// Package control implements the Control Plane (SPEC_FULL.md C10): the
// single dispatcher for every operator command, gated by Firebase ID-token
// verification. Grounded on services/user.go's AuthMiddleware for the
// Firebase Admin SDK wiring, generalized from an HTTP middleware into a
// per-command authorization check so the same gate covers both an HTTP
// front-end and a chat-bot front-end.
package control

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/sentineldesk/tracker/internal/alertdistance"
	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/health"
	"github.com/sentineldesk/tracker/internal/lifecycle"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/news"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/store"
	"github.com/sentineldesk/tracker/internal/stream"
	"github.com/sentineldesk/tracker/internal/symbol"
	"github.com/sentineldesk/tracker/internal/takeprofit"
)

// Caller identifies the operator issuing a command, derived from a
// verified Firebase ID token.
type Caller struct {
	UID      string
	Email    string
	IsAdmin  bool
}

// Authenticator verifies a raw bearer token against Firebase Auth and
// reports the caller's identity and admin status. Admin status is
// resolved from custom claims (spec.md §4.10: "admin-only command
// gating"), set via the Firebase Admin SDK outside this process.
type Authenticator struct {
	app *firebase.App
}

// NewAuthenticator initializes the Firebase Admin SDK from a service
// account credentials file, matching the teacher's InitFirebase.
func NewAuthenticator(ctx context.Context, credentialsFile string) (*Authenticator, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("control: init firebase: %w", err)
	}
	return &Authenticator{app: app}, nil
}

// Verify exchanges a bearer ID token for a Caller.
func (a *Authenticator) Verify(ctx context.Context, idToken string) (Caller, error) {
	client, err := a.app.Auth(ctx)
	if err != nil {
		return Caller{}, fmt.Errorf("control: auth client: %w", err)
	}
	token, err := client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Caller{}, fmt.Errorf("control: verify token: %w", err)
	}

	c := Caller{UID: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		c.Email = email
	}
	if admin, ok := token.Claims["admin"].(bool); ok {
		c.IsAdmin = admin
	}
	return c, nil
}

// ErrNotAdmin is returned by any admin-only command called by a non-admin
// Caller.
var ErrNotAdmin = fmt.Errorf("control: caller is not an admin")

// Tracker is the subset of tracker.Tracker the Control Plane drives
// directly (new signals, forced untrack).
type Tracker interface {
	Track(sig *model.Signal)
	Untrack(signalID int64)
	LoadActive(ctx context.Context) error
}

// Plane is the Control Plane: it validates callers and fans operator
// commands out to every component that owns a piece of mutable state.
type Plane struct {
	store     store.SignalStore
	tracker   Tracker
	lifecycle *lifecycle.Manager
	stream    *stream.Manager
	health    *health.Monitor
	alertCfg  *alertdistance.Config
	tpCfg     *takeprofit.Config
	newsMgr   *news.Manager
	settings  *settingsBox
	clock     clock.Clock
	log       *obslog.Logger
}

// settingsBox holds the hot-reloadable runtime Settings snapshot behind a
// pointer swap, matching spec.md §9's "global singletons become injected,
// hot-reloadable dependencies".
type settingsBox struct {
	path string
	cur  config.Settings
}

func newSettingsBox(path string) *settingsBox {
	return &settingsBox{path: path, cur: config.LoadSettings(path)}
}

func (b *settingsBox) Get() config.Settings { return b.cur }

func (b *settingsBox) ToggleSpreadBuffer(enabled bool) error {
	b.cur.SpreadBufferEnabled = enabled
	return config.SaveJSONAtomic(b.path, b.cur)
}

type Deps struct {
	Store         store.SignalStore
	Tracker       Tracker
	Lifecycle     *lifecycle.Manager
	Stream        *stream.Manager
	Health        *health.Monitor
	AlertDistance *alertdistance.Config
	TPConfig      *takeprofit.Config
	News          *news.Manager
	SettingsPath  string
	Clock         clock.Clock
}

func New(d Deps) *Plane {
	return &Plane{
		store:     d.Store,
		tracker:   d.Tracker,
		lifecycle: d.Lifecycle,
		stream:    d.Stream,
		health:    d.Health,
		alertCfg:  d.AlertDistance,
		tpCfg:     d.TPConfig,
		newsMgr:   d.News,
		settings:  newSettingsBox(d.SettingsPath),
		clock:     d.Clock,
		log:       obslog.New("control"),
	}
}

// Settings returns the current hot-reloadable runtime settings.
func (p *Plane) Settings() config.Settings { return p.settings.Get() }

// AddSignal validates and persists a brand-new signal, assigns its expiry
// time, subscribes its instrument on the Stream Manager, and adds it to
// the live tracking set.
func (p *Plane) AddSignal(ctx context.Context, sig *model.Signal, limits []*model.Limit, expiryKind model.ExpiryType, customExpiry *time.Time) error {
	sig.ExpiryType = expiryKind
	sig.ExpiryTime = lifecycle.ExpiryFor(p.clock.Now(), expiryKind, customExpiry)
	sig.Status = model.StatusActive
	sig.TotalLimits = len(limits)

	if err := p.store.InsertSignal(ctx, sig); err != nil {
		return fmt.Errorf("control: add signal: %w", err)
	}
	if err := p.store.InsertLimits(ctx, sig.ID, limits); err != nil {
		return fmt.Errorf("control: add limits: %w", err)
	}
	sig.Limits = limits

	if err := p.stream.Subscribe(sig.Instrument); err != nil {
		p.log.Printf("subscribe failed for %s: %v", sig.Instrument, err)
	}
	p.tracker.Track(sig)
	return nil
}

// DeleteSignal removes a signal entirely, requires admin (spec.md §4.10).
func (p *Plane) DeleteSignal(ctx context.Context, caller Caller, signalID int64) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	if err := p.store.DeleteSignal(ctx, signalID); err != nil {
		return fmt.Errorf("control: delete signal: %w", err)
	}
	p.tracker.Untrack(signalID)
	return nil
}

// SetStatus forces a signal to newStatus, bypassing automatic transition
// validation with an audited reason (spec.md §4.8).
func (p *Plane) SetStatus(ctx context.Context, caller Caller, signalID int64, newStatus model.SignalStatus, reason string) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.lifecycle.ForceTransition(ctx, signalID, newStatus, reason)
}

// SetExpiry edits a signal's expiry kind/time via the store.
func (p *Plane) SetExpiry(ctx context.Context, caller Caller, signalID int64, kind model.ExpiryType, custom *time.Time) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	expiry := lifecycle.ExpiryFor(p.clock.Now(), kind, custom)
	return p.store.UpdateFromEdit(ctx, signalID, nil, expiry)
}

// Cancel manually cancels a single signal.
func (p *Plane) Cancel(ctx context.Context, caller Caller, signalID int64, reason string) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.lifecycle.ForceTransition(ctx, signalID, model.StatusCancelled, reason)
}

// ClearAll cancels every trackable signal.
func (p *Plane) ClearAll(ctx context.Context, caller Caller, reason string) (int, error) {
	if !caller.IsAdmin {
		return 0, ErrNotAdmin
	}
	n, err := p.store.ClearAll(ctx, reason, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("control: clear all: %w", err)
	}
	if err := p.tracker.LoadActive(ctx); err != nil {
		p.log.Printf("reload after clear-all failed: %v", err)
	}
	return n, nil
}

// ReloadConfigs hot-swaps every file-backed config (spec.md §9).
func (p *Plane) ReloadConfigs(caller Caller) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	p.alertCfg.Reload()
	p.tpCfg.Reload()
	p.settings.cur = config.LoadSettings(p.settings.path)
	return nil
}

// ToggleSpreadBuffer flips the global spread-buffer feature flag.
func (p *Plane) ToggleSpreadBuffer(caller Caller, enabled bool) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.settings.ToggleSpreadBuffer(enabled)
}

// SetAlertDistance sets a per-symbol approach-distance override.
func (p *Plane) SetAlertDistance(caller Caller, sym string, entry alertdistance.Entry) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.alertCfg.SetOverride(sym, entry, caller.Email, p.clock.Now())
}

// SetAutoTP sets a per-symbol (optionally scalp) auto-TP threshold override.
func (p *Plane) SetAutoTP(caller Caller, sym string, value decimal.Decimal, scalp bool) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.tpCfg.SetOverride(sym, value, scalp)
}

// ScheduleNews adds a news blackout window.
func (p *Plane) ScheduleNews(caller Caller, category string, newsTime time.Time, windowMinutes int) (model.NewsEvent, error) {
	var zero model.NewsEvent
	if !caller.IsAdmin {
		return zero, ErrNotAdmin
	}
	return p.newsMgr.Add(category, newsTime, windowMinutes, caller.Email)
}

// RemoveNews deletes a scheduled news event.
func (p *Plane) RemoveNews(caller Caller, eventID int64) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	if !p.newsMgr.Remove(eventID) {
		return fmt.Errorf("control: no such news event %d", eventID)
	}
	return nil
}

// ReconnectFeed forces a reissue of every subscription currently routed to
// feed, the manual analogue of the Feed Health Monitor's own
// reconnect-on-down path.
func (p *Plane) ReconnectFeed(caller Caller, f symbol.Feed) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.stream.ReconnectFeed(f)
}

// EditSignal applies an operator edit (new stop loss and/or expiry) to an
// existing signal, matching spec.md §9's supplemented edit-based update.
func (p *Plane) EditSignal(ctx context.Context, caller Caller, signalID int64, stopLoss *float64, expiry *time.Time) error {
	if !caller.IsAdmin {
		return ErrNotAdmin
	}
	return p.store.UpdateFromEdit(ctx, signalID, stopLoss, expiry)
}

// FeedHealth returns the current classification and reconnect count of
// every tracked feed, for the control-plane health/status command.
func (p *Plane) FeedHealth() map[symbol.Feed]struct {
	Status         health.Status
	ReconnectCount int
} {
	return p.health.Stats()
}

// Report produces a human-readable status summary, grounded on the
// teacher's reportCallback wiring in notification_service.go.
func (p *Plane) Report(ctx context.Context) (string, error) {
	active, err := p.store.GetActiveForTracking(ctx)
	if err != nil {
		return "", fmt.Errorf("control: report: %w", err)
	}
	return fmt.Sprintf("%d signals currently tracked", len(active)), nil
}
