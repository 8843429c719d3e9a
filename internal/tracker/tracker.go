// Package tracker implements the Signal Tracker (SPEC_FULL.md C8): the
// core per-tick pipeline that watches every active signal's pending
// limits and stop loss against live quotes, applies the spread-hour and
// news vetoes, and drives auto take-profit. Grounded on the teacher's
// Analyzer (predator_engine.go/scalp_signal_engine.go) for the
// map-behind-a-mutex plus periodic-refresh shape, generalized from
// trade-signal generation to limit/stop-loss/TP lifecycle tracking.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/alertdistance"
	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/health"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/news"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/store"
	"github.com/sentineldesk/tracker/internal/takeprofit"
)

// RefreshInterval is how often the tracker re-pulls its trackable set from
// the store, recovering from any missed store mutation (spec.md §4.6).
const RefreshInterval = 30 * time.Second

// Tracker holds the live working set of trackable signals and evaluates
// every incoming quote against it.
type Tracker struct {
	store      store.SignalStore
	alertCfg   *alertdistance.Config
	tpCfg      *takeprofit.Config
	tpEval     *takeprofit.Evaluator
	newsMgr    *news.Manager
	settings   func() config.Settings
	marketHrs  func() config.MarketHoursConfig
	clock      clock.Clock
	sink       alertsink.AlertSink
	log        *obslog.Logger

	mu             sync.RWMutex
	signals        map[int64]*model.Signal
	symbolToSignal map[string]map[int64]struct{}
}

type Deps struct {
	Store         store.SignalStore
	AlertDistance *alertdistance.Config
	TPConfig      *takeprofit.Config
	TPEvaluator   *takeprofit.Evaluator
	News          *news.Manager
	Settings      func() config.Settings
	MarketHours   func() config.MarketHoursConfig
	Clock         clock.Clock
	Sink          alertsink.AlertSink
}

func New(d Deps) *Tracker {
	return &Tracker{
		store:          d.Store,
		alertCfg:       d.AlertDistance,
		tpCfg:          d.TPConfig,
		tpEval:         d.TPEvaluator,
		newsMgr:        d.News,
		settings:       d.Settings,
		marketHrs:      d.MarketHours,
		clock:          d.Clock,
		sink:           d.Sink,
		log:            obslog.New("tracker"),
		signals:        make(map[int64]*model.Signal),
		symbolToSignal: make(map[string]map[int64]struct{}),
	}
}

// LoadActive (re)populates the in-memory working set from the store. Safe
// to call repeatedly; it replaces the set wholesale so a signal closed
// elsewhere (e.g. by the Control Plane) disappears on the next call.
func (t *Tracker) LoadActive(ctx context.Context) error {
	active, err := t.store.GetActiveForTracking(ctx)
	if err != nil {
		return fmt.Errorf("tracker: load active: %w", err)
	}

	signals := make(map[int64]*model.Signal, len(active))
	bySymbol := make(map[string]map[int64]struct{})
	for _, sig := range active {
		signals[sig.ID] = sig
		if bySymbol[sig.Instrument] == nil {
			bySymbol[sig.Instrument] = make(map[int64]struct{})
		}
		bySymbol[sig.Instrument][sig.ID] = struct{}{}

		hits, err := t.store.HitLimitsFor(ctx, sig.ID)
		if err != nil {
			t.log.Printf("hit-limits lookup failed for signal %d: %v", sig.ID, err)
			continue
		}
		t.tpEval.Refresh(sig.ID, hits)
	}

	t.mu.Lock()
	t.signals = signals
	t.symbolToSignal = bySymbol
	t.mu.Unlock()

	t.log.Printf("loaded %d trackable signals", len(signals))
	return nil
}

// Track adds a freshly-inserted signal to the live working set without a
// full reload, called right after the Control Plane persists it.
func (t *Tracker) Track(sig *model.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals[sig.ID] = sig
	if t.symbolToSignal[sig.Instrument] == nil {
		t.symbolToSignal[sig.Instrument] = make(map[int64]struct{})
	}
	t.symbolToSignal[sig.Instrument][sig.ID] = struct{}{}
}

// Untrack removes a signal from the live working set, called once it
// reaches a terminal status.
func (t *Tracker) Untrack(signalID int64) {
	t.mu.Lock()
	sig, ok := t.signals[signalID]
	if ok {
		delete(t.signals, signalID)
		delete(t.symbolToSignal[sig.Instrument], signalID)
	}
	t.mu.Unlock()
	t.tpEval.Evict(signalID)
}

func (t *Tracker) signalsFor(sym string) []*model.Signal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.symbolToSignal[sym]
	out := make([]*model.Signal, 0, len(ids))
	for id := range ids {
		if sig, ok := t.signals[id]; ok {
			out = append(out, sig)
		}
	}
	return out
}

// spreadBuffer returns the extra price cushion applied to a given check
// kind, per spec.md §4.6.3's per-kind spread_buffer_config toggles. Stop
// loss checks never receive a buffer: checkStopLoss does not call this, so
// apply_to_stop_loss has no effect.
func (t *Tracker) spreadBuffer(quote model.Quote, applyTo bool) decimal.Decimal {
	s := t.settings()
	if !s.SpreadBufferEnabled || !applyTo {
		return decimal.Zero
	}
	spread := quote.Spread()
	if spread.IsZero() {
		spread = decimal.NewFromFloat(s.SpreadBufferConfig.FallbackSpread)
	}
	return spread
}

// HandleQuote runs the full per-tick pipeline for every signal tracking
// quote.Symbol: approach detection, limit-hit detection (with vetoes and
// the spread buffer), stop-loss detection, and auto take-profit.
func (t *Tracker) HandleQuote(ctx context.Context, quote model.Quote) {
	for _, sig := range t.signalsFor(quote.Symbol) {
		t.evaluateSignal(ctx, sig, quote)
	}
}

func (t *Tracker) evaluateSignal(ctx context.Context, sig *model.Signal, quote model.Quote) {
	if !sig.Status.Trackable() {
		return
	}
	price := quote.PriceFor(sig.Direction)
	oppPrice := quote.OppositeSideFor(sig.Direction)
	now := t.clock.Now()
	s := t.settings()

	t.checkStopLoss(ctx, sig, quote, oppPrice, now)
	if !sig.Status.Trackable() {
		return
	}

	for _, lim := range sig.PendingLimits() {
		t.checkApproach(ctx, sig, lim, quote, price, now, s)
		t.checkHit(ctx, sig, lim, quote, price, now, s)
	}

	t.checkAutoTP(ctx, sig, quote, oppPrice, now)
}

// checkApproach implements spec.md §4.6.1: a pending limit within its
// configured alert distance of price fires a one-shot approach alert.
func (t *Tracker) checkApproach(ctx context.Context, sig *model.Signal, lim *model.Limit, quote model.Quote, price decimal.Decimal, now time.Time, s config.Settings) {
	l := lim
	if !l.IsFirst() {
		return
	}
	if l.ApproachingAlertSent {
		return
	}

	dist := t.alertCfg.Distance(sig.Instrument, price)
	buf := t.spreadBuffer(quote, s.SpreadBufferConfig.ApplyToApproaching)
	diff := l.PriceLevel.Sub(price).Abs()

	if diff.LessThanOrEqual(dist.Add(buf)) {
		l.ApproachingAlertSent = true
		if err := t.store.MarkApproachingSent(ctx, l.ID); err != nil {
			t.log.Printf("mark approaching sent failed (limit %d): %v", l.ID, err)
		}
		if t.sink != nil {
			t.sink.Approach(alertsink.ApproachAlert{Signal: *sig, Limit: *l, Price: price, DistanceTo: diff, At: now})
		}
	}
}

// priceReachedLimit reports whether price has traded through a limit for
// direction dir: a long limit fills as price falls to or below its level,
// a short limit fills as price rises to or above its level, each widened
// by the supplied spread buffer.
func priceReachedLimit(dir model.Direction, price, level, buffer decimal.Decimal) bool {
	if dir == model.Long {
		return price.Sub(buffer).LessThanOrEqual(level)
	}
	return price.Add(buffer).GreaterThanOrEqual(level)
}

// checkHit implements spec.md §4.6.2/§4.6.3: a pending limit whose price
// level has been reached is processed through the spread-hour and news
// vetoes before being marked hit.
func (t *Tracker) checkHit(ctx context.Context, sig *model.Signal, lim *model.Limit, quote model.Quote, price decimal.Decimal, now time.Time, s config.Settings) {
	l := lim

	buf := t.spreadBuffer(quote, s.SpreadBufferConfig.ApplyToHit)
	if !priceReachedLimit(sig.Direction, price, l.PriceLevel, buf) {
		return
	}

	if t.marketHrs != nil && health.IsSpreadHour(now, t.marketHrs()) {
		t.cancelForSpreadHour(ctx, sig, now)
		return
	}
	if t.newsMgr != nil {
		if ev, active := t.newsMgr.ActiveFor(sig.Instrument, now); active {
			t.cancelForNews(ctx, sig, ev, now)
			return
		}
	}

	wasActive := sig.Status == model.StatusActive

	l.Status = model.LimitHit
	l.HitTime = &now
	hitPrice := price
	l.HitPrice = &hitPrice
	sig.LimitsHit++
	if l.IsFirst() {
		sig.FirstLimitHitTime = &now
	}

	hp, _ := l.HitPrice.Float64()
	if err := t.store.MarkLimitHit(ctx, l.ID, hp, now); err != nil {
		t.log.Printf("mark limit hit failed (limit %d): %v", l.ID, err)
	}

	hits, err := t.store.HitLimitsFor(ctx, sig.ID)
	if err == nil {
		t.tpEval.Refresh(sig.ID, hits)
	}

	if sig.LimitsHit == 1 && wasActive {
		t.transition(ctx, sig, model.StatusHit, model.ChangeAutomatic, "limit hit", now)
	}

	if t.sink != nil {
		t.sink.LimitHit(alertsink.LimitHitAlert{Signal: *sig, Limit: *l, HitPrice: price, At: now})
	}
}

func (t *Tracker) cancelForSpreadHour(ctx context.Context, sig *model.Signal, now time.Time) {
	t.transition(ctx, sig, model.StatusCancelled, model.ChangeAutomatic, "cancelled: spread hour", now)
	if t.sink != nil {
		t.sink.SpreadHourCancel(alertsink.SpreadHourCancelAlert{Signal: *sig, At: now})
	}
}

func (t *Tracker) cancelForNews(ctx context.Context, sig *model.Signal, ev model.NewsEvent, now time.Time) {
	t.transition(ctx, sig, model.StatusCancelled, model.ChangeAutomatic, "cancelled: news blackout", now)
	if t.sink != nil {
		t.sink.NewsCancel(alertsink.NewsCancelAlert{Signal: *sig, Event: ev, At: now})
	}
}

// checkStopLoss implements spec.md §4.6.4: the stop loss never receives a
// spread buffer, regardless of settings, and is only armed once at least
// one limit has filled (status == hit) — a signal still waiting on its
// first limit carries no stop-loss protection yet.
func (t *Tracker) checkStopLoss(ctx context.Context, sig *model.Signal, quote model.Quote, price decimal.Decimal, now time.Time) {
	if sig.Status != model.StatusHit {
		return
	}

	hit := false
	if sig.Direction == model.Long {
		hit = price.LessThanOrEqual(sig.StopLoss)
	} else {
		hit = price.GreaterThanOrEqual(sig.StopLoss)
	}
	if !hit {
		return
	}

	t.transition(ctx, sig, model.StatusStopLoss, model.ChangeAutomatic, "stop loss hit", now)
	if t.sink != nil {
		t.sink.StopLoss(alertsink.StopLossAlert{Signal: *sig, Price: price, At: now})
	}
}

// checkAutoTP implements spec.md §4.7: once at least one limit has hit,
// every subsequent tick is run through the Take-Profit Evaluator.
func (t *Tracker) checkAutoTP(ctx context.Context, sig *model.Signal, quote model.Quote, price decimal.Decimal, now time.Time) {
	if !t.tpEval.Tracked(sig.ID) {
		return
	}

	triggered, lastPnL, earlierSum := t.tpEval.Evaluate(sig.ID, sig.Instrument, sig.Direction, sig.Scalp, price)
	if !triggered {
		return
	}

	t.transition(ctx, sig, model.StatusProfit, model.ChangeAutomatic, "auto take-profit", now)
	if t.sink != nil {
		t.sink.AutoTP(alertsink.AutoTPAlert{Signal: *sig, LastPnL: lastPnL, EarlierSum: earlierSum, At: now})
	}
}

func (t *Tracker) transition(ctx context.Context, sig *model.Signal, newStatus model.SignalStatus, change model.ChangeType, reason string, at time.Time) {
	old := sig.Status
	if old == newStatus {
		return
	}
	sig.Status = newStatus
	if newStatus.Terminal() {
		sig.ClosedAt = &at
		sig.ClosedReason = reason
	}
	if err := t.store.TransitionStatus(ctx, sig.ID, newStatus, change, reason, at); err != nil {
		t.log.Printf("transition persist failed (signal %d): %v", sig.ID, err)
	}
	if newStatus.Terminal() {
		t.Untrack(sig.ID)
	}
}

// RunRefreshLoop periodically reloads the active set from the store until
// ctx is cancelled (spec.md §4.6 "periodic refresh (30s)").
func (t *Tracker) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.LoadActive(ctx); err != nil {
				t.log.Printf("refresh failed: %v", err)
			}
		}
	}
}
