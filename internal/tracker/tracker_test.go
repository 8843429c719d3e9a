package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/alertdistance"
	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/lifecycle"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/news"
	"github.com/sentineldesk/tracker/internal/store"
	"github.com/sentineldesk/tracker/internal/store/memstore"
	"github.com/sentineldesk/tracker/internal/takeprofit"
)

// recordingSink is a test double that captures every alert dispatched by
// the tracker, so scenario tests can assert on exactly what fired.
type recordingSink struct {
	approaches    []alertsink.ApproachAlert
	limitHits     []alertsink.LimitHitAlert
	stopLosses    []alertsink.StopLossAlert
	spreadCancels []alertsink.SpreadHourCancelAlert
	newsCancels   []alertsink.NewsCancelAlert
	newsActivated []alertsink.NewsActivatedAlert
	autoTPs       []alertsink.AutoTPAlert
	admin         []alertsink.AdminNotification
}

func (r *recordingSink) Approach(a alertsink.ApproachAlert)               { r.approaches = append(r.approaches, a) }
func (r *recordingSink) LimitHit(a alertsink.LimitHitAlert)                { r.limitHits = append(r.limitHits, a) }
func (r *recordingSink) StopLoss(a alertsink.StopLossAlert)                { r.stopLosses = append(r.stopLosses, a) }
func (r *recordingSink) SpreadHourCancel(a alertsink.SpreadHourCancelAlert) {
	r.spreadCancels = append(r.spreadCancels, a)
}
func (r *recordingSink) NewsCancel(a alertsink.NewsCancelAlert) { r.newsCancels = append(r.newsCancels, a) }
func (r *recordingSink) NewsActivated(a alertsink.NewsActivatedAlert) {
	r.newsActivated = append(r.newsActivated, a)
}
func (r *recordingSink) AutoTP(a alertsink.AutoTPAlert)                 { r.autoTPs = append(r.autoTPs, a) }
func (r *recordingSink) AdminNotification(a alertsink.AdminNotification) { r.admin = append(r.admin, a) }

var _ alertsink.AlertSink = (*recordingSink)(nil)

// countingStore wraps a SignalStore and counts calls to the mutations the
// scenarios assert on, without reimplementing the storage itself.
type countingStore struct {
	store.SignalStore
	markLimitHitCalls int
	transitionCalls   int
}

func (c *countingStore) MarkLimitHit(ctx context.Context, limitID int64, hitPrice float64, hitAt time.Time) error {
	c.markLimitHitCalls++
	return c.SignalStore.MarkLimitHit(ctx, limitID, hitPrice, hitAt)
}

func (c *countingStore) TransitionStatus(ctx context.Context, signalID int64, newStatus model.SignalStatus, change model.ChangeType, reason string, at time.Time) error {
	c.transitionCalls++
	return c.SignalStore.TransitionStatus(ctx, signalID, newStatus, change, reason, at)
}

var _ store.SignalStore = (*countingStore)(nil)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// insertSignal persists sig and its limits through st, then returns the
// tracked copy the Tracker will actually mutate once loaded.
func insertSignal(t *testing.T, ctx context.Context, st store.SignalStore, sig *model.Signal, limits []*model.Limit) {
	t.Helper()
	if err := st.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	if err := st.InsertLimits(ctx, sig.ID, limits); err != nil {
		t.Fatalf("insert limits: %v", err)
	}
}

func newDistanceConfig(t *testing.T) *alertdistance.Config {
	t.Helper()
	return alertdistance.Load(filepath.Join(t.TempDir(), "alert_distances.json"))
}

func newTPConfig(t *testing.T) *takeprofit.Config {
	t.Helper()
	return takeprofit.Load(filepath.Join(t.TempDir(), "tp_config.json"))
}

// Scenario A — long limit hit without buffer (spec.md §8).
func TestSignalTracker_ScenarioA_LongLimitHitNoBuffer(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{SignalStore: memstore.New()}
	sink := &recordingSink{}
	fc := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	sig := &model.Signal{
		Instrument:  "EURUSD",
		Direction:   model.Long,
		StopLoss:    dec(1.0820),
		Status:      model.StatusActive,
		ExpiryType:  model.ExpiryNone,
		TotalLimits: 2,
	}
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(1.0850), Status: model.LimitPending},
		{SequenceNumber: 2, PriceLevel: dec(1.0840), Status: model.LimitPending},
	}
	insertSignal(t, ctx, st, sig, limits)

	tpCfg := newTPConfig(t)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   takeprofit.NewEvaluator(tpCfg),
		Settings:      config.DefaultSettings,
		Clock:         fc,
		Sink:          sink,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}

	quote := model.Quote{Symbol: "EURUSD", Bid: dec(1.08505), Ask: dec(1.08500), Timestamp: fc.Now()}
	tr.HandleQuote(ctx, quote)

	tracked := tr.signalsFor("EURUSD")
	if len(tracked) != 1 {
		t.Fatalf("expected signal still tracked (status=hit), got %d", len(tracked))
	}
	got := tracked[0]
	if got.Status != model.StatusHit {
		t.Fatalf("expected status hit, got %s", got.Status)
	}
	if got.LimitsHit != 1 {
		t.Fatalf("expected limits_hit=1, got %d", got.LimitsHit)
	}
	if got.Limits[0].Status != model.LimitHit {
		t.Fatalf("expected limit #1 hit, got %s", got.Limits[0].Status)
	}
	if got.Limits[1].Status != model.LimitPending {
		t.Fatalf("expected limit #2 still pending, got %s", got.Limits[1].Status)
	}
	if len(sink.limitHits) != 1 {
		t.Fatalf("expected exactly one limit-hit alert, got %d", len(sink.limitHits))
	}
	if st.markLimitHitCalls != 1 {
		t.Fatalf("expected store.MarkLimitHit called once, got %d", st.markLimitHitCalls)
	}
}

// Scenario B — short limit hit with buffer (spec.md §8).
func TestSignalTracker_ScenarioB_ShortLimitHitWithBuffer(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{SignalStore: memstore.New()}
	sink := &recordingSink{}
	fc := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	sig := &model.Signal{
		Instrument:  "XAUUSD",
		Direction:   model.Short,
		StopLoss:    dec(2510.00),
		Status:      model.StatusActive,
		ExpiryType:  model.ExpiryNone,
		TotalLimits: 1,
	}
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(2500.00), Status: model.LimitPending},
	}
	insertSignal(t, ctx, st, sig, limits)

	tpCfg := newTPConfig(t)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   takeprofit.NewEvaluator(tpCfg),
		Settings: func() config.Settings {
			return config.Settings{
				SpreadBufferEnabled: true,
				SpreadBufferConfig:  config.SpreadBufferConfig{ApplyToHit: true},
			}
		},
		Clock: fc,
		Sink:  sink,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}

	quote := model.Quote{Symbol: "XAUUSD", Bid: dec(2499.80), Ask: dec(2500.20), Timestamp: fc.Now()}
	if spread := quote.Spread(); !spread.Equal(dec(0.40)) {
		t.Fatalf("expected spread 0.40, got %s", spread)
	}
	tr.HandleQuote(ctx, quote)

	got := tr.signalsFor("XAUUSD")
	if len(got) != 1 {
		t.Fatalf("expected signal still tracked, got %d", len(got))
	}
	if got[0].Status != model.StatusHit {
		t.Fatalf("expected status hit, got %s", got[0].Status)
	}
	if len(sink.limitHits) != 1 {
		t.Fatalf("expected one limit-hit alert, got %d", len(sink.limitHits))
	}
	if !sink.limitHits[0].HitPrice.Equal(dec(2499.80)) {
		t.Fatalf("expected hit price 2499.80, got %s", sink.limitHits[0].HitPrice)
	}
}

// unit-level boundary coverage for the spread-buffered hit test itself
// (spec.md §8 "Boundary behavior": exact touch hits, zero buffer == disabled).
func TestPriceReachedLimit_Boundaries(t *testing.T) {
	cases := []struct {
		name   string
		dir    model.Direction
		price  decimal.Decimal
		level  decimal.Decimal
		buffer decimal.Decimal
		want   bool
	}{
		{"long exact touch", model.Long, dec(1.0850), dec(1.0850), decimal.Zero, true},
		{"long not yet reached", model.Long, dec(1.0850), dec(1.0840), decimal.Zero, false},
		{"long zero buffer == disabled", model.Long, dec(1.0841), dec(1.0840), decimal.Zero, false},
		{"short exact touch", model.Short, dec(2500.00), dec(2500.00), decimal.Zero, true},
		{"short without buffer misses", model.Short, dec(2499.80), dec(2500.00), decimal.Zero, false},
		{"short with buffer hits", model.Short, dec(2499.80), dec(2500.00), dec(0.40), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := priceReachedLimit(tc.dir, tc.price, tc.level, tc.buffer)
			if got != tc.want {
				t.Fatalf("priceReachedLimit(%s, %s, %s, %s) = %v, want %v", tc.dir, tc.price, tc.level, tc.buffer, got, tc.want)
			}
		})
	}
}

// Scenario C — spread-hour cancel (spec.md §8).
func TestSignalTracker_ScenarioC_SpreadHourCancel(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{SignalStore: memstore.New()}
	sink := &recordingSink{}
	// 2025-01-15 is a Wednesday; 17:30 America/New_York falls inside the
	// default 17:00-18:00 spread hour window.
	now := time.Date(2025, 1, 15, 17, 30, 0, 0, clock.NewYork)
	fc := clock.NewFake(now)

	sig := &model.Signal{
		Instrument:  "GBPUSD",
		Direction:   model.Long,
		StopLoss:    dec(1.2450),
		Status:      model.StatusActive,
		ExpiryType:  model.ExpiryNone,
		TotalLimits: 1,
	}
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(1.2500), Status: model.LimitPending},
	}
	insertSignal(t, ctx, st, sig, limits)

	tpCfg := newTPConfig(t)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   takeprofit.NewEvaluator(tpCfg),
		Settings:      config.DefaultSettings,
		MarketHours:   func() config.MarketHoursConfig { return config.DefaultHealthConfig().MarketHours },
		Clock:         fc,
		Sink:          sink,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}

	quote := model.Quote{Symbol: "GBPUSD", Bid: dec(1.2499), Ask: dec(1.2500), Timestamp: fc.Now()}
	tr.HandleQuote(ctx, quote)

	if len(sink.spreadCancels) != 1 {
		t.Fatalf("expected one spread-hour cancel alert, got %d", len(sink.spreadCancels))
	}
	if len(sink.limitHits) != 0 {
		t.Fatalf("expected no limit-hit alert, got %d", len(sink.limitHits))
	}
	if sink.spreadCancels[0].Signal.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled status on alert payload, got %s", sink.spreadCancels[0].Signal.Status)
	}
	if got := tr.signalsFor("GBPUSD"); len(got) != 0 {
		t.Fatalf("expected signal removed from tracking, got %d", len(got))
	}
}

// Scenario D — auto-TP with two limits hit (spec.md §8).
func TestSignalTracker_ScenarioD_AutoTPTwoLimitsHit(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{SignalStore: memstore.New()}
	sink := &recordingSink{}
	fc := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	hit1 := dec(150.00)
	hit2 := dec(150.50)
	sig := &model.Signal{
		Instrument:  "USDJPY",
		Direction:   model.Long,
		StopLoss:    dec(149.50),
		Status:      model.StatusHit,
		ExpiryType:  model.ExpiryNone,
		TotalLimits: 2,
		LimitsHit:   2,
		Scalp:       false,
	}
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(150.00), Status: model.LimitHit, HitPrice: &hit1},
		{SequenceNumber: 2, PriceLevel: dec(150.50), Status: model.LimitHit, HitPrice: &hit2},
	}
	insertSignal(t, ctx, st, sig, limits)

	tpCfg := newTPConfig(t)
	// Scenario D's literal text specifies a 10-pip threshold, half the
	// built-in forex_jpy default: record it as a per-symbol override.
	if err := tpCfg.SetOverride("USDJPY", decimal.NewFromInt(10), false); err != nil {
		t.Fatalf("set tp override: %v", err)
	}
	tpEval := takeprofit.NewEvaluator(tpCfg)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   tpEval,
		Settings:      config.DefaultSettings,
		Clock:         fc,
		Sink:          sink,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}
	if !tpEval.Tracked(sig.ID) {
		t.Fatalf("expected tp cache populated after load")
	}

	quote := model.Quote{Symbol: "USDJPY", Bid: dec(150.62), Ask: dec(150.64), Timestamp: fc.Now()}
	tr.HandleQuote(ctx, quote)

	got := tr.signalsFor("USDJPY")
	if len(got) != 0 {
		t.Fatalf("expected signal untracked after auto-tp, got %d", len(got))
	}
	if len(sink.autoTPs) != 1 {
		t.Fatalf("expected one auto-tp alert, got %d", len(sink.autoTPs))
	}
	alert := sink.autoTPs[0]
	if alert.Signal.Status != model.StatusProfit {
		t.Fatalf("expected signal transitioned to profit before dispatch, got %s", alert.Signal.Status)
	}
	if !alert.LastPnL.Equal(dec(12)) {
		t.Fatalf("expected last pnl 12 pips, got %s", alert.LastPnL)
	}
	if !alert.EarlierSum.Equal(dec(62)) {
		t.Fatalf("expected earlier pnl sum 62 pips, got %s", alert.EarlierSum)
	}
	if tpEval.Tracked(sig.ID) {
		t.Fatalf("expected tp cache evicted after close")
	}
}

// Scenario E — news blackout (spec.md §8).
func TestSignalTracker_ScenarioE_NewsBlackout(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{SignalStore: memstore.New()}
	sink := &recordingSink{}
	fc := clock.NewFake(time.Date(2025, 1, 15, 12, 25, 0, 0, time.UTC))

	sig := &model.Signal{
		Instrument:  "EURUSD",
		Direction:   model.Long,
		StopLoss:    dec(1.0800),
		Status:      model.StatusActive,
		ExpiryType:  model.ExpiryNone,
		TotalLimits: 1,
	}
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(1.0850), Status: model.LimitPending},
	}
	insertSignal(t, ctx, st, sig, limits)

	newsMgr := news.Load(filepath.Join(t.TempDir(), "news_events.json"), fc)
	newsTime := time.Date(2025, 1, 15, 12, 30, 0, 0, time.UTC)
	if _, err := newsMgr.Add("USD", newsTime, 15, "operator"); err != nil {
		t.Fatalf("add news event: %v", err)
	}

	tpCfg := newTPConfig(t)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   takeprofit.NewEvaluator(tpCfg),
		News:          newsMgr,
		Settings:      config.DefaultSettings,
		Clock:         fc,
		Sink:          sink,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}

	quote := model.Quote{Symbol: "EURUSD", Bid: dec(1.0849), Ask: dec(1.0850), Timestamp: fc.Now()}
	tr.HandleQuote(ctx, quote)

	if len(sink.newsCancels) != 1 {
		t.Fatalf("expected one news-cancel alert, got %d", len(sink.newsCancels))
	}
	if len(sink.limitHits) != 0 {
		t.Fatalf("expected no limit hit recorded, got %d", len(sink.limitHits))
	}
	if sink.newsCancels[0].Signal.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled(news) status, got %s", sink.newsCancels[0].Signal.Status)
	}
}

// Scenario F — expiry sweep (spec.md §8).
func TestSignalTracker_ScenarioF_ExpirySweep(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	fc := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, clock.NewYork))
	expiry := time.Date(2025, 1, 15, 16, 45, 0, 0, clock.NewYork)

	sig := &model.Signal{
		Instrument:  "AUDUSD",
		Direction:   model.Long,
		StopLoss:    dec(0.6400),
		Status:      model.StatusHit,
		ExpiryType:  model.ExpiryDayEnd,
		ExpiryTime:  &expiry,
		TotalLimits: 2,
		LimitsHit:   1,
	}
	hit := dec(0.6500)
	limits := []*model.Limit{
		{SequenceNumber: 1, PriceLevel: dec(0.6500), Status: model.LimitHit, HitPrice: &hit},
		{SequenceNumber: 2, PriceLevel: dec(0.6450), Status: model.LimitPending},
	}
	insertSignal(t, ctx, st, sig, limits)

	tpCfg := newTPConfig(t)
	tr := New(Deps{
		Store:         st,
		AlertDistance: newDistanceConfig(t),
		TPConfig:      tpCfg,
		TPEvaluator:   takeprofit.NewEvaluator(tpCfg),
		Settings:      config.DefaultSettings,
		Clock:         fc,
	})
	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("load active: %v", err)
	}
	if len(tr.signalsFor("AUDUSD")) != 1 {
		t.Fatalf("expected signal tracked before sweep")
	}

	fc.Set(time.Date(2025, 1, 15, 16, 45, 1, 0, clock.NewYork))
	mgr := lifecycle.New(st, tr, fc)
	n, err := mgr.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one signal expired, got %d", n)
	}

	if err := tr.LoadActive(ctx); err != nil {
		t.Fatalf("reload after sweep: %v", err)
	}
	if got := tr.signalsFor("AUDUSD"); len(got) != 0 {
		t.Fatalf("expected signal removed from tracking after sweep, got %d", len(got))
	}

	fresh, err := st.GetByMessage(ctx, sig.ChannelID, sig.MessageID)
	if err != nil {
		t.Fatalf("reload signal: %v", err)
	}
	if fresh.Status != model.StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", fresh.Status)
	}
	if fresh.ClosedAt == nil {
		t.Fatalf("expected closed_at set")
	}
	for _, l := range fresh.Limits {
		if l.Status == model.LimitPending {
			t.Fatalf("expected no pending limits to survive expiry, limit #%d still pending", l.SequenceNumber)
		}
	}
}
