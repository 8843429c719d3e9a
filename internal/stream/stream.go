// Package stream implements the Stream Manager (SPEC_FULL.md C3): a single
// aggregation point in front of every feed.Client that maintains a
// per-symbol latest-price cache, fans out each tick to subscribers in
// arrival order, and owns the feed-to-symbol routing table. Grounded on
// the teacher's CoinManager (main.go), which plays the analogous role of
// starting every exchange client and routing their output into one
// Analyzer.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentineldesk/tracker/internal/feed"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/symbol"
)

// HealthObserver receives a liveness signal for every ingested tick, ahead
// of symbol translation, so the Feed Health Monitor (C4) can classify
// staleness per feed-symbol. Declared as a narrow interface here (rather
// than importing internal/health directly) purely to keep the dependency
// arrow pointing one way.
type HealthObserver interface {
	Observe(feed symbol.Feed, feedSymbol string, at time.Time)
}

// defaultLatestPriceWait bounds how long LatestPrice blocks for a first
// tick on a freshly subscribed symbol (spec.md §4.3).
const defaultLatestPriceWait = 2 * time.Second

type subscriber struct {
	id int
	ch chan model.Quote
}

// Manager is the Stream Manager: it owns every registered feed.Client,
// multiplexes their quotes onto one ordered pipeline, and serves the
// latest-price cache and live subscription fan-out.
type Manager struct {
	log *obslog.Logger

	mu      sync.Mutex
	clients map[symbol.Feed]feed.Client
	routes  map[string]symbol.Feed // internal symbol -> the feed currently serving it

	cacheMu sync.RWMutex
	cache   map[string]model.Quote
	waiters map[string][]chan struct{}

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int

	out      chan model.Quote
	observer HealthObserver
}

// SetHealthObserver wires the Feed Health Monitor in; safe to call once
// before Run.
func (m *Manager) SetHealthObserver(h HealthObserver) {
	m.observer = h
}

func NewManager() *Manager {
	return &Manager{
		log:     obslog.New("stream"),
		clients: make(map[symbol.Feed]feed.Client),
		routes:  make(map[string]symbol.Feed),
		cache:   make(map[string]model.Quote),
		waiters: make(map[string][]chan struct{}),
		out:     make(chan model.Quote, 1024),
	}
}

// Register adds a feed client to the manager; it must be called before Run.
func (m *Manager) Register(c feed.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.Feed()] = c
}

// Run starts every registered client and the dispatch loop. It blocks until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	clients := make([]feed.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c feed.Client) {
			defer wg.Done()
			c.Run(ctx, m.out)
		}(c)
	}

	m.dispatchLoop(ctx)
	wg.Wait()
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-m.out:
			m.ingest(q)
		}
	}
}

func (m *Manager) ingest(q model.Quote) {
	if m.observer != nil {
		m.observer.Observe(q.FeedOrigin, q.Symbol, q.Timestamp)
	}

	internalSym, ok := symbol.FromFeed(q.Symbol, q.FeedOrigin)
	if !ok {
		return
	}
	q.Symbol = internalSym

	m.mu.Lock()
	route, routed := m.routes[internalSym]
	isAuthoritative := !routed || route == q.FeedOrigin
	m.mu.Unlock()
	if !isAuthoritative {
		// Another feed is the routing table's authority for this symbol;
		// a secondary feed's tick still freshens nothing (spec.md §4.3:
		// "the routing table is the source of truth").
		return
	}

	m.cacheMu.Lock()
	m.cache[internalSym] = q
	ws := m.waiters[internalSym]
	delete(m.waiters, internalSym)
	m.cacheMu.Unlock()
	for _, w := range ws {
		close(w)
	}

	m.subMu.Lock()
	subs := append([]subscriber(nil), m.subscribers...)
	m.subMu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- q:
		default:
			// A slow subscriber never blocks the dispatch loop or other
			// subscribers (spec.md §5).
		}
	}
}

// Subscribe resolves sym to its best-priority feed, records the routing
// decision and asks that feed's client to start streaming it.
func (m *Manager) Subscribe(sym string) error {
	f, ok := symbol.BestFeed(sym)
	if !ok {
		return fmt.Errorf("stream: no feed supports %s", sym)
	}
	feedSym, ok := symbol.ToFeed(sym, f)
	if !ok {
		return fmt.Errorf("stream: cannot map %s to feed %s", sym, f)
	}

	m.mu.Lock()
	client, ok := m.clients[f]
	if ok {
		m.routes[sym] = f
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream: no registered client for feed %s", f)
	}

	client.Subscribe(feedSym)
	return nil
}

// BulkSubscribe subscribes every symbol in syms, collecting (not
// short-circuiting on) individual errors.
func (m *Manager) BulkSubscribe(syms []string) []error {
	var errs []error
	for _, s := range syms {
		if err := m.Subscribe(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Unsubscribe removes the routing entry for sym and asks its feed client to
// stop streaming it.
func (m *Manager) Unsubscribe(sym string) {
	m.mu.Lock()
	f, ok := m.routes[sym]
	if ok {
		delete(m.routes, sym)
	}
	client := m.clients[f]
	m.mu.Unlock()

	if ok && client != nil {
		if feedSym, ok := symbol.ToFeed(sym, f); ok {
			client.Unsubscribe(feedSym)
		}
	}
}

// LatestPrice returns the most recent quote observed for sym, waiting up to
// defaultLatestPriceWait for a first tick if none has arrived yet.
func (m *Manager) LatestPrice(ctx context.Context, sym string) (model.Quote, bool) {
	m.cacheMu.RLock()
	q, ok := m.cache[sym]
	m.cacheMu.RUnlock()
	if ok {
		return q, true
	}

	m.cacheMu.Lock()
	q, ok = m.cache[sym]
	if ok {
		m.cacheMu.Unlock()
		return q, true
	}
	wake := make(chan struct{})
	m.waiters[sym] = append(m.waiters[sym], wake)
	m.cacheMu.Unlock()

	timer := time.NewTimer(defaultLatestPriceWait)
	defer timer.Stop()
	select {
	case <-wake:
		m.cacheMu.RLock()
		q, ok = m.cache[sym]
		m.cacheMu.RUnlock()
		return q, ok
	case <-timer.C:
		return model.Quote{}, false
	case <-ctx.Done():
		return model.Quote{}, false
	}
}

// AddSubscriber registers a new live fan-out channel and returns it along
// with a function to unregister it.
func (m *Manager) AddSubscriber(buffer int) (<-chan model.Quote, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan model.Quote, buffer)
	m.subscribers = append(m.subscribers, subscriber{id: id, ch: ch})

	remove := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, remove
}

// ReconnectFeed implements health.Reconnector: it re-registers every symbol
// currently routed to feed by re-issuing Subscribe, which is a harmless
// no-op for a feed client that is already connected and a recovery path
// for one that dropped its subscription state on reconnect.
func (m *Manager) ReconnectFeed(f symbol.Feed) error {
	m.mu.Lock()
	client, ok := m.clients[f]
	var syms []string
	for sym, routedFeed := range m.routes {
		if routedFeed == f {
			syms = append(syms, sym)
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream: unknown feed %s", f)
	}

	for _, sym := range syms {
		if feedSym, ok := symbol.ToFeed(sym, f); ok {
			client.Subscribe(feedSym)
		}
	}
	m.log.Printf("reissued %d subscriptions to feed %s", len(syms), f)
	return nil
}

// ReconnectAll re-issues every routed subscription against its feed.
func (m *Manager) ReconnectAll() {
	m.mu.Lock()
	feeds := make(map[symbol.Feed]struct{})
	for _, f := range m.routes {
		feeds[f] = struct{}{}
	}
	m.mu.Unlock()
	for f := range feeds {
		_ = m.ReconnectFeed(f)
	}
}
