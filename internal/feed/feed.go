// Package feed implements the Feed Clients (SPEC_FULL.md C2): one
// concrete client per upstream price source, each normalizing its own
// wire format into a Quote and pushing it onto a shared channel. The
// reconnect-loop shape (dial, read until error, sleep, retry) is grounded
// on the teacher's BinanceFutures/BybitV5 websocket clients in main.go.
package feed

import (
	"context"
	"time"

	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/symbol"
)

// Client is implemented by every upstream feed connector.
type Client interface {
	// Feed identifies which symbol.Feed this client serves.
	Feed() symbol.Feed
	// Run connects (or polls) until ctx is cancelled, pushing every quote
	// it observes onto out. Run retries its own transport errors internally
	// using backoff and only returns when ctx is done.
	Run(ctx context.Context, out chan<- model.Quote)
	// Subscribe adds feedSymbols to the active subscription set. Clients
	// that poll rather than stream use it from the next poll cycle;
	// streaming clients use it only when they next open a connection.
	Subscribe(feedSymbols ...string)
	// Unsubscribe removes feedSymbols from the active subscription set.
	Unsubscribe(feedSymbols ...string)
}

// Backoff implements the exponential reconnect delay of spec.md §4.2:
// min(base * 2^attempt, cap). Shared by every streaming client's
// dial/reconnect loop.
type Backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func NewBackoff(base, cap time.Duration) *Backoff {
	return &Backoff{base: base, cap: cap}
}

func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt && d < b.cap; i++ {
		d *= 2
	}
	if d > b.cap {
		d = b.cap
	}
	b.attempt++
	return d
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep blocks for d or until ctx is cancelled, reporting whether it slept
// the full duration.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
