// Package clock provides the Clock dependency the core is built against, so
// expiry, spread-hour and market-hours logic can be driven deterministically
// in tests instead of reading the wall clock directly.
package clock

import "time"

// Clock abstracts time.Now so the tracker, lifecycle sweep and health
// monitor can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// System is the production Clock, backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// NewYork is the named location used throughout spec.md §4.8/§9 for expiry
// and spread-hour math. Loaded once at package init.
var NewYork *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fall back to a fixed EST offset if the tzdata package is
		// unavailable in the runtime image; DST-aware behavior degrades
		// but the service still starts.
		loc = time.FixedZone("EST", -5*60*60)
	}
	NewYork = loc
}

// Fake is a test Clock whose time only moves when told to.
type Fake struct {
	t time.Time
}

// NewFake returns a Fake clock pinned at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

func (f *Fake) Now() time.Time { return f.t }

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) { f.t = t }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.t = f.t.Add(d) }
