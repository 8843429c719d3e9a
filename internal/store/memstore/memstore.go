// Package memstore is an in-memory SignalStore, used by the test suite and
// by a dry-run deployment mode that never touches MySQL. Grounded on the
// same CRUD surface as store/sqlstore, generalized to plain Go maps behind
// a mutex instead of gorm.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/store"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type Store struct {
	mu        sync.Mutex
	nextSig   int64
	nextLimit int64
	signals   map[int64]*model.Signal
}

func New() *Store {
	return &Store{nextSig: 1, nextLimit: 1, signals: make(map[int64]*model.Signal)}
}

func (s *Store) InsertSignal(ctx context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.ID = s.nextSig
	s.nextSig++
	cp := *sig
	s.signals[cp.ID] = &cp
	sig.ID = cp.ID
	return nil
}

func (s *Store) InsertLimits(ctx context.Context, signalID int64, limits []*model.Limit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return fmt.Errorf("memstore: unknown signal %d", signalID)
	}
	for _, l := range limits {
		l.ID = s.nextLimit
		s.nextLimit++
		l.SignalID = signalID
		cp := *l
		sig.Limits = append(sig.Limits, &cp)
	}
	return nil
}

func (s *Store) GetActiveForTracking(ctx context.Context) ([]*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Signal
	for _, sig := range s.signals {
		if sig.Status.Trackable() {
			out = append(out, cloneSignal(sig))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetByMessage(ctx context.Context, channelID, messageID string) (*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.ChannelID == channelID && sig.MessageID == messageID {
			return cloneSignal(sig), nil
		}
	}
	return nil, fmt.Errorf("memstore: no signal for channel=%s message=%s", channelID, messageID)
}

func (s *Store) findLimit(limitID int64) (*model.Signal, *model.Limit) {
	for _, sig := range s.signals {
		for _, l := range sig.Limits {
			if l.ID == limitID {
				return sig, l
			}
		}
	}
	return nil, nil
}

func (s *Store) MarkLimitHit(ctx context.Context, limitID int64, hitPrice float64, hitAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, l := s.findLimit(limitID)
	if l == nil {
		return fmt.Errorf("memstore: unknown limit %d", limitID)
	}
	price := decimalFromFloat(hitPrice)
	l.Status = model.LimitHit
	l.HitTime = &hitAt
	l.HitPrice = &price
	sig.LimitsHit++
	if l.IsFirst() {
		sig.FirstLimitHitTime = &hitAt
	}
	return nil
}

func (s *Store) MarkApproachingSent(ctx context.Context, limitID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, l := s.findLimit(limitID)
	if l == nil {
		return fmt.Errorf("memstore: unknown limit %d", limitID)
	}
	l.ApproachingAlertSent = true
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, signalID int64, newStatus model.SignalStatus, change model.ChangeType, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return fmt.Errorf("memstore: unknown signal %d", signalID)
	}
	sig.Status = newStatus
	if newStatus.Terminal() {
		sig.ClosedAt = &at
		sig.ClosedReason = reason
	}
	return nil
}

func (s *Store) HitLimitsFor(ctx context.Context, signalID int64) ([]model.Limit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown signal %d", signalID)
	}
	var out []model.Limit
	for _, l := range sig.Limits {
		if l.Status == model.LimitHit {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) ExpireOld(ctx context.Context, now time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sig := range s.signals {
		if !sig.Status.Trackable() || sig.ExpiryTime == nil {
			continue
		}
		if now.After(*sig.ExpiryTime) {
			sig.Status = model.StatusCancelled
			sig.ClosedAt = &now
			sig.ClosedReason = reason
			for _, l := range sig.Limits {
				if l.Status == model.LimitPending {
					l.Status = model.LimitCancelled
				}
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateFromEdit(ctx context.Context, signalID int64, stopLoss *float64, expiryTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[signalID]
	if !ok {
		return fmt.Errorf("memstore: unknown signal %d", signalID)
	}
	if stopLoss != nil {
		sig.StopLoss = decimalFromFloat(*stopLoss)
	}
	if expiryTime != nil {
		sig.ExpiryTime = expiryTime
	}
	return nil
}

func (s *Store) DeleteSignal(ctx context.Context, signalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[signalID]; !ok {
		return fmt.Errorf("memstore: unknown signal %d", signalID)
	}
	delete(s.signals, signalID)
	return nil
}

func (s *Store) ClearAll(ctx context.Context, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sig := range s.signals {
		if sig.Status.Trackable() {
			sig.Status = model.StatusCancelled
			sig.ClosedAt = &at
			sig.ClosedReason = reason
			n++
		}
	}
	return n, nil
}

func cloneSignal(sig *model.Signal) *model.Signal {
	cp := *sig
	cp.Limits = make([]*model.Limit, len(sig.Limits))
	for i, l := range sig.Limits {
		lcp := *l
		cp.Limits[i] = &lcp
	}
	return &cp
}

var _ store.SignalStore = (*Store)(nil)
