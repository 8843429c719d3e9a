// Package sqlstore is the production SignalStore backend: gorm over MySQL.
// Grounded on ChoSanghyuk-blackholedex's internal/db.MySQLRecorder for the
// gorm.Open/AutoMigrate/record-struct pattern, generalized from a single
// append-only snapshot table to the Signal/Limit/StatusChange schema
// spec.md §4.10 requires.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/store"
)

// signalRecord is the gorm model for the signals table.
type signalRecord struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	MessageID         string `gorm:"index;not null"`
	ChannelID         string `gorm:"index;not null"`
	Instrument        string `gorm:"index;not null"`
	Direction         string `gorm:"not null"`
	StopLoss          string `gorm:"type:varchar(40);not null"`
	Status            string `gorm:"index;not null"`
	ExpiryType        string `gorm:"not null"`
	ExpiryTime        *time.Time
	TotalLimits       int
	LimitsHit         int
	FirstLimitHitTime *time.Time
	ClosedAt          *time.Time
	ClosedReason      string
	Scalp             bool
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`

	Limits []limitRecord `gorm:"foreignKey:SignalID"`
}

func (signalRecord) TableName() string { return "signals" }

type limitRecord struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	SignalID             uint   `gorm:"index;not null"`
	SequenceNumber       int    `gorm:"not null"`
	PriceLevel           string `gorm:"type:varchar(40);not null"`
	Status               string `gorm:"index;not null"`
	HitTime              *time.Time
	HitPrice             *string `gorm:"type:varchar(40)"`
	ApproachingAlertSent bool
	HitAlertSent         bool
}

func (limitRecord) TableName() string { return "limits" }

type statusChangeRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SignalID   uint   `gorm:"index;not null"`
	OldStatus  string `gorm:"not null"`
	NewStatus  string `gorm:"not null"`
	ChangeType string `gorm:"not null"`
	Reason     string
	ChangedAt  time.Time `gorm:"index;not null"`
}

func (statusChangeRecord) TableName() string { return "status_changes" }

// Store is the gorm/MySQL-backed SignalStore.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn ("user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local")
// and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	if err := db.AutoMigrate(&signalRecord{}, &limitRecord{}, &statusChangeRecord{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func OpenWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&signalRecord{}, &limitRecord{}, &statusChangeRecord{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlstore: underlying db: %w", err)
	}
	return sqlDB.Close()
}

func toRecord(sig *model.Signal) signalRecord {
	r := signalRecord{
		MessageID:    sig.MessageID,
		ChannelID:    sig.ChannelID,
		Instrument:   sig.Instrument,
		Direction:    string(sig.Direction),
		StopLoss:     sig.StopLoss.String(),
		Status:       string(sig.Status),
		ExpiryType:   string(sig.ExpiryType),
		ExpiryTime:   sig.ExpiryTime,
		TotalLimits:  sig.TotalLimits,
		LimitsHit:    sig.LimitsHit,
		ClosedAt:     sig.ClosedAt,
		ClosedReason: sig.ClosedReason,
		Scalp:        sig.Scalp,
	}
	return r
}

func fromRecord(r signalRecord) *model.Signal {
	sl, _ := decimal.NewFromString(r.StopLoss)
	sig := &model.Signal{
		ID:                int64(r.ID),
		MessageID:         r.MessageID,
		ChannelID:         r.ChannelID,
		Instrument:        r.Instrument,
		Direction:         model.Direction(r.Direction),
		StopLoss:          sl,
		Status:            model.SignalStatus(r.Status),
		ExpiryType:        model.ExpiryType(r.ExpiryType),
		ExpiryTime:        r.ExpiryTime,
		TotalLimits:       r.TotalLimits,
		LimitsHit:         r.LimitsHit,
		FirstLimitHitTime: r.FirstLimitHitTime,
		ClosedAt:          r.ClosedAt,
		ClosedReason:      r.ClosedReason,
		Scalp:             r.Scalp,
	}
	for _, lr := range r.Limits {
		sig.Limits = append(sig.Limits, fromLimitRecord(lr))
	}
	return sig
}

func fromLimitRecord(r limitRecord) *model.Limit {
	pl, _ := decimal.NewFromString(r.PriceLevel)
	l := &model.Limit{
		ID:                   int64(r.ID),
		SignalID:             int64(r.SignalID),
		SequenceNumber:       r.SequenceNumber,
		PriceLevel:           pl,
		Status:               model.LimitStatus(r.Status),
		HitTime:              r.HitTime,
		ApproachingAlertSent: r.ApproachingAlertSent,
		HitAlertSent:         r.HitAlertSent,
	}
	if r.HitPrice != nil {
		hp, _ := decimal.NewFromString(*r.HitPrice)
		l.HitPrice = &hp
	}
	return l
}

func (s *Store) InsertSignal(ctx context.Context, sig *model.Signal) error {
	r := toRecord(sig)
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("sqlstore: insert signal: %w", err)
	}
	sig.ID = int64(r.ID)
	return nil
}

func (s *Store) InsertLimits(ctx context.Context, signalID int64, limits []*model.Limit) error {
	records := make([]limitRecord, 0, len(limits))
	for _, l := range limits {
		records = append(records, limitRecord{
			SignalID:       uint(signalID),
			SequenceNumber: l.SequenceNumber,
			PriceLevel:     l.PriceLevel.String(),
			Status:         string(model.LimitPending),
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("sqlstore: insert limits: %w", err)
	}
	for i, r := range records {
		limits[i].ID = int64(r.ID)
		limits[i].SignalID = signalID
		limits[i].Status = model.LimitPending
	}
	return nil
}

func (s *Store) GetActiveForTracking(ctx context.Context) ([]*model.Signal, error) {
	trackable := []string{string(model.StatusActive), string(model.StatusHit)}
	var records []signalRecord
	if err := s.db.WithContext(ctx).Preload("Limits").Where("status IN ?", trackable).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: get active: %w", err)
	}
	out := make([]*model.Signal, 0, len(records))
	for _, r := range records {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func (s *Store) GetByMessage(ctx context.Context, channelID, messageID string) (*model.Signal, error) {
	var r signalRecord
	err := s.db.WithContext(ctx).Preload("Limits").
		Where("channel_id = ? AND message_id = ?", channelID, messageID).
		First(&r).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get by message: %w", err)
	}
	return fromRecord(r), nil
}

func (s *Store) MarkLimitHit(ctx context.Context, limitID int64, hitPrice float64, hitAt time.Time) error {
	priceStr := decimal.NewFromFloat(hitPrice).String()
	tx := s.db.WithContext(ctx)
	res := tx.Model(&limitRecord{}).Where("id = ?", limitID).Updates(map[string]any{
		"status":    string(model.LimitHit),
		"hit_time":  hitAt,
		"hit_price": priceStr,
	})
	if res.Error != nil {
		return fmt.Errorf("sqlstore: mark limit hit: %w", res.Error)
	}

	var lr limitRecord
	if err := tx.First(&lr, limitID).Error; err != nil {
		return fmt.Errorf("sqlstore: reload limit: %w", err)
	}
	updates := map[string]any{"limits_hit": gorm.Expr("limits_hit + 1")}
	if lr.SequenceNumber == 1 {
		updates["first_limit_hit_time"] = hitAt
	}
	if err := tx.Model(&signalRecord{}).Where("id = ?", lr.SignalID).Updates(updates).Error; err != nil {
		return fmt.Errorf("sqlstore: bump limits_hit: %w", err)
	}
	return nil
}

func (s *Store) MarkApproachingSent(ctx context.Context, limitID int64) error {
	err := s.db.WithContext(ctx).Model(&limitRecord{}).Where("id = ?", limitID).
		Update("approaching_alert_sent", true).Error
	if err != nil {
		return fmt.Errorf("sqlstore: mark approaching: %w", err)
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, signalID int64, newStatus model.SignalStatus, change model.ChangeType, reason string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur signalRecord
		if err := tx.First(&cur, signalID).Error; err != nil {
			return fmt.Errorf("sqlstore: load signal: %w", err)
		}

		updates := map[string]any{"status": string(newStatus)}
		if newStatus.Terminal() {
			updates["closed_at"] = at
			updates["closed_reason"] = reason
		}
		if err := tx.Model(&signalRecord{}).Where("id = ?", signalID).Updates(updates).Error; err != nil {
			return fmt.Errorf("sqlstore: update status: %w", err)
		}

		rec := statusChangeRecord{
			SignalID:   uint(signalID),
			OldStatus:  cur.Status,
			NewStatus:  string(newStatus),
			ChangeType: string(change),
			Reason:     reason,
			ChangedAt:  at,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("sqlstore: record status change: %w", err)
		}
		return nil
	})
}

func (s *Store) HitLimitsFor(ctx context.Context, signalID int64) ([]model.Limit, error) {
	var records []limitRecord
	err := s.db.WithContext(ctx).
		Where("signal_id = ? AND status = ?", signalID, string(model.LimitHit)).
		Order("sequence_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: hit limits: %w", err)
	}
	out := make([]model.Limit, 0, len(records))
	for _, r := range records {
		out = append(out, *fromLimitRecord(r))
	}
	return out, nil
}

func (s *Store) ExpireOld(ctx context.Context, now time.Time, reason string) (int, error) {
	res := s.db.WithContext(ctx).Model(&signalRecord{}).
		Where("status IN ? AND expiry_time IS NOT NULL AND expiry_time < ?",
			[]string{string(model.StatusActive), string(model.StatusHit)}, now).
		Updates(map[string]any{
			"status":        string(model.StatusCancelled),
			"closed_at":     now,
			"closed_reason": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlstore: expire old: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) UpdateFromEdit(ctx context.Context, signalID int64, stopLoss *float64, expiryTime *time.Time) error {
	updates := map[string]any{}
	if stopLoss != nil {
		updates["stop_loss"] = decimal.NewFromFloat(*stopLoss).String()
	}
	if expiryTime != nil {
		updates["expiry_time"] = *expiryTime
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&signalRecord{}).Where("id = ?", signalID).Updates(updates).Error; err != nil {
		return fmt.Errorf("sqlstore: update from edit: %w", err)
	}
	return nil
}

func (s *Store) DeleteSignal(ctx context.Context, signalID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("signal_id = ?", signalID).Delete(&limitRecord{}).Error; err != nil {
			return fmt.Errorf("sqlstore: delete limits: %w", err)
		}
		if err := tx.Delete(&signalRecord{}, signalID).Error; err != nil {
			return fmt.Errorf("sqlstore: delete signal: %w", err)
		}
		return nil
	})
}

func (s *Store) ClearAll(ctx context.Context, reason string, at time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&signalRecord{}).
		Where("status IN ?", []string{string(model.StatusActive), string(model.StatusHit)}).
		Updates(map[string]any{
			"status":        string(model.StatusCancelled),
			"closed_at":     at,
			"closed_reason": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlstore: clear all: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

var _ store.SignalStore = (*Store)(nil)
