package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/sentineldesk/tracker/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	mock.ExpectQuery("SELECT VERSION()").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("8.0.34"))

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	return &Store{db: gormDB}, mock, func() { sqlDB.Close() }
}

func TestInsertSignalExecutesInsideTransaction(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `signals`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sig := &model.Signal{
		MessageID:  "msg-1",
		ChannelID:  "chan-1",
		Instrument: "EURUSD",
		Direction:  model.Long,
		StopLoss:   decimal.NewFromFloat(1.0950),
		Status:     model.StatusActive,
		ExpiryType: model.ExpiryDayEnd,
	}

	if err := store.InsertSignal(context.Background(), sig); err != nil {
		t.Fatalf("InsertSignal failed: %v", err)
	}
	if sig.ID != 1 {
		t.Errorf("expected assigned ID 1, got %d", sig.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransitionStatusRecordsAuditRow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `signals`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "active"))
	mock.ExpectExec("UPDATE `signals`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `status_changes`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.TransitionStatus(context.Background(), 7, model.StatusCancelled, model.ChangeManual, "operator cancel", now)
	if err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
