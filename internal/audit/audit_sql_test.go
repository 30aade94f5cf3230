package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"admoderation/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	return NewStore(db), mock
}

func sampleEvent() model.DecisionEvent {
	return model.DecisionEvent{
		EventID:   "e-1",
		AdID:      7,
		Action:    model.KindApprove,
		Status:    model.StatusApproved,
		DecidedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPersist_IgnoresDuplicateEventID(t *testing.T) {
	s, mock := newMockStore(t)

	insert := "INSERT INTO `decision_records` .* ON DUPLICATE KEY UPDATE `id`=`id`"
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(1, 1))
	// 重复事件命中唯一索引，MySQL 报告 0 行受影响。
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Persist(context.Background(), sampleEvent()))
	require.NoError(t, s.Persist(context.Background(), sampleEvent()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_WrapsDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO `decision_records`").WillReturnError(errors.New("connection reset"))

	err := s.Persist(context.Background(), sampleEvent())
	require.ErrorContains(t, err, "persist decision e-1")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	s, mock := newMockStore(t)

	newer := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	older := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event_id", "ad_id", "action", "status", "decided_at"}).
		AddRow(2, "e-2", 7, "reject", "rejected", newer).
		AddRow(1, "e-1", 7, "approve", "approved", older)
	mock.ExpectQuery("SELECT \\* FROM `decision_records` WHERE ad_id = \\? ORDER BY decided_at DESC LIMIT (\\?|2)").
		WillReturnRows(rows)

	records, err := s.History(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "e-2", records[0].EventID)
	require.True(t, records[0].DecidedAt.Equal(newer))
	require.Equal(t, "e-1", records[1].EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_DefaultLimitAndEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("WHERE ad_id = \\? ORDER BY decided_at DESC LIMIT (\\?|50)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id"}))

	records, err := s.History(context.Background(), 9, 0)
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_WrapsDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("table missing"))

	_, err := s.History(context.Background(), 7, 10)
	require.ErrorContains(t, err, "load history")
	require.NoError(t, mock.ExpectationsWereMet())
}
