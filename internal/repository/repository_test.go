package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tracked-mail-relay-go/internal/model"
)

var recordColumns = []string{"id", "message_id", "message_delivered", "latest_event", "events_json", "created_at", "updated_at"}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return New(db), mock
}

func TestRepositoryGetOrCreateReturnsExisting(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows(recordColumns).AddRow(
		3, "<m-1@send.example.com>", 200.0, "200.0000",
		`{"200":{"timestamp":200,"event":"delivered","recipient":"a@b.c","message":{"headers":{"message-id":"<m-1@send.example.com>"}}}}`,
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT \\* FROM `event_records` WHERE message_id = \\?").WillReturnRows(rows)

	rec, err := repo.GetOrCreate(context.Background(), "<m-1@send.example.com>")
	require.NoError(t, err)
	assert.False(t, rec.IsNew())
	assert.Equal(t, uint(3), rec.ID)
	assert.Equal(t, 200.0, rec.Watermark())
	require.Len(t, rec.Events, 1)
	assert.Equal(t, model.KindDelivered, rec.Events[0].Event.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetOrCreateReturnsNewWhenMissing(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `event_records` WHERE message_id = \\?").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	rec, err := repo.GetOrCreate(context.Background(), "<new@send.example.com>")
	require.NoError(t, err)
	assert.True(t, rec.IsNew())
	assert.Equal(t, "<new@send.example.com>", rec.MessageID)
	assert.Empty(t, rec.Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetOrCreateDatabaseError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `event_records`").WillReturnError(errors.New("connection reset"))

	_, err := repo.GetOrCreate(context.Background(), "<m-1@send.example.com>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRepositorySaveInsertsNewRecord(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `event_records`").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	rec := model.NewEventRecord("<m-1@send.example.com>")
	_, err := rec.Events.Insert(model.Event{Timestamp: "100", Kind: model.KindAccepted, Recipient: "a@b.c"})
	require.NoError(t, err)
	rec.AdvanceWatermark(100)
	rec.RefreshStatusFlags()

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, uint(7), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMostRecentByWatermark(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows(recordColumns).
		AddRow(9, "<latest@send.example.com>", nil, "1467099125.1234", "{}", time.Now(), time.Now())
	mock.ExpectQuery("SELECT \\* FROM `event_records` WHERE latest_event IS NOT NULL ORDER BY latest_event DESC").
		WillReturnRows(rows)

	rec, err := repo.MostRecentByWatermark(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "<latest@send.example.com>", rec.MessageID)
	assert.InDelta(t, 1467099125.1234, rec.Watermark(), 0.00001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMostRecentByWatermarkEmptyStore(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `event_records`").WillReturnRows(sqlmock.NewRows(recordColumns))

	rec, err := repo.MostRecentByWatermark(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepositoryGetNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `event_records`").WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.Get(context.Background(), "<missing@send.example.com>")
	assert.ErrorIs(t, err, ErrNotFound)
}
