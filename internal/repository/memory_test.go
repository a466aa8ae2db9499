package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracked-mail-relay-go/internal/model"
)

func saveWithWatermark(t *testing.T, s *MemoryStore, messageID string, ts float64) {
	t.Helper()
	rec, err := s.GetOrCreate(context.Background(), messageID)
	require.NoError(t, err)
	rec.AdvanceWatermark(ts)
	require.NoError(t, s.Save(context.Background(), rec))
}

func TestMemoryStoreGetOrCreateIsNotDurable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.GetOrCreate(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, rec.IsNew())

	_, err = s.Get(ctx, "m-1")
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := s.MostRecentByWatermark(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryStoreSaveUpsertsByMessageID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saveWithWatermark(t, s, "m-1", 100)
	saveWithWatermark(t, s, "m-1", 200)

	rec, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, uint(1), rec.ID)
	assert.Equal(t, 200.0, rec.Watermark())

	_, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := model.NewEventRecord("m-1")
	_, err := rec.Events.Insert(model.Event{Timestamp: "5", Kind: model.KindOpened})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, rec))

	_, err = rec.Events.Insert(model.Event{Timestamp: "6", Kind: model.KindOpened})
	require.NoError(t, err)

	stored, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, stored.Events.Keys())
}

func TestMemoryStoreMostRecentByWatermarkAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saveWithWatermark(t, s, "old", 100)
	saveWithWatermark(t, s, "newest", 300)
	saveWithWatermark(t, s, "middle", 200)

	latest, err := s.MostRecentByWatermark(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "newest", latest.MessageID)

	page, total, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "middle", page[0].MessageID)

	page, _, err = s.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}
