package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nori-bridge/internal/model"
	"nori-bridge/pkg/devicetypes"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(port int, kind devicetypes.DeviceKind, v float64, offset time.Duration) *model.Reading {
	return model.NewReading("s-1", port, kind, devicetypes.FormatShort, v, "", base.Add(offset))
}

func TestMemoryRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(10)

	require.NoError(t, repo.Create(ctx, reading(1, devicetypes.KindButton, 1, 0)))
	require.NoError(t, repo.CreateBatch(ctx, []*model.Reading{
		reading(2, devicetypes.KindTemper, 20, time.Second),
		reading(1, devicetypes.KindButton, 0, 2*time.Second),
	}))

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Second), all[0].ReceivedAt)

	port := 1
	onPort, err := repo.List(ctx, &model.ReadingFilter{Port: &port})
	require.NoError(t, err)
	assert.Len(t, onPort, 2)

	kind := int(devicetypes.KindTemper)
	byKind, err := repo.List(ctx, &model.ReadingFilter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "TEMPER", byKind[0].KindName)

	since := base.Add(time.Second)
	recent, err := repo.List(ctx, &model.ReadingFilter{Since: &since, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestMemoryRepository_Capacity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, reading(0, devicetypes.KindVolume, float64(i), time.Duration(i)*time.Second)))
	}

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 4.0, *all[0].Number)
	assert.Equal(t, 3.0, *all[1].Number)
}

func TestMemoryRepository_LatestAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(0)

	_, err := repo.Latest(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Create(ctx, reading(3, devicetypes.KindServo, 10, 0)))
	require.NoError(t, repo.Create(ctx, reading(3, devicetypes.KindServo, 90, time.Minute)))

	latest, err := repo.Latest(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 90.0, *latest.Number)

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	all, _ := repo.List(ctx, nil)
	assert.Len(t, all, 1)
}

func TestNewReading_TextAndNumber(t *testing.T) {
	text := model.NewReading("s", 0, devicetypes.KindAlive, devicetypes.FormatText, 0, "HiNori!", base)
	require.NotNil(t, text.Text)
	assert.Nil(t, text.Number)
	assert.Equal(t, "TEXT", text.FormatName)

	num := model.NewReading("s", 0, devicetypes.KindTemper, devicetypes.FormatFloat, 21.5, "", base)
	require.NotNil(t, num.Number)
	assert.Nil(t, num.Text)
}

func TestBuildListQuery(t *testing.T) {
	query, args := buildListQuery(nil)
	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "LIMIT $1")
	assert.Equal(t, []interface{}{defaultListLimit}, args)

	port, kind := 2, 10
	since := base
	query, args = buildListQuery(&model.ReadingFilter{Port: &port, Kind: &kind, Since: &since, Limit: 5000})
	assert.Contains(t, query, "WHERE port = $1 AND device_kind = $2 AND received_at >= $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Equal(t, []interface{}{2, 10, base, maxListLimit}, args)
}
