package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMemoryDB(t *testing.T) {
	runDBSuite(t, NewMemoryDB())
}

func TestSQLiteDB(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "ytdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	runDBSuite(t, db)
}

func TestSQLiteDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ytdash.db")
	db, err := NewSQLiteDB(path)
	require.NoError(t, err)
	_, err = db.UpsertChannel(context.Background(), ChannelWrite{ChannelID: "UC1", Title: "One", AccessTokenEnc: "a", RefreshTokenEnc: "r", At: t0})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLiteDB(path)
	require.NoError(t, err)
	defer db.Close()
	c, err := db.GetChannel(context.Background(), "UC1")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, "r", c.RefreshTokenEnc)
}

// runDBSuite exercises behavior every adapter must share.
func runDBSuite(t *testing.T, db DB) {
	ctx := context.Background()

	t.Run("missing channel", func(t *testing.T) {
		c, err := db.GetChannel(ctx, "UCmissing")
		require.NoError(t, err)
		require.Nil(t, c)
	})

	t.Run("upsert keeps refresh token", func(t *testing.T) {
		exp := t0.Add(time.Hour)
		c, err := db.UpsertChannel(ctx, ChannelWrite{
			ChannelID: "UCabc", Title: "First", ThumbnailURL: "https://img/1",
			AccessTokenEnc: "acc-1", RefreshTokenEnc: "ref-1", Expiry: &exp, At: t0,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), c.Version)
		require.Equal(t, "ref-1", c.RefreshTokenEnc)
		require.WithinDuration(t, t0, c.CreatedAt, 0)

		later := t0.Add(2 * time.Hour)
		c, err = db.UpsertChannel(ctx, ChannelWrite{
			ChannelID: "UCabc", Title: "Renamed", AccessTokenEnc: "acc-2", At: later,
		})
		require.NoError(t, err)
		require.Equal(t, "Renamed", c.Title)
		require.Equal(t, "acc-2", c.AccessTokenEnc)
		require.Equal(t, "ref-1", c.RefreshTokenEnc)
		require.Nil(t, c.Expiry)
		require.Equal(t, int64(2), c.Version)
		require.WithinDuration(t, t0, c.CreatedAt, 0)
		require.WithinDuration(t, later, c.LastUpdated, 0)
	})

	t.Run("token update is conditional on version", func(t *testing.T) {
		c, err := db.GetChannel(ctx, "UCabc")
		require.NoError(t, err)

		exp := t0.Add(3 * time.Hour)
		ok, err := db.UpdateTokens(ctx, TokenUpdate{ChannelID: "UCabc", AccessTokenEnc: "stale", Expiry: &exp, Version: c.Version - 1, At: t0})
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = db.UpdateTokens(ctx, TokenUpdate{ChannelID: "UCabc", AccessTokenEnc: "acc-3", Expiry: &exp, Version: c.Version, At: t0})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := db.GetChannel(ctx, "UCabc")
		require.NoError(t, err)
		require.Equal(t, "acc-3", got.AccessTokenEnc)
		require.Equal(t, "ref-1", got.RefreshTokenEnc)
		require.NotNil(t, got.Expiry)
		require.WithinDuration(t, exp, *got.Expiry, 0)
		require.Equal(t, c.Version+1, got.Version)

		ok, err = db.UpdateTokens(ctx, TokenUpdate{ChannelID: "UCnobody", AccessTokenEnc: "x", Version: 1, At: t0})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("list channels", func(t *testing.T) {
		_, err := db.UpsertChannel(ctx, ChannelWrite{ChannelID: "UCaaa", Title: "A", AccessTokenEnc: "x", At: t0})
		require.NoError(t, err)
		list, err := db.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, model.ChannelID("UCaaa"), list[0].ChannelID)
		require.Equal(t, model.ChannelID("UCabc"), list[1].ChannelID)
	})

	t.Run("videos replace", func(t *testing.T) {
		videos, at, err := db.GetVideos(ctx, "UCabc")
		require.NoError(t, err)
		require.Nil(t, at)
		require.Empty(t, videos)

		first := []model.Video{
			{VideoID: "v2", Title: "Second", PublishedAt: t0, Views: 10, Likes: 2, Comments: 1, Duration: "PT1M"},
			{VideoID: "v1", Title: "First", PublishedAt: t0.Add(-time.Hour), Views: 5},
		}
		require.NoError(t, db.ReplaceVideos(ctx, "UCabc", first, t0))
		videos, at, err = db.GetVideos(ctx, "UCabc")
		require.NoError(t, err)
		require.NotNil(t, at)
		require.WithinDuration(t, t0, *at, 0)
		require.Len(t, videos, 2)
		require.Equal(t, "v2", videos[0].VideoID)
		require.Equal(t, int64(10), videos[0].Views)
		require.Equal(t, "PT1M", videos[0].Duration)
		require.WithinDuration(t, t0, videos[0].PublishedAt, 0)

		require.NoError(t, db.ReplaceVideos(ctx, "UCabc", []model.Video{{VideoID: "v3", Title: "Third"}}, t0.Add(time.Hour)))
		videos, at, err = db.GetVideos(ctx, "UCabc")
		require.NoError(t, err)
		require.Len(t, videos, 1)
		require.Equal(t, "v3", videos[0].VideoID)
		require.WithinDuration(t, t0.Add(time.Hour), *at, 0)
	})

	t.Run("empty video list still stamps the entry", func(t *testing.T) {
		require.NoError(t, db.ReplaceVideos(ctx, "UCaaa", nil, t0))
		videos, at, err := db.GetVideos(ctx, "UCaaa")
		require.NoError(t, err)
		require.NotNil(t, at)
		require.Empty(t, videos)
	})

	t.Run("daily metrics upsert by day", func(t *testing.T) {
		require.NoError(t, db.UpsertDailyMetrics(ctx, "UCabc", []model.DailyMetric{
			{Day: day("2026-02-27"), Views: 1},
			{Day: day("2026-02-26"), Views: 2},
		}, t0))
		require.NoError(t, db.UpsertDailyMetrics(ctx, "UCabc", []model.DailyMetric{
			{Day: day("2026-02-27"), Views: 10, Likes: 1, Comments: 2, Subscribers: 3},
			{Day: day("2026-02-28"), Views: 4},
		}, t0.Add(time.Hour)))

		rows, at, err := db.GetDailyMetrics(ctx, "UCabc")
		require.NoError(t, err)
		require.WithinDuration(t, t0.Add(time.Hour), *at, 0)
		require.Len(t, rows, 3)
		require.True(t, rows[0].Day.Equal(day("2026-02-26")))
		require.Equal(t, model.DailyMetric{Day: day("2026-02-27"), Views: 10, Likes: 1, Comments: 2, Subscribers: 3}, rows[1])
		require.Equal(t, int64(4), rows[2].Views)

		rows, at, err = db.GetDailyMetrics(ctx, "UCaaa")
		require.NoError(t, err)
		require.Nil(t, at)
		require.Empty(t, rows)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, db.Ping(ctx))
	})
}

func TestDBStoresAdaptToCache(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	vs := VideoStore{DB: db}
	e, err := vs.Get(ctx, "UC1")
	require.NoError(t, err)
	require.Nil(t, e)

	require.NoError(t, vs.Put(ctx, "UC1", []model.Video{{VideoID: "v1"}}, t0))
	e, err = vs.Get(ctx, "UC1")
	require.NoError(t, err)
	require.Equal(t, t0, e.WrittenAt)
	require.Equal(t, "v1", e.Records[0].VideoID)

	ms := DailyMetricStore{DB: db}
	require.NoError(t, ms.Put(ctx, "UC1", []model.DailyMetric{{Day: day("2026-01-01"), Views: 3}}, t0))
	me, err := ms.Get(ctx, "UC1")
	require.NoError(t, err)
	require.Len(t, me.Records, 1)
}
