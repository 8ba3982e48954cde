package storage

import (
	"context"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/model"
)

// VideoStore keeps the video list cache in the relational database.
// A Put replaces the whole list.
type VideoStore struct{ DB DB }

var _ cache.Store[model.Video] = VideoStore{}

func (s VideoStore) Get(ctx context.Context, id model.ChannelID) (*cache.Entry[model.Video], error) {
	videos, at, err := s.DB.GetVideos(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get", Entity: kindVideos, ID: string(id), Err: err}
	}
	if at == nil {
		return nil, nil
	}
	return &cache.Entry[model.Video]{Records: videos, WrittenAt: *at}, nil
}

func (s VideoStore) Put(ctx context.Context, id model.ChannelID, videos []model.Video, writtenAt time.Time) error {
	if err := s.DB.ReplaceVideos(ctx, id, videos, writtenAt); err != nil {
		return &StorageError{Op: "put", Entity: kindVideos, ID: string(id), Err: err}
	}
	return nil
}

// DailyMetricStore keeps daily metrics in the relational database. A Put
// upserts by (channel, day), so days outside the fetched window survive.
type DailyMetricStore struct{ DB DB }

var _ cache.Store[model.DailyMetric] = DailyMetricStore{}

func (s DailyMetricStore) Get(ctx context.Context, id model.ChannelID) (*cache.Entry[model.DailyMetric], error) {
	rows, at, err := s.DB.GetDailyMetrics(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get", Entity: kindDailyMetrics, ID: string(id), Err: err}
	}
	if at == nil {
		return nil, nil
	}
	return &cache.Entry[model.DailyMetric]{Records: rows, WrittenAt: *at}, nil
}

func (s DailyMetricStore) Put(ctx context.Context, id model.ChannelID, rows []model.DailyMetric, writtenAt time.Time) error {
	if err := s.DB.UpsertDailyMetrics(ctx, id, rows, writtenAt); err != nil {
		return &StorageError{Op: "put", Entity: kindDailyMetrics, ID: string(id), Err: err}
	}
	return nil
}
