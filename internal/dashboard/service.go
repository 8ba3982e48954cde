// Package dashboard serves video and daily-metric records for a channel,
// reconciling the cache with live provider data.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrChannelRequired = errors.New("dashboard: channel id required")
	ErrNoAPIKey        = errors.New("dashboard: no API key available")
)

// Provider is the live data source.
type Provider interface {
	HasKey(apiKey string) bool
	FetchVideoList(ctx context.Context, channelID model.ChannelID, apiKey string) ([]model.Video, error)
	FetchDailyMetrics(ctx context.Context, channelID model.ChannelID, tok *oauth2.Token, start, end time.Time) ([]model.DailyMetric, error)
	FetchChannelStats(ctx context.Context, channelID model.ChannelID, apiKey string) (*model.ChannelStats, error)
}

// TokenResolver hands out a usable token or an error.
type TokenResolver interface {
	Resolve(ctx context.Context, channelID model.ChannelID) (*oauth2.Token, error)
}

type Options struct {
	DemoChannelID    model.ChannelID
	MetricsStartDate time.Time
	Now              func() time.Time
}

type Service struct {
	videos    *cache.Reconciler[model.Video]
	metrics   *cache.Reconciler[model.DailyMetric]
	provider  Provider
	tokens    TokenResolver
	demo      model.ChannelID
	startDate time.Time
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(videos *cache.Reconciler[model.Video], metrics *cache.Reconciler[model.DailyMetric], provider Provider, tokens TokenResolver, opts Options, logger *zap.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		videos:    videos,
		metrics:   metrics,
		provider:  provider,
		tokens:    tokens,
		demo:      opts.DemoChannelID,
		startDate: opts.MetricsStartDate,
		now:       now,
		logger:    logger,
	}
}

// GetVideos returns the channel's video list. Without a channel id it serves
// the demo channel's cache and never fetches.
func (s *Service) GetVideos(ctx context.Context, channelID model.ChannelID, apiKey string) []model.Video {
	if channelID == "" {
		return s.demoVideos(ctx)
	}
	var fetch cache.FetchFunc[model.Video]
	if s.provider.HasKey(apiKey) {
		fetch = s.videoFetch(channelID, apiKey)
	}
	return nonNil(s.videos.EnsureFresh(ctx, channelID, fetch))
}

// GetDailyMetrics returns the channel's per-day metrics. The token is only
// resolved when the cache is stale.
func (s *Service) GetDailyMetrics(ctx context.Context, channelID model.ChannelID) []model.DailyMetric {
	if channelID == "" {
		if s.demo == "" {
			return []model.DailyMetric{}
		}
		return nonNil(s.metrics.Read(ctx, s.demo))
	}
	start, end := s.fullWindow()
	return nonNil(s.metrics.EnsureFresh(ctx, channelID, s.metricFetch(channelID, start, end)))
}

// KindResult is the outcome of refreshing one data kind.
type KindResult struct {
	Kind    cache.Kind `json:"kind"`
	Records int        `json:"records"`
	Error   string     `json:"error,omitempty"`
}

type RefreshStatus struct {
	ChannelID model.ChannelID `json:"channel_id"`
	Results   []KindResult    `json:"results"`
}

// Succeeded reports whether at least one kind was refreshed.
func (r *RefreshStatus) Succeeded() bool {
	for _, k := range r.Results {
		if k.Error == "" {
			return true
		}
	}
	return false
}

// Refresh force-refreshes every kind. A failing kind does not undo another
// kind's successful refresh; all failures are joined into the error.
func (s *Service) Refresh(ctx context.Context, channelID model.ChannelID, apiKey string) (*RefreshStatus, error) {
	if channelID == "" {
		return nil, ErrChannelRequired
	}
	status := &RefreshStatus{ChannelID: channelID}
	var errs []error
	record := func(kind cache.Kind, n int, err error) {
		r := KindResult{Kind: kind, Records: n}
		if err != nil {
			r.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
		status.Results = append(status.Results, r)
	}

	if s.provider.HasKey(apiKey) {
		videos, err := s.videos.ForceRefresh(ctx, channelID, s.videoFetch(channelID, apiKey))
		record(cache.Videos, len(videos), err)
	} else {
		record(cache.Videos, 0, ErrNoAPIKey)
	}

	start, end := s.fullWindow()
	n, err := s.RefreshDailyMetrics(ctx, channelID, start, end)
	record(cache.DailyMetrics, n, err)

	s.logger.Info("forced refresh",
		zap.String("channel_id", string(channelID)),
		zap.Bool("succeeded", status.Succeeded()),
		zap.Int("failures", len(errs)))
	return status, errors.Join(errs...)
}

// RefreshDailyMetrics force-refreshes metrics for [start, end] and upserts
// them by day.
func (s *Service) RefreshDailyMetrics(ctx context.Context, channelID model.ChannelID, start, end time.Time) (int, error) {
	rows, err := s.metrics.ForceRefresh(ctx, channelID, s.metricFetch(channelID, start, end))
	return len(rows), err
}

// ChannelStats returns public stats, or a placeholder when they cannot be
// fetched.
func (s *Service) ChannelStats(ctx context.Context, channelID model.ChannelID, apiKey string) *model.ChannelStats {
	if channelID == "" {
		return &model.ChannelStats{ChannelTitle: "Demo channel", ChannelID: "demo"}
	}
	placeholder := &model.ChannelStats{ChannelTitle: "Custom channel", ChannelID: string(channelID)}
	if !s.provider.HasKey(apiKey) {
		return placeholder
	}
	stats, err := s.provider.FetchChannelStats(ctx, channelID, apiKey)
	if err != nil {
		s.logger.Warn("fetching channel stats", zap.String("channel_id", string(channelID)), zap.Error(err))
		return placeholder
	}
	return stats
}

func (s *Service) videoFetch(channelID model.ChannelID, apiKey string) cache.FetchFunc[model.Video] {
	return func(ctx context.Context) ([]model.Video, error) {
		return s.provider.FetchVideoList(ctx, channelID, apiKey)
	}
}

func (s *Service) metricFetch(channelID model.ChannelID, start, end time.Time) cache.FetchFunc[model.DailyMetric] {
	return func(ctx context.Context) ([]model.DailyMetric, error) {
		tok, err := s.tokens.Resolve(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return s.provider.FetchDailyMetrics(ctx, channelID, tok, start, end)
	}
}

// fullWindow spans the configured start date up to yesterday.
func (s *Service) fullWindow() (time.Time, time.Time) {
	end := model.Day(s.now()).AddDate(0, 0, -1)
	start := s.startDate
	if start.IsZero() || start.After(end) {
		start = end
	}
	return start, end
}

func (s *Service) demoVideos(ctx context.Context) []model.Video {
	if s.demo == "" {
		return []model.Video{}
	}
	return nonNil(s.videos.Read(ctx, s.demo))
}

func nonNil[T any](records []T) []T {
	if records == nil {
		return []T{}
	}
	return records
}
