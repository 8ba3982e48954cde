// Package syncjob refreshes recent daily metrics for every known channel.
// It runs once per invocation; scheduling is left to the caller.
package syncjob

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChannelLister interface {
	List(ctx context.Context) ([]*model.Channel, error)
}

type MetricRefresher interface {
	RefreshDailyMetrics(ctx context.Context, channelID model.ChannelID, start, end time.Time) (int, error)
}

type ChannelFailure struct {
	ChannelID model.ChannelID `json:"channel_id"`
	Error     string          `json:"error"`
}

type Report struct {
	RunID     string           `json:"run_id"`
	Start     string           `json:"start"`
	End       string           `json:"end"`
	Channels  int              `json:"channels"`
	Refreshed int              `json:"refreshed"`
	Rows      int              `json:"rows"`
	Failed    []ChannelFailure `json:"failed"`
	Took      time.Duration    `json:"took"`
}

type Job struct {
	channels   ChannelLister
	refresher  MetricRefresher
	windowDays int
	now        func() time.Time
	logger     *zap.Logger
}

func New(channels ChannelLister, refresher MetricRefresher, windowDays int, logger *zap.Logger) *Job {
	if windowDays < 1 {
		windowDays = 1
	}
	return &Job{
		channels:   channels,
		refresher:  refresher,
		windowDays: windowDays,
		now:        time.Now,
		logger:     logger,
	}
}

// Window returns the trailing [today-N, today-1] range.
func (j *Job) Window() (time.Time, time.Time) {
	today := model.Day(j.now())
	return today.AddDate(0, 0, -j.windowDays), today.AddDate(0, 0, -1)
}

// RunOnce sweeps all channels. Per-channel failures are recorded in the
// report; only a failure to list channels is returned as an error.
func (j *Job) RunOnce(ctx context.Context) (*Report, error) {
	began := j.now()
	start, end := j.Window()
	report := &Report{
		RunID:  uuid.NewString(),
		Start:  start.Format(model.DateLayout),
		End:    end.Format(model.DateLayout),
		Failed: []ChannelFailure{},
	}
	logger := j.logger.With(zap.String("run_id", report.RunID))

	channels, err := j.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	report.Channels = len(channels)
	logger.Info("sync started", zap.Int("channels", len(channels)), zap.String("start", report.Start), zap.String("end", report.End))

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, ChannelFailure{ChannelID: ch.ChannelID, Error: err.Error()})
			continue
		}
		n, err := j.refreshOne(ctx, ch.ChannelID, start, end)
		if err != nil {
			logger.Warn("sync failed for channel", zap.String("channel_id", string(ch.ChannelID)), zap.Error(err))
			report.Failed = append(report.Failed, ChannelFailure{ChannelID: ch.ChannelID, Error: err.Error()})
			continue
		}
		report.Refreshed++
		report.Rows += n
	}

	report.Took = j.now().Sub(began)
	logger.Info("sync finished",
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", len(report.Failed)),
		zap.Int("rows", report.Rows),
		zap.Duration("took", report.Took))
	return report, nil
}

func (j *Job) refreshOne(ctx context.Context, id model.ChannelID, start, end time.Time) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.refresher.RefreshDailyMetrics(ctx, id, start, end)
}
