package syncjob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type channels []model.ChannelID

func (c channels) List(context.Context) ([]*model.Channel, error) {
	out := make([]*model.Channel, len(c))
	for i, id := range c {
		out[i] = &model.Channel{ChannelID: id}
	}
	return out, nil
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]*model.Channel, error) {
	return nil, errors.New("db down")
}

type call struct {
	id         model.ChannelID
	start, end time.Time
}

type fakeRefresher struct {
	calls     []call
	persisted map[model.ChannelID]int
	fail      map[model.ChannelID]error
	panicOn   model.ChannelID
}

func (f *fakeRefresher) RefreshDailyMetrics(_ context.Context, id model.ChannelID, start, end time.Time) (int, error) {
	f.calls = append(f.calls, call{id, start, end})
	if id == f.panicOn {
		panic("boom")
	}
	if err := f.fail[id]; err != nil {
		return 0, err
	}
	if f.persisted == nil {
		f.persisted = map[model.ChannelID]int{}
	}
	f.persisted[id] += 3
	return 3, nil
}

func newJob(l ChannelLister, r MetricRefresher) *Job {
	j := New(l, r, 3, zap.NewNop())
	j.now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) }
	return j
}

func TestRunOnceIsolatesChannelFailures(t *testing.T) {
	r := &fakeRefresher{fail: map[model.ChannelID]error{"UC2": errors.New("quota exceeded")}}
	report, err := newJob(channels{"UC1", "UC2", "UC3"}, r).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, r.calls, 3)
	require.Equal(t, 3, r.persisted["UC1"])
	require.Equal(t, 3, r.persisted["UC3"])
	require.NotContains(t, r.persisted, model.ChannelID("UC2"))

	require.Equal(t, 3, report.Channels)
	require.Equal(t, 2, report.Refreshed)
	require.Equal(t, 6, report.Rows)
	require.Equal(t, []ChannelFailure{{ChannelID: "UC2", Error: "quota exceeded"}}, report.Failed)
	require.NotEmpty(t, report.RunID)
}

func TestRunOnceTrailingWindow(t *testing.T) {
	r := &fakeRefresher{}
	report, err := newJob(channels{"UC1"}, r).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-03-07", report.Start)
	require.Equal(t, "2026-03-09", report.End)
	require.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), r.calls[0].start)
	require.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), r.calls[0].end)
}

func TestRunOnceRecoversFromPanics(t *testing.T) {
	r := &fakeRefresher{panicOn: "UC1"}
	report, err := newJob(channels{"UC1", "UC2"}, r).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Refreshed)
	require.Len(t, report.Failed, 1)
	require.Contains(t, report.Failed[0].Error, "boom")
}

func TestRunOnceListFailure(t *testing.T) {
	_, err := newJob(failingLister{}, &fakeRefresher{}).RunOnce(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestRunOnceStopsCallingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRefresher{}
	report, err := newJob(channels{"UC1", "UC2"}, r).RunOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, r.calls)
	require.Len(t, report.Failed, 2)
}
