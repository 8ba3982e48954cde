package youtube

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/youtubeanalytics/v2"
)

const dailyMetrics = "views,likes,comments,subscribersGained"

// FetchDailyMetrics queries the per-day report for [start, end], both
// inclusive calendar days.
func (c *Client) FetchDailyMetrics(ctx context.Context, channelID model.ChannelID, tok *oauth2.Token, start, end time.Time) ([]model.DailyMetric, error) {
	svc, err := c.reportsService(ctx, tok)
	if err != nil {
		return nil, &FetchError{Op: "reports.query", ChannelID: channelID, Err: err}
	}
	resp, err := svc.Reports.Query().
		Ids("channel==" + string(channelID)).
		StartDate(start.Format(model.DateLayout)).
		EndDate(end.Format(model.DateLayout)).
		Metrics(dailyMetrics).
		Dimensions("day").
		Sort("day").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fetchErr("reports.query", channelID, err)
	}
	rows, err := parseReport(resp)
	if err != nil {
		return nil, &FetchError{Op: "reports.query", ChannelID: channelID, Err: err}
	}
	c.logger.Info("fetched daily metrics",
		zap.String("channel_id", string(channelID)),
		zap.String("start", start.Format(model.DateLayout)),
		zap.String("end", end.Format(model.DateLayout)),
		zap.Int("days", len(rows)))
	return rows, nil
}

// parseReport maps report rows by column name. Unknown columns are ignored
// and missing counters stay zero.
func parseReport(resp *youtubeanalytics.QueryResponse) ([]model.DailyMetric, error) {
	cols := make(map[string]int, len(resp.ColumnHeaders))
	for i, h := range resp.ColumnHeaders {
		cols[h.Name] = i
	}
	dayCol, ok := cols["day"]
	if !ok && len(resp.Rows) > 0 {
		return nil, fmt.Errorf("report has no day column")
	}

	out := make([]model.DailyMetric, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if dayCol >= len(row) {
			return nil, fmt.Errorf("short report row")
		}
		s, ok := row[dayCol].(string)
		if !ok {
			return nil, fmt.Errorf("day column is %T", row[dayCol])
		}
		day, err := model.ParseDay(s)
		if err != nil {
			return nil, fmt.Errorf("day column: %w", err)
		}
		m := model.DailyMetric{Day: day}
		for name, dst := range map[string]*int64{
			"views":             &m.Views,
			"likes":             &m.Likes,
			"comments":          &m.Comments,
			"subscribersGained": &m.Subscribers,
		} {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				continue
			}
			v, err := toInt(row[i])
			if err != nil {
				return nil, fmt.Errorf("%s column: %w", name, err)
			}
			*dst = v
		}
		out = append(out, m)
	}
	return out, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected value %T", v)
}
