package model

import (
	"encoding/json"
	"time"
)

const DateLayout = "2006-01-02"

// DailyMetric holds the analytics counters of one channel for one day.
// Day is always a UTC midnight.
type DailyMetric struct {
	Day         time.Time
	Views       int64
	Likes       int64
	Comments    int64
	Subscribers int64
}

type dailyMetricJSON struct {
	Day         string `json:"day"`
	Views       int64  `json:"views"`
	Likes       int64  `json:"likes"`
	Comments    int64  `json:"comments"`
	Subscribers int64  `json:"subscribers"`
}

func (m DailyMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal(dailyMetricJSON{
		Day:         m.Day.UTC().Format(DateLayout),
		Views:       m.Views,
		Likes:       m.Likes,
		Comments:    m.Comments,
		Subscribers: m.Subscribers,
	})
}

func (m *DailyMetric) UnmarshalJSON(b []byte) error {
	var in dailyMetricJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	day, err := ParseDay(in.Day)
	if err != nil {
		return err
	}
	*m = DailyMetric{
		Day:         day,
		Views:       in.Views,
		Likes:       in.Likes,
		Comments:    in.Comments,
		Subscribers: in.Subscribers,
	}
	return nil
}

// ParseDay parses a YYYY-MM-DD date as UTC midnight.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
