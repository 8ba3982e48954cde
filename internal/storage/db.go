package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ytdash/internal/model"
)

// DB interface for database operations
type DB interface {
	Init() error
	// Channel credential operations
	GetChannel(ctx context.Context, id model.ChannelID) (*model.Channel, error)
	UpsertChannel(ctx context.Context, w ChannelWrite) (*model.Channel, error)
	UpdateTokens(ctx context.Context, u TokenUpdate) (bool, error)
	ListChannels(ctx context.Context) ([]*model.Channel, error)
	// Cache operations
	ReplaceVideos(ctx context.Context, id model.ChannelID, videos []model.Video, writtenAt time.Time) error
	GetVideos(ctx context.Context, id model.ChannelID) ([]model.Video, *time.Time, error)
	UpsertDailyMetrics(ctx context.Context, id model.ChannelID, rows []model.DailyMetric, writtenAt time.Time) error
	GetDailyMetrics(ctx context.Context, id model.ChannelID) ([]model.DailyMetric, *time.Time, error)
	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// ChannelWrite carries an insert-or-update of a credential record.
// An empty RefreshTokenEnc keeps whatever refresh token is already stored.
type ChannelWrite struct {
	ChannelID       model.ChannelID
	Title           string
	ThumbnailURL    string
	AccessTokenEnc  string
	RefreshTokenEnc string
	Expiry          *time.Time
	At              time.Time
}

// TokenUpdate replaces the tokens of an existing record, but only while the
// record is still at Version. An empty RefreshTokenEnc keeps the stored one.
type TokenUpdate struct {
	ChannelID       model.ChannelID
	AccessTokenEnc  string
	RefreshTokenEnc string
	Expiry          *time.Time
	Version         int64
	At              time.Time
}

const (
	kindVideos       = "videos"
	kindDailyMetrics = "daily-metrics"
)

// Memory DB
type MemDB struct {
	mu       sync.RWMutex
	channels map[model.ChannelID]*model.Channel
	videos   map[model.ChannelID][]model.Video
	metrics  map[model.ChannelID]map[time.Time]model.DailyMetric
	written  map[string]time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		channels: map[model.ChannelID]*model.Channel{},
		videos:   map[model.ChannelID][]model.Video{},
		metrics:  map[model.ChannelID]map[time.Time]model.DailyMetric{},
		written:  map[string]time.Time{},
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) GetChannel(_ context.Context, id model.ChannelID) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.channels[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) UpsertChannel(_ context.Context, w ChannelWrite) (*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[w.ChannelID]
	if !ok {
		c = &model.Channel{ChannelID: w.ChannelID, CreatedAt: w.At}
		m.channels[w.ChannelID] = c
	}
	c.Title = w.Title
	c.ThumbnailURL = w.ThumbnailURL
	c.AccessTokenEnc = w.AccessTokenEnc
	if w.RefreshTokenEnc != "" {
		c.RefreshTokenEnc = w.RefreshTokenEnc
	}
	c.Expiry = w.Expiry
	c.Version++
	c.LastUpdated = w.At
	cp := *c
	return &cp, nil
}

func (m *MemDB) UpdateTokens(_ context.Context, u TokenUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[u.ChannelID]
	if !ok || c.Version != u.Version {
		return false, nil
	}
	c.AccessTokenEnc = u.AccessTokenEnc
	if u.RefreshTokenEnc != "" {
		c.RefreshTokenEnc = u.RefreshTokenEnc
	}
	c.Expiry = u.Expiry
	c.Version++
	c.LastUpdated = u.At
	return true, nil
}

func (m *MemDB) ListChannels(_ context.Context) ([]*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *MemDB) ReplaceVideos(_ context.Context, id model.ChannelID, videos []model.Video, writtenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id] = append([]model.Video(nil), videos...)
	m.written[cacheKey(id, kindVideos)] = writtenAt
	return nil
}

func (m *MemDB) GetVideos(_ context.Context, id model.ChannelID) ([]model.Video, *time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.written[cacheKey(id, kindVideos)]
	if !ok {
		return nil, nil, nil
	}
	return append([]model.Video(nil), m.videos[id]...), &at, nil
}

func (m *MemDB) UpsertDailyMetrics(_ context.Context, id model.ChannelID, rows []model.DailyMetric, writtenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDay, ok := m.metrics[id]
	if !ok {
		byDay = map[time.Time]model.DailyMetric{}
		m.metrics[id] = byDay
	}
	for _, r := range rows {
		r.Day = model.Day(r.Day)
		byDay[r.Day] = r
	}
	m.written[cacheKey(id, kindDailyMetrics)] = writtenAt
	return nil
}

func (m *MemDB) GetDailyMetrics(_ context.Context, id model.ChannelID) ([]model.DailyMetric, *time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.written[cacheKey(id, kindDailyMetrics)]
	if !ok {
		return nil, nil, nil
	}
	out := make([]model.DailyMetric, 0, len(m.metrics[id]))
	for _, r := range m.metrics[id] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, &at, nil
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error               { return nil }

func cacheKey(id model.ChannelID, kind string) string {
	return kind + ":" + string(id)
}
