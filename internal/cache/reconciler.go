// Package cache decides per request whether cached records are served as-is
// or refreshed from the provider first.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Kind string

const (
	Videos       Kind = "videos"
	DailyMetrics Kind = "daily-metrics"
)

// ErrFetchFailed wraps any error returned by a fetch function.
var ErrFetchFailed = errors.New("cache: fetch failed")

// Entry is the last persisted result set for one (channel, kind) pair.
type Entry[T any] struct {
	Records   []T
	WrittenAt time.Time
}

// Store persists entries of a single kind. Get returns nil, nil when the
// channel has no entry yet. Put either replaces the whole payload or upserts
// it, depending on the kind; either way it stamps writtenAt on the entry.
type Store[T any] interface {
	Get(ctx context.Context, channelID model.ChannelID) (*Entry[T], error)
	Put(ctx context.Context, channelID model.ChannelID, records []T, writtenAt time.Time) error
}

// FetchFunc performs one live fetch for a channel.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type Reconciler[T any] struct {
	kind   Kind
	store  Store[T]
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger
	group  singleflight.Group
}

// New returns a reconciler for one kind. A maxAge of zero means an existing
// entry never goes stale.
func New[T any](kind Kind, store Store[T], maxAge time.Duration, logger *zap.Logger, opts ...Option) *Reconciler[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reconciler[T]{
		kind:   kind,
		store:  store,
		maxAge: maxAge,
		now:    o.now,
		logger: logger.With(zap.String("kind", string(kind))),
	}
}

func (r *Reconciler[T]) Kind() Kind { return r.kind }

// Read returns the cached records, or nil when there are none or the entry
// cannot be decoded.
func (r *Reconciler[T]) Read(ctx context.Context, channelID model.ChannelID) []T {
	entry := r.load(ctx, channelID)
	if entry == nil {
		return nil
	}
	return entry.Records
}

// EnsureFresh serves a fresh cache entry untouched. Otherwise it runs fetch
// (nil means no live capability), persists a non-empty result and returns it.
// Any failure falls back to whatever is cached.
func (r *Reconciler[T]) EnsureFresh(ctx context.Context, channelID model.ChannelID, fetch FetchFunc[T]) []T {
	entry := r.load(ctx, channelID)
	if entry != nil && r.fresh(entry) {
		return entry.Records
	}
	if fetch == nil {
		return cached(entry)
	}

	r.logger.Info("cache miss, fetching live data",
		zap.String("channel_id", string(channelID)),
		zap.Bool("stale", entry != nil))

	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(string(channelID), func() (any, error) {
		return r.fetchAndPersist(shared, channelID, fetch, false)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return cached(entry)
	case res = <-ch:
	}
	if res.Err != nil {
		r.logger.Warn("live fetch failed, serving cache",
			zap.String("channel_id", string(channelID)), zap.Error(res.Err))
		return cached(entry)
	}
	records := res.Val.([]T)
	if len(records) == 0 {
		r.logger.Info("live fetch returned nothing, serving cache",
			zap.String("channel_id", string(channelID)))
		return cached(entry)
	}
	return records
}

// ForceRefresh always fetches and persists, and reports fetch or persist
// errors to the caller. An empty result is persisted too.
func (r *Reconciler[T]) ForceRefresh(ctx context.Context, channelID model.ChannelID, fetch FetchFunc[T]) ([]T, error) {
	return r.fetchAndPersist(ctx, channelID, fetch, true)
}

func (r *Reconciler[T]) fetchAndPersist(ctx context.Context, channelID model.ChannelID, fetch FetchFunc[T], persistEmpty bool) ([]T, error) {
	records, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s for %s: %w", ErrFetchFailed, r.kind, channelID, err)
	}
	if len(records) == 0 && !persistEmpty {
		return records, nil
	}
	if err := r.store.Put(ctx, channelID, records, r.now()); err != nil {
		return nil, fmt.Errorf("persist %s for %s: %w", r.kind, channelID, err)
	}
	r.logger.Info("cache updated",
		zap.String("channel_id", string(channelID)), zap.Int("records", len(records)))
	return records, nil
}

func (r *Reconciler[T]) load(ctx context.Context, channelID model.ChannelID) *Entry[T] {
	entry, err := r.store.Get(ctx, channelID)
	if err != nil {
		r.logger.Error("reading cache entry", zap.String("channel_id", string(channelID)), zap.Error(err))
		return nil
	}
	return entry
}

func (r *Reconciler[T]) fresh(entry *Entry[T]) bool {
	if r.maxAge <= 0 {
		return true
	}
	return r.now().Sub(entry.WrittenAt) < r.maxAge
}

func cached[T any](entry *Entry[T]) []T {
	if entry == nil {
		return nil
	}
	return entry.Records
}
