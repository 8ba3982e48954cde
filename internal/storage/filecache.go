package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/model"
)

const lockTimeout = 5 * time.Second

var channelKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MergeFunc combines the stored records with a freshly fetched batch.
// A nil MergeFunc means the batch replaces the stored records.
type MergeFunc[T any] func(stored, fetched []T) []T

// FileCache keeps one JSON document per channel under dir/kind.
type FileCache[T any] struct {
	dir   string
	kind  string
	merge MergeFunc[T]
	mu    sync.Mutex
}

type fileEntry[T any] struct {
	WrittenAt time.Time `json:"written_at"`
	Records   []T       `json:"records"`
}

func NewFileCache[T any](dir, kind string, merge MergeFunc[T]) *FileCache[T] {
	return &FileCache[T]{dir: filepath.Join(dir, kind), kind: kind, merge: merge}
}

var (
	_ cache.Store[model.Video]       = (*FileCache[model.Video])(nil)
	_ cache.Store[model.DailyMetric] = (*FileCache[model.DailyMetric])(nil)
)

func (c *FileCache[T]) Get(_ context.Context, id model.ChannelID) (*cache.Entry[T], error) {
	path, err := c.path(id)
	if err != nil {
		return nil, err
	}
	e, err := c.read(path)
	if err != nil || e == nil {
		return nil, err
	}
	return &cache.Entry[T]{Records: e.Records, WrittenAt: e.WrittenAt}, nil
}

func (c *FileCache[T]) Put(_ context.Context, id model.ChannelID, records []T, writtenAt time.Time) error {
	path, err := c.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	lock := NewFileLock(path)
	if err := lock.Lock(lockTimeout); err != nil {
		return err
	}
	defer lock.Unlock()

	if c.merge != nil {
		prev, err := c.read(path)
		if err != nil && !errors.Is(err, errCorruptEntry) {
			return err
		}
		if prev != nil {
			records = c.merge(prev.Records, records)
		}
	}

	w, err := NewAtomicWriter(path)
	if err != nil {
		return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: err}
	}
	if err := json.NewEncoder(w).Encode(fileEntry[T]{WrittenAt: writtenAt.UTC(), Records: records}); err != nil {
		w.Abort()
		return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: err}
	}
	if err := w.Commit(); err != nil {
		return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: err}
	}
	return nil
}

var errCorruptEntry = errors.New("corrupt cache entry")

func (c *FileCache[T]) read(path string) (*fileEntry[T], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get", Entity: c.kind, ID: filepath.Base(path), Err: err}
	}
	var e fileEntry[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &StorageError{Op: "get", Entity: c.kind, ID: filepath.Base(path), Err: errors.Join(errCorruptEntry, err)}
	}
	return &e, nil
}

func (c *FileCache[T]) path(id model.ChannelID) (string, error) {
	if !channelKeyPattern.MatchString(string(id)) {
		return "", &StorageError{Op: "key", Entity: c.kind, ID: string(id), Err: ErrInvalidKey}
	}
	return filepath.Join(c.dir, string(id)+".json"), nil
}

// MergeDailyMetrics upserts fetched rows into stored ones by day and keeps
// the result sorted.
func MergeDailyMetrics(stored, fetched []model.DailyMetric) []model.DailyMetric {
	byDay := make(map[time.Time]model.DailyMetric, len(stored)+len(fetched))
	for _, r := range stored {
		r.Day = model.Day(r.Day)
		byDay[r.Day] = r
	}
	for _, r := range fetched {
		r.Day = model.Day(r.Day)
		byDay[r.Day] = r
	}
	out := make([]model.DailyMetric, 0, len(byDay))
	for _, r := range byDay {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
