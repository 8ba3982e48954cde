package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/model"
	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ytdash"

// RedisCache keeps one JSON value per channel at ytdash:<kind>:<channel>.
// Entries carry no TTL; staleness is judged from written_at.
type RedisCache[T any] struct {
	client *redis.Client
	kind   string
	merge  MergeFunc[T]
}

func NewRedisCache[T any](client *redis.Client, kind string, merge MergeFunc[T]) *RedisCache[T] {
	return &RedisCache[T]{client: client, kind: kind, merge: merge}
}

var (
	_ cache.Store[model.Video]       = (*RedisCache[model.Video])(nil)
	_ cache.Store[model.DailyMetric] = (*RedisCache[model.DailyMetric])(nil)
)

func (c *RedisCache[T]) key(id model.ChannelID) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, c.kind, id)
}

func (c *RedisCache[T]) Get(ctx context.Context, id model.ChannelID) (*cache.Entry[T], error) {
	e, err := c.get(ctx, c.client, id)
	if err != nil || e == nil {
		return nil, err
	}
	return &cache.Entry[T]{Records: e.Records, WrittenAt: e.WrittenAt}, nil
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisCache[T]) get(ctx context.Context, cmd redisGetter, id model.ChannelID) (*fileEntry[T], error) {
	data, err := cmd.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get", Entity: c.kind, ID: string(id), Err: err}
	}
	var e fileEntry[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &StorageError{Op: "get", Entity: c.kind, ID: string(id), Err: errors.Join(errCorruptEntry, err)}
	}
	return &e, nil
}

func (c *RedisCache[T]) Put(ctx context.Context, id model.ChannelID, records []T, writtenAt time.Time) error {
	key := c.key(id)
	write := func(tx *redis.Tx) error {
		out := records
		if c.merge != nil {
			prev, err := c.get(ctx, tx, id)
			if err != nil && !errors.Is(err, errCorruptEntry) {
				return err
			}
			if prev != nil {
				out = c.merge(prev.Records, records)
			}
		}
		data, err := json.Marshal(fileEntry[T]{WrittenAt: writtenAt.UTC(), Records: out})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := c.client.Watch(ctx, write, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: err}
		}
		return nil
	}
	return &StorageError{Op: "put", Entity: c.kind, ID: string(id), Err: redis.TxFailedErr}
}
