package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	defaultScanCount        = 200
	defaultUpdateMaxRetries = 32
)

var errMissingRedisClient = errors.New("kv: redis client is required")

// RedisStore implements Store on top of a redis server.
type RedisStore struct {
	client     *redis.Client
	scanCount  int64
	maxRetries int
}

// NewRedisStore wraps an established redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisStore{
		client:     client,
		scanCount:  defaultScanCount,
		maxRetries: defaultUpdateMaxRetries,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	var keys []string
	iterator := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", s.scanCount).Iterator()
	for iterator.Next(ctx) {
		keys = append(keys, iterator.Val())
	}
	if err := iterator.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += int(s.scanCount) {
		end := start + int(s.scanCount)
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, err
		}
		for index, raw := range values {
			// Keys deleted between SCAN and MGET come back as nil.
			text, ok := raw.(string)
			if !ok {
				continue
			}
			entries = append(entries, Entry{Key: batch[index], Value: []byte(text)})
		}
	}
	return entries, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// Update uses WATCH/MULTI and retries when another client modifies the key
// between the read and the write.
func (s *RedisStore) Update(ctx context.Context, key string, mutate MutateFunc) ([]byte, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var written []byte
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				current = nil
				found = false
			} else if err != nil {
				return err
			}

			next, err := mutate(current, found)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			if err != nil {
				return err
			}
			written = next
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return written, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, key)
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(value string) string {
	return globReplacer.Replace(value)
}
