package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisOpTimeout  = 3 * time.Second
	defaultRedisScanCount  = 500
	defaultRedisMaxRetries = 8
)

// RedisStore keeps entries as plain Redis strings under a key namespace.
type RedisStore struct {
	client     *redis.Client
	namespace  string
	timeout    time.Duration
	maxRetries int
}

// NewRedisStore builds a Redis-backed store. namespace is prepended to every
// key ("library:kv:" when empty).
func NewRedisStore(addr, password, namespace string) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("kv: redis addr is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "library:kv:"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		namespace:  namespace,
		timeout:    defaultRedisOpTimeout,
		maxRetries: defaultRedisMaxRetries,
	}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Get reads key.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: redis get: %w", err)
	}
	return json.RawMessage(val), true, nil
}

// Set writes key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.namespace+key, []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("kv: redis set: %w", err)
	}
	return nil
}

// Del removes key.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("kv: redis del: %w", err)
	}
	return nil
}

// GetByPrefix walks the keyspace with SCAN and fetches values with MGET.
// Keys removed between the two steps are skipped.
func (s *RedisStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	match := escapeGlob(s.namespace+prefix) + "*"
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, match, defaultRedisScanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv: redis scan: %w", err)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += defaultRedisScanCount {
		end := start + defaultRedisScanCount
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vals, err := s.client.MGet(opCtx, batch...).Result()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("kv: redis mget: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			out = append(out, Entry{
				Key:   strings.TrimPrefix(batch[i], s.namespace),
				Value: json.RawMessage(str),
			})
		}
	}
	return out, nil
}

// Update uses WATCH/MULTI and retries when another writer touched the key.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := checkKey(key); err != nil {
		return err
	}
	rk := s.namespace + key
	txf := func(tx *redis.Tx) error {
		var old json.RawMessage
		ok := true
		raw, err := tx.Get(ctx, rk).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			ok = false
		case err != nil:
			return fmt.Errorf("kv: redis get: %w", err)
		default:
			old = json.RawMessage(raw)
		}
		next, err := fn(old, ok)
		if err != nil {
			return err
		}
		if err := checkValue(next); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, []byte(next), 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, rk)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSkip):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return ErrConflict
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
