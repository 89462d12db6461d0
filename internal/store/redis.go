package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/league-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) GetAccount(ctx context.Context, key string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, cacheKey(key), data, s.ttl)
	}
	return a, nil
}

// ListAccounts is not cached.
func (s *CachedStore) ListAccounts(ctx context.Context, kind model.Kind, prefix string) ([]*model.Account, error) {
	return s.primary.ListAccounts(ctx, kind, prefix)
}

func (s *CachedStore) Apply(ctx context.Context, writes []Write) error {
	if err := s.primary.Apply(ctx, writes); err != nil {
		return err
	}
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = cacheKey(w.Key)
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, keys...)
	return nil
}

func cacheKey(key string) string { return fmt.Sprintf("cache:%s", key) }

// RedisStore implements Store directly on Redis. It backs the rollup layer,
// where accounts live only while delegated. Each account is one JSON string
// and each kind keeps a set of its keys for listing. Apply uses WATCH/MULTI
// so concurrent writers conflict instead of overwriting each other.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store namespacing its keys under prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) acctKey(key string) string { return s.prefix + ":acct:" + key }

func (s *RedisStore) kindKey(kind model.Kind) string { return s.prefix + ":kind:" + string(kind) }

func (s *RedisStore) GetAccount(ctx context.Context, key string) (*model.Account, error) {
	return s.get(ctx, s.rdb, key)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, key string) (*model.Account, error) {
	data, err := c.Get(ctx, s.acctKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", key, err)
	}
	var a model.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", key, err)
	}
	return &a, nil
}

func (s *RedisStore) ListAccounts(ctx context.Context, kind model.Kind, prefix string) ([]*model.Account, error) {
	members, err := s.rdb.SMembers(ctx, s.kindKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	var keys []string
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			keys = append(keys, m)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.acctKey(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	out := make([]*model.Account, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		var a model.Account
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *RedisStore) Apply(ctx context.Context, writes []Write) error {
	watched := make([]string, len(writes))
	for i, w := range writes {
		watched[i] = s.acctKey(w.Key)
	}

	txf := func(tx *redis.Tx) error {
		kinds := make(map[string]model.Kind, len(writes))
		for _, w := range writes {
			var current int64
			a, err := s.get(ctx, tx, w.Key)
			switch {
			case err == nil:
				current = a.Version
				kinds[w.Key] = a.Kind
			case !errors.Is(err, model.ErrNotFound):
				return err
			}
			if current != w.ExpectVersion {
				return conflict(w.Key, w.ExpectVersion)
			}
		}

		now := time.Now().UTC()
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				if w.Delete {
					pipe.Del(ctx, s.acctKey(w.Key))
					if kind, ok := kinds[w.Key]; ok {
						pipe.SRem(ctx, s.kindKey(kind), w.Key)
					}
					continue
				}
				a := w.Account.Clone()
				a.Key = w.Key
				a.Version = w.ExpectVersion + 1
				a.UpdatedAt = now
				data, err := json.Marshal(a)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.acctKey(w.Key), data, 0)
				pipe.SAdd(ctx, s.kindKey(a.Kind), w.Key)
			}
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: watched accounts changed", model.ErrConflict)
	}
	return err
}
