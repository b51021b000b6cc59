package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisRadiosKey = "aural:radios"
	redisJamsKey   = "aural:jams"
)

// RedisStore keeps sessions as JSON values in two hashes keyed by session id.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SaveRadio(ctx context.Context, r Radio) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, redisRadiosKey, r.ID, b).Err()
}

func (s *RedisStore) DeleteRadio(ctx context.Context, id string) error {
	return s.rdb.HDel(ctx, redisRadiosKey, id).Err()
}

func (s *RedisStore) SaveJam(ctx context.Context, j Jam) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, redisJamsKey, j.ID, b).Err()
}

func (s *RedisStore) DeleteJam(ctx context.Context, id string) error {
	return s.rdb.HDel(ctx, redisJamsKey, id).Err()
}

func (s *RedisStore) Load(ctx context.Context) ([]Radio, []Jam, error) {
	radios, err := loadHash[Radio](ctx, s.rdb, redisRadiosKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load radios: %w", err)
	}
	jams, err := loadHash[Jam](ctx, s.rdb, redisJamsKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load jams: %w", err)
	}
	return radios, jams, nil
}

func loadHash[T any](ctx context.Context, rdb *redis.Client, key string) ([]T, error) {
	all, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for id, raw := range all {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}
