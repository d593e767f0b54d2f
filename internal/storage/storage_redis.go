package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

const (
	redisUserKeyPattern = "therapy:user:%s"
	redisUsersSetKey    = "therapy:users"
	redisMaxTxRetries   = 10
)

// ErrConflict is returned when an optimistic Redis transaction keeps losing
// to concurrent writers.
var ErrConflict = errors.New("user record changed concurrently")

// RedisStore keeps one JSON document per user in Redis. Update uses
// WATCH/MULTI so concurrent writers on the same user retry instead of
// overwriting each other.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts *redis.Options, log zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client, log: log}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisUserKey(userID string) string {
	return fmt.Sprintf(redisUserKeyPattern, userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (st.UserRecord, error) {
	raw, err := s.client.Get(ctx, redisUserKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st.UserRecord{}, ErrNotFound
	}
	if err != nil {
		return st.UserRecord{}, err
	}
	var rec st.UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return st.UserRecord{}, fmt.Errorf("%w: user %s: %w", ErrCorrupt, userID, err)
	}
	return rec, nil
}

func (s *RedisStore) Update(ctx context.Context, userID string, fn UpdateFunc) (st.UserRecord, error) {
	key := redisUserKey(userID)

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		var result st.UserRecord
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec := st.NewUserRecord(userID)
			raw, err := tx.Get(ctx, key).Bytes()
			exists := true
			switch {
			case errors.Is(err, redis.Nil):
				exists = false
			case err != nil:
				return err
			default:
				if err := json.Unmarshal(raw, &rec); err != nil {
					return fmt.Errorf("%w: user %s: %w", ErrCorrupt, userID, err)
				}
			}

			if err := fn(&rec, exists); err != nil {
				result = rec
				return err
			}
			result = rec

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("error marshalling user %s: %w", userID, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, redisUsersSetKey, userID)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, ErrNoChange):
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return st.UserRecord{}, err
		}
	}
	return st.UserRecord{}, ErrConflict
}

func (s *RedisStore) EnabledUsers(ctx context.Context) ([]st.UserRecord, error) {
	ids, err := s.client.SMembers(ctx, redisUsersSetKey).Result()
	if err != nil {
		return nil, err
	}

	var out []st.UserRecord
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if errors.Is(err, ErrCorrupt) {
			s.log.Error().Err(err).Str("user", id).Msg("skipping unreadable user record")
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Enabled {
			out = append(out, rec)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (map[string]any, error) {
	users, err := s.client.SCard(ctx, redisUsersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	pool := s.client.PoolStats()
	return map[string]any{
		"backend":     "redis",
		"keys":        users,
		"total_conns": pool.TotalConns,
		"idle_conns":  pool.IdleConns,
	}, nil
}
