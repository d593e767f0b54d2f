package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/therapy-bot/datastore"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

func newJSONStore(t *testing.T) Store {
	t.Helper()
	cfg := datastore.DefaultConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.AutoSaveInterval = 0
	ds, err := datastore.NewWithConfig(cfg)
	require.NoError(t, err)
	s := NewWithDataStore(ds, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), &redis.Options{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"json":  newJSONStore,
		"redis": newRedisStore,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			_, err := s.Get(context.Background(), "42")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UpdateCreatesWithDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			var sawExists bool
			rec, err := s.Update(ctx, "42", func(rec *st.UserRecord, exists bool) error {
				sawExists = exists
				rec.LastActive = now
				return nil
			})
			require.NoError(t, err)
			assert.False(t, sawExists)
			assert.Equal(t, "42", rec.ID)
			assert.False(t, rec.Enabled)
			assert.True(t, rec.Awake.IsZero())

			got, err := s.Get(ctx, "42")
			require.NoError(t, err)
			assert.True(t, got.LastActive.Equal(now))

			_, err = s.Update(ctx, "42", func(rec *st.UserRecord, exists bool) error {
				sawExists = exists
				return nil
			})
			require.NoError(t, err)
			assert.True(t, sawExists)
		})
	}
}

func TestStore_UpdateErrorLeavesRecord(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.Update(ctx, "1", func(rec *st.UserRecord, _ bool) error {
				rec.Enabled = true
				return nil
			})
			require.NoError(t, err)

			boom := errors.New("boom")
			_, err = s.Update(ctx, "1", func(rec *st.UserRecord, _ bool) error {
				rec.Enabled = false
				return boom
			})
			assert.ErrorIs(t, err, boom)

			rec, err := s.Update(ctx, "1", func(rec *st.UserRecord, _ bool) error {
				rec.Enabled = false
				return ErrNoChange
			})
			require.NoError(t, err)
			assert.False(t, rec.Enabled, "returned record reflects fn's view")

			got, err := s.Get(ctx, "1")
			require.NoError(t, err)
			assert.True(t, got.Enabled)
		})
	}
}

func TestStore_EnabledUsers(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for _, id := range []string{"3", "1", "2"} {
				enabled := id != "2"
				_, err := s.Update(ctx, id, func(rec *st.UserRecord, _ bool) error {
					rec.Enabled = enabled
					return nil
				})
				require.NoError(t, err)
			}

			users, err := s.EnabledUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "1", users[0].ID)
			assert.Equal(t, "3", users[1].ID)
		})
	}
}

func TestStore_OverridesRoundTrip(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.Update(ctx, "7", func(rec *st.UserRecord, _ bool) error {
				rec.SetOverride(st.WorkDelay, 4)
				return nil
			})
			require.NoError(t, err)

			got, err := s.Get(ctx, "7")
			require.NoError(t, err)
			v, ok := got.Override(st.WorkDelay)
			assert.True(t, ok)
			assert.Equal(t, 4.0, v)
		})
	}
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			const workers = 8
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update(ctx, "9", func(rec *st.UserRecord, _ bool) error {
						v, _ := rec.Override(st.SleepMin)
						rec.SetOverride(st.SleepMin, v+1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.Get(ctx, "9")
			require.NoError(t, err)
			v, _ := got.Override(st.SleepMin)
			assert.Equal(t, float64(workers), v)
		})
	}
}

func TestStore_EnabledUsersSkipsCorruptRecord(t *testing.T) {
	ctx := context.Background()

	cfg := datastore.DefaultConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.AutoSaveInterval = 0
	ds, err := datastore.NewWithConfig(cfg)
	require.NoError(t, err)
	js := NewWithDataStore(ds, zerolog.Nop())
	t.Cleanup(func() { js.Close() })
	require.NoError(t, ds.Put(userKey("bad"), "not a record"))

	mr := miniredis.RunT(t)
	rs, err := NewRedis(ctx, &redis.Options{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	require.NoError(t, mr.Set(redisUserKey("bad"), "{"))
	_, err = mr.SAdd(redisUsersSetKey, "bad")
	require.NoError(t, err)

	for name, s := range map[string]Store{"json": js, "redis": rs} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "bad")
			assert.ErrorIs(t, err, ErrCorrupt)

			_, err = s.Update(ctx, "ok", func(rec *st.UserRecord, _ bool) error {
				rec.Enabled = true
				return nil
			})
			require.NoError(t, err)

			users, err := s.EnabledUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, "ok", users[0].ID)
		})
	}
}

func TestStore_Stats(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			for _, id := range []string{"1", "2"} {
				_, err := s.Update(ctx, id, func(*st.UserRecord, bool) error { return nil })
				require.NoError(t, err)
			}

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, name, stats["backend"])
			assert.EqualValues(t, 2, stats["keys"])
		})
	}
}
