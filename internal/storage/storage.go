package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/datastore"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

const userKeyPrefix = "user:"

var (
	// ErrNotFound is returned by Get for a user that has never been seen.
	ErrNotFound = errors.New("user record not found")
	// ErrNoChange may be returned from an UpdateFunc to leave the record untouched.
	ErrNoChange = errors.New("no change")
	// ErrCorrupt is returned by Get for a stored record that cannot be decoded.
	ErrCorrupt = errors.New("user record corrupt")
)

// UpdateFunc mutates rec in place. exists is false when the record did not
// exist before; rec then holds the defaults for the user. It must not block.
type UpdateFunc func(rec *st.UserRecord, exists bool) error

// Store is the persisted user table. Update is the only read-modify-write
// primitive; implementations guarantee that no other Update on the same user
// interleaves with fn.
type Store interface {
	Get(ctx context.Context, userID string) (st.UserRecord, error)
	Update(ctx context.Context, userID string, fn UpdateFunc) (st.UserRecord, error)
	// EnabledUsers lists enabled records sorted by id. Records that fail to
	// decode are logged and skipped.
	EnabledUsers(ctx context.Context) ([]st.UserRecord, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close() error
}

// JSONStore keeps user records in the file-backed datastore.
type JSONStore struct {
	ds  *datastore.DataStore
	log zerolog.Logger
}

// New opens the JSON file store at filePath.
func New(filePath string) (*JSONStore, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &JSONStore{ds: ds, log: zerolog.Nop()}, nil
}

// NewWithDataStore wraps an already opened datastore.
func NewWithDataStore(ds *datastore.DataStore, log zerolog.Logger) *JSONStore {
	return &JSONStore{ds: ds, log: log}
}

func (s *JSONStore) Close() error {
	return s.ds.Close()
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}

func (s *JSONStore) Get(_ context.Context, userID string) (st.UserRecord, error) {
	var rec st.UserRecord
	ok, err := s.ds.Get(userKey(userID), &rec)
	if ok && err != nil {
		return st.UserRecord{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err != nil {
		return st.UserRecord{}, err
	}
	if !ok {
		return st.UserRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *JSONStore) Update(_ context.Context, userID string, fn UpdateFunc) (st.UserRecord, error) {
	var result st.UserRecord
	err := s.ds.Update(userKey(userID), func(raw json.RawMessage, exists bool) (any, error) {
		rec := st.NewUserRecord(userID)
		if exists {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("%w: user %s: %w", ErrCorrupt, userID, err)
			}
		}
		if err := fn(&rec, exists); err != nil {
			result = rec
			return nil, err
		}
		result = rec
		return rec, nil
	})
	if errors.Is(err, ErrNoChange) {
		return result, nil
	}
	if err != nil {
		return st.UserRecord{}, err
	}
	return result, nil
}

func (s *JSONStore) EnabledUsers(ctx context.Context) ([]st.UserRecord, error) {
	var out []st.UserRecord
	for _, key := range s.ds.Keys() {
		if !strings.HasPrefix(key, userKeyPrefix) {
			continue
		}
		id := strings.TrimPrefix(key, userKeyPrefix)
		rec, err := s.Get(ctx, id)
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

func (s *JSONStore) Stats(context.Context) (map[string]any, error) {
	stats := s.ds.Stats()
	stats["backend"] = "json"
	return stats, nil
}

func sortByID(recs []st.UserRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
