package datastore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) (*DataStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	cfg.BackupCount = 0
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	return ds, path
}

func TestNewCreatesEmptyFile(t *testing.T) {
	ds, path := newTestStore(t)
	defer ds.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(raw))
}

func TestPutGet(t *testing.T) {
	ds, _ := newTestStore(t)
	defer ds.Close()

	require.NoError(t, ds.Put("a", doc{Name: "a", Count: 1}))

	var got doc
	ok, err := ds.Get("a", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, doc{Name: "a", Count: 1}, got)

	ok, err = ds.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateCreatesAndModifies(t *testing.T) {
	ds, _ := newTestStore(t)
	defer ds.Close()

	incr := func(raw json.RawMessage, exists bool) (any, error) {
		var d doc
		if exists {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
		}
		d.Count++
		return d, nil
	}

	require.NoError(t, ds.Update("k", incr))
	require.NoError(t, ds.Update("k", incr))

	var got doc
	_, err := ds.Get("k", &got)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	ds, _ := newTestStore(t)
	defer ds.Close()

	boom := errors.New("boom")
	err := ds.Update("k", func(json.RawMessage, bool) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ds.Keys())
}

func TestCloseFlushesAndReloads(t *testing.T) {
	ds, path := newTestStore(t)
	require.NoError(t, ds.Put("b", doc{Name: "b"}))
	require.NoError(t, ds.Put("a", doc{Name: "a"}))
	require.NoError(t, ds.Close())

	assert.ErrorIs(t, ds.Put("c", doc{}), ErrClosed)

	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	reopened, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"a", "b"}, reopened.Keys())
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := New(path)
	assert.Error(t, err)
}
