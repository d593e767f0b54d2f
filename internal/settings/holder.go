package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder publishes the current Settings snapshot. Readers call Get once per
// operation and use that snapshot throughout, so a reload never changes
// values in the middle of a tick or a command.
type Holder struct {
	path string
	log  zerolog.Logger
	cur  atomic.Pointer[Settings]
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, log zerolog.Logger) (*Holder, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{path: path, log: log}
	h.cur.Store(s)
	return h, nil
}

// Static returns a holder that always serves s. Reload is a no-op.
func Static(s *Settings) *Holder {
	s.resolve()
	h := &Holder{log: zerolog.Nop()}
	h.cur.Store(s)
	return h
}

func (h *Holder) Get() *Settings {
	return h.cur.Load()
}

// Reload re-reads the settings file. On any error the previous snapshot
// stays in place.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	s, err := Load(h.path)
	if err != nil {
		return err
	}
	h.cur.Store(s)
	h.log.Info().Str("path", h.path).Msg("settings reloaded")
	return nil
}

// Watch reloads the settings whenever the file is written or replaced,
// until ctx is done. The parent directory is watched so editors that save
// via rename are picked up.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(h.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := h.Reload(); err != nil {
				h.log.Warn().Err(err).Str("path", h.path).Msg("settings reload failed, keeping previous")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
