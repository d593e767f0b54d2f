package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
)

type countingTicker struct {
	mu    sync.Mutex
	calls int
	err   error
	// stopAt cancels the loop after that many ticks.
	stopAt int
	cancel context.CancelFunc
}

func (c *countingTicker) OnTick(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == c.stopAt {
		c.cancel()
	}
	return c.err
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := &countingTicker{stopAt: 3, cancel: cancel, err: errors.New("boom")}
	h := settings.Static(&settings.Settings{BackgroundDelayS: 2})
	s := New(tk, h, zerolog.Nop())
	var delays []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		if ctx.Err() != nil {
			return nil
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, tk.calls, "errors do not stop the loop")
	for _, d := range delays {
		assert.Equal(t, 2*time.Second, d)
	}
}

func writeSettings(t *testing.T, path string, delay int) {
	t.Helper()
	doc := fmt.Sprintf("main_channel: m\nwork_channel: w\nbackground_delay_s: %d\n", delay)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
}

func TestRun_RereadsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeSettings(t, path, 1)
	h, err := settings.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)

	tk := &countingTicker{stopAt: 100, cancel: cancel}
	s := New(tk, h, zerolog.Nop())

	var delays []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		if len(delays) == 2 {
			cancel()
			return nil
		}
		writeSettings(t, path, 5)
		require.NoError(t, h.Reload())
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	require.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, delays)
	assert.Equal(t, 2, tk.calls)
}

func TestStart_RunsAsNamedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jm := jobmgr.NewManager(ctx, zerolog.Nop())

	done := make(chan struct{})
	tk := &countingTicker{stopAt: 1, cancel: func() { close(done) }}
	s := New(tk, settings.Static(&settings.Settings{BackgroundDelayS: 3600}), zerolog.Nop())

	require.NoError(t, s.Start(jm))
	<-done
	assert.True(t, jm.Running(JobName))
	assert.ErrorIs(t, s.Start(jm), jobmgr.ErrAlreadyRunning)

	require.NoError(t, jm.Stop(JobName))
	jm.Wait()
	assert.False(t, jm.Running(JobName))
}
