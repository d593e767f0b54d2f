package avatar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/therapy-bot/internal/settings"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

type fakeUploader struct {
	calls [][]byte
	err   error
}

func (f *fakeUploader) SetAvatar(_ context.Context, png []byte) error {
	f.calls = append(f.calls, png)
	return f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeUploader, *clock) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"happy", "worried", "threat", "angry"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".png"), []byte(name), 0644))
	}
	h := settings.Static(&settings.Settings{
		AvatarDir:      dir,
		AvatarBackoffS: 600,
		AngeredH:       2,
		Expressions: map[string][]string{
			"happy":       {"happy"},
			"worried":     {"worried"},
			"threatening": {"threat"},
			"angry":       {"angry"},
		},
	})
	up := &fakeUploader{}
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(up, h, nil, zerolog.Nop())
	m.now = c.now
	m.pick = func(int) int { return 0 }
	return m, up, c
}

func TestChoose(t *testing.T) {
	done := st.UserRecord{Done: true}
	busy := st.UserRecord{}
	slack := st.UserRecord{Slacking: true}

	assert.Equal(t, Happy, Choose(nil))
	assert.Equal(t, Happy, Choose([]st.UserRecord{done}))
	assert.Equal(t, Worried, Choose([]st.UserRecord{done, busy}))
	assert.Equal(t, Threatening, Choose([]st.UserRecord{busy, slack, done}))
}

func TestRefresh_UploadsOnlyOnChange(t *testing.T) {
	m, up, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Refresh(ctx, nil))
	require.NoError(t, m.Refresh(ctx, nil))
	require.Len(t, up.calls, 1)
	assert.Equal(t, "happy", string(up.calls[0]))
	assert.Equal(t, Happy, m.Current())

	require.NoError(t, m.Refresh(ctx, []st.UserRecord{{}}))
	require.Len(t, up.calls, 2)
	assert.Equal(t, Worried, m.Current())
}

func TestRefresh_AngeredWindow(t *testing.T) {
	m, up, c := newTestManager(t)
	ctx := context.Background()

	m.Anger()
	require.NoError(t, m.Refresh(ctx, nil))
	assert.Equal(t, Angry, m.Current())

	c.advance(2*time.Hour + time.Second)
	require.NoError(t, m.Refresh(ctx, nil))
	assert.Equal(t, Happy, m.Current())
	assert.Len(t, up.calls, 2)
}

func TestSet_FailureBacksOff(t *testing.T) {
	m, up, c := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, Happy))
	up.err = errors.New("429")

	require.NoError(t, m.Set(ctx, Worried))
	assert.Equal(t, Expression(""), m.Current(), "failed upload forgets the current expression")
	assert.Len(t, up.calls, 2)

	up.err = nil
	c.advance(5 * time.Minute)
	require.NoError(t, m.Set(ctx, Worried))
	assert.Len(t, up.calls, 2, "still inside backoff")

	c.advance(6 * time.Minute)
	require.NoError(t, m.Set(ctx, Worried))
	assert.Len(t, up.calls, 3)
	assert.Equal(t, Worried, m.Current())
}

func TestSet_MissingImage(t *testing.T) {
	m, up, _ := newTestManager(t)
	err := m.Set(context.Background(), Surprised)
	assert.Error(t, err)
	assert.Empty(t, up.calls)
}
