// Package avatar picks the bot's facial expression from how the enrolled
// users are doing and uploads the matching image.
package avatar

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/metrics"
	"github.com/keshon/therapy-bot/internal/settings"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

type Expression string

const (
	Surprised   Expression = "surprised"
	Worried     Expression = "worried"
	Threatening Expression = "threatening"
	Angry       Expression = "angry"
	Happy       Expression = "happy"
)

// DefaultImages are the image basenames used when the settings document has
// no entry for an expression.
var DefaultImages = map[Expression][]string{
	Surprised:   {"re1a_bikkuri_a1_0", "re1a_bikkuri_a1_1", "re1a_bikkuri_a1_0"},
	Worried:     {"re1a_komaru_a1_0", "re1a_komaru_a1_1", "re1a_komaru_a1_2"},
	Threatening: {"re1a_hig_def_a1_0", "re1a_hig_def_a1_1", "re1a_hig_def_a1_2", "re1a_hig_muhyou_a1_0", "re1a_hig_muhyou_a1_1", "re1a_hig_muhyou_a1_2"},
	Angry:       {"re1a_hig_okoru_a1_0", "re1a_hig_okoru_a1_1", "re1a_hig_okoru_a1_0"},
	Happy:       {"re1a_warai_a1_0", "re1a_warai_a1_1", "re1a_warai_a1_2"},
}

// Uploader replaces the bot's avatar with a PNG image.
type Uploader interface {
	SetAvatar(ctx context.Context, png []byte) error
}

// Choose returns the automatic expression for the given enabled users.
// Any slacking user makes the bot threatening; otherwise any user who is
// not done makes it worried.
func Choose(users []st.UserRecord) Expression {
	expr := Happy
	for _, u := range users {
		if u.Slacking {
			return Threatening
		}
		if !u.Done {
			expr = Worried
		}
	}
	return expr
}

type Manager struct {
	up       Uploader
	settings *settings.Holder
	metrics  *metrics.Metrics
	log      zerolog.Logger

	now      func() time.Time
	pick     func(n int) int
	readFile func(string) ([]byte, error)

	mu           sync.Mutex
	current      Expression
	backoffUntil time.Time
	angeredUntil time.Time
}

func NewManager(up Uploader, h *settings.Holder, m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		up:       up,
		settings: h,
		metrics:  m,
		log:      log,
		now:      time.Now,
		pick:     rand.IntN,
		readFile: os.ReadFile,
	}
}

// Current returns the expression last uploaded successfully, or "".
func (m *Manager) Current() Expression {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Anger starts the angered window; automatic refreshes show Angry until it ends.
func (m *Manager) Anger() {
	m.mu.Lock()
	m.angeredUntil = m.now().Add(m.settings.Get().AngeredFor())
	m.mu.Unlock()
}

// Refresh uploads the automatic expression for users if it differs from the
// current one.
func (m *Manager) Refresh(ctx context.Context, users []st.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expr := Choose(users)
	if m.now().Before(m.angeredUntil) {
		expr = Angry
	}
	return m.setLocked(ctx, expr)
}

// Set uploads expr regardless of user state.
func (m *Manager) Set(ctx context.Context, expr Expression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(ctx, expr)
}

func (m *Manager) setLocked(ctx context.Context, expr Expression) error {
	now := m.now()
	if now.Before(m.backoffUntil) {
		m.log.Debug().Dur("wait", m.backoffUntil.Sub(now)).Msg("avatar update backing off")
		return nil
	}
	if expr == m.current {
		return nil
	}

	s := m.settings.Get()
	img, err := m.image(s, expr)
	if err != nil {
		m.metrics.Avatar(string(expr), "error")
		return err
	}

	if err := m.up.SetAvatar(ctx, img); err != nil {
		m.current = ""
		m.backoffUntil = now.Add(s.AvatarBackoff())
		m.metrics.Avatar(string(expr), "error")
		m.log.Warn().Err(err).Str("expression", string(expr)).Dur("backoff", s.AvatarBackoff()).Msg("cannot set avatar yet")
		return nil
	}

	m.log.Info().Str("from", string(m.current)).Str("to", string(expr)).Msg("avatar changed")
	m.current = expr
	m.metrics.Avatar(string(expr), "ok")
	return nil
}

func (m *Manager) image(s *settings.Settings, expr Expression) ([]byte, error) {
	names := s.Expressions[string(expr)]
	if len(names) == 0 {
		names = DefaultImages[expr]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images for expression %s", expr)
	}
	path := filepath.Join(s.AvatarDir, names[m.pick(len(names))]+".png")
	img, err := m.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar image: %w", err)
	}
	return img, nil
}
