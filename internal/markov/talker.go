package markov

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/internal/metrics"
	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/pkg/util"
)

const sentenceAttempts = 100

// Sender posts a message to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) (string, error)
}

// History fetches recent messages of a channel, newest first.
type History interface {
	ChannelHistory(ctx context.Context, channelID string, limit int) ([]discordtypes.HistoryMessage, error)
}

// Talker owns the current model. Talk and Regenerate may run concurrently;
// a regenerated model replaces the old one only once it is saved.
type Talker struct {
	settings *settings.Holder
	metrics  *metrics.Metrics
	log      zerolog.Logger

	coin func() bool

	mu       sync.RWMutex
	chain    *Chain
	lastTalk time.Time
}

func NewTalker(h *settings.Holder, m *metrics.Metrics, log zerolog.Logger) *Talker {
	return &Talker{
		settings: h,
		metrics:  m,
		log:      log,
		coin:     func() bool { return rand.IntN(2) == 1 },
	}
}

// LoadModel reads the saved model, if any.
func (t *Talker) LoadModel() error {
	path := t.settings.Get().MarkovModelPath
	c, err := Load(path)
	if err != nil {
		return err
	}
	if c == nil {
		t.log.Info().Str("path", path).Msg("no markov model yet")
		return nil
	}
	t.mu.Lock()
	t.chain = c
	t.mu.Unlock()
	t.log.Info().Str("path", path).Int("lines", c.Lines).Msg("markov model loaded")
	return nil
}

// HasModel reports whether a model is loaded.
func (t *Talker) HasModel() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.chain.Empty()
}

// Talk sends sentences to channelID: one per round, rounds continuing while
// a coin flip says so. Without a model it does nothing. It returns the
// number of sentences sent.
func (t *Talker) Talk(ctx context.Context, out Sender, channelID string) (int, error) {
	t.mu.RLock()
	chain := t.chain
	t.mu.RUnlock()
	if chain.Empty() {
		return 0, nil
	}

	sent := 0
	for {
		if sentence, ok := t.sentence(chain); ok {
			if _, err := out.Send(ctx, channelID, sentence); err != nil {
				return sent, fmt.Errorf("send markov sentence: %w", err)
			}
			sent++
			t.metrics.MarkovSentence()
		}
		if !t.coin() {
			return sent, nil
		}
	}
}

func (t *Talker) sentence(c *Chain) (string, bool) {
	for i := 0; i < sentenceAttempts; i++ {
		s, err := c.Sentence()
		if err == nil {
			return s, true
		}
	}
	return "", false
}

// MaybeTalk is the scheduled trigger: it talks in the main channel when the
// cooldown since the last scheduled talk has passed, now's hour is a talk
// hour and it is within the first five minutes of that hour.
func (t *Talker) MaybeTalk(ctx context.Context, out Sender, now time.Time) (bool, error) {
	s := t.settings.Get()

	t.mu.Lock()
	due := now.Sub(t.lastTalk) > s.TalkCooldown() && s.IsTalkHour(now.Hour()) && now.Minute() < 5
	if due {
		t.lastTalk = now
	}
	t.mu.Unlock()
	if !due {
		return false, nil
	}

	_, err := t.Talk(ctx, out, s.MainChannel)
	return true, err
}

// Regenerate rebuilds the model from the history of every configured
// channel, posting progress to replyChannel. It returns the number of
// messages trained on.
func (t *Talker) Regenerate(ctx context.Context, src History, out Sender, replyChannel string) (int, error) {
	s := t.settings.Get()
	channels := s.MarkovChannels
	if len(channels) == 0 {
		return 0, errors.New("no markov channels configured")
	}

	var (
		mu      sync.Mutex
		lines   []string
		started atomic.Int32
	)
	err := util.Parallel(ctx, channels, 2, func(ctx context.Context, channelID string) error {
		i := started.Add(1)
		if _, err := out.Send(ctx, replyChannel, fmt.Sprintf("generating %d/%d", i, len(channels))); err != nil {
			t.log.Warn().Err(err).Msg("failed to post markov progress")
		}

		history, err := src.ChannelHistory(ctx, channelID, s.MarkovHistoryLimit)
		if err != nil {
			return fmt.Errorf("fetch history of %s: %w", channelID, err)
		}

		mu.Lock()
		defer mu.Unlock()
		for _, m := range history {
			if m.AuthorBot {
				continue
			}
			lines = append(lines, m.Content)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	chain := NewChain()
	for _, line := range lines {
		chain.Train(line)
	}
	if err := chain.Save(s.MarkovModelPath); err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.chain = chain
	t.mu.Unlock()

	t.log.Info().Int("messages", len(lines)).Int("channels", len(channels)).Msg("markov model regenerated")
	return len(lines), nil
}
