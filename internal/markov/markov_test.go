package markov

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/internal/settings"
)

func TestChain_SingleLineIsNeverRepeated(t *testing.T) {
	c := NewChain()
	c.Train("the cat sat\n\n")
	assert.Equal(t, 1, c.Lines)

	// the only walk reproduces the training line
	for i := 0; i < 20; i++ {
		_, err := c.Sentence()
		assert.ErrorIs(t, err, ErrNoSentence)
	}
}

func TestChain_NovelSentence(t *testing.T) {
	c := NewChain()
	c.Train("a b c\nx b c d")

	// after "b c" the chain either ends or continues with "d", so half the
	// walks are novel: "a b c d" or "x b c".
	var got []string
	for i := 0; i < 100; i++ {
		if s, err := c.Sentence(); err == nil {
			got = append(got, s)
		}
	}
	require.NotEmpty(t, got)
	for _, s := range got {
		assert.Contains(t, []string{"a b c d", "x b c"}, s)
	}
}

func TestChain_LongWalkRejected(t *testing.T) {
	words := make([]string, maxWords+5)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	c := NewChain()
	c.Train(strings.Join(words, " ") + "\n" + "w0 w1 w2 stop")

	// the long branch runs past maxWords, the short one is verbatim
	for i := 0; i < 20; i++ {
		_, err := c.Sentence()
		assert.ErrorIs(t, err, ErrNoSentence)
	}
}

func TestChain_Empty(t *testing.T) {
	var c *Chain
	assert.True(t, c.Empty())
	_, err := NewChain().Sentence()
	assert.ErrorIs(t, err, ErrNoSentence)
}

func TestChain_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "markov.json")

	missing, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, missing)

	c := NewChain()
	c.Train("a b c\nx b c d")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.sources, loaded.sources)
	assert.Equal(t, 2, loaded.Lines)

	p, err := loaded.chain.TransitionProbability("d", []string{"b", "c"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)
}

type sentMsg struct{ channel, text string }

type fakeChat struct {
	mu      sync.Mutex
	sent    []sentMsg
	history map[string][]discordtypes.HistoryMessage
	histErr error
}

func (f *fakeChat) Send(_ context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{channelID, text})
	return fmt.Sprintf("m%d", len(f.sent)), nil
}

func (f *fakeChat) ChannelHistory(_ context.Context, channelID string, limit int) ([]discordtypes.HistoryMessage, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	h := f.history[channelID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (f *fakeChat) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func newTestTalker(t *testing.T) *Talker {
	t.Helper()
	h := settings.Static(&settings.Settings{
		MainChannel:        "main",
		MarkovChannels:     []string{"c1", "c2"},
		MarkovHistoryLimit: 100,
		MarkovModelPath:    filepath.Join(t.TempDir(), "markov.json"),
		TalkHours:          []int{9},
		TalkCooldownS:      360,
	})
	return NewTalker(h, nil, zerolog.Nop())
}

func TestTalker_NoModelIsSilent(t *testing.T) {
	tk := newTestTalker(t)
	chat := &fakeChat{}
	n, err := tk.Talk(context.Background(), chat, "main")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, chat.sent)
}

func TestTalker_RegenerateThenTalk(t *testing.T) {
	tk := newTestTalker(t)
	chat := &fakeChat{history: map[string][]discordtypes.HistoryMessage{
		"c1": {{Content: "a b c"}, {Content: "beep boop", AuthorBot: true}},
		"c2": {{Content: "x b c d"}},
	}}
	ctx := context.Background()

	n, err := tk.Regenerate(ctx, chat, chat, "cmd")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, tk.HasModel())
	assert.ElementsMatch(t, []string{"generating 1/2", "generating 2/2"}, chat.texts())

	// a reloaded talker sees the saved model
	other := NewTalker(tk.settings, nil, zerolog.Nop())
	require.NoError(t, other.LoadModel())
	assert.True(t, other.HasModel())

	chat.sent = nil
	rounds := 0
	tk.coin = func() bool { rounds++; return rounds < 3 }

	sent, err := tk.Talk(ctx, chat, "main")
	require.NoError(t, err)
	assert.Equal(t, 3, rounds)
	assert.Equal(t, sent, len(chat.sent))
	for _, s := range chat.texts() {
		assert.Contains(t, []string{"a b c d", "x b c"}, s)
	}
}

func TestTalker_RegenerateError(t *testing.T) {
	tk := newTestTalker(t)
	chat := &fakeChat{histErr: errors.New("forbidden")}
	_, err := tk.Regenerate(context.Background(), chat, chat, "cmd")
	assert.ErrorContains(t, err, "forbidden")
	assert.False(t, tk.HasModel())
}

func TestTalker_MaybeTalk(t *testing.T) {
	tk := newTestTalker(t)
	tk.chain = NewChain()
	tk.chain.Train("hello there friend\nsay there friend now")
	tk.coin = func() bool { return false }
	chat := &fakeChat{}
	ctx := context.Background()

	nine := time.Date(2024, 1, 1, 9, 2, 0, 0, time.Local)

	talked, err := tk.MaybeTalk(ctx, chat, nine.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, talked, "not a talk hour")

	talked, err = tk.MaybeTalk(ctx, chat, nine.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, talked, "past minute 5")

	talked, err = tk.MaybeTalk(ctx, chat, nine)
	require.NoError(t, err)
	assert.True(t, talked)

	talked, err = tk.MaybeTalk(ctx, chat, nine.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, talked, "cooldown")
}

func TestSentenceNeverRepeatsTrainingLine(t *testing.T) {
	c := NewChain()
	corpus := []string{"i am working", "i am not working", "you are working hard"}
	c.Train(strings.Join(corpus, "\n"))

	for i := 0; i < 200; i++ {
		s, err := c.Sentence()
		if err != nil {
			continue
		}
		assert.NotContains(t, corpus, s)
	}
}
