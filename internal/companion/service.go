// Package companion is the host-agnostic core of the bot. The discord
// adapter translates gateway events into calls on Service, and Service
// reaches the outside world only through Messenger.
package companion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/accountability"
	"github.com/keshon/therapy-bot/internal/avatar"
	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/internal/markov"
	"github.com/keshon/therapy-bot/internal/metrics"
	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/internal/storage"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

const (
	PrefixWork   = "!work"
	PrefixMarkov = "!markov"
)

// Messenger is everything the bot can do on the chat platform.
type Messenger interface {
	Send(ctx context.Context, channelID, text string) (string, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	Channel(ctx context.Context, channelID string) (discordtypes.Channel, error)
	ResolveUser(ctx context.Context, userID string) (discordtypes.User, error)
	ChannelMembers(ctx context.Context, channelID string) ([]discordtypes.User, error)
	ChannelHistory(ctx context.Context, channelID string, limit int) ([]discordtypes.HistoryMessage, error)
	SetAvatar(ctx context.Context, png []byte) error
}

// Router dispatches a text command. It is set after construction because
// commands call back into the Service.
type Router interface {
	Dispatch(ctx context.Context, m discordtypes.Message) error
}

type Deps struct {
	Store    storage.Store
	Settings *settings.Holder
	Chat     Messenger
	Avatar   *avatar.Manager
	Talker   *markov.Talker
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    storage.Store
	settings *settings.Holder
	chat     Messenger
	avatar   *avatar.Manager
	talker   *markov.Talker
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	router Router

	mu    sync.RWMutex
	botID string

	tickMu sync.Mutex
}

func New(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    d.Store,
		settings: d.Settings,
		chat:     d.Chat,
		avatar:   d.Avatar,
		talker:   d.Talker,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      now,
	}
}

func (s *Service) SetRouter(r Router) { s.router = r }

func (s *Service) Store() storage.Store { return s.store }
func (s *Service) Settings() *settings.Holder { return s.settings }
func (s *Service) Chat() Messenger { return s.chat }
func (s *Service) Talker() *markov.Talker { return s.talker }
func (s *Service) Now() time.Time { return s.now() }
func (s *Service) Log() zerolog.Logger { return s.log }
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// BotID returns the bot's own user id once OnReady has run.
func (s *Service) BotID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botID
}

// OnReady records the bot's identity and greets the main channel.
func (s *Service) OnReady(ctx context.Context, self discordtypes.User) {
	s.mu.Lock()
	s.botID = self.ID
	s.mu.Unlock()
	s.log.Info().Str("user", self.Name).Str("id", self.ID).Msg("bot is ready")

	if _, err := s.talker.Talk(ctx, s.chat, s.settings.Get().MainChannel); err != nil {
		s.log.Warn().Err(err).Msg("greeting failed")
	}
}

// OnMessage handles one inbound message: wake detection first, then
// commands or a Markov reply when the bot is mentioned.
func (s *Service) OnMessage(ctx context.Context, m discordtypes.Message) {
	if m.Author.Bot || m.Author.ID == s.BotID() {
		return
	}
	log := s.log.With().Str("user", m.Author.ID).Str("channel", m.ChannelID).Logger()

	woke, err := s.detectWake(ctx, m.Author.ID)
	if err != nil {
		log.Error().Err(err).Msg("wake check failed")
	} else if woke {
		s.metrics.Wake()
		if err := s.announceAwake(ctx, m.Author, m.ChannelID); err != nil {
			log.Warn().Err(err).Msg("failed to announce wake")
		}
	}

	if hasPrefix(m.Content, PrefixMarkov) {
		s.dispatch(ctx, log, m)
	}
	if m.MentionsBot {
		if _, err := s.talker.Talk(ctx, s.chat, m.ChannelID); err != nil {
			log.Warn().Err(err).Msg("markov reply failed")
		}
	} else if hasPrefix(m.Content, PrefixWork) {
		s.dispatch(ctx, log, m)
	}
}

func (s *Service) dispatch(ctx context.Context, log zerolog.Logger, m discordtypes.Message) {
	if s.router == nil {
		return
	}
	if err := s.router.Dispatch(ctx, m); err != nil {
		log.Error().Err(err).Str("content", m.Content).Msg("command failed")
	}
}

// hasPrefix reports whether the first word of content is prefix.
func hasPrefix(content, prefix string) bool {
	fields := strings.Fields(content)
	return len(fields) > 0 && fields[0] == prefix
}

func (s *Service) detectWake(ctx context.Context, userID string) (bool, error) {
	set := s.settings.Get()
	now := s.now()
	var woke bool
	_, err := s.store.Update(ctx, userID, func(rec *st.UserRecord, exists bool) error {
		woke = accountability.Wake(rec, exists, now, accountability.Resolve(set, *rec))
		return nil
	})
	return woke, err
}

func (s *Service) announceAwake(ctx context.Context, user discordtypes.User, channelID string) error {
	set := s.settings.Get()
	rec, err := s.store.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	hours := accountability.Hours(set, rec, st.WorkDelay)
	_, err = s.chat.Send(ctx, channelID, set.Message(settings.MsgAwake, user.Mention(), hours))
	return err
}

// ForceWake marks the user awake now and announces it in channelID.
func (s *Service) ForceWake(ctx context.Context, user discordtypes.User, channelID string) error {
	now := s.now()
	if _, err := s.store.Update(ctx, user.ID, func(rec *st.UserRecord, _ bool) error {
		accountability.ForceWake(rec, now)
		return nil
	}); err != nil {
		return err
	}
	return s.announceAwake(ctx, user, channelID)
}

// StartWorking starts a work cycle for user by command and confirms in
// channelID.
func (s *Service) StartWorking(ctx context.Context, user discordtypes.User, channelID string) error {
	now := s.now()
	if _, err := s.store.Update(ctx, user.ID, func(rec *st.UserRecord, _ bool) error {
		accountability.Apply(rec, accountability.StartWorking, now)
		return nil
	}); err != nil {
		return err
	}
	s.metrics.Transition("cmd_" + accountability.StartWorking.String())
	return s.say(ctx, channelID, settings.MsgWorkingCmd, user)
}

// StopWorking ends the cycle by command. No prompt is issued and any
// outstanding prompt is withdrawn.
func (s *Service) StopWorking(ctx context.Context, user discordtypes.User, channelID string) error {
	now := s.now()
	if _, err := s.store.Update(ctx, user.ID, func(rec *st.UserRecord, _ bool) error {
		accountability.Apply(rec, accountability.StopWorking, now)
		rec.Prompt = ""
		return nil
	}); err != nil {
		return err
	}
	s.metrics.Transition("cmd_" + accountability.StopWorking.String())
	return s.say(ctx, channelID, settings.MsgDoneCmd, user)
}

// SetEnabled toggles participation in scheduled checks.
func (s *Service) SetEnabled(ctx context.Context, user discordtypes.User, channelID string, enabled bool) error {
	if _, err := s.store.Update(ctx, user.ID, func(rec *st.UserRecord, _ bool) error {
		rec.Enabled = enabled
		return nil
	}); err != nil {
		return err
	}
	key := settings.MsgDisable
	if enabled {
		key = settings.MsgEnable
	}
	return s.say(ctx, channelID, key, user)
}

func (s *Service) say(ctx context.Context, channelID, key string, user discordtypes.User) error {
	_, err := s.chat.Send(ctx, channelID, s.settings.Get().Message(key, user.Mention(), 0))
	if err != nil {
		return fmt.Errorf("send %s: %w", key, err)
	}
	return nil
}

// newTraceID tags the log lines of one tick or command.
func newTraceID() string {
	return uuid.NewString()
}
