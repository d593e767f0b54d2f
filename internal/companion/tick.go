package companion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/accountability"
	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/internal/storage"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

// ErrTickBusy is returned when a tick is requested while another one runs.
var ErrTickBusy = errors.New("tick already running")

// OnTick runs one scheduler iteration: evaluate and dispatch every enabled
// user, refresh the avatar, and maybe talk. Per-user failures are logged
// and do not stop the tick.
func (s *Service) OnTick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		return ErrTickBusy
	}
	defer s.tickMu.Unlock()

	start := s.now()
	log := s.log.With().Str("tick", newTraceID()).Logger()
	set := s.settings.Get()

	users, err := s.store.EnabledUsers(ctx)
	if err != nil {
		return fmt.Errorf("list enabled users: %w", err)
	}
	log.Debug().Int("users", len(users)).Msg("tick")

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.checkUser(ctx, log, set, u)
	}

	if s.avatar != nil {
		fresh, err := s.store.EnabledUsers(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("cannot list users for avatar")
		} else if err := s.avatar.Refresh(ctx, fresh); err != nil {
			log.Warn().Err(err).Msg("avatar refresh failed")
		}
	}

	if s.talker != nil {
		if _, err := s.talker.MaybeTalk(ctx, s.chat, s.now()); err != nil {
			log.Warn().Err(err).Msg("scheduled talk failed")
		}
	}

	s.metrics.Tick(s.now().Sub(start), len(users))
	return nil
}

// checkUser evaluates one user. The pre-read record only decides whether a
// lookup is needed; the transition itself is re-decided inside the store
// update so a concurrent command or reaction is never overwritten.
func (s *Service) checkUser(ctx context.Context, log zerolog.Logger, set *settings.Settings, pre st.UserRecord) {
	now := s.now()
	log = log.With().Str("user", pre.ID).Logger()

	if accountability.Evaluate(pre, now, accountability.Resolve(set, pre)) == accountability.None {
		return
	}

	user, err := s.chat.ResolveUser(ctx, pre.ID)
	if err != nil {
		s.metrics.UserError("lookup")
		log.Warn().Err(err).Msg("cannot resolve user, skipping")
		return
	}

	var action accountability.Action
	_, err = s.store.Update(ctx, pre.ID, func(rec *st.UserRecord, exists bool) error {
		if !exists {
			return storage.ErrNoChange
		}
		action = accountability.Evaluate(*rec, now, accountability.Resolve(set, *rec))
		if action == accountability.None {
			return storage.ErrNoChange
		}
		accountability.Apply(rec, action, now)
		return nil
	})
	if err != nil {
		s.metrics.UserError("store")
		log.Error().Err(err).Msg("transition failed")
		return
	}
	if action == accountability.None {
		return
	}
	s.metrics.Transition(action.String())
	log.Info().Stringer("action", action).Msg("transition")

	if err := s.announce(ctx, set, user, action); err != nil {
		s.metrics.UserError("send")
		log.Warn().Err(err).Stringer("action", action).Msg("failed to announce transition")
	}
}

// announce posts the timer message for action in the work channel. Stop and
// remind messages become the user's prompt.
func (s *Service) announce(ctx context.Context, set *settings.Settings, user discordtypes.User, action accountability.Action) error {
	var key string
	prompt := true
	switch action {
	case accountability.StartWorking:
		key, prompt = settings.MsgWorkingTimer, false
	case accountability.StopWorking:
		key = settings.MsgDoneTimer
	case accountability.Remind:
		key = settings.MsgRemind
	default:
		return nil
	}

	msgID, err := s.chat.Send(ctx, set.WorkChannel, set.Message(key, user.Mention(), 0))
	if err != nil {
		return fmt.Errorf("send %s: %w", key, err)
	}
	if !prompt {
		return nil
	}
	return s.issuePrompt(ctx, set, user.ID, msgID)
}

func (s *Service) issuePrompt(ctx context.Context, set *settings.Settings, userID, msgID string) error {
	if _, err := s.store.Update(ctx, userID, func(rec *st.UserRecord, _ bool) error {
		rec.Prompt = msgID
		return nil
	}); err != nil {
		return fmt.Errorf("record prompt: %w", err)
	}
	for _, emoji := range []string{set.Emoji.Yes, set.Emoji.No} {
		if err := s.chat.AddReaction(ctx, set.WorkChannel, msgID, emoji); err != nil {
			return fmt.Errorf("add prompt reaction: %w", err)
		}
	}
	return nil
}
