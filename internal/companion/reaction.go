package companion

import (
	"context"

	"github.com/keshon/therapy-bot/internal/accountability"
	"github.com/keshon/therapy-bot/internal/avatar"
	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/internal/storage"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

func vote(set *settings.Settings, emoji string) accountability.Vote {
	switch emoji {
	case set.Emoji.Yes:
		return accountability.VoteYes
	case set.Emoji.No:
		return accountability.VoteNo
	default:
		return accountability.VoteNone
	}
}

// OnReaction resolves a reaction against the reacting user's outstanding
// prompt. Anything but a yes/no vote on that exact message is ignored.
func (s *Service) OnReaction(ctx context.Context, r discordtypes.Reaction) {
	if r.UserID == s.BotID() {
		return
	}
	set := s.settings.Get()
	v := vote(set, r.Emoji)
	if v == accountability.VoteNone {
		return
	}
	log := s.log.With().Str("user", r.UserID).Str("message", r.MessageID).Logger()

	var outcome accountability.Outcome
	_, err := s.store.Update(ctx, r.UserID, func(rec *st.UserRecord, exists bool) error {
		if !exists {
			return storage.ErrNoChange
		}
		outcome = accountability.ResolveReaction(rec, r.MessageID, v)
		if outcome == accountability.OutcomeNone {
			return storage.ErrNoChange
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("reaction update failed")
		return
	}
	if outcome == accountability.OutcomeNone {
		return
	}
	s.metrics.Reaction(outcome.String())
	log.Info().Stringer("outcome", outcome).Msg("prompt answered")

	user := discordtypes.User{ID: r.UserID}
	react := set.Emoji.Happy
	if v == accountability.VoteNo {
		react = set.Emoji.Angry
	}
	if err := s.chat.AddReaction(ctx, r.ChannelID, r.MessageID, react); err != nil {
		log.Warn().Err(err).Msg("cannot react to prompt answer")
	}

	var expr avatar.Expression
	switch outcome {
	case accountability.Affirmed:
		expr = avatar.Happy
	case accountability.Confirmed:
		expr = avatar.Happy
		if err := s.say(ctx, r.ChannelID, settings.MsgDoneCmd, user); err != nil {
			log.Warn().Err(err).Msg("cannot confirm")
		}
	case accountability.Slacking:
		expr = avatar.Threatening
	case accountability.Failed:
		if err := s.say(ctx, r.ChannelID, settings.MsgFailure, user); err != nil {
			log.Warn().Err(err).Msg("cannot send failure message")
		}
		if s.avatar != nil {
			s.avatar.Anger()
		}
		expr = avatar.Angry
	}
	if s.avatar != nil {
		if err := s.avatar.Set(ctx, expr); err != nil {
			log.Warn().Err(err).Msg("cannot set avatar")
		}
	}
}
