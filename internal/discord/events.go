package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/keshon/therapy-bot/internal/discordtypes"
)

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	ctx, h := b.target()
	if h == nil || r.User == nil {
		return
	}
	b.log.Info().Int("guilds", len(r.Guilds)).Str("user", r.User.Username).Msg("discord bot is running")
	h.OnReady(ctx, toUser(r.User))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, h := b.target()
	if h == nil || m.Author == nil {
		return
	}
	h.OnMessage(ctx, toMessage(m.Message, selfID(s)))
}

func (b *Bot) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	ctx, h := b.target()
	if h == nil || r.MessageReaction == nil {
		return
	}
	h.OnReaction(ctx, discordtypes.Reaction{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.APIName(),
	})
}

func selfID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

func toUser(u *discordgo.User) discordtypes.User {
	if u == nil {
		return discordtypes.User{}
	}
	return discordtypes.User{ID: u.ID, Name: u.DisplayName(), Bot: u.Bot}
}

func toMessage(m *discordgo.Message, botID string) discordtypes.Message {
	out := discordtypes.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author:    toUser(m.Author),
		Content:   m.Content,
	}
	if botID == "" {
		return out
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			out.MentionsBot = true
			break
		}
	}
	return out
}
