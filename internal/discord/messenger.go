package discord

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/pkg/retrylimit"
)

const (
	historyPage = 100
	membersPage = 1000
)

// Messenger performs REST calls for the companion core. Every call goes
// through one adaptive limiter and the bounded retry policy.
type Messenger struct {
	dg  *discordgo.Session
	lim *retrylimit.AdaptiveLimiter
	cfg retrylimit.Config
	log zerolog.Logger
}

func NewMessenger(dg *discordgo.Session, log zerolog.Logger) *Messenger {
	cfg := retrylimit.DefaultConfig()
	cfg.Log = log
	return &Messenger{
		dg:  dg,
		lim: retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
		cfg: cfg,
		log: log,
	}
}

// restStatus exposes the HTTP status of a REST error to the retry policy.
type restStatus struct {
	error
	code int
}

func (r restStatus) Unwrap() error { return r.error }
func (r restStatus) StatusCode() int { return r.code }

// rateLimited is a 429 that discordgo did not retry itself.
type rateLimited struct {
	error
	after time.Duration
}

func (r rateLimited) Unwrap() error { return r.error }
func (r rateLimited) StatusCode() int { return http.StatusTooManyRequests }
func (r rateLimited) RetryAfter() time.Duration { return r.after }

// annotate makes discordgo errors understood by retrylimit.StatusClassifier.
func annotate(err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		var after time.Duration
		if rl.RateLimit != nil && rl.TooManyRequests != nil {
			after = rl.TooManyRequests.RetryAfter
		}
		return rateLimited{err, after}
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return restStatus{err, rerr.Response.StatusCode}
	}
	return err
}

func (m *Messenger) do(ctx context.Context, fn func() error) error {
	return m.doWith(ctx, m.cfg, fn)
}

func (m *Messenger) doWith(ctx context.Context, cfg retrylimit.Config, fn func() error) error {
	return retrylimit.Do(ctx, m.lim, cfg, func() error { return annotate(fn()) })
}

func (m *Messenger) Send(ctx context.Context, channelID, text string) (string, error) {
	var msg *discordgo.Message
	err := m.do(ctx, func() error {
		var err error
		msg, err = m.dg.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

func (m *Messenger) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := m.do(ctx, func() error {
		return m.dg.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("react %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

func (m *Messenger) Channel(ctx context.Context, channelID string) (discordtypes.Channel, error) {
	if ch, err := m.dg.State.Channel(channelID); err == nil {
		return toChannel(ch), nil
	}
	var ch *discordgo.Channel
	err := m.do(ctx, func() error {
		var err error
		ch, err = m.dg.Channel(channelID, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return discordtypes.Channel{}, fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	return toChannel(ch), nil
}

func toChannel(ch *discordgo.Channel) discordtypes.Channel {
	return discordtypes.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name}
}

func (m *Messenger) ResolveUser(ctx context.Context, userID string) (discordtypes.User, error) {
	var u *discordgo.User
	err := m.do(ctx, func() error {
		var err error
		u, err = m.dg.User(userID, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return discordtypes.User{}, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return toUser(u), nil
}

// ChannelMembers lists the members of the guild that owns channelID.
func (m *Messenger) ChannelMembers(ctx context.Context, channelID string) ([]discordtypes.User, error) {
	ch, err := m.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.GuildID == "" {
		return nil, fmt.Errorf("channel %s is not in a guild", channelID)
	}

	var out []discordtypes.User
	after := ""
	for {
		var page []*discordgo.Member
		err := m.do(ctx, func() error {
			var err error
			page, err = m.dg.GuildMembers(ch.GuildID, after, membersPage, discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list members of %s: %w", ch.GuildID, err)
		}
		for _, mem := range page {
			if mem.User == nil {
				continue
			}
			u := toUser(mem.User)
			if mem.Nick != "" {
				u.Name = mem.Nick
			}
			out = append(out, u)
			after = mem.User.ID
		}
		if len(page) < membersPage {
			return out, nil
		}
	}
}

// ChannelHistory returns up to limit messages, newest first.
func (m *Messenger) ChannelHistory(ctx context.Context, channelID string, limit int) ([]discordtypes.HistoryMessage, error) {
	var out []discordtypes.HistoryMessage
	before := ""
	for len(out) < limit {
		n := min(historyPage, limit-len(out))
		var page []*discordgo.Message
		err := m.do(ctx, func() error {
			var err error
			page, err = m.dg.ChannelMessages(channelID, n, before, "", "", discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", channelID, err)
		}
		for _, msg := range page {
			out = append(out, discordtypes.HistoryMessage{
				AuthorBot: msg.Author != nil && msg.Author.Bot,
				Content:   msg.Content,
			})
		}
		if len(page) < n {
			break
		}
		before = page[len(page)-1].ID
	}
	m.log.Debug().Str("channel", channelID).Int("messages", len(out)).Msg("history fetched")
	return out, nil
}

// SetAvatar replaces the bot's avatar with img. A rejected upload is not
// retried; the avatar manager backs off instead.
func (m *Messenger) SetAvatar(ctx context.Context, img []byte) error {
	cfg := m.cfg
	cfg.MaxAttempts = 1
	return m.doWith(ctx, cfg, func() error {
		_, err := m.dg.UserUpdate("", avatarDataURI(img), "",
			discordgo.WithContext(ctx), discordgo.WithRetryOnRatelimit(false))
		return err
	})
}

func avatarDataURI(img []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))
}
