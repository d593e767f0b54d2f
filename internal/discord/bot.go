// Package discord connects the companion core to a Discord gateway session.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/discordtypes"
)

// Handler receives translated gateway events.
type Handler interface {
	OnReady(ctx context.Context, self discordtypes.User)
	OnMessage(ctx context.Context, m discordtypes.Message)
	OnReaction(ctx context.Context, r discordtypes.Reaction)
}

// Bot owns the gateway session.
type Bot struct {
	dg  *discordgo.Session
	log zerolog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	handler Handler
}

// New creates a session for token. The connection is opened by Run.
func New(token string, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	return &Bot{dg: dg, log: log, ctx: context.Background()}, nil
}

// Session returns the underlying session, for building a Messenger.
func (b *Bot) Session() *discordgo.Session { return b.dg }

// Run connects, delivers events to h and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context, h Handler) error {
	b.mu.Lock()
	b.ctx = ctx
	b.handler = h
	b.mu.Unlock()

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onMessageReactionAdd)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	b.log.Info().Msg("gateway connected")

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing session")
	if err := b.dg.Close(); err != nil {
		b.log.Warn().Err(err).Msg("error closing session")
	}
	return nil
}

func (b *Bot) target() (context.Context, Handler) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx, b.handler
}
