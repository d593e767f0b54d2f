// Package command implements the bot's text commands. A command line is
// "!<group> <sub> [args...]" and is looked up in the registry as
// "<group> <sub>".
package command

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/companion"
	"github.com/keshon/therapy-bot/internal/discordtypes"
	"github.com/keshon/therapy-bot/pkg/cmd"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
)

type Options struct {
	// DeveloperID may run restricted commands such as "work reload" and
	// "work status".
	DeveloperID string
}

// Router resolves inbound command lines against its registry.
type Router struct {
	reg *cmd.Registry
	log zerolog.Logger
}

// NewRouter registers every command against svc and jobs.
func NewRouter(svc *companion.Service, jobs *jobmgr.Manager, opts Options) *Router {
	log := svc.Log().With().Str("component", "command").Logger()
	base := []cmd.Middleware{WithCommandLogger(log, svc.Metrics())}
	dev := append([]cmd.Middleware{WithDeveloperOnly(opts.DeveloperID)}, base...)

	r := &Router{reg: cmd.NewRegistry(), log: log}
	for _, c := range []cmd.Command{
		&AwakeCommand{svc: svc},
		&StartCommand{svc: svc},
		&DoneCommand{svc: svc},
		&EnableCommand{svc: svc, enabled: true},
		&EnableCommand{svc: svc, enabled: false},
		&SetCommand{svc: svc},
		&InfoCommand{svc: svc},
		&WhoCommand{svc: svc},
		&RegenerateCommand{svc: svc, jobs: jobs},
	} {
		r.reg.Register(cmd.Apply(c, base...))
	}
	for _, c := range []cmd.Command{
		&ReloadCommand{svc: svc},
		&StatusCommand{svc: svc, jobs: jobs},
		&StopRegenerateCommand{svc: svc, jobs: jobs},
	} {
		r.reg.Register(cmd.Apply(c, dev...))
	}
	return r
}

// Registry exposes the registered commands.
func (r *Router) Registry() *cmd.Registry { return r.reg }

// Dispatch runs the command named by the first two words of m. Lines that
// name no registered command are ignored.
func (r *Router) Dispatch(ctx context.Context, m discordtypes.Message) error {
	fields := strings.Fields(m.Content)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "!") {
		return nil
	}
	name := strings.TrimPrefix(fields[0], "!") + " " + fields[1]
	c := r.reg.Get(name)
	if c == nil {
		r.log.Debug().Str("command", name).Msg("unknown command")
		return nil
	}
	return c.Run(ctx, &cmd.Invocation{
		Name:      name,
		Args:      fields[2:],
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Data:      m,
	})
}

func caller(inv *cmd.Invocation) discordtypes.User {
	if m, ok := inv.Data.(discordtypes.Message); ok {
		return m.Author
	}
	return discordtypes.User{ID: inv.UserID}
}

func reply(ctx context.Context, svc *companion.Service, inv *cmd.Invocation, text string) error {
	_, err := svc.Chat().Send(ctx, inv.ChannelID, text)
	return err
}
