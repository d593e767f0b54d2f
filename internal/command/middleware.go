package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/metrics"
	"github.com/keshon/therapy-bot/pkg/cmd"
)

// ErrForbidden is returned when a caller may not run a command.
var ErrForbidden = errors.New("command is restricted to the developer")

// WithCommandLogger logs every execution with a correlation id and records
// its outcome and latency.
func WithCommandLogger(log zerolog.Logger, m *metrics.Metrics) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			l := log.With().
				Str("command", c.Name()).
				Str("trace", uuid.NewString()).
				Str("user", inv.UserID).
				Str("channel", inv.ChannelID).
				Logger()

			start := time.Now()
			err := c.Run(ctx, inv)
			took := time.Since(start)

			status := "ok"
			switch {
			case errors.Is(err, ErrForbidden):
				status = "forbidden"
				l.Warn().Msg("command refused")
			case err != nil:
				status = "error"
				l.Error().Err(err).Dur("took", took).Msg("command failed")
			default:
				l.Info().Strs("args", inv.Args).Dur("took", took).Msg("command executed")
			}
			m.Command(c.Name(), status, took)
			return err
		})
	}
}

// WithDeveloperOnly lets only devID run the command. An empty devID locks
// the command for everyone.
func WithDeveloperOnly(devID string) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if devID == "" || inv.UserID != devID {
				return ErrForbidden
			}
			return c.Run(ctx, inv)
		})
	}
}
