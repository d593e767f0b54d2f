package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/keshon/therapy-bot/internal/companion"
	"github.com/keshon/therapy-bot/pkg/cmd"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
)

// RegenerateJob is the jobmgr name of a running model rebuild.
const RegenerateJob = "markov-regenerate"

// RegenerateCommand retrains the Markov model in the background. Only one
// rebuild runs at a time.
type RegenerateCommand struct {
	svc  *companion.Service
	jobs *jobmgr.Manager
}

func (c *RegenerateCommand) Name() string { return "markov regenerate" }
func (c *RegenerateCommand) Description() string { return "Retrain the chat model from channel history" }

func (c *RegenerateCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	err := c.jobs.StartAsync(RegenerateJob, func(ctx context.Context) error {
		n, err := c.svc.Talker().Regenerate(ctx, c.svc.Chat(), c.svc.Chat(), inv.ChannelID)
		if err != nil {
			msg := "regenerating failed: " + err.Error()
			if errors.Is(err, context.Canceled) {
				msg = "regenerating cancelled, keeping the old model"
			}
			if _, serr := c.svc.Chat().Send(context.WithoutCancel(ctx), inv.ChannelID, msg); serr != nil {
				log := c.svc.Log()
				log.Warn().Err(serr).Msg("cannot report markov failure")
			}
			return err
		}
		_, err = c.svc.Chat().Send(ctx, inv.ChannelID, fmt.Sprintf("finished regenerating, using %d messages", n))
		return err
	})
	if errors.Is(err, jobmgr.ErrAlreadyRunning) {
		return reply(ctx, c.svc, inv, "already regenerating")
	}
	return err
}

// StopRegenerateCommand cancels a running rebuild. The previous model stays
// in use.
type StopRegenerateCommand struct {
	svc  *companion.Service
	jobs *jobmgr.Manager
}

func (c *StopRegenerateCommand) Name() string { return "markov stop" }
func (c *StopRegenerateCommand) Description() string { return "Cancel a running model rebuild" }

func (c *StopRegenerateCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	if err := c.jobs.Stop(RegenerateJob); errors.Is(err, jobmgr.ErrNotRunning) {
		return reply(ctx, c.svc, inv, "not regenerating")
	} else if err != nil {
		return err
	}
	return reply(ctx, c.svc, inv, "stopping regeneration")
}
