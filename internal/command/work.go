package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keshon/therapy-bot/internal/accountability"
	"github.com/keshon/therapy-bot/internal/companion"
	"github.com/keshon/therapy-bot/internal/storage"
	st "github.com/keshon/therapy-bot/internal/storagetypes"
	"github.com/keshon/therapy-bot/pkg/cmd"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
	"github.com/keshon/therapy-bot/pkg/util"
)

const dateTpl = "YYYY-MM-DD hh:mm:ss"

type AwakeCommand struct{ svc *companion.Service }

func (c *AwakeCommand) Name() string { return "work awake" }
func (c *AwakeCommand) Description() string { return "Mark yourself awake now" }
func (c *AwakeCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	return c.svc.ForceWake(ctx, caller(inv), inv.ChannelID)
}

type StartCommand struct{ svc *companion.Service }

func (c *StartCommand) Name() string { return "work start" }
func (c *StartCommand) Description() string { return "Start a work session" }
func (c *StartCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	return c.svc.StartWorking(ctx, caller(inv), inv.ChannelID)
}

type DoneCommand struct{ svc *companion.Service }

func (c *DoneCommand) Name() string { return "work done" }
func (c *DoneCommand) Description() string { return "Finish the current work session" }
func (c *DoneCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	return c.svc.StopWorking(ctx, caller(inv), inv.ChannelID)
}

// EnableCommand is "work enable" or "work disable".
type EnableCommand struct {
	svc     *companion.Service
	enabled bool
}

func (c *EnableCommand) Name() string {
	if c.enabled {
		return "work enable"
	}
	return "work disable"
}

func (c *EnableCommand) Description() string {
	if c.enabled {
		return "Turn on scheduled check-ins"
	}
	return "Turn off scheduled check-ins"
}

func (c *EnableCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	return c.svc.SetEnabled(ctx, caller(inv), inv.ChannelID, c.enabled)
}

// SetCommand sets or clears a per-user duration override:
//
//	!work set work_delay_h 1.5
//	!work set work_delay_h none
type SetCommand struct{ svc *companion.Service }

func (c *SetCommand) Name() string { return "work set" }
func (c *SetCommand) Description() string { return "Override one of your durations, in hours" }

func (c *SetCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	user := caller(inv)
	set := c.svc.Settings().Get()

	invalid := fmt.Sprintf("%s invalid config key, valid keys are: %s", user.Mention(), strings.Join(set.UserSettable, ", "))
	if len(inv.Args) != 2 {
		return reply(ctx, c.svc, inv, invalid)
	}
	key, err := set.SettableKey(inv.Args[0])
	if err != nil {
		return reply(ctx, c.svc, inv, invalid)
	}

	value, unset, err := accountability.ParseOverride(inv.Args[1])
	switch {
	case errors.Is(err, accountability.ErrNotANumber):
		return reply(ctx, c.svc, inv, user.Mention()+" that's not a number!")
	case errors.Is(err, accountability.ErrNegative):
		return reply(ctx, c.svc, inv, user.Mention()+" that can't be negative!")
	case errors.Is(err, accountability.ErrTooLarge):
		return reply(ctx, c.svc, inv, fmt.Sprintf("%s that's too large, the most is %d!", user.Mention(), accountability.MaxHours))
	case err != nil:
		return err
	}

	if _, err := c.svc.Store().Update(ctx, user.ID, func(rec *st.UserRecord, _ bool) error {
		if unset {
			rec.ClearOverride(key)
		} else {
			rec.SetOverride(key, value)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("store override: %w", err)
	}

	if unset {
		return reply(ctx, c.svc, inv, fmt.Sprintf("%s ok, unset %s", user.Mention(), key))
	}
	return reply(ctx, c.svc, inv, fmt.Sprintf("%s ok, set %s to %s", user.Mention(), key, formatHours(value)))
}

// InfoCommand prints the caller's record and effective durations.
type InfoCommand struct{ svc *companion.Service }

func (c *InfoCommand) Name() string { return "work info" }
func (c *InfoCommand) Description() string { return "Show your state and settings" }

func (c *InfoCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	user := caller(inv)
	set := c.svc.Settings().Get()

	rec, err := c.svc.Store().Get(ctx, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		rec = st.NewUserRecord(user.ID)
	} else if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s:\n", user.Mention(), util.FormatDateTpl(c.svc.Now(), dateTpl))
	if name := set.DisplayName(user.ID); name != "" {
		fmt.Fprintf(&b, "\tname: %s\n", name)
	}
	fmt.Fprintf(&b, "\tenabled: %t\n", rec.Enabled)
	fmt.Fprintf(&b, "\tlast active: %s\n", util.FormatDateTpl(rec.LastActive, dateTpl))
	fmt.Fprintf(&b, "\tawake: %s\n", util.FormatDateTpl(rec.Awake, dateTpl))
	fmt.Fprintf(&b, "\tworking: %s\n", util.FormatDateTpl(rec.Working, dateTpl))
	fmt.Fprintf(&b, "\tdone: %t\n", rec.Done)
	fmt.Fprintf(&b, "\tslacking: %t\n", rec.Slacking)

	block, err := effectiveConfig(set.SettableKeys(), set, rec)
	if err != nil {
		return err
	}
	b.WriteString("\tconfig:\n```yaml\n")
	b.Write(block)
	b.WriteString("```")

	return reply(ctx, c.svc, inv, b.String())
}

// effectiveConfig renders each key as "<hours>" or "<hours> (default)".
func effectiveConfig(keys []st.DurationKey, d accountability.Defaults, rec st.UserRecord) ([]byte, error) {
	doc := make(map[string]string, len(keys))
	for _, k := range keys {
		v := formatHours(accountability.Hours(d, rec, k))
		if _, ok := rec.Override(k); !ok {
			v += " (default)"
		}
		doc[string(k)] = v
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// WhoCommand lists the members of the work channel the bot knows about.
type WhoCommand struct{ svc *companion.Service }

func (c *WhoCommand) Name() string { return "work who" }
func (c *WhoCommand) Description() string { return "List who is enrolled and what they are doing" }

func (c *WhoCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	set := c.svc.Settings().Get()
	members, err := c.svc.Chat().ChannelMembers(ctx, set.WorkChannel)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	var lines []string
	for _, m := range members {
		if m.Bot {
			continue
		}
		rec, err := c.svc.Store().Get(ctx, m.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load record %s: %w", m.ID, err)
		}
		name := set.DisplayName(m.ID)
		if name == "" {
			name = m.Name
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, describe(rec)))
	}
	if len(lines) == 0 {
		return reply(ctx, c.svc, inv, "nobody here yet")
	}
	return reply(ctx, c.svc, inv, strings.Join(lines, "\n"))
}

func describe(rec st.UserRecord) string {
	switch {
	case !rec.Enabled:
		return "disabled"
	case rec.Awake.After(rec.Working):
		return "awake"
	case !rec.InCycle():
		return "idle"
	case rec.Done:
		return "done"
	case rec.Slacking:
		return "slacking"
	default:
		return "working"
	}
}

// ReloadCommand re-reads the settings document.
type ReloadCommand struct{ svc *companion.Service }

func (c *ReloadCommand) Name() string { return "work reload" }
func (c *ReloadCommand) Description() string { return "Reload the settings document" }

func (c *ReloadCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	if err := c.svc.Settings().Reload(); err != nil {
		if rerr := reply(ctx, c.svc, inv, "reload failed, keeping the old settings: "+err.Error()); rerr != nil {
			return rerr
		}
		return fmt.Errorf("reload settings: %w", err)
	}
	return reply(ctx, c.svc, inv, "settings reloaded")
}

// StatusCommand reports background jobs and store statistics.
type StatusCommand struct {
	svc  *companion.Service
	jobs *jobmgr.Manager
}

func (c *StatusCommand) Name() string { return "work status" }
func (c *StatusCommand) Description() string { return "Show running jobs and store statistics" }

func (c *StatusCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	stats, err := c.svc.Store().Stats(ctx)
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	block, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("render stats: %w", err)
	}

	var b strings.Builder
	b.WriteString(c.jobs.Status())
	b.WriteString("\n```yaml\n")
	b.Write(block)
	b.WriteString("```")
	return reply(ctx, c.svc, inv, b.String())
}
