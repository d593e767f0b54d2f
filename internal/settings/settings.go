// Package settings loads the bot's settings document: timing defaults,
// channels, message templates and the other values an operator edits while
// the bot is running. A loaded Settings value is never mutated; reloading
// produces a new one (see Holder).
package settings

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

// ErrUnknownKey is returned for a duration key that is not user-settable.
var ErrUnknownKey = errors.New("unknown config key")

// Message template keys.
const (
	MsgAwake        = "awake"
	MsgWorkingTimer = "working_timer"
	MsgWorkingCmd   = "working_cmd"
	MsgDoneTimer    = "done_timer"
	MsgDoneCmd      = "done_cmd"
	MsgRemind       = "remind"
	MsgEnable       = "enable"
	MsgDisable      = "disable"
	MsgFailure      = "failure"
)

// UserMeta is static display metadata for a known user.
type UserMeta struct {
	Name string `mapstructure:"name"`
}

// Emoji used for prompts and for the bot's own reactions.
type Emoji struct {
	Yes   string `mapstructure:"yes" validate:"required"`
	No    string `mapstructure:"no" validate:"required"`
	Happy string `mapstructure:"happy" validate:"required"`
	Angry string `mapstructure:"angry" validate:"required"`
}

type Settings struct {
	MainChannel  string `mapstructure:"main_channel" validate:"required"`
	WorkChannel  string `mapstructure:"work_channel" validate:"required"`
	VoiceChannel string `mapstructure:"voice_channel"`

	BackgroundDelayS float64 `mapstructure:"background_delay_s" validate:"gt=0,lte=86400"`

	AwakeCooldownH  float64 `mapstructure:"awake_cooldown_h" validate:"gte=0,lte=1000000"`
	SleepMinH       float64 `mapstructure:"sleep_min_h" validate:"gte=0,lte=1000000"`
	WorkDelayH      float64 `mapstructure:"work_delay_h" validate:"gte=0,lte=1000000"`
	WorkDurationH   float64 `mapstructure:"work_duration_h" validate:"gte=0,lte=1000000"`
	RemindIntervalH float64 `mapstructure:"remind_interval_h" validate:"gte=0,lte=1000000"`

	TalkHours          []int    `mapstructure:"talk_hours" validate:"dive,gte=0,lte=23"`
	TalkCooldownS      float64  `mapstructure:"talk_cooldown_s" validate:"gte=0,lte=3600000000"`
	MarkovChannels     []string `mapstructure:"markov_channels"`
	MarkovHistoryLimit int      `mapstructure:"markov_history_limit" validate:"gte=0"`
	MarkovModelPath    string   `mapstructure:"markov_model_path" validate:"required"`

	AvatarDir      string              `mapstructure:"avatar_dir"`
	AvatarBackoffS float64             `mapstructure:"avatar_backoff_s" validate:"gte=0,lte=3600000000"`
	AngeredH       float64             `mapstructure:"angered_h" validate:"gte=0,lte=1000000"`
	Expressions    map[string][]string `mapstructure:"expressions"`

	UserSettable []string            `mapstructure:"user_settable" validate:"dive,duration_key"`
	Users        map[string]UserMeta `mapstructure:"users"`
	Messages     map[string]string   `mapstructure:"messages"`
	Emoji        Emoji               `mapstructure:"emoji"`

	defaults map[st.DurationKey]float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("background_delay_s", 60)
	v.SetDefault("awake_cooldown_h", 12)
	v.SetDefault("sleep_min_h", 4)
	v.SetDefault("work_delay_h", 1)
	v.SetDefault("work_duration_h", 2)
	v.SetDefault("remind_interval_h", 0.5)
	v.SetDefault("talk_cooldown_s", 360)
	v.SetDefault("markov_history_limit", 10000)
	v.SetDefault("markov_model_path", "markov.json")
	v.SetDefault("avatar_dir", "res")
	v.SetDefault("avatar_backoff_s", 600)
	v.SetDefault("angered_h", 2)
	v.SetDefault("user_settable", []string{
		string(st.AwakeCooldown),
		string(st.SleepMin),
		string(st.WorkDelay),
		string(st.WorkDuration),
		string(st.RemindInterval),
	})
	v.SetDefault("emoji.yes", "✅")
	v.SetDefault("emoji.no", "❌")
	v.SetDefault("emoji.happy", "\U0001F60A")
	v.SetDefault("emoji.angry", "\U0001F620")
	v.SetDefault("messages.awake", "{mention} good morning! work starts in {hours}h")
	v.SetDefault("messages.working_timer", "{mention} time to get to work")
	v.SetDefault("messages.working_cmd", "{mention} ok, working")
	v.SetDefault("messages.done_timer", "{mention} time's up, did you get it done?")
	v.SetDefault("messages.done_cmd", "{mention} good job!")
	v.SetDefault("messages.remind", "{mention} are you working?")
	v.SetDefault("messages.enable", "{mention} ok, I'll keep an eye on you")
	v.SetDefault("messages.disable", "{mention} ok, you're on your own")
	v.SetDefault("messages.failure", "{mention} ...I'm disappointed")
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("duration_key", func(fl validator.FieldLevel) bool {
		_, ok := st.ParseDurationKey(fl.Field().String())
		return ok
	})
	return validate
}

// Load reads the settings document at path (YAML or JSON, by extension),
// applies defaults and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := newValidator().Struct(s); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	s.resolve()
	return &s, nil
}

// resolve builds the defaults table once so lookups never go through viper.
func (s *Settings) resolve() {
	s.defaults = map[st.DurationKey]float64{
		st.AwakeCooldown:  s.AwakeCooldownH,
		st.SleepMin:       s.SleepMinH,
		st.WorkDelay:      s.WorkDelayH,
		st.WorkDuration:   s.WorkDurationH,
		st.RemindInterval: s.RemindIntervalH,
	}
}

// DefaultHours returns the global default for key in hours.
func (s *Settings) DefaultHours(key st.DurationKey) float64 {
	if s.defaults == nil {
		s.resolve()
	}
	return s.defaults[key]
}

// Hours converts a number of hours to a time.Duration.
func Hours(h float64) time.Duration {
	return saturate(h * float64(time.Hour))
}

// Seconds converts a number of seconds to a time.Duration.
func Seconds(sec float64) time.Duration {
	return saturate(sec * float64(time.Second))
}

func saturate(ns float64) time.Duration {
	if ns >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

func (s *Settings) BackgroundDelay() time.Duration { return Seconds(s.BackgroundDelayS) }
func (s *Settings) TalkCooldown() time.Duration { return Seconds(s.TalkCooldownS) }
func (s *Settings) AvatarBackoff() time.Duration { return Seconds(s.AvatarBackoffS) }
func (s *Settings) AngeredFor() time.Duration { return Hours(s.AngeredH) }

// SettableKeys returns the allow-listed override keys in document order.
func (s *Settings) SettableKeys() []st.DurationKey {
	keys := make([]st.DurationKey, 0, len(s.UserSettable))
	for _, raw := range s.UserSettable {
		if k, ok := st.ParseDurationKey(raw); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// SettableKey parses name and checks it against the allow-list.
func (s *Settings) SettableKey(name string) (st.DurationKey, error) {
	k, ok := st.ParseDurationKey(name)
	if !ok || !slices.Contains(s.UserSettable, name) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return k, nil
}

// IsTalkHour reports whether the bot may talk unprompted during hour.
func (s *Settings) IsTalkHour(hour int) bool {
	return slices.Contains(s.TalkHours, hour)
}

// DisplayName returns the configured name for userID, or "".
func (s *Settings) DisplayName(userID string) string {
	return s.Users[userID].Name
}

// Message renders the template key for mention. hours fills the {hours}
// placeholder where the template has one.
func (s *Settings) Message(key, mention string, hours float64) string {
	tpl, ok := s.Messages[key]
	if !ok {
		tpl = "{mention}"
	}
	r := strings.NewReplacer(
		"{mention}", mention,
		"{hours}", strconv.FormatFloat(hours, 'f', -1, 64),
	)
	return r.Replace(tpl)
}
