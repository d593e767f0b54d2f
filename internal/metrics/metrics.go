// Package metrics defines the bot's Prometheus metrics and the optional
// HTTP endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics owns its registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	wakes        prometheus.Counter
	reactions    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	commandTime  *prometheus.HistogramVec
	tickDuration prometheus.Histogram
	enabledUsers prometheus.Gauge
	userErrors   *prometheus.CounterVec
	avatar       *prometheus.CounterVec
	markovTalks  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "therapy_transitions_total",
			Help: "Scheduled state transitions applied, by action.",
		}, []string{"action"}),
		wakes: f.NewCounter(prometheus.CounterOpts{
			Name: "therapy_wakes_total",
			Help: "Wakes reported for enabled users.",
		}),
		reactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "therapy_prompt_reactions_total",
			Help: "Resolved prompt reactions, by outcome.",
		}, []string{"outcome"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "therapy_commands_total",
			Help: "Text commands handled, by command and status.",
		}, []string{"command", "status"}),
		commandTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "therapy_command_duration_seconds",
			Help:    "Duration of text commands.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "therapy_tick_duration_seconds",
			Help:    "Duration of one scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		enabledUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "therapy_enabled_users",
			Help: "Enabled users seen on the last tick.",
		}),
		userErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "therapy_user_errors_total",
			Help: "Per-user failures during a tick, by stage.",
		}, []string{"stage"}),
		avatar: f.NewCounterVec(prometheus.CounterOpts{
			Name: "therapy_avatar_updates_total",
			Help: "Avatar upload attempts, by expression and status.",
		}, []string{"expression", "status"}),
		markovTalks: f.NewCounter(prometheus.CounterOpts{
			Name: "therapy_markov_sentences_total",
			Help: "Markov sentences sent.",
		}),
	}
}

func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) Wake() {
	if m == nil {
		return
	}
	m.wakes.Inc()
}

func (m *Metrics) Reaction(outcome string) {
	if m == nil {
		return
	}
	m.reactions.WithLabelValues(outcome).Inc()
}

// Command records one handled command. status is "ok" or "error".
func (m *Metrics) Command(name, status string, took time.Duration) {
	if m == nil {
		return
	}
	if name == "" {
		name = "unknown"
	}
	m.commands.WithLabelValues(name, status).Inc()
	m.commandTime.WithLabelValues(name).Observe(took.Seconds())
}

func (m *Metrics) Tick(took time.Duration, enabled int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(took.Seconds())
	m.enabledUsers.Set(float64(enabled))
}

func (m *Metrics) UserError(stage string) {
	if m == nil {
		return
	}
	m.userErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) Avatar(expression, status string) {
	if m == nil {
		return
	}
	m.avatar.WithLabelValues(expression, status).Inc()
}

func (m *Metrics) MarkovSentence() {
	if m == nil {
		return
	}
	m.markovTalks.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
