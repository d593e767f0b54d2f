package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keshon/therapy-bot/datastore"
	"github.com/keshon/therapy-bot/internal/avatar"
	"github.com/keshon/therapy-bot/internal/command"
	"github.com/keshon/therapy-bot/internal/companion"
	"github.com/keshon/therapy-bot/internal/config"
	"github.com/keshon/therapy-bot/internal/discord"
	"github.com/keshon/therapy-bot/internal/logging"
	"github.com/keshon/therapy-bot/internal/markov"
	"github.com/keshon/therapy-bot/internal/metrics"
	"github.com/keshon/therapy-bot/internal/scheduler"
	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/internal/storage"
	v "github.com/keshon/therapy-bot/internal/version"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
)

func run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if settingsPath != "" {
		cfg.SettingsPath = settingsPath
	}

	log, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log.Info().Str("version", v.Version).Msgf("starting %s", v.AppName)

	h, err := settings.NewHolder(cfg.SettingsPath, logging.Component(log, "settings"))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	store, err := openStore(ctx, cfg, logging.Component(log, "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	m := metrics.New()

	bot, err := discord.New(cfg.DiscordToken, logging.Component(log, "discord"))
	if err != nil {
		return err
	}
	chat := discord.NewMessenger(bot.Session(), logging.Component(log, "discord"))

	talker := markov.NewTalker(h, m, logging.Component(log, "markov"))
	if err := talker.LoadModel(); err != nil {
		log.Warn().Err(err).Msg("cannot load markov model, starting without one")
	}

	svc := companion.New(companion.Deps{
		Store:    store,
		Settings: h,
		Chat:     chat,
		Avatar:   avatar.NewManager(chat, h, m, logging.Component(log, "avatar")),
		Talker:   talker,
		Metrics:  m,
		Log:      logging.Component(log, "companion"),
	})

	jobs := jobmgr.NewManager(ctx, logging.Component(log, "jobs"))
	svc.SetRouter(command.NewRouter(svc, jobs, command.Options{DeveloperID: cfg.DeveloperID}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx, svc) })
	g.Go(func() error { return h.Watch(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logging.Component(log, "metrics")) })
	}
	sched := scheduler.New(svc, h, logging.Component(log, "scheduler"))
	if err := sched.Start(jobs); err != nil {
		return err
	}

	err = g.Wait()
	stop()
	jobs.Wait()
	if err != nil {
		return err
	}
	log.Info().Msg("bot exited cleanly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("using redis store")
		return storage.NewRedis(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
	default:
		log.Info().Str("path", cfg.StoragePath).Msg("using json store")
		dsCfg := datastore.DefaultConfig(cfg.StoragePath)
		dsCfg.Logger = log
		ds, err := datastore.NewWithConfig(dsCfg)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return storage.NewWithDataStore(ds, log), nil
	}
}

var (
	_ companion.Messenger = (*discord.Messenger)(nil)
	_ discord.Handler     = (*companion.Service)(nil)
)
