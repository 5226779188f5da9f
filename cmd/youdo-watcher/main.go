// youdo-watcher
//
// Polls the YouDo tasks API for listings matching a set of search queries,
// deduplicates against Redis, enriches new tasks with a detail fetch, and
// announces them to a Telegram channel. A thin command layer answers
// /search for ad-hoc queries.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alexey-kott/youdo-watcher/internal/bot"
	"github.com/alexey-kott/youdo-watcher/internal/catalog"
	"github.com/alexey-kott/youdo-watcher/internal/config"
	"github.com/alexey-kott/youdo-watcher/internal/notify"
	"github.com/alexey-kott/youdo-watcher/internal/pipeline"
	"github.com/alexey-kott/youdo-watcher/internal/scheduler"
	"github.com/alexey-kott/youdo-watcher/internal/store"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	log := zl.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("config error", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Dedup store ─────────────────────────────────────────────────────────
	tasks, err := store.NewTaskStore(ctx, cfg.RedisURL, cfg.RedisTaskDB)
	if err != nil {
		log.Fatalw("redis", "err", err)
	}
	defer tasks.Close()
	log.Infow("redis connected", "db", cfg.RedisTaskDB)

	// ── Archive (optional) ──────────────────────────────────────────────────
	var archive *store.Archive
	if cfg.DatabaseURL != "" {
		archive, err = store.NewArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("postgres", "err", err)
		}
		defer archive.Close()
		log.Info("postgres archive connected")
	}

	// ── Telegram ────────────────────────────────────────────────────────────
	tg := notify.NewTelegram(cfg.BotToken)
	me, err := tg.Me(ctx)
	if err != nil {
		log.Fatalw("telegram getMe", "err", err)
	}
	log.Infow("telegram connected", "bot", me.Username)

	// ── Pipeline & scheduler ────────────────────────────────────────────────
	client := catalog.NewClient(cfg.SearchLat, cfg.SearchLng, cfg.SearchRadius)

	// Interfaces reject a nil *Archive wrapped in a non-nil interface value.
	var archiver pipeline.Archiver
	if archive != nil {
		archiver = archive
	}

	pipe := pipeline.New(client, tasks, tg, archiver, pipeline.Options{
		ChannelID:         cfg.ChannelID,
		OperatorChatID:    cfg.OperatorChatID,
		ItemDelay:         cfg.ItemDelay,
		EnrichMaxAttempts: cfg.EnrichMaxAttempts,
	}, log.Named("pipeline"))

	sched := scheduler.New(pipe, tg,
		func() ([]string, error) { return config.LoadQueries(cfg.QueriesFile) },
		scheduler.Options{
			CycleDelay:     cfg.CycleDelay,
			Reload:         cfg.ReloadQueries,
			OperatorChatID: cfg.OperatorChatID,
		}, log.Named("scheduler"))

	// ── Command layer ───────────────────────────────────────────────────────
	var registrar bot.Registrar
	if archive != nil {
		registrar = archive
	}
	commands := bot.New(tg, pipe, registrar, log.Named("bot"))
	go func() {
		if err := commands.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("bot stopped", "err", err)
		}
	}()

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalw("scheduler stopped", "err", err)
	}

	log.Info("shutdown complete")
}
