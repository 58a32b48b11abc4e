package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/hpungsan/classmate/internal/config"
	"github.com/hpungsan/classmate/internal/db"
	"github.com/hpungsan/classmate/internal/dispatch"
	"github.com/hpungsan/classmate/internal/embed"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/llm"
	"github.com/hpungsan/classmate/internal/mcp"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/retrieval"
	"github.com/hpungsan/classmate/internal/schedule"
	"github.com/hpungsan/classmate/internal/session"
	"github.com/hpungsan/classmate/internal/telegram"
	"github.com/hpungsan/classmate/internal/web"
)

// newLogger builds the process logger from cfg.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runtime holds the wired components shared by every mode.
type runtime struct {
	db         *sql.DB
	store      *schedule.Store
	dispatcher *dispatch.Dispatcher
	reminders  *reminder.Scheduler
	sessions   *session.Manager
	pipeline   *retrieval.Pipeline
	logger     *slog.Logger
}

func newEmbedder(cfg *config.Config) embed.Embedder {
	if cfg.Embedder == config.EmbedderOpenAI {
		return llm.NewEmbedder(llm.EmbedConfig{
			APIKey:     cfg.EmbedAPIKey,
			BaseURL:    cfg.EmbedBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDimensions,
		})
	}
	return embed.NewHashing(cfg.EmbedDimensions)
}

// newRuntime wires storage, scheduling and the session manager around
// deliverer. Nothing runs until the caller starts it.
func newRuntime(database *sql.DB, cfg *config.Config, deliverer dispatch.Deliverer, logger *slog.Logger) (*runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	store := schedule.New(newEmbedder(cfg),
		schedule.WithEmbedTimeout(cfg.CollaboratorTimeout()),
		schedule.WithLogger(logger),
	)
	client := llm.New(llm.Config{
		APIKey:      cfg.GroqAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		ChatModel:   cfg.ChatModel,
		VisionModel: cfg.VisionModel,
	}, logger)
	pipeline := &retrieval.Pipeline{
		Searcher: store,
		Composer: client,
		TopK:     cfg.TopK,
		Timeout:  cfg.CollaboratorTimeout(),
		Logger:   logger,
	}

	dispatcher := dispatch.New(deliverer, dispatch.Config{
		QueueSize:       cfg.DispatchQueueSize,
		Workers:         cfg.DispatchWorkers,
		EnqueueTimeout:  cfg.EnqueueTimeout(),
		DeliveryTimeout: cfg.DeliveryTimeout(),
	}, logger)

	reminders := reminder.New(store, dispatcher,
		reminder.WithLocation(loc),
		reminder.WithInterval(cfg.TickInterval()),
		reminder.WithLogger(logger),
		reminder.WithFiredHook(func(userID, date string) {
			if err := db.MarkFired(context.Background(), database, userID, date); err != nil {
				logger.Error("record firing", "user_id", userID, "date", date, "error", err, "error_kind", errors.Kind(err))
			}
		}),
	)

	sessions := session.New(session.Deps{
		Store:      store,
		Reminders:  reminders,
		Extractor:  client,
		Structurer: client,
		Answerer:   pipeline,
		Persister:  db.Records{DB: database},
		Timeout:    cfg.CollaboratorTimeout(),
		Logger:     logger,
	})

	return &runtime{
		db:         database,
		store:      store,
		dispatcher: dispatcher,
		reminders:  reminders,
		sessions:   sessions,
		pipeline:   pipeline,
		logger:     logger,
	}, nil
}

// restoreAll loads every persisted user. A record that fails to load is
// logged and skipped.
func (rt *runtime) restoreAll(ctx context.Context) (int, error) {
	recs, err := db.ListUsers(ctx, rt.db)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range recs {
		if err := rt.sessions.Restore(ctx, rec); err != nil {
			rt.logger.Error("restore user", "user_id", rec.UserID, "error", err, "error_kind", errors.Kind(err))
			continue
		}
		restored++
	}
	rt.logger.Info("restored users", "count", restored, "total", len(recs))
	return restored, nil
}

// restoreUser loads one persisted user.
func (rt *runtime) restoreUser(ctx context.Context, userID string) error {
	rec, err := db.GetUser(ctx, rt.db, userID)
	if err != nil {
		return err
	}
	return rt.sessions.Restore(ctx, rec)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runServe runs the scheduler, the Telegram bot when a token is set and
// the HTTP ingress when an address is set, until interrupted. Without a
// token reminders go to the outbox.
func runServe(database *sql.DB, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext()
	defer stop()

	var (
		api       telegram.API
		deliverer dispatch.Deliverer = db.Outbox{DB: database}
	)
	if cfg.TelegramToken != "" {
		bot, err := telegram.Connect(cfg.TelegramToken, cfg.DeliveryTimeout(), logger)
		if err != nil {
			return err
		}
		api = bot
		deliverer = telegram.NewDeliverer(bot, logger)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; reminders go to the outbox")
	}
	if cfg.HTTPAddr == "" && api == nil {
		logger.Warn("no chat transport enabled; set TELEGRAM_BOT_TOKEN or http_addr")
	}

	rt, err := newRuntime(database, cfg, deliverer, logger)
	if err != nil {
		return err
	}
	if _, err := rt.restoreAll(ctx); err != nil {
		return fmt.Errorf("restore users: %w", err)
	}
	rt.dispatcher.Start(ctx)
	defer rt.dispatcher.Close()

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		if srv, err = web.NewServer(web.Deps{
			Sessions:  rt.sessions,
			Reminders: rt.reminders,
			DB:        database,
			Logger:    logger,
		}, Version, cfg.HTTPAddr); err != nil {
			return err
		}
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	spawn("scheduler", rt.reminders.Run)
	if api != nil {
		b := telegram.New(api, rt.sessions,
			telegram.WithWorkers(cfg.DispatchWorkers),
			telegram.WithDownloadTimeout(cfg.CollaboratorTimeout()),
			telegram.WithLogger(logger),
		)
		spawn("telegram", b.Run)
	}
	if srv != nil {
		spawn("http", func(ctx context.Context) error { return web.Run(ctx, srv, logger) })
	}

	logger.Info("classmate started", "version", Version, "zone", rt.reminders.Location().String())
	wg.Wait()
	close(errCh)
	logger.Info("classmate stopping", "dispatch", rt.dispatcher.Stats())
	return <-errCh
}

// runMCP serves the MCP tools over stdio with the scheduler running in the
// background. Reminders go to the outbox, read through reminder_inbox.
func runMCP(database *sql.DB, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime(database, cfg, db.Outbox{DB: database}, logger)
	if err != nil {
		return err
	}
	if _, err := rt.restoreAll(ctx); err != nil {
		return fmt.Errorf("restore users: %w", err)
	}
	rt.dispatcher.Start(ctx)
	defer rt.dispatcher.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rt.reminders.Run(ctx); err != nil {
			logger.Error("scheduler", "error", err)
		}
	}()
	defer func() {
		stop()
		<-done
	}()

	return mcp.Run(mcp.Deps{
		Sessions:  rt.sessions,
		Reminders: rt.reminders,
		Answerer:  rt.pipeline,
		DB:        database,
		Logger:    logger,
	}, cfg, Version)
}
