// Command forum-relay is the main entrypoint for the relay bot and its
// background jobs. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects the Discord gateway, backfills the mappings, and starts the
//     feed relays, the drift reconciler, the Telegram mirror, and the
//     treasury monitor (each behind its feature flag).
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics, and
//     the treasury /webhook receiver.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/db"
	"github.com/warmindo-dev/forum-relay/feed"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/greet"
	"github.com/warmindo-dev/forum-relay/mirror"
	"github.com/warmindo-dev/forum-relay/server"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
	"github.com/warmindo-dev/forum-relay/treasury"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateGateway(); err != nil {
		slog.Error("gateway config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("forum-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(database)
	loop := gateway.NewLoop()
	go loop.Run(ctx)
	ready := gateway.NewLatch()

	dg, err := gateway.NewDiscord(cfg.DiscordToken, cfg.GuildID)
	if err != nil {
		slog.Error("discord session init failed", slog.Any("err", err))
		os.Exit(1)
	}

	// The feeds need the bot's own user id, which the session only knows once
	// the gateway is up, so they are built on the first ready event. Handlers
	// all run on the loop goroutine; the nil checks are never racy.
	var threadFeed *feed.ThreadFeed
	var messageFeed *feed.MessageFeed
	var greeter *greet.Greeter
	if cfg.WelcomeEnabled {
		greeter = greet.New(dg, cfg)
	}

	dg.Bind(loop, gateway.Events{
		OnReady: func(ctx context.Context) {
			if cfg.ThreadFeedEnabled && threadFeed == nil {
				threadFeed = feed.NewThreadFeed(st, dg, cfg, dg.SelfID(), ready)
			}
			if cfg.FeedEnabled && messageFeed == nil {
				messageFeed = feed.NewMessageFeed(st, dg, cfg, dg.SelfID(), ready)
			}
			if threadFeed != nil {
				if err := threadFeed.Backfill(ctx); err != nil {
					slog.Error("thread backfill failed", slog.Any("err", err))
				}
			}
			if messageFeed != nil {
				if err := messageFeed.Backfill(ctx); err != nil {
					slog.Error("feed backfill failed", slog.Any("err", err))
				}
			}
			ready.Release()
		},
		OnMessageCreate: func(ctx context.Context, m gateway.Message) {
			if messageFeed != nil {
				messageFeed.HandleMessageCreate(ctx, m)
			}
		},
		OnMessageEdit: func(ctx context.Context, before *gateway.Message, after gateway.Message) {
			if threadFeed != nil {
				threadFeed.HandleStarterEdit(ctx, after)
			}
			if messageFeed != nil {
				messageFeed.HandleMessageEdit(ctx, before, after)
			}
		},
		OnMessageDelete: func(ctx context.Context, channelID, messageID string) {
			if messageFeed != nil {
				messageFeed.HandleMessageDelete(ctx, channelID, messageID)
			}
		},
		OnThreadCreate: func(ctx context.Context, t gateway.Thread) {
			if threadFeed != nil {
				threadFeed.HandleThreadCreate(ctx, t)
			}
		},
		OnThreadUpdate: func(ctx context.Context, t gateway.Thread) {
			if threadFeed != nil {
				threadFeed.HandleThreadUpdate(ctx, t)
			}
		},
		OnThreadDelete: func(ctx context.Context, threadID string) {
			if threadFeed != nil {
				threadFeed.HandleThreadDelete(ctx, threadID)
			}
		},
		OnMemberJoin: func(ctx context.Context, memberID, mention string) {
			if greeter != nil {
				greeter.HandleJoin(ctx, memberID, mention)
			}
		},
	})

	if err := dg.Connect(); err != nil {
		slog.Error("discord connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := dg.Close(); err != nil {
			slog.Error("discord close failed", slog.Any("err", err))
		}
	}()

	if cfg.ThreadFeedEnabled || cfg.FeedEnabled {
		go func() {
			// Feeds exist once the latch opens; Start waits on it.
			rec := &feed.Reconciler{Interval: cfg.ReconcileInterval, Ready: ready}
			select {
			case <-ctx.Done():
				return
			case <-ready.Done():
			}
			rec.Threads = threadFeed
			rec.Messages = messageFeed
			rec.Start(ctx)
		}()
	}

	if cfg.MirrorEnabled {
		if err := cfg.ValidateMirror(); err != nil {
			slog.Error("mirror config invalid", slog.Any("err", err))
			os.Exit(1)
		}
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			slog.Error("telegram bot init failed", slog.Any("err", err))
			os.Exit(1)
		}
		go mirror.New(st, dg, loop, cfg).Run(ctx, bot)
	}

	var alerter *treasury.Alerter
	if cfg.TreasuryEnabled {
		if err := cfg.ValidateTreasury(); err != nil {
			slog.Error("treasury config invalid", slog.Any("err", err))
			os.Exit(1)
		}
		monitor, err := treasury.NewMonitor(ctx, dg, loop, cfg)
		if err != nil {
			slog.Error("treasury monitor init failed", slog.Any("err", err))
			os.Exit(1)
		}
		go monitor.Start(ctx)
		if cfg.AlertChannelID != "" {
			alerter = treasury.NewAlerter(st, dg, loop, cfg)
		}
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(database, ready, webhookSink(alerter), cfg.WebhookToken)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("forum-relay running",
		slog.Bool("thread_feed", cfg.ThreadFeedEnabled), slog.Bool("message_feed", cfg.FeedEnabled),
		slog.Bool("mirror", cfg.MirrorEnabled), slog.Bool("treasury", cfg.TreasuryEnabled),
		slog.Bool("welcome", cfg.WelcomeEnabled))

	<-ctx.Done()
	slog.Info("shutting down")
}

// webhookSink avoids handing the server a typed nil when treasury alerts are
// disabled.
func webhookSink(a *treasury.Alerter) server.WebhookSink {
	if a == nil {
		return nil
	}
	return a
}
