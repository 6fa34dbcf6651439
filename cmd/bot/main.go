package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oklog/run"

	"newsbot/internal/bot"
	"newsbot/internal/config"
	"newsbot/internal/errlog"
	"newsbot/internal/extract"
	"newsbot/internal/fetcher"
	"newsbot/internal/llm"
	"newsbot/internal/logger"
	"newsbot/internal/scheduler"
	"newsbot/internal/storage"
	"newsbot/internal/summarize"
	"newsbot/internal/telegram"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}
	log.Info("authorized", "bot", api.Self.UserName)

	tg := telegram.New(api, log.With("component", "telegram"))
	errs := errlog.New(store, tg, log.With("component", "errlog"))

	router := &llm.Router{}
	if cfg.OpenAIAPIKey != "" {
		router.OpenAI = llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, nil)
	}
	if cfg.AnthropicAPIKey != "" {
		router.Anthropic = llm.NewAnthropic(cfg.AnthropicAPIKey, "")
	}
	if router.OpenAI == nil && router.Anthropic == nil {
		log.Warn("no LLM credentials configured, every summary will fail")
	}

	sum := summarize.New(store, router, extract.New(nil, 256), errs, log.With("component", "summarizer"))
	sched := scheduler.New(store, fetcher.New(http.DefaultClient), sum, tg, errs,
		cfg.FeedURLs, cfg.PostInterval, log.With("component", "scheduler"))
	gateway := bot.New(store, sched, tg, sum, log.With("component", "bot"))

	if cfg.Autostart {
		if err := sched.Start(ctx); err != nil {
			log.Error("autostart posting", "error", err)
			os.Exit(1)
		}
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	if cfg.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.WebhookURL)
		if err != nil {
			log.Error("build webhook", "error", err)
			os.Exit(1)
		}
		if _, err := api.Request(wh); err != nil {
			log.Error("register webhook", "url", cfg.WebhookURL, "error", err)
			os.Exit(1)
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           gateway.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			log.Info("listening for webhooks", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	} else {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn("delete webhook", "error", err)
		}
		pollCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			log.Info("polling for updates")
			gateway.Run(pollCtx, api)
			return nil
		}, func(error) {
			cancel()
		})
	}

	log.Info("starting bot", "sources", len(cfg.FeedURLs), "interval", cfg.PostInterval)
	err = g.Run()

	sched.Stop()

	var sig run.SignalError
	if err != nil && !errors.As(err, &sig) {
		log.Error("bot exited", "error", err)
		return
	}
	log.Info("bot stopped")
}
