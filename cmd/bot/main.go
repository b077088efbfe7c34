package main

import (
	"context"
	stdlog "log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"nephbot/internal/analytics"
	"nephbot/internal/config"
	"nephbot/internal/llm"
	"nephbot/internal/logging"
	"nephbot/internal/persona"
	"nephbot/internal/router"
	"nephbot/internal/scheduler"
	"nephbot/internal/storage"
	"nephbot/internal/supervisor"
	"nephbot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		stdlog.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PersonaFile).Msg("failed to load persona")
	}

	llmClient, err := llm.NewFactory(cfg).CreateClient(cfg.LLMProvider, cfg.OpenAIModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create llm client")
	}

	responder := persona.NewResponder(
		llmClient,
		p,
		persona.NewFlavorSelector(p.Flavors, persona.NewSource(cfg.FlavorSeed)),
		persona.Options{
			Marker:      cfg.TriggerMarker,
			FlavorEvery: cfg.FlavorEvery,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.CompletionTimeout,
		},
	)

	rec := newRecorder(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := analytics.NewReporter(time.Now().UTC(), 24*time.Hour)
	sched := scheduler.New(cfg.ReportCron)
	sched.SetReportFunction(func(ctx context.Context) error {
		return logDailyReport(rec, reporter)
	})
	if err := sched.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	rt := router.New(cfg.TriggerMarker)
	err = supervisor.Run(ctx, "telegram", cfg.RestartDelay, func(ctx context.Context) error {
		bot, err := telegram.New(cfg.TelegramAPIToken, rt, responder, rec, cfg.PollTimeout)
		if err != nil {
			return err
		}
		return bot.Run(ctx)
	})
	if err != nil {
		log.Error().Err(err).Msg("bot stopped")
	}
	log.Info().Int64("handled", responder.Count()).Msg("shutting down")
}

func newRecorder(cfg *config.Config) storage.Recorder {
	if cfg.JournalFilePath == "" {
		return storage.NewMemoryRecorder(cfg.JournalCapacity)
	}
	fr, err := storage.NewFileRecorder(cfg.JournalFilePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.JournalFilePath).Msg("failed to init journal file, keeping it in memory")
		return storage.NewMemoryRecorder(cfg.JournalCapacity)
	}
	return fr
}

// logDailyReport summarises everything since the previous report.
func logDailyReport(rec storage.Recorder, reporter *analytics.Reporter) error {
	events, err := rec.LoadInteractions()
	if err != nil {
		return err
	}
	stats := reporter.Report(events, time.Now().UTC())
	log.Info().
		Str("date", stats.Date).
		Int("requests", stats.TotalRequests).
		Int("failures", stats.Failures).
		Int("unique_chats", stats.UniqueChats).
		Msg(stats.Summary())
	return nil
}
