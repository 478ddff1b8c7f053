package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"progress_report_bot/internal/app"
	"progress_report_bot/internal/infra/config"
	idb "progress_report_bot/internal/infra/database"
	"progress_report_bot/internal/infra/logger"
	"progress_report_bot/internal/infra/schedule"
	"progress_report_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()
	log.WithFields(logrus.Fields{
		"environment":  cfg.Environment,
		"display_zone": cfg.DisplayZone.String(),
	}).Info("Progress report bot starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("FATAL: Could not ensure database schema: %v", err)
	}
	log.Info("Database connection established")

	cadenceRepo := idb.NewPostgresCadenceRepository(db)
	ledgerRepo := idb.NewPostgresLedgerRepository(db)
	reportRepo := idb.NewPostgresReportRepository(db)
	cycleCommitter := idb.NewPostgresCycleCommitter(db)
	cardStore := idb.NewPostgresCardStore(db)

	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		log.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}

	adapter := telegram.NewTelebotAdapter(bot, cardStore, cfg.DisplayZone)

	tallyService := app.NewTallyService(
		cadenceRepo, ledgerRepo, reportRepo, cycleCommitter, adapter,
		cfg.DisplayZone, log.WithField("component", "tally"))

	registry := schedule.NewRegistry(
		cfg.DefaultTallyTimes, cadenceRepo, tallyService,
		log.WithField("component", "schedule"))
	if err := registry.Start(ctx); err != nil {
		log.Fatalf("FATAL: Could not start wake timetable scheduler: %v", err)
	}

	sessionService := app.NewSessionService(
		cadenceRepo, ledgerRepo, adapter, registry,
		cfg.DisplayZone, log.WithField("component", "session"))
	reportService := app.NewReportService(
		ledgerRepo, reportRepo, adapter,
		log.WithField("component", "report"))

	ui := telegram.NewSessionUI(
		sessionService, reportService, cadenceRepo, ledgerRepo, adapter,
		cfg.DisplayZone, log.WithField("component", "telegram"))
	telegram.RegisterHandlers(ctx, bot, ui)
	log.Info("Handlers registered, bot starting")

	go bot.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()
	bot.Stop()
	registry.Stop()
	log.Info("Shut down gracefully")
}
