package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sautai-client/internal/config"
	"sautai-client/internal/scheduler"
	"sautai-client/internal/session"
	"sautai-client/internal/storage"
	"sautai-client/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatal("❌ TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.BaseURL() == "" {
		log.Fatal("❌ API_BASE_URL (or DJANGO_URL) is required")
	}

	tokens, err := session.NewFileStorage(cfg.TokenFilePath)
	if err != nil {
		log.Fatalf("failed to init token storage: %v", err)
	}

	var rec storage.Recorder
	if cfg.InteractionLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			rec = fr
		}
	}

	bot, err := telegram.New(cfg.TelegramBotToken, telegram.Options{
		BaseURL:          cfg.BaseURL(),
		Storage:          tokens,
		TokenKey:         cfg.TokenKey,
		CookieMode:       cfg.UseRefreshCookie,
		RefreshThreshold: cfg.RefreshThreshold,
		RefreshTimeout:   cfg.RefreshTimeout,
		HTTPTimeout:      cfg.HTTPTimeout,
		Recorder:         rec,
		AdminUserID:      cfg.AdminUserID,
		IsAllowed:        cfg.IsAllowed,
		EditInterval:     cfg.StreamEditInterval,
	})
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}
	bot.Preload(cfg.AllowedUsers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(time.Local)
	if cfg.SummaryCron != "" {
		if err := sched.AddJob("daily_summary", cfg.SummaryCron, bot.PushSummaries); err != nil {
			log.Fatalf("failed to schedule daily summary: %v", err)
		}
		sched.Start()
		defer sched.Stop()
		if next, ok := sched.Next(); ok {
			log.Printf("📅 next daily summary at %s", next.Format(time.RFC1123))
		}
	}

	log.Printf("🚀 sautAI bot started against %s", cfg.BaseURL())
	bot.Start(ctx)
	log.Printf("👋 bot stopped")
}
