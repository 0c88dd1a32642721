package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"guildwarden/internal/bot"
	"guildwarden/internal/config"
	"guildwarden/internal/crash"
	"guildwarden/internal/discord"
	"guildwarden/internal/handler"
	"guildwarden/internal/ledger"
	"guildwarden/internal/logger"
	"guildwarden/internal/moderation"
	"guildwarden/internal/notify"
	"guildwarden/internal/permission"
	"guildwarden/internal/persistroles"
	"guildwarden/internal/reversal"
	"guildwarden/internal/service"
	"guildwarden/internal/storage"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 首先初始化日志
	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	config.WatchLogLevel(logger.SetLevel)

	// 设置崩溃处理器，确保在任何 panic 时都能记录堆栈信息
	crash.SetupCrashHandler()
	defer crash.RecoverWithStackAndExit("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, guildRepo, closeStore := openStorage(cfg)
	defer closeStore()

	settings, err := service.NewGuildSettings(cfg, guildRepo)
	if err != nil {
		log.Fatalf("Invalid guild settings: %v", err)
	}
	if err := settings.Preload(ctx); err != nil {
		log.Fatalf("Failed to load guild settings: %v", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(ctx, cfg.Telegram)
		if err != nil {
			log.Fatalf("Failed to set up the Telegram mod-log: %v", err)
		}
		notifier = tg
	}

	botService, err := bot.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}
	dir := discord.NewDirectory(botService.Client.Rest(), botService.SelfID())

	gate := permission.New(dir, settings, permission.Options{
		CacheTTL:  cfg.Moderation.PermissionCacheTTL,
		CacheSize: cfg.Moderation.PermissionCacheSize,
	})
	l := ledger.New(store)
	scheduler := reversal.New(l, clockwork.NewRealClock())
	svc := moderation.New(moderation.Deps{
		Directory: dir,
		Ledger:    l,
		Gate:      gate,
		Config:    settings,
		Scheduler: scheduler,
		Notifier:  notifier,
		Options: moderation.Options{
			MinTempban:       cfg.Moderation.MinTempban,
			MaxTempban:       cfg.Moderation.MaxTempban,
			BanRetentionDays: cfg.Moderation.BanRetentionDays,
		},
	})

	h := handler.New(handler.NewCommands(svc, dir, settings), persistroles.New(dir, l, settings), scheduler, dir)
	h.InvalidateOn(gate, settings)

	server := bot.NewStatusServer(cfg.Server, scheduler)
	crash.SafeGoroutine("status-server", func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Status server error: %v", err)
		}
	})
	crash.SafeGoroutine("stats", func() {
		handler.LogProcessingStats(ctx, 5*time.Minute)
	})

	// 先恢复已配置服务器的计时器，其余服务器在 GUILD_CREATE 到达时恢复
	if err := h.RestoreGuilds(ctx, settings.GuildIDs()); err != nil {
		logger.Errorf("Error restoring reversal timers: %v", err)
	}

	if err := botService.Start(ctx, h, cfg.Discord.SyncCommands); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Infof("Received signal: %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	botService.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("Status server shutdown error: %v", err)
	}

	logger.Infof("Bot gracefully stopped")
}

// openStorage returns the ledger store and, for SQL drivers, the guild
// settings repository.
func openStorage(cfg *config.Config) (ledger.Store, *storage.GuildRepository, func()) {
	if cfg.Database.Driver == config.DriverBolt {
		bolt, err := storage.OpenBolt(cfg.Database.Path)
		if err != nil {
			log.Fatalf("Failed to open bolt store: %v", err)
		}
		logger.Infof("Using bolt document store at %s, guild settings come from the config file", cfg.Database.Path)
		return bolt, nil, func() {
			if err := bolt.Close(); err != nil {
				logger.Warningf("Error closing bolt store: %v", err)
			}
		}
	}

	if err := storage.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := storage.GetDB()
	return storage.NewUserRepository(db), storage.NewGuildRepository(db), func() {
		if err := storage.Close(); err != nil {
			logger.Warningf("Error closing database: %v", err)
		}
	}
}
