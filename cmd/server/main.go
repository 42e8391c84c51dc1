package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"channelhub/backend/internal/archive"
	"channelhub/backend/internal/assignment"
	"channelhub/backend/internal/cache"
	"channelhub/backend/internal/config"
	"channelhub/backend/internal/httpapi"
	"channelhub/backend/internal/logging"
	"channelhub/backend/internal/notify"
	"channelhub/backend/internal/service"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/store/memory"
	pgstore "channelhub/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(logger); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	cacheStore := cache.AssignmentCache(cache.NoopAssignmentCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisAssignmentCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	var notifier notify.Gateway = notify.Noop{}
	if cfg.WhatsAppAPIURL != "" {
		notifier = notify.NewWhatsApp(notify.WhatsAppConfig{
			APIURL:        cfg.WhatsAppAPIURL,
			APIToken:      cfg.WhatsAppAPIToken,
			CountryPrefix: cfg.PhoneCountryPrefix,
			Timeout:       cfg.NotifyTimeout,
		}, logger)
		logger.Info("notifications: whatsapp")
	} else {
		logger.Info("notifications: disabled")
	}

	var archiver archive.Archiver = archive.Noop{}
	if cfg.Archive.Enabled() {
		s3Archiver, err := archive.NewS3(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("upload archive unavailable, imports will not be archived", zap.Error(err))
		} else {
			archiver = s3Archiver
			logger.Info("archive: s3", zap.String("bucket", cfg.Archive.Bucket))
		}
	}

	resolver := assignment.NewResolver(repo, cacheStore, cfg.AssignmentCacheTTL, logger)
	svc := service.New(repo, resolver, notifier, archiver, logger, service.Options{
		RootAdminUsername: cfg.RootAdminUsername,
		OTPTTL:            cfg.OTPTTL,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if cfg.ExpirySweepInterval > 0 {
		go svc.RunExpirySweeper(runCtx, cfg.ExpirySweepInterval)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("channel backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.TrimSpace(cfg.RootAdminUsername) == "" {
		return fmt.Errorf("ROOT_ADMIN_USERNAME must be set")
	}
	if cfg.Archive.Enabled() && (cfg.Archive.AccessKey == "") != (cfg.Archive.SecretKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY must be set together")
	}
	return nil
}
