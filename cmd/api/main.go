package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inkwell/internal/app"
	"inkwell/internal/authpw"
	"inkwell/internal/blob"
	"inkwell/internal/config"
	"inkwell/internal/email"
	"inkwell/internal/export"
	"inkwell/internal/logging"
	"inkwell/internal/metrics"
	"inkwell/internal/revisions"
	"inkwell/internal/session"
	"inkwell/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	ctx := logger.WithContext(context.Background())

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	reg := metrics.New()

	mailer := email.NewService(email.Config{
		APIKey:   cfg.EmailAPIKey,
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn().Msg("no mail transport configured, password reset links are not delivered")
		if cfg.DevResetTokens {
			logger.Warn().Msg("INKWELL_DEV_RESET_TOKENS enabled, reset tokens are returned in responses")
		}
	}

	exporter := export.NewService(export.Options{
		ChromePath: cfg.ChromePath,
		PandocPath: cfg.PandocPath,
		Paper:      export.ParsePaper(cfg.ExportPaper),
	})

	deps := app.Dependencies{
		Store:    dataStore,
		Auth:     authpw.NewService(dataStore, mailer, cfg.PublicBaseURL),
		Exporter: exporter,
		Metrics:  reg,
	}

	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		deps.Revocations = redisStore
		logger.Info().Msg("using redis for session revocation")
	} else {
		deps.Revocations = session.NewMemoryStore()
		logger.Info().Msg("using in-process session revocation")
	}

	if cfg.RevisionsDir != "" {
		if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.RevisionsDir).Msg("failed to create revisions dir")
		}
		deps.Revisions = revisions.New(cfg.RevisionsDir)
	}

	if cfg.S3Endpoint != "" {
		uploads, err := openUploads(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage unavailable")
		}
		deps.Uploads = uploads
	} else {
		logger.Info().Msg("S3_ENDPOINT not set, uploads disabled")
	}

	service := app.New(cfg, deps)
	go purgeResetTokens(ctx, dataStore, logger)

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin:        cfg.CORSOrigin,
		Logger:            logger,
		Metrics:           reg,
		AuthRatePerMinute: cfg.AuthRatePerMinute,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("inkwell api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func openUploads(ctx context.Context, cfg config.Config) (*blob.Storage, error) {
	storage, err := blob.New(blob.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := storage.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return storage, nil
}

// purgeResetTokens drops expired reset tokens once an hour.
func purgeResetTokens(ctx context.Context, st *store.PostgresStore, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		purged, err := st.PurgeExpiredResetTokens(ctx, time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("purge reset tokens")
		} else if purged > 0 {
			logger.Info().Int64("purged", purged).Msg("purged expired reset tokens")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
