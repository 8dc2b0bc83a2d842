package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/agentbank/internal/app"
	"github.com/R3E-Network/agentbank/internal/app/cache"
	"github.com/R3E-Network/agentbank/internal/app/httpapi"
	"github.com/R3E-Network/agentbank/internal/config"
	"github.com/R3E-Network/agentbank/internal/middleware"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC API and background services",
		Long: `Start the HTTP API with the queue reaper.

The store is Postgres when DATABASE_DSN is set, otherwise in memory.
Queue statistics are cached in Redis when REDIS_ADDR is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required to serve")
	}
	issuer, err := middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer closeStore()

	opts, err := appOptions(cfg)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr != "" {
		stats, err := cache.Dial(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.StatsTTL,
		})
		if err != nil {
			log.WithError(err).Warn("redis unavailable; queue statistics are not cached")
		} else {
			defer stats.Close()
			opts.StatsCache = stats
		}
	}

	application, err := app.New(store, opts, log.WithComponent("app"))
	if err != nil {
		return err
	}

	sink, err := httpapi.NewFileAuditSink(cfg.Audit.FilePath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer sink.Close()
	var auditSink httpapi.AuditSink
	if sink != nil {
		auditSink = sink
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.WithComponent("ratelimit"))
	handler, err := httpapi.NewHandler(application, httpapi.Config{
		Issuer:      issuer,
		RateLimiter: limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Audit:       httpapi.NewAuditLog(cfg.Audit.Capacity, auditSink).WithLogger(log.WithComponent("audit")),
		Log:         log.WithComponent("httpapi"),
	})
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}
	started := time.Now()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("agentbank listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(10 * time.Minute); n > 0 {
					log.WithField("removed", n).Debug("idle rate limiters dropped")
				}
			}
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("service shutdown failed")
	}
	log.WithField("uptime", formatDuration(time.Since(started))).Info("agentbank stopped")
	return serveErr
}
