package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-ticket-market/internal/analytics"
	analytics_api "ms-ticket-market/internal/analytics/api"
	"ms-ticket-market/internal/auth"
	"ms-ticket-market/internal/config"
	"ms-ticket-market/internal/database"
	"ms-ticket-market/internal/idempotency"
	"ms-ticket-market/internal/kafka"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/marketplace"
	"ms-ticket-market/internal/sse"
	"ms-ticket-market/internal/tickets/qr"
	"ms-ticket-market/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marketplace HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.NewLogger(cfg.LogDir)
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log.Info("APP", fmt.Sprintf("Starting %s (%s) marketplace", cfg.Catalog.Name, cfg.Catalog.Symbol))

	ctx := context.Background()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()
	if err := database.Migrate(ctx, bunDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("DATABASE", "Schema ready")

	emitter := sse.NewTicketEventEmitter()
	publishers := marketplace.Publishers{emitter}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.TicketEvents}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publishers = append(publishers, &kafka.TicketEventPublisher{
			Producer: producer,
			Topic:    cfg.Kafka.TicketEvents,
			Logger:   log,
		})
		log.Info("KAFKA", fmt.Sprintf("Publishing ticket events to %s", cfg.Kafka.TicketEvents))
	}

	market, err := marketplace.NewService(bunDB, cfg.Catalog, publishers, log)
	if err != nil {
		return fmt.Errorf("marketplace: %w", err)
	}

	handler := ticket_api.NewHandler(market, log)
	handler.Events = emitter
	handler.QR, err = qr.NewGenerator(cfg.QR.SecretKey, cfg.QR.TTL)
	if err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s, Idempotency-Key disabled: %v", cfg.Redis.Addr, err))
		} else {
			handler.Guard = idempotency.NewGuard(redisClient, cfg.Redis.IdempotencyTTL)
			log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
		}
	}

	authMiddleware, err := buildAuth(ctx, cfg.Auth, log)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ticket_api.RequestLogger(log))
	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r, authMiddleware)

	analyticsHandler := analytics_api.NewHandler(analytics.NewService(analytics.NewDB(bunDB)), market.Access, log)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		analyticsHandler.RegisterRoutes(r)
	})
	log.Info("ROUTER", "Marketplace routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticket market running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
		return err
	}
	log.Info("HTTP", "Ticket market shutdown complete")
	return nil
}

func buildAuth(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Disabled {
		log.Warn("AUTH", "Token verification disabled, trusting "+auth.DevAccountHeader)
		return auth.DevMiddleware(), nil
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		return nil, err
	}
	log.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
	return auth.Middleware(verifier), nil
}
