package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orsched/orsched/internal/config"
	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/domain/priority"
	"github.com/orsched/orsched/internal/domain/room"
	"github.com/orsched/orsched/internal/platform/audit"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/db"
	"github.com/orsched/orsched/internal/platform/guard"
	"github.com/orsched/orsched/internal/platform/middleware"
	"github.com/orsched/orsched/internal/platform/notify"
	"github.com/orsched/orsched/internal/platform/telemetry"
	"github.com/orsched/orsched/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orsched-server",
		Short: "Operating room scheduling API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(priorityCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the OR scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	policy, err := cfg.Policy()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking policy")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis backs the redis write guard and the notification stream.
	guardOpts := guard.Options{Mode: cfg.WriteGuard, TTL: cfg.WriteGuardTTL}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		guardOpts.Redis = rdb
		logger.Info().Msg("connected to redis")
	}
	writeGuard, err := guard.New(guardOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build write guard")
	}
	logger.Info().Str("mode", cfg.WriteGuard).Msg("write guard ready")

	// Notifications
	dispatcher := notify.NewDispatcher(notify.NewTemplateEngine(), notify.LogSink{Logger: logger})
	if rdb != nil && cfg.NotifyRedisStream != "" {
		dispatcher.Add(notify.NewRedisStreamSink(rdb, cfg.NotifyRedisStream))
	}
	if cfg.NotifyWebhookURL != "" {
		dispatcher.Add(notify.NewWebhookSink(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret))
	}
	metrics := telemetry.New().WithPool(func() (int64, int64) {
		st := pool.Stat()
		return int64(st.AcquiredConns()), int64(st.IdleConns())
	})
	dispatcher.Add(metrics)
	live := websocket.NewHub(logger)
	dispatcher.Add(live)
	var broker mqtt.Client
	if cfg.MQTTBrokerURL != "" {
		broker, err = notify.ConnectMQTT(cfg.MQTTBrokerURL, "orsched-"+uuid.NewString()[:8])
		if err != nil {
			// Door displays are optional; the API runs without them.
			logger.Error().Err(err).Str("broker", cfg.MQTTBrokerURL).Msg("room displays disabled")
		} else {
			defer broker.Disconnect(250)
			dispatcher.Add(notify.NewMQTTSink(broker, cfg.MQTTTopicPrefix))
			logger.Info().Str("broker", cfg.MQTTBrokerURL).Msg("connected to MQTT broker")
		}
	}

	// Domain services
	recorder := audit.NewPGRecorder(pool)
	roomRepo := room.NewRepoPG(pool)
	bookingSvc := booking.NewService(booking.NewRepoPG(pool), policy,
		booking.WithTransactor(db.Transactor{Pool: pool}),
		booking.WithGuard(writeGuard),
		booking.WithNotifier(dispatcher),
		booking.WithAudit(recorder),
		booking.WithRoomLookup(room.Directory{Repo: roomRepo}),
		booking.WithLogger(logger),
	)
	roomSvc := room.NewService(roomRepo, bookingSvc, dispatcher, recorder, logger)

	priorities, err := priority.Load(cfg.PriorityFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PriorityFile).Msg("failed to load priority table")
	}
	logger.Info().Int("departments", len(priorities.Departments())).Msg("priority table loaded")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	jwtCfg := auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret)}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	booking.NewHandler(bookingSvc).RegisterRoutes(apiV1)
	room.NewHandler(roomSvc).RegisterRoutes(apiV1)
	priority.NewHandler(priorities).RegisterRoutes(apiV1)
	websocket.NewHandler(live, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", policy.Location.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
