package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/config"
	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/consultation"
	"github.com/vivamoms/consult/internal/domain/encounter"
	"github.com/vivamoms/consult/internal/domain/identity"
	"github.com/vivamoms/consult/internal/domain/messaging"
	"github.com/vivamoms/consult/internal/domain/stats"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/attachment"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/auth"
	"github.com/vivamoms/consult/internal/platform/db"
	"github.com/vivamoms/consult/internal/platform/middleware"
	"github.com/vivamoms/consult/internal/platform/notification"
	"github.com/vivamoms/consult/internal/platform/telemetry"
	"github.com/vivamoms/consult/internal/platform/websocket"
)

// routes is everything that registers under /api/v1.
type routes interface {
	RegisterRoutes(api *echo.Group)
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	tx := db.NewTransactor(pool)
	sink := audit.Multi{audit.NewPGSink(pool), audit.NewLogSink(logger)}

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.New()
	}
	guard := access.Guard{OnDeny: func(actor access.Actor, action access.Action, d access.Decision) {
		metrics.Denied(string(action), string(d.Rule))
		logger.Debug().
			Str("actor_id", actor.ID.String()).
			Str("action", string(action)).
			Str("rule", string(d.Rule)).
			Str("reason", d.Reason).
			Msg("access denied")
	}}

	// Notification fan-out: in-app store, live sockets, and optionally a broker.
	hub := websocket.NewHub(logger)
	notifStore := notification.NewStore(pool)
	dispatcher := notification.NewDispatcher(logger, metrics)
	dispatcher.Register("inapp", notification.NewInApp(notifStore))
	dispatcher.Register("websocket", hub)
	switch cfg.EventsBackend {
	case config.EventsKafka:
		kp := notification.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		dispatcher.Register("kafka", kp)
	case config.EventsSQS:
		sp, err := notification.NewSQSPublisher(ctx, cfg.SQSQueueURL)
		if err != nil {
			return fmt.Errorf("configure sqs publisher: %w", err)
		}
		dispatcher.Register("sqs", sp)
	}
	// Runs before the broker and pool are closed.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("notification queues not drained")
		}
	}()

	attachments := attachment.NewVerifier(nil)
	if cfg.AttachmentBucket != "" {
		store, err := attachment.NewS3Store(ctx, cfg.AttachmentBucket)
		if err != nil {
			return fmt.Errorf("configure attachment store: %w", err)
		}
		attachments = attachment.NewVerifier(store)
	}

	var verifier auth.TokenVerifier = auth.NewJWTVerifier(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	if cfg.DevAuth() {
		logger.Warn().Msg("development auth: bearer tokens are raw user ids; never run this in production")
		verifier = auth.DevVerifier{}
	}

	identityRepo := identity.NewRepo(pool)
	users := identity.NewService(identityRepo, tx, sink,
		identity.WithGuard(guard), identity.WithLogger(logger))
	resolver := identity.NewResolver(verifier, identityRepo, logger)

	encounterRepo := encounter.NewRepo(pool)
	encounters := encounter.NewService(encounterRepo, tx, sink,
		encounter.WithGuard(guard), encounter.WithLogger(logger))

	consultationRepo := consultation.NewRepo(pool)
	consultations := consultation.NewService(consultationRepo, tx, sink, encounters, users,
		consultation.WithGuard(guard),
		consultation.WithLogger(logger),
		consultation.WithNotifier(dispatcher),
		consultation.WithMetrics(metrics),
	)
	encounters.SetLinkResolver(consultations)

	messages := messaging.NewService(messaging.NewRepo(pool), tx, sink, consultations,
		messaging.WithGuard(guard),
		messaging.WithLogger(logger),
		messaging.WithNotifier(dispatcher),
		messaging.WithMetrics(metrics),
		messaging.WithAttachments(attachments),
		messaging.WithEditWindow(cfg.MessageEditWindow),
	)
	statistics := stats.NewService(consultationRepo, encounterRepo, messages, stats.WithGuard(guard))

	e := newEcho(cfg, logger, resolver, metrics, db.HealthHandler(pool),
		identity.NewHandler(users),
		encounter.NewHandler(encounters),
		consultation.NewHandler(consultations),
		messaging.NewHandler(messages),
		stats.NewHandler(statistics),
		notification.NewHandler(notification.NewService(notifStore, guard)),
		websocket.NewHandler(hub, cfg.CORSOrigins),
	)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("events", cfg.EventsBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, resolver auth.Resolver, metrics *telemetry.Metrics, dbHealth echo.HandlerFunc, handlers ...routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	if metrics != nil {
		e.Use(metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	e.Use(auth.Authenticate(resolver, auth.AuthSkipper))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	api := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}
