package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/donorlink/donorgate/pkg/config"
	"github.com/donorlink/donorgate/pkg/health"
	"github.com/donorlink/donorgate/pkg/ratelimit"
	"github.com/donorlink/donorgate/pkg/telemetry"
	"github.com/donorlink/donorgate/pkg/token"
)

var (
	configPath = flag.String("config", "donorgate.yaml", "Config file path")
	listenFlag = flag.String("listen", "", "Listen address (overrides config)")
	dbFlag     = flag.String("db", "", "Database path (overrides config)")
	Version    = "dev"
)

// Server carries the shared dependencies for all handlers. The rate limit
// engine and token manager are injected so tests can build isolated instances.
type Server struct {
	db          *gorm.DB
	limiter     *ratelimit.Engine
	tokens      *token.Manager
	resetHasher ResetTokenHasher
	notifier    Notifier
	logger      zerolog.Logger
	accessTTL   time.Duration
	startedAt   time.Time
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}
	if *listenFlag != "" {
		cfg.Server.Listen = *listenFlag
	}
	if *dbFlag != "" {
		cfg.Server.DBPath = *dbFlag
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("donorgate server starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "donorgate-server",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		LogSpans:       cfg.Tracing.LogSpans,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	db, err := gorm.Open(sqlite.Open(cfg.Server.DBPath), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.AutoMigrate(&User{}, &DonationCenter{}, &Donation{}, &PasswordResetToken{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	limiter, err := ratelimit.NewEngine(policiesFromConfig(cfg.RateLimit), ratelimit.WithStore(
		ratelimit.NewStore(time.Duration(cfg.RateLimit.RetentionMarginS)*time.Second),
	))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid rate limit policies")
	}
	limiter.Store().StartJanitor(ctx, limiter.Policies(), time.Duration(cfg.RateLimit.SweepEveryS)*time.Second)

	tokens, err := token.NewManager(cfg.Auth.Secret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize token manager")
	}

	notifier := logNotifier{logger: logger.With().Str("component", "notifier").Logger()}
	srv := &Server{
		db:          db,
		limiter:     limiter,
		tokens:      tokens,
		resetHasher: NewResetTokenHasher([]byte(cfg.Auth.Secret)),
		notifier:    notifier,
		logger:      logger,
		accessTTL:   cfg.AccessTTL(),
		startedAt:   time.Now(),
	}

	if cfg.Reminders.Enable {
		scheduler := NewReminderScheduler(
			db,
			notifier,
			time.Duration(cfg.Reminders.IntervalS)*time.Second,
			time.Duration(cfg.Reminders.LookaheadH)*time.Hour,
			cfg.Reminders.DispatchRPS,
			logger,
		)
		go scheduler.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: srv.router(),
	}

	go func() {
		logger.Info().Str("listen", cfg.Server.Listen).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// router builds the middleware chain. Everything under /api/v1 passes through
// the admission gate; /healthz bypasses authentication and rate limiting.
func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), withRequestContext(s.logger))

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api/v1")
	s.registerAuthRoutes(api)
	s.registerDonationRoutes(api)
	s.registerAdminRoutes(api)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	status := health.Check(s.db, s.startedAt)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func policiesFromConfig(rl config.RateLimitConfig) ratelimit.PolicyTable {
	quota := func(q config.QuotaConfig) ratelimit.Policy {
		return ratelimit.Policy{Max: q.Max, Window: time.Duration(q.WindowS) * time.Second}
	}
	return ratelimit.PolicyTable{
		ratelimit.CategoryPublic:        quota(rl.Public),
		ratelimit.CategoryAuthenticated: quota(rl.Authenticated),
		ratelimit.CategoryRegistration:  quota(rl.Registration),
		ratelimit.CategoryPasswordReset: quota(rl.PasswordReset),
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
