package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meishi-app/meishi/internal/app"
	"github.com/meishi-app/meishi/internal/auth"
	"github.com/meishi-app/meishi/internal/cards"
	"github.com/meishi-app/meishi/internal/mailer"
	"github.com/meishi-app/meishi/internal/observability"
	"github.com/meishi-app/meishi/internal/platform/cache"
	"github.com/meishi-app/meishi/internal/platform/db"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/token"
	"github.com/meishi-app/meishi/internal/users"
	"github.com/meishi-app/meishi/internal/view"
	"github.com/meishi-app/meishi/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(ctx, cfg.PGDSN, migrations.Migrations); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meishi_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	mail, err := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		logger.Error("configure mailer", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	tokenService := token.NewService(cfg.BcryptCost)
	rememberCookie := auth.NewRememberCookie(cfg.RememberSecret, cfg.RememberTTL, cfg.IsProduction())

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, tokenService, mail, auditLogger, logger, cfg.AppBaseURL)
	metrics := observability.NewMetrics()
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, rememberCookie, metrics)
	authMiddleware := auth.Middleware{
		Service:  authService,
		Sessions: sessionManager,
		Remember: rememberCookie,
		Logger:   logger,
	}

	cardsRepo := cards.NewRepository(dbpool)
	cardsService := cards.NewService(cardsRepo)
	cardsHandler := cards.NewHandler(logger, cardsService, templates, csrfManager)

	usersRepo := users.NewRepository(dbpool)
	usersHandler := users.NewHandler(logger, usersRepo, templates, csrfManager)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		CardsHandler:   cardsHandler,
		UsersHandler:   usersHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
