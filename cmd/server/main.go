package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"consentido_auth/internal/api"
	"consentido_auth/internal/app/service"
	"consentido_auth/internal/common/security"
	"consentido_auth/internal/domain/repository"
	"consentido_auth/internal/platform/cache"
	"consentido_auth/internal/platform/config"
	"consentido_auth/internal/platform/database"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	logger.Info("configuration loaded", "env", cfg.AppEnv, "user_store", cfg.UserStore)

	// 2. Initialize the token service
	tokens, err := security.NewTokenService(security.TokenConfig{
		Key:      cfg.JWTKey,
		Lifetime: cfg.JWTExp,
		Issuer:   cfg.JWTIssuer,
	})
	if err != nil {
		return err
	}

	// 3. Initialize the user directory
	var userRepo repository.UserRepository
	switch cfg.UserStore {
	case config.UserStoreMemory:
		logger.Warn("using the in-memory user store, users are lost on restart")
		userRepo = repository.NewMemoryUserRepository()
	default:
		db, err := database.Connect(ctx, cfg.DBConnStr)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("database connected and migrated")
		userRepo = repository.NewPgUserRepository(db)
	}

	// 4. Initialize services
	creds, err := service.NewCredentialService(userRepo, security.NewPasswordHasher(cfg.BcryptCost))
	if err != nil {
		return err
	}
	opts := []service.AuthOption{
		service.WithLogger(logger),
		service.WithSignupRoles(cfg.SignupRoles...),
	}

	// 5. Initialize Redis-backed login throttling when configured
	if cfg.ThrottleEnabled() {
		rdb, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("redis connected, login throttling enabled",
			"max_failures", cfg.LoginMaxFailures, "lockout", cfg.LoginLockout)
		attempts := repository.NewRedisLoginAttemptRepository(rdb)
		opts = append(opts, service.WithThrottle(service.NewLoginThrottle(attempts, cfg.LoginMaxFailures, cfg.LoginLockout)))
	}

	authService := service.NewAuthService(userRepo, creds, tokens, opts...)

	// 6. Initialize Router & HTTP Server
	router := api.NewRouter(authService, api.RouterConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowCredentials: cfg.CORSAllowCredentials,
		RequestTimeout:   cfg.RequestTimeout,
		AccessLog:        true,
	})

	server := newHTTPServer(":"+cfg.APIPort, router, cfg.RequestTimeout)

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-stop:
	}

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// writeGrace leaves room after the handler timeout for the 503 response to be written.
const writeGrace = 5 * time.Second

func newHTTPServer(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + writeGrace,
		IdleTimeout:  120 * time.Second,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
