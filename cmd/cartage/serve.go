package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/app/controller"
	"github.com/ikkim/cartage/internal/middleware"
	"github.com/ikkim/cartage/internal/router"
	"github.com/ikkim/cartage/internal/security"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/ikkim/cartage/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

// newAuthMiddleware checks tokens against the Redis revocation list when Redis
// is reachable and limits customers to their own carts when configured.
func newAuthMiddleware(cfg *config.Config, provider cartage.StoreProvider) (*middleware.AuthMiddleware, func()) {
	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret, security.DefaultPolicy())
	if cfg.Server.CartOwnership {
		auth.WithOwnership(provider)
	}

	release := func() {}
	if cfg.Store.Driver == config.DriverRedis {
		auth.WithRevocationCheck(redis.IsTokenRevoked)
		return auth, release
	}
	if err := redis.Init(&cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, token revocation is not enforced", map[string]interface{}{
			"error": err.Error(),
		})
		return auth, release
	}
	auth.WithRevocationCheck(redis.IsTokenRevoked)
	release = func() {
		if err := redis.Close(); err != nil {
			logger.Error("Failed to close Redis connection", err)
		}
	}
	return auth, release
}

func runServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", cfg.Server.Port, "HTTP listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	provider, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	auth, release := newAuthMiddleware(cfg, provider)
	defer release()

	engine := router.NewRouter(controller.NewCartController(provider), auth, cfg).Setup()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", *port),
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server started successfully", map[string]interface{}{
			"address":   srv.Addr,
			"pid":       os.Getpid(),
			"ownership": cfg.Server.CartOwnership,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}
