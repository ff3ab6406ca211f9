package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/app/controller"
	"github.com/ikkim/cartage/internal/router"
	"github.com/ikkim/cartage/internal/security"
	"github.com/ikkim/cartage/pkg/cartage/cartagetest"
	"github.com/ikkim/cartage/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveTestConfig(host, port string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{GinMode: gin.TestMode, CartOwnership: true},
		Store:  config.StoreConfig{Driver: config.DriverSQLite},
		Redis:  config.RedisConfig{Host: host, Port: port, KeyPrefix: "cartage"},
		JWT:    config.JWTConfig{Secret: "serve-test-secret", AccessTokenExpiry: time.Hour},
	}
}

func postCart(engine *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w.Code
}

func TestNewAuthMiddleware_EnforcesRevocation(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	cfg := serveTestConfig(host, port)

	store := cartagetest.NewMemory(nil)
	auth, release := newAuthMiddleware(cfg, store)
	t.Cleanup(release)
	engine := router.NewRouter(controller.NewCartController(store), auth, cfg).Setup()

	token, err := security.IssueToken("alice", []string{security.RoleCustomer}, cfg.JWT.Secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, postCart(engine, token))

	claims, err := security.ParseToken(token, cfg.JWT.Secret)
	require.NoError(t, err)
	require.NoError(t, redis.RevokeToken(context.Background(), claims.ID, time.Hour))

	assert.Equal(t, http.StatusUnauthorized, postCart(engine, token))
}

func TestNewAuthMiddleware_WithoutRedis(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, listener.Close())
	cfg := serveTestConfig(host, port)

	store := cartagetest.NewMemory(nil)
	auth, release := newAuthMiddleware(cfg, store)
	t.Cleanup(release)
	engine := router.NewRouter(controller.NewCartController(store), auth, cfg).Setup()

	token, err := security.IssueToken("alice", []string{security.RoleCustomer}, cfg.JWT.Secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, postCart(engine, token))
}
