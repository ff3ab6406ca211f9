package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// Init connects the shared client and pings it
func Init(cfg *config.RedisConfig) error {
	logger.Info("Initializing Redis connection", map[string]interface{}{
		"addr": cfg.Addr(),
		"db":   cfg.DB,
	})

	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", err, map[string]interface{}{
			"addr": cfg.Addr(),
		})
		c.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client = c
	logger.Info("Redis connection established successfully")
	return nil
}

// GetClient returns the shared client, nil before Init
func GetClient() *redis.Client {
	return client
}

// Close closes the shared client
func Close() error {
	if client == nil {
		return nil
	}
	logger.Info("Closing Redis connection")
	err := client.Close()
	client = nil
	return err
}

func revokedKey(tokenID string) string {
	return fmt.Sprintf("revoked:%s", tokenID)
}

// RevokeToken marks a token ID as revoked until expiry has passed
func RevokeToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	logger.Debug("Revoking token", map[string]interface{}{
		"token_id": tokenID,
		"expiry":   expiry.String(),
	})

	if err := client.Set(ctx, revokedKey(tokenID), "revoked", expiry).Err(); err != nil {
		logger.Error("Failed to revoke token", err, map[string]interface{}{
			"token_id": tokenID,
		})
		return err
	}
	return nil
}

// IsTokenRevoked reports whether RevokeToken was called for tokenID
func IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	if client == nil {
		return false, fmt.Errorf("redis client not initialized")
	}
	val, err := client.Get(ctx, revokedKey(tokenID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		logger.Error("Failed to check token revocation", err, nil)
		return false, err
	}
	return val == "revoked", nil
}
