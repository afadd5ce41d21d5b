package realtime

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedis creates a new Redis client
func NewRedis(addr, password string, log *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	log.Info("Redis client created", zap.String("addr", addr))
	return rdb
}

// NotificationChannel is the per-user Redis channel notifications are published on.
func NotificationChannel(userID string) string {
	return "notifications:" + userID
}
