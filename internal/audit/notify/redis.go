package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/audit-trail/audit-trail/internal/config"
)

// Redis publishes alerts as JSON on a pub/sub channel, so any number of subscribers
// (SIEM forwarders, chat bots, dashboards) can react to them.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a Redis notifier. The connection is established lazily.
func NewRedis(cfg *config.RedisConfig) *Redis {
	channel := cfg.Channel
	if channel == "" {
		channel = "audit:critical"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: channel,
	}
}

// Name implements Notifier.
func (r *Redis) Name() string { return "redis" }

// Notify publishes the alert.
func (r *Redis) Notify(ctx context.Context, alert *Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close implements Notifier.
func (r *Redis) Close() error { return r.client.Close() }
