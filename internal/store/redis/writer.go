// Package redis publishes installed snapshots and alert events so external
// readers (dashboards, bots) can fetch the latest state or subscribe to it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptoscope/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultSnapshotTTL = 30 * time.Minute
	recentAlertsKey    = "scope:alerts:recent"
	recentAlertsMax    = 500
	alertsChannel      = "pub:alerts"
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // snapshot key TTL, 0 = 30m
}

// SnapshotKey is the key holding the latest snapshot JSON of k.
func SnapshotKey(k model.SeriesKey) string {
	return "scope:snap:" + k.Symbol + ":" + k.Timeframe
}

// SnapshotChannel is the pub/sub channel announcing new snapshots of k.
func SnapshotChannel(k model.SeriesKey) string {
	return "pub:scope:" + k.Symbol + ":" + k.Timeframe
}

// Publisher writes snapshots and events with pipelined SET/PUBLISH.
type Publisher struct {
	client *goredis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config, log *slog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	log = log.With("component", "redis")
	log.Info("connected", "addr", cfg.Addr)
	return &Publisher{client: client, ttl: ttl, log: log}, nil
}

// PublishSnapshots writes every snapshot of a cycle in a single pipeline:
// SET the latest key with TTL, then PUBLISH on the key's channel.
func (p *Publisher) PublishSnapshots(ctx context.Context, snaps []model.SymbolSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for i := range snaps {
		data := snaps[i].JSON()
		pipe.Set(ctx, SnapshotKey(snaps[i].Key), data, p.ttl)
		pipe.Publish(ctx, SnapshotChannel(snaps[i].Key), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis snapshot pipeline (%d snapshots): %w", len(snaps), err)
	}
	return nil
}

// PublishEvent pushes ev onto the capped recent-alerts list and publishes it.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.AlertEvent) error {
	data := ev.JSON()
	pipe := p.client.Pipeline()
	pipe.LPush(ctx, recentAlertsKey, data)
	pipe.LTrim(ctx, recentAlertsKey, 0, recentAlertsMax-1)
	pipe.Publish(ctx, alertsChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event pipeline %s: %w", ev.ID, err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
