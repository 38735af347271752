// Package redisconn builds the Redis client used by the goAbuse binaries.
package redisconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAbuse/internal/settings"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PingTimeout bounds the connection check done by Open.
const PingTimeout = 5 * time.Second

// ErrNoAddrs is returned when settings name no Redis address.
var ErrNoAddrs = errors.New("redisconn: no redis address configured")

// Options builds go-redis universal options from settings. One address
// yields a single-node client, several yield a cluster client.
//
// Command retries are disabled: the decision script records an attempt, so
// re-sending it after a lost reply would record that attempt twice. Cluster
// clients go through the same retry loop as redirects, so redirects are off
// as well and a MOVED reply surfaces as a transient failure.
func Options(cfg settings.RedisSettings) (*redis.UniversalOptions, error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoAddrs
	}

	opts := &redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   -1,

		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if len(cfg.Addrs) > 1 {
		opts.DB = 0
		opts.IsClusterMode = true
		opts.MaxRedirects = -1
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts, nil
}

// Open connects to Redis and pings it.
func Open(ctx context.Context, cfg settings.RedisSettings, log *zap.Logger) (redis.UniversalClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info("redis connection established",
		zap.Strings("addrs", cfg.Addrs),
		zap.Int("db", opts.DB),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
		zap.Bool("cluster", opts.IsClusterMode),
	)
	return client, nil
}

// Embedded is an in-process Redis for demos and load tests run without a
// server.
type Embedded struct {
	Server *miniredis.Miniredis
	Client *redis.Client
}

// StartEmbedded starts an in-process Redis and a client for it.
func StartEmbedded(log *zap.Logger) (*Embedded, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("start embedded redis: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:          mr.Addr(),
		PoolSize:      64,
		MaxRetries:    -1,
		DialerRetries: 1,
	})
	log.Warn("using embedded redis, state is lost on exit", zap.String("addr", mr.Addr()))
	return &Embedded{Server: mr, Client: client}, nil
}

// Close stops the client and the server.
func (e *Embedded) Close() error {
	if e == nil {
		return nil
	}
	err := e.Client.Close()
	e.Server.Close()
	if err != nil {
		return fmt.Errorf("close embedded redis client: %w", err)
	}
	return nil
}
