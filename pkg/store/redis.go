package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisTLSConfig() (*tls.Config, error) {
	if !requiresSecureTransport("REDIS_TLS") {
		if requiresSecureTransport("REDIS_REQUIRE_TLS") {
			return nil, fmt.Errorf("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
		}
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if requiresSecureTransport("REDIS_TLS_INSECURE") {
		cfg.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in for dev setups
	}
	return cfg, nil
}

// NewRedis connects from environment configuration. Callers treat a failure
// as "run without redis": rate limits and caches fall back to memory.
func NewRedis(ctx context.Context) (*redis.Client, error) {
	tlsConfig, err := redisTLSConfig()
	if err != nil {
		return nil, err
	}

	db := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      envOr("REDIS_ADDR", "localhost:6379"),
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        db,
		TLSConfig: tlsConfig,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
