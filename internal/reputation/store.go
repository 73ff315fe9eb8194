package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sentra-auth/sentra/internal/config"
)

// ErrUnavailable wraps Redis transport failures so callers can tell
// "not blacklisted" from "could not check".
var ErrUnavailable = errors.New("reputation store unavailable")

// Store keeps IP reputation state in Redis: a blacklist populated by
// threat mitigation and per-IP failure counters that age out on their
// own. Lookups degrade to "unknown" when Redis is down; risk scoring
// treats unknown as clean rather than failing the login.
type Store struct {
	redis  redis.UniversalClient
	logger *slog.Logger
}

func NewStore(cfg *config.RedisConfig, logger *slog.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Store{redis: client, logger: logger}
}

// NewStoreWithClient is used by tests to inject a fake client.
func NewStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *Store {
	return &Store{redis: client, logger: logger}
}

func blacklistKey(ip string) string {
	return "rep:blacklist:" + ip
}

func failureKey(ip string) string {
	return "rep:failures:" + ip
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Blacklisted reports whether the IP has an active blacklist entry.
// A Redis failure is logged and reported as not blacklisted.
func (s *Store) Blacklisted(ctx context.Context, ip string) bool {
	exists, err := s.redis.Exists(ctx, blacklistKey(ip)).Result()
	if err != nil {
		s.logger.Warn("reputation lookup failed, treating IP as clean",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return false
	}
	return exists > 0
}

// Blacklist adds the IP for the given duration. A zero ttl blacklists
// until explicitly removed.
func (s *Store) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, blacklistKey(ip), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unblacklist removes the IP. Removing an absent entry is not an error.
func (s *Store) Unblacklist(ctx context.Context, ip string) error {
	if err := s.redis.Del(ctx, blacklistKey(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RecordFailure bumps the rolling failure counter for the IP and
// returns the new count. The counter expires after window so stale
// failures stop counting against the address.
func (s *Store) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	count, err := s.redis.Incr(ctx, failureKey(ip)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, failureKey(ip), window).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.redis.Close()
}
