// Package redisstore provides a Redis implementation of nudge.Store.
// User attributes live in one hash per user, site options in one hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PrefixUser namespaces per-user attribute hashes.
	PrefixUser = "nudge:user:"

	// KeyOptions is the hash holding site options.
	KeyOptions = "nudge:options"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the connection defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store persists attributes in Redis.
type Store struct {
	client *redis.Client
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// UserKey returns the hash key for a user.
func UserKey(userID string) string {
	return PrefixUser + userID
}

// GetAttr reads one field of the user's hash.
func (s *Store) GetAttr(ctx context.Context, userID, key string) ([]byte, bool, error) {
	v, err := s.client.HGet(ctx, UserKey(userID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget %s: %w", key, err)
	}
	return v, true, nil
}

// SetAttrs writes all fields with a single HSET.
func (s *Store) SetAttrs(ctx context.Context, userID string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, UserKey(userID), args...).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

// LoadOrStoreOption uses HSETNX so concurrent first reads agree.
func (s *Store) LoadOrStoreOption(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := s.client.HSetNX(ctx, KeyOptions, key, value).Err(); err != nil {
		return nil, fmt.Errorf("hsetnx %s: %w", key, err)
	}
	v, err := s.client.HGet(ctx, KeyOptions, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", key, err)
	}
	return v, nil
}
