package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
)

// keyPrefix namespaces verification sessions in Redis.
const keyPrefix = "verify:session:"

// Default timeouts for Redis operations.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore implements Store on Redis. TTL enforcement is native (SET with
// EX) and Consume maps to GETDEL, which is atomic on the server side, so two
// concurrent consumers of the same state cannot both observe the session.
type RedisStore struct {
	log    logrus.FieldLogger
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed session store and verifies connectivity.
func NewRedisStore(ctx context.Context, log logrus.FieldLogger, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{
		log:    log.WithField("component", "session_redis_store"),
		client: client,
	}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(log logrus.FieldLogger, client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		log:    log.WithField("component", "session_redis_store"),
		client: client,
	}
}

// Start is a no-op; Redis handles expiry natively.
func (r *RedisStore) Start(_ context.Context) error {
	r.log.Info("Redis session store started")

	return nil
}

// Stop closes the Redis client.
func (r *RedisStore) Stop() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}

	r.log.Info("Redis session store stopped")

	return nil
}

// Create stores a session under its state token with the package TTL.
func (r *RedisStore) Create(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+sess.State, data, TTL).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	return nil
}

// Consume retrieves and deletes the session for state via GETDEL.
func (r *RedisStore) Consume(ctx context.Context, state string) (*Session, error) {
	data, err := r.client.GetDel(ctx, keyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}

		return nil, fmt.Errorf("consuming session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}

	// The key TTL should have removed expired entries already; reject on
	// access as a double check so clock skew cannot extend a session.
	if sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	return &sess, nil
}
