package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fleetops/console-client/internal/logger"
)

const redisOpTimeout = 5 * time.Second

// RedisStore persists credentials in a shared Redis key so independent
// console instances observe the same session. A sign-out in one instance is
// broadcast over a pub/sub channel; Watch subscribes the local instance to
// that broadcast. Messages carry the publisher's instance ID so an instance
// does not react to its own Clear.
type RedisStore struct {
	rdb        redis.UniversalClient
	key        string
	channel    string
	instanceID string

	mu     sync.Mutex
	loaded bool
	creds  Credentials
}

// NewRedisStore creates a Redis-backed store. keyPrefix namespaces the
// credential key and the sign-out channel, e.g. "console:auth".
func NewRedisStore(rdb redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "console:auth"
	}
	return &RedisStore{
		rdb:        rdb,
		key:        keyPrefix + ":credentials",
		channel:    keyPrefix + ":signout",
		instanceID: uuid.NewString(),
	}
}

func (r *RedisStore) Get() Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.creds
	}
	r.loaded = true

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Get().Warn().Err(err).Str("key", r.key).Msg("failed to read credentials from redis")
		}
		return Credentials{}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		logger.Get().Warn().Err(err).Str("key", r.key).Msg("corrupted credential record in redis, purging")
		if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
			logger.Get().Warn().Err(err).Msg("failed to purge corrupted credential record")
		}
		return Credentials{}
	}

	r.creds = creds
	return r.creds
}

func (r *RedisStore) Set(creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creds = creds
	r.loaded = true

	data, err := json.Marshal(creds)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("failed to marshal credentials")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		logger.Get().Warn().Err(err).Str("key", r.key).Msg("failed to write credentials to redis")
	}
}

// Clear empties the mirror, deletes the shared record and broadcasts the
// sign-out to the other instances. Idempotent.
func (r *RedisStore) Clear() {
	r.mu.Lock()
	r.creds = Credentials{}
	r.loaded = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		logger.Get().Warn().Err(err).Str("key", r.key).Msg("failed to delete credentials from redis")
	}
	if err := r.rdb.Publish(ctx, r.channel, r.instanceID).Err(); err != nil {
		logger.Get().Warn().Err(err).Str("channel", r.channel).Msg("failed to broadcast sign-out")
	}
}

// Watch subscribes to sign-out broadcasts from other instances and invokes
// onSignOut for each one until ctx is cancelled. Broadcasts published by this
// instance are skipped.
func (r *RedisStore) Watch(ctx context.Context, onSignOut func()) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == r.instanceID {
					continue
				}
				r.mu.Lock()
				r.creds = Credentials{}
				r.loaded = true
				r.mu.Unlock()
				onSignOut()
			}
		}
	}()

	return nil
}
