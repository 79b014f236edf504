package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BloodLink/internal/metrics"
	"github.com/BTreeMap/BloodLink/internal/models"
	"github.com/BTreeMap/BloodLink/internal/util"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	lockKeyPrefix    = "lock:"
	lockRetryDelay   = 25 * time.Millisecond
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis so several instances can share them.
// Keys expire with the session TTL, refreshed on every save.
type RedisStore struct {
	client *redis.Client
	cfg    Opts
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: applyOpts(opts)}
}

// Connect parses a redis:// URL, pings the server and returns a store.
func Connect(ctx context.Context, url string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	slog.Info("RedisStore.Connect: connected", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return NewRedisStore(client, opts...), nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) key(phone string) string {
	return r.cfg.Prefix + sessionKeyPrefix + phone
}

func observe(op string, start time.Time) {
	metrics.SessionStoreDuration.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func (r *RedisStore) Get(ctx context.Context, phone string) (*models.Session, error) {
	defer observe("get", time.Now())
	raw, err := r.client.Get(ctx, r.key(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", phone, err)
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session for %s: %w", phone, err)
	}
	if s.Expired(r.cfg.TTL, r.cfg.Now()) {
		return nil, nil
	}
	return &s, nil
}

// Save performs an optimistic compare-and-set using WATCH/MULTI. A missing
// key counts as a match, so a session that expired while loaded is recreated.
func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	defer observe("save", time.Now())
	if s == nil || s.Phone == "" {
		return fmt.Errorf("session phone is required")
	}
	key := r.key(s.Phone)
	now := r.cfg.Now()

	next := *s
	next.Version = s.Version + 1
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", s.Phone, err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored models.Session
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("failed to decode stored session: %w", err)
			}
			if stored.Version != s.Version {
				return ErrConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.cfg.TTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrConflict) {
		slog.Warn("RedisStore.Save: version conflict", "phone", s.Phone, "expected", s.Version)
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to save session for %s: %w", s.Phone, err)
	}
	s.Version = next.Version
	s.UpdatedAt = next.UpdatedAt
	s.CreatedAt = next.CreatedAt
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, r.key(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", phone, err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (r *RedisStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

// Lock acquires a SET NX lock with an expiry, retrying until ctx is done.
func (r *RedisStore) Lock(ctx context.Context, phone string) (func(), error) {
	defer observe("lock", time.Now())
	key := r.cfg.Prefix + lockKeyPrefix + phone
	token := util.GenerateRandomHex(24)
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.LockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", phone, err)
		}
		if ok {
			return func() {
				// Release with a fresh context so a cancelled dispatch still unlocks.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
					slog.Warn("RedisStore.Lock: release failed", "phone", phone, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLocked, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}
