// Package redis serialises poolclean runs with a lock and keeps the pool's
// cached statistics consistent with a cleaned store.
package redis

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/retry"
)

// Keys shared with the pool's stats service
const (
	LatestStatsKey     = "pool:latest_stats"
	BlocksKey          = "pool:blocks"
	BlocksDetailedKey  = "pool:blocks_detailed"
	DefaultLockKey     = "poolclean:lock"
	DefaultLockTimeout = 30 * time.Minute
)

// DefaultSeriesKeys are the time-series sets trimmed after a live run
var DefaultSeriesKeys = []string{BlocksKey, BlocksDetailedKey}

// ErrLockHeld is returned when another run owns the lock
var ErrLockHeld = stderrors.New("poolclean lock is held by another run")

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Client wraps the Redis operations poolclean needs
type Client struct {
	rdb         *redis.Client
	retryConfig *retry.Config
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient parses the URL, connects and pings
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "redis_url", "invalid Redis URL")
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	c := &Client{rdb: redis.NewClient(opts), retryConfig: retry.LockConfig()}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "redis_ping", "failed to ping Redis").
			WithContext("addr", opts.Addr)
	}

	return c, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Lock is a held run lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// Token identifies the holder
func (l *Lock) Token() string {
	return l.token
}

// AcquireLock takes key for ttl. The ttl bounds how long a crashed run can
// block the next one.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := retry.DoWithResult(ctx, c.retryConfig, func() (bool, error) {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeNetwork, "acquire_lock", "failed to set lock").
				WithContext("key", key)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrLockHeld, errors.ErrorTypePolicy, "acquire_lock", "another cleanup is running").
			WithContext("key", key)
	}

	return &Lock{client: c, key: key, token: token}, nil
}

// Release drops the lock if it is still ours. Releasing an expired or
// stolen lock is not an error.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "release_lock", "failed to release lock").
			WithContext("key", l.key)
	}
	return nil
}

// InvalidateStats drops the cached pool statistics so the stats service
// recomputes them from the cleaned store
func (c *Client) InvalidateStats(ctx context.Context) error {
	if err := c.rdb.Del(ctx, LatestStatsKey).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "invalidate_stats", "failed to delete cached stats")
	}
	return nil
}

// TrimSeries removes members of the sorted set key scored before cutoff.
// Scores are unix seconds. With dryRun the members are only counted.
func (c *Client) TrimSeries(ctx context.Context, key string, cutoff time.Time, dryRun bool) (int64, error) {
	maxScore := cutoffScore(cutoff)

	var (
		n   int64
		err error
	)
	if dryRun {
		n, err = c.rdb.ZCount(ctx, key, "-inf", maxScore).Result()
	} else {
		n, err = c.rdb.ZRemRangeByScore(ctx, key, "-inf", maxScore).Result()
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeNetwork, "trim_series", "failed to trim time series").
			WithContext("key", key)
	}
	return n, nil
}

// cutoffScore is an exclusive upper bound at cutoff
func cutoffScore(cutoff time.Time) string {
	return "(" + strconv.FormatInt(cutoff.Unix(), 10)
}
