package locks

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/ident"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

// TaskLockKey guards a single task execution.
func TaskLockKey(taskID string) string { return "task_lock:" + taskID }

// ExpandLockKey guards a job's archive decomposition.
func ExpandLockKey(jobID string) string { return "expand_zip_" + jobID }

// Lease is proof of lock ownership. Release is a no-op when the lease has
// already expired or was taken over.
type Lease struct {
	Key   string
	Token string
}

// Service provides short-TTL advisory locks. Acquire returns a nil lease
// when the lock is held by someone else.
type Service interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	// Extend pushes the lease's expiry out by ttl. Fails when the lease has
	// lapsed or was taken over.
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) error
	Release(ctx context.Context, lease *Lease) error
}

// releaseScript deletes the key only while we still own it.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only while we still own the key.
var extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

type redisLocks struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisLocks(cfg config.Config, log *logger.Logger) (Service, error) {
	if cfg.RedisAddr == "" {
		return nil, apierr.Newf(apierr.KindConfig, "REDIS_ADDR_REQUIRED", "redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apierr.New(apierr.KindLock, "REDIS_PING", err)
	}

	return &redisLocks{
		log: log.With("service", "RedisLocks"),
		rdb: rdb,
	}, nil
}

func (l *redisLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := ident.NewReqID()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, apierr.New(apierr.KindLock, "LOCK_ACQUIRE", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{Key: key, Token: token}, nil
}

func (l *redisLocks) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	if lease == nil {
		return apierr.Newf(apierr.KindLock, "LOCK_EXTEND", "no lease to extend")
	}
	n, err := extendScript.Run(ctx, l.rdb, []string{lease.Key}, lease.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return apierr.New(apierr.KindLock, "LOCK_EXTEND", err)
	}
	if n == 0 {
		return apierr.Newf(apierr.KindLock, "LOCK_EXTEND", "lease on %s no longer held", lease.Key)
	}
	return nil
}

func (l *redisLocks) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{lease.Key}, lease.Token).Err(); err != nil {
		return apierr.New(apierr.KindLock, "LOCK_RELEASE", err)
	}
	return nil
}
