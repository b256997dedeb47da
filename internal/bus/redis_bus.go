package bus

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/events"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

type redisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisBus(cfg config.Config, log *logger.Logger) (Bus, error) {
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
		return nil, apierr.New(apierr.KindBus, "REDIS_PING", err)
	}

	return &redisBus{
		log: log.With("service", "RedisBus"),
		rdb: rdb,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, channel string, e events.Envelope) error {
	raw, err := events.Encode(e)
	if err != nil {
		return apierr.New(apierr.KindBus, "BUS_ENCODE", err)
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return apierr.New(apierr.KindBus, "BUS_PUBLISH", err)
	}
	return nil
}

func (b *redisBus) Subscribe(ctx context.Context, channel string, onEvent func(e events.Envelope)) error {
	sub := b.rdb.Subscribe(ctx, channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return apierr.New(apierr.KindBus, "BUS_SUBSCRIBE", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				e, err := events.Decode([]byte(m.Payload))
				if err != nil {
					b.log.Warn("Dropping undecodable bus payload", "channel", channel, "error", err)
					continue
				}
				onEvent(e)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
