package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "rpg:story-lock:"

// Config - параметры блокировки.
type Config struct {
	// Expiry - время жизни блокировки. Должно превышать таймаут генерации.
	Expiry time.Duration
	// Wait - сколько ждать освобождения блокировки.
	Wait       time.Duration
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Expiry <= 0 {
		c.Expiry = 2 * time.Minute
	}
	if c.Wait <= 0 {
		c.Wait = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	return c
}

// RedisLocker - распределенная блокировка истории на redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	cfg    Config
	logger *zap.Logger
}

var _ interfaces.StoryLocker = (*RedisLocker)(nil)

// NewRedisLocker создает блокировку поверх клиента go-redis.
func NewRedisLocker(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		cfg:    cfg.withDefaults(),
		logger: logger.Named("RedisLocker"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, storyID string) (func(), error) {
	tries := int(l.cfg.Wait/l.cfg.RetryDelay) + 1
	mutex := l.rs.NewMutex(keyPrefix+storyID,
		redsync.WithExpiry(l.cfg.Expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(l.cfg.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) || errors.Is(err, context.DeadlineExceeded) {
			l.logger.Info("История уже обрабатывается", zap.String("storyID", storyID))
			return nil, models.ErrStoryBusy
		}
		l.logger.Error("Ошибка захвата блокировки", zap.String("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrStoryBusy, err)
	}

	return func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil || !ok {
			l.logger.Warn("Не удалось освободить блокировку", zap.String("storyID", storyID), zap.Bool("ok", ok), zap.Error(err))
		}
	}, nil
}
