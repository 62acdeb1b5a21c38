package lock

import (
	"context"
	"sync"
	"time"

	"ambassador-controlplane/pkg/config"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(New),
)

// Unlock releases a lock obtained from Locker.Lock.
type Unlock func()

// Locker serializes work on a key across every process sharing redis.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type Params struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func New(p Params) Locker {
	expiry := p.Config.Distribution.LockExpiry
	if p.Redis == nil {
		zap.L().Warn("[Lock] redis not provided, falling back to in-process locks")
		return NewLocal()
	}
	return NewRedsync(p.Redis, expiry)
}

type redsyncLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedsync(client *redis.Client, expiry time.Duration) Locker {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &redsyncLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

// Lock holds the mutex until the returned Unlock is called, extending it
// every half expiry so long settlement runs keep ownership.
func (l *redsyncLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}

	stop := keepAlive(context.WithoutCancel(ctx), l.expiry/2, func(ctx context.Context) error {
		ok, err := mutex.ExtendContext(ctx)
		if err == nil && !ok {
			err = redsync.ErrExtendFailed
		}
		if err != nil {
			zap.L().Warn("[Lock] failed to extend lock", zap.String("key", key), zap.Error(err))
		}
		return err
	})

	return func() {
		stop()
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("[Lock] failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// keepAlive calls extend every interval until stop is called or extend
// fails. stop waits for a running extend to return.
func keepAlive(ctx context.Context, interval time.Duration, extend func(context.Context) error) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := extend(ctx); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocal returns a Locker scoped to the current process.
func NewLocal() Locker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.Lock()
	return m.Unlock, nil
}
