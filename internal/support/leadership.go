package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second

	leaseRetryDelay    = time.Second
	leaseCallTimeout   = 5 * time.Second
	minExtendInterval  = time.Second
	extendsPerLifetime = 3
)

var (
	ErrLeadershipLost = errors.New("support: leadership lost")

	leaseSeq atomic.Uint64

	// Both scripts act only while the key still carries this holder's token.
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	dropScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RunWithLeader blocks until this process holds the lease at key, then calls
// run with a context cancelled when the lease cannot be extended. run's error
// is returned once it finishes, except after a lost lease: then the lease is
// taken again and run starts over.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context) error) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return fmt.Errorf("support: leader lock: %w", ErrRedisDisabled)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	for {
		l, err := takeLease(ctx, client, key, ttl)
		if err != nil {
			return err
		}

		log.Info("Leadership acquired", "key", key)
		runErr := run(l.ctx)
		wasLost := l.lost.Load()
		l.end()

		if !wasLost || ctx.Err() != nil {
			log.Debug("Leadership handed back", "key", key)
			return runErr
		}

		log.Warn("Leadership lost while running, competing again", "key", key, "error", runErr)
		if err := waitRetry(ctx); err != nil {
			return err
		}
	}
}

// lease is one tenure of the lock. Its context lives until end is called or
// an extension fails.
type lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	lost   atomic.Bool
}

func takeLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*lease, error) {
	token := newLeaseToken()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		won, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("Leadership attempt failed", "key", key, "error", err)
		case won:
			l := &lease{client: client, key: key, token: token, ttl: ttl, done: make(chan struct{})}
			l.ctx, l.cancel = context.WithCancel(ctx)
			go l.keepAlive()
			return l, nil
		default:
			log.Debug("Leadership held elsewhere", "key", key)
		}

		if err := waitRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (l *lease) end() {
	l.once.Do(func() {
		close(l.done)
		l.cancel()
		if err := l.drop(); err != nil {
			log.Warn("Could not hand back leadership", "key", l.key, "error", err)
		}
	})
}

// keepAlive pushes the expiry forward a few times per ttl. The first failed
// extension marks the lease lost and cancels its context.
func (l *lease) keepAlive() {
	every := max(l.ttl/extendsPerLifetime, minExtendInterval)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.extend(); err != nil {
				log.Warn("Could not extend leadership", "key", l.key, "error", err)
				l.lost.Store(true)
				l.cancel()
				return
			}
		}
	}
}

func (l *lease) extend() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()

	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeadershipLost
	}
	return nil
}

func (l *lease) drop() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()

	err := dropScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func waitRetry(ctx context.Context) error {
	t := time.NewTimer(leaseRetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newLeaseToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s/%d/%d/%d", host, os.Getpid(), time.Now().UnixNano(), leaseSeq.Add(1))
}
