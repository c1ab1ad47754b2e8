// Package guard serializes read-plan-write cycles on a key across one or many
// server processes.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/platform/db"
)

// ErrBusy is returned when a lease could not be obtained before the context
// ended.
var ErrBusy = errors.New("write guard busy")

// Release gives the guard back. It is safe to call more than once.
type Release func()

type Guard interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Modes accepted by New.
const (
	ModeNone     = "none"
	ModeLocal    = "local"
	ModeAdvisory = "advisory"
	ModeRedis    = "redis"
)

// Nop never blocks.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (Release, error) { return func() {}, nil }

// Local is an in-process mutex per key.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(key, lk)
		})
	}, nil
}

func (l *Local) unref(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// TxScoped is implemented by guards whose locks belong to the caller's
// transaction. They are acquired after the transaction begins and released
// when it commits or rolls back.
type TxScoped interface {
	Guard
	TxScoped()
}

// IsTxScoped reports whether g must be acquired inside a transaction.
func IsTxScoped(g Guard) bool {
	_, ok := g.(TxScoped)
	return ok
}

// ErrNoTransaction is returned by Advisory when ctx carries no transaction.
var ErrNoTransaction = errors.New("advisory write guard requires a transaction")

// Advisory uses PostgreSQL transaction advisory locks taken on the
// transaction carried by ctx, so it never holds a pool connection of its own.
// The returned Release is a no-op; the lock ends with the transaction.
type Advisory struct{}

func NewAdvisory() Advisory { return Advisory{} }

func (Advisory) TxScoped() {}

func (Advisory) Acquire(ctx context.Context, key string) (Release, error) {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return nil, fmt.Errorf("lock %s: %w", key, ErrNoTransaction)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, err)
	}
	return func() {}, nil
}

// Redis holds a lease in Redis: SET key token NX PX ttl, polled until the
// context ends. Release deletes the key only if it still holds our token.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	poll   time.Duration
	prefix string
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, ttl: ttl, poll: 50 * time.Millisecond, prefix: "orsched:lock:"}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	full := r.prefix + key

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("set lock %s: %w", full, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{full}, token).Err()
		})
	}, nil
}

// Options selects and configures a guard.
type Options struct {
	Mode  string
	Redis redis.Cmdable
	TTL   time.Duration
}

// New builds the guard named by opts.Mode.
func New(opts Options) (Guard, error) {
	switch opts.Mode {
	case "", ModeNone:
		return Nop{}, nil
	case ModeLocal:
		return NewLocal(), nil
	case ModeAdvisory:
		return NewAdvisory(), nil
	case ModeRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis write guard requires a redis client")
		}
		return NewRedis(opts.Redis, opts.TTL), nil
	default:
		return nil, fmt.Errorf("unknown write guard mode %q", opts.Mode)
	}
}

// AcquireAll takes the guard for every distinct key in sorted order and
// returns one release for all of them.
func AcquireAll(ctx context.Context, g Guard, keys ...string) (Release, error) {
	sorted := uniqueSorted(keys)
	releases := make([]Release, 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range sorted {
		rel, err := g.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var out []string
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
