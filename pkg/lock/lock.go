package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	pkgErrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrRunInProgress = errors.New("a settlement run is already in progress")

// Locker hands out exclusive access to the treasury. The returned func releases it.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// SingleFlight allows one holder per process and never waits.
type SingleFlight struct {
	running atomic.Bool
}

func NewSingleFlight() *SingleFlight {
	return &SingleFlight{}
}

func (s *SingleFlight) Acquire(_ context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			s.running.Store(false)
		}
	}, nil
}

const DefaultLeaseTtl = 10 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

type RedisLeaseConfig struct {
	Key string
	Ttl time.Duration
}

// RedisLease is a best-effort lease shared by every sidecar process using the same redis.
// The ttl must outlast a settlement run; an expired lease can be taken by another process.
type RedisLease struct {
	client redis.UniversalClient
	config *RedisLeaseConfig
	logger *zap.Logger
}

func NewRedisLease(client redis.UniversalClient, cfg *RedisLeaseConfig, l *zap.Logger) *RedisLease {
	if cfg.Ttl <= 0 {
		cfg.Ttl = DefaultLeaseTtl
	}
	return &RedisLease{
		client: client,
		config: cfg,
		logger: l,
	}
}

func (r *RedisLease) Acquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, r.config.Key, token, r.config.Ttl).Result()
	if err != nil {
		return nil, pkgErrors.Wrap(err, "failed to acquire settlement lease")
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		released, err := r.release(context.Background(), token)
		if err != nil {
			r.logger.Sugar().Errorw("Failed to release settlement lease",
				zap.String("key", r.config.Key),
				zap.Error(err),
			)
			return
		}
		if !released {
			r.logger.Sugar().Warnw("Settlement lease expired before release", zap.String("key", r.config.Key))
		}
	}, nil
}

// release returns true when the key still held token and was deleted.
func (r *RedisLease) release(ctx context.Context, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, r.client, []string{r.config.Key}, token).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// AdvisoryKey maps a lock name onto the int64 key space of postgres advisory locks.
func AdvisoryKey(name string) int64 {
	return int64(binary.BigEndian.Uint64(crypto.Keccak256([]byte(name))[:8]))
}

// PostgresAdvisory holds a session advisory lock on a connection reserved for the run. Every
// process sharing the database contends for the same key, and postgres drops the lock if the
// holder's session dies.
type PostgresAdvisory struct {
	db     *sql.DB
	name   string
	key    int64
	logger *zap.Logger
}

func NewPostgresAdvisory(db *sql.DB, name string, l *zap.Logger) *PostgresAdvisory {
	return &PostgresAdvisory{
		db:     db,
		name:   name,
		key:    AdvisoryKey(name),
		logger: l,
	}
}

func (p *PostgresAdvisory) Acquire(ctx context.Context) (func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, pkgErrors.Wrap(err, "failed to reserve a connection for the settlement lock")
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", p.key).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, pkgErrors.Wrap(err, "failed to take settlement advisory lock")
	}
	if !locked {
		_ = conn.Close()
		return nil, ErrRunInProgress
	}

	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		defer conn.Close()

		var unlocked bool
		err := conn.QueryRowContext(context.Background(), "select pg_advisory_unlock($1)", p.key).Scan(&unlocked)
		if err != nil {
			p.logger.Sugar().Errorw("Failed to release settlement advisory lock, discarding connection",
				zap.String("name", p.name),
				zap.Error(err),
			)
			// a session still holding the lock must not go back to the pool
			_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
			return
		}
		if !unlocked {
			p.logger.Sugar().Warnw("Settlement advisory lock was not held at release", zap.String("name", p.name))
		}
	}, nil
}

// Chain acquires every locker in order and releases them in reverse.
type Chain []Locker

func (c Chain) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, locker := range c {
		release, err := locker.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
