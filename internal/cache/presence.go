// Package cache mirrors live presence into redis so other processes can see
// who is online without talking to this one.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "presence:user:"

// Key returns the redis key that marks userID as online.
func Key(userID int) string {
	return keyPrefix + strconv.Itoa(userID)
}

// store is the slice of the redis client the mirror needs.
type store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

type redisStore struct {
	client *redis.Client
}

func (s redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s redisStore) Close() error {
	return s.client.Close()
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Workers  int
	Queue    int
	Timeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 90 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Queue <= 0 {
		o.Queue = 1024
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// PresenceMirror writes online/offline transitions to redis from a bounded
// worker pool. Each account's updates always land on the same worker, so a
// quick connect/disconnect can never leave the key set after the Del.
// A nil store makes every call a no-op.
type PresenceMirror struct {
	store   store
	ttl     time.Duration
	timeout time.Duration
	shards  []chan func()
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPresenceMirror connects to redis. An empty address yields a mirror that
// does nothing, so local runs need no redis.
func NewPresenceMirror(ctx context.Context, opts Options) *PresenceMirror {
	opts = opts.withDefaults()
	if opts.Addr == "" {
		zap.L().Info("presence mirror disabled", zap.String("reason", "empty REDIS_ADDR"))
		return newMirror(nil, opts)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.Workers * 2,
		MinIdleConns: opts.Workers,
	})
	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// keep the client: go-redis reconnects lazily once the server is back
		zap.L().Warn("redis ping failed", zap.String("addr", opts.Addr), zap.Error(err))
	}
	return newMirror(redisStore{client: client}, opts)
}

func newMirror(s store, opts Options) *PresenceMirror {
	m := &PresenceMirror{
		store:   s,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
	}
	if s == nil {
		return m
	}
	perShard := max(opts.Queue/opts.Workers, 1)
	m.shards = make([]chan func(), opts.Workers)
	for i := range m.shards {
		m.shards[i] = make(chan func(), perShard)
		m.wg.Add(1)
		go m.worker(m.shards[i])
	}
	zap.L().Info("presence mirror workers started", zap.Int("workers", opts.Workers), zap.Int("buffer", opts.Queue))
	return m
}

func (m *PresenceMirror) worker(tasks <-chan func()) {
	defer m.wg.Done()
	for task := range tasks {
		m.runTask(task)
	}
}

func (m *PresenceMirror) runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("presence task panic", zap.Any("recover", rec))
		}
	}()
	task()
}

// submit queues task on userID's worker. It never blocks the caller; a full
// queue drops the task.
func (m *PresenceMirror) submit(userID int, task func()) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil || m.closed {
		return false
	}
	shard := userID % len(m.shards)
	if shard < 0 {
		shard = -shard
	}
	select {
	case m.shards[shard] <- task:
		return true
	default:
		zap.L().Warn("presence queue full, dropping update")
		return false
	}
}

// Online marks userID online with the configured TTL.
func (m *PresenceMirror) Online(userID int) {
	m.submit(userID, func() { m.mark(userID) })
}

// Offline removes the online marker.
func (m *PresenceMirror) Offline(userID int) {
	m.submit(userID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.store.Del(ctx, Key(userID)); err != nil {
			zap.L().Warn("presence del failed", zap.Int("user_id", userID), zap.Error(err))
		}
	})
}

func (m *PresenceMirror) mark(userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	at := strconv.FormatInt(time.Now().Unix(), 10)
	if err := m.store.Set(ctx, Key(userID), at, m.ttl); err != nil {
		zap.L().Warn("presence set failed", zap.Int("user_id", userID), zap.Error(err))
	}
}

// Keepalive re-marks every id returned by online at a third of the TTL until
// ctx is done, so live accounts never expire while crashed processes' keys do.
func (m *PresenceMirror) Keepalive(ctx context.Context, online func() []int) {
	if m.store == nil {
		return
	}
	ticker := time.NewTicker(m.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range online() {
				id := id
				m.submit(id, func() { m.mark(id) })
			}
		}
	}
}

// Close drains queued updates and closes the redis client.
func (m *PresenceMirror) Close() error {
	m.mu.Lock()
	if m.store == nil || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, tasks := range m.shards {
		close(tasks)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return m.store.Close()
}
