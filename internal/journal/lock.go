package journal

import (
	"context"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"
)

// Locker serializes journal writes per journable. The lock must be held for
// the whole call and released on every exit path; without it two concurrent
// callers could read the same predecessor and double-assign a version or
// both qualify for aggregation.
type Locker interface {
	// Lock blocks until the (type, id) lock is held or ctx is done.
	// The returned release func is safe to call more than once.
	Lock(ctx context.Context, journableType string, journableID uint64) (release func(), err error)
}

type lockKey struct {
	typ string
	id  uint64
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

// KeyLocker is an in-process Locker holding one slot per (type, id).
// Suitable for single-process deployments and tests; different keys
// proceed fully in parallel.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[lockKey]*lockEntry
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: map[lockKey]*lockEntry{}}
}

func (l *KeyLocker) Lock(ctx context.Context, journableType string, journableID uint64) (func(), error) {
	key := lockKey{typ: journableType, id: journableID}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.slot
			l.unref(key, e)
		})
	}
	return release, nil
}

func (l *KeyLocker) unref(key lockKey, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// AdvisoryLocker serializes journal writes across processes with Postgres
// session advisory locks. Each acquisition pins one pooled connection for
// the lifetime of the lock, since advisory locks are session scoped.
type AdvisoryLocker struct {
	DB *gorm.DB
}

func (l *AdvisoryLocker) Lock(ctx context.Context, journableType string, journableID uint64) (func(), error) {
	sqlDB, err := l.DB.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	key := advisoryKey(journableType, journableID)
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, key)
			_ = conn.Close()
		})
	}
	return release, nil
}

func advisoryKey(typ string, id uint64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typ))
	_, _ = h.Write([]byte{':'})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}
