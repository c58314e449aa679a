package infrastructure

import (
	"context"
	"sync"
	"time"

	"betledger/service"

	"github.com/google/uuid"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// LocalLocker is an in-process StakeLocker for single-instance deployments
// and tests. Leases expire after their TTL like the Redis locker's keys.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes key for ttl. It returns service.ErrLockHeld while another
// unexpired lease holds the key. The unlock function may be called more than once.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, service.ErrLockHeld
	}

	token := uuid.New().String()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lease that expired and was taken over belongs to someone else
			if held, ok := l.leases[key]; ok && held.token == token {
				delete(l.leases, key)
			}
		})
	}, nil
}

// Held reports whether key currently has an unexpired lease
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.leases[key]
	return ok && l.now().Before(held.expiresAt)
}

var _ service.StakeLocker = (*LocalLocker)(nil)
