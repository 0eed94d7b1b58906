package lock

import (
	"context"
	"sync"
	"time"
)

// LocalBackend keeps locks in process memory. It only coordinates callers
// inside one instance.
type LocalBackend struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{entries: make(map[string]localEntry), now: time.Now}
}

func (b *LocalBackend) TryAcquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if e, ok := b.entries[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	b.entries[key] = localEntry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (b *LocalBackend) Release(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.token != token || !b.now().Before(e.expires) {
		return ErrNotHeld
	}
	delete(b.entries, key)
	return nil
}
