// Package lock provides cross-process mutual exclusion keyed by resource
// name. Locks carry a TTL so a crashed holder cannot block a resource for
// longer than the hold timeout.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/logging"
)

type Mode string

const (
	// ModeStrict fails acquisition when the backend is unreachable.
	ModeStrict Mode = "strict"
	// ModeDegraded proceeds without protection when the backend is
	// unreachable; row locks remain the only guard.
	ModeDegraded Mode = "degraded"
)

var (
	ErrReentrant   = errors.New("lock already held in this operation")
	ErrWaitTimeout = errors.New("lock wait timeout")
	ErrNotHeld     = errors.New("lock not held")
)

// Backend is a coordination store with TTL-based ownership.
type Backend interface {
	// TryAcquire makes one attempt; false means another owner holds key.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release removes key only if it is still owned by token.
	Release(ctx context.Context, key, token string) error
}

type Options struct {
	// Hold bounds how long the lock lives before it expires on its own.
	Hold time.Duration
	// Wait bounds how long Acquire blocks; <= 0 waits until ctx is done.
	Wait time.Duration
}

type Config struct {
	Mode          Mode
	Namespace     string
	RetryInterval time.Duration
	Defaults      Options
}

type Manager struct {
	backend Backend
	cfg     Config
	log     logrus.FieldLogger
}

func NewManager(backend Backend, cfg Config, logger logrus.FieldLogger) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeStrict
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Defaults.Hold <= 0 {
		cfg.Defaults.Hold = 10 * time.Second
	}
	return &Manager{backend: backend, cfg: cfg, log: logging.Component(logger, "lock")}
}

func (m *Manager) Defaults() Options { return m.cfg.Defaults }

func (m *Manager) Mode() Mode { return m.cfg.Mode }

// Acquire blocks until key is owned, opts.Wait elapses or ctx is done. A
// timeout is reported as a retryable LockTimeout error; no work has been
// done on the caller's behalf.
func (m *Manager) Acquire(ctx context.Context, key string, opts Options) (*Handle, error) {
	if isHeld(ctx, key) {
		return nil, apperr.LockReentrant(key, ErrReentrant)
	}
	if opts.Hold <= 0 {
		opts.Hold = m.cfg.Defaults.Hold
	}

	fullKey := m.cfg.Namespace + key
	token := uuid.NewString()
	logger := m.log.WithField("key", fullKey)

	var deadline <-chan time.Time
	if opts.Wait > 0 {
		timer := time.NewTimer(opts.Wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		ok, err := m.backend.TryAcquire(ctx, fullKey, token, opts.Hold)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.LockTimeout(key, ctx.Err())
			}
			return m.unavailable(ctx, key, err)
		}
		if ok {
			logger.Debug("Lock acquired")
			return &Handle{
				key:     key,
				fullKey: fullKey,
				token:   token,
				backend: m.backend,
				log:     logger,
				ctx:     markHeld(ctx, key),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.LockTimeout(key, ctx.Err())
		case <-deadline:
			logger.WithField("wait", opts.Wait).Info("Lock wait timed out")
			return nil, apperr.LockTimeout(key, ErrWaitTimeout)
		case <-time.After(m.cfg.RetryInterval):
		}
	}
}

func (m *Manager) unavailable(ctx context.Context, key string, err error) (*Handle, error) {
	if m.cfg.Mode == ModeDegraded {
		m.log.WithError(err).WithField("key", key).Warn("Lock backend unreachable, continuing without distributed lock (degraded mode)")
		return &Handle{key: key, degraded: true, ctx: markHeld(ctx, key), log: m.log}, nil
	}
	m.log.WithError(err).WithField("key", key).Error("Lock backend unreachable")
	return nil, apperr.LockUnavailable(key, err)
}

// Do runs fn while holding key. fn receives a context that marks key as
// held so a nested Acquire of the same key fails fast.
func (m *Manager) Do(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	h, err := m.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Context())
}

type Handle struct {
	key      string
	fullKey  string
	token    string
	backend  Backend
	log      logrus.FieldLogger
	ctx      context.Context
	degraded bool
	once     sync.Once
}

func (h *Handle) Key() string { return h.key }

// Degraded reports that the handle was issued without a backend lock.
func (h *Handle) Degraded() bool { return h.degraded }

// Context returns the caller's context marked with this lock's key.
func (h *Handle) Context() context.Context { return h.ctx }

// Release is idempotent. Failures are logged: an expired lock has already
// been released by the backend.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.degraded {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.backend.Release(ctx, h.fullKey, h.token); err != nil {
			h.log.WithError(err).Debug("Lock already released or expired")
			return
		}
		h.log.Debug("Lock released")
	})
}

type heldKeysCtxKey struct{}

func isHeld(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	_, ok := held[key]
	return ok
}

func markHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKeysCtxKey{}, next)
}

// AssetSaleKey names the lock guarding every sale of one asset.
func AssetSaleKey(assetID int64) string {
	return fmt.Sprintf("asset:sale:%d", assetID)
}
