package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/counselbridge-backend/internal/clients/redis"
	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

type sessionEntry struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// SessionRegistry hands out one lock per session so turns for the same
// session never interleave, while turns for different sessions run freely.
// Idle entries are swept after the session TTL; the sweep uses TryLock so a
// session mid-turn is never expired underneath its holder.
type SessionRegistry interface {
	Acquire(id string) (release func(), err error)
	Sweep(ctx context.Context) int
	Run(ctx context.Context)
	Len() int
}

type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
	cache   redis.SessionCache
	log     *logger.Logger
}

func NewSessionRegistry(policy config.Policy, cache redis.SessionCache, baseLog *logger.Logger) SessionRegistry {
	return &sessionRegistry{
		entries: map[string]*sessionEntry{},
		ttl:     policy.SessionTTL.Std(),
		cache:   cache,
		log:     baseLog.With("service", "session_registry"),
	}
}

func (r *sessionRegistry) Acquire(id string) (func(), error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &sessionEntry{}
		r.entries[id] = e
	}
	e.lastUsed = time.Now()
	r.mu.Unlock()

	if !e.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	return func() {
		r.mu.Lock()
		e.lastUsed = time.Now()
		r.mu.Unlock()
		e.mu.Unlock()
	}, nil
}

// Sweep drops entries idle past the TTL and clears their cached snapshots.
// Snapshot deletes run concurrently but bounded; a failed delete only means
// redis expires the key itself later.
func (r *sessionRegistry) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if !e.lastUsed.Before(cutoff) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		e.mu.Unlock()
		delete(r.entries, id)
		expired = append(expired, id)
	}
	remaining := len(r.entries)
	r.mu.Unlock()

	if len(expired) > 0 && r.cache != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, id := range expired {
			id := id
			g.Go(func() error {
				if err := r.cache.Delete(gctx, id); err != nil {
					r.log.Warn("sweep snapshot delete failed", "session_id", id, "error", err.Error())
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	observability.Current().SetSessionsActive(float64(remaining))
	if len(expired) > 0 {
		r.log.Info("swept idle sessions", "expired", len(expired), "remaining", remaining)
	}
	return len(expired)
}

func (r *sessionRegistry) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *sessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
