package storefront

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Registry keeps the most recently used sessions in memory. Evicted sessions
// are rebuilt from the state backend on their next request.
//
// A session evicted while requests still hold it is not closed. It drains
// until the last holder releases it, and a request arriving meanwhile takes it
// back instead of building a second session for the same id.
type Registry struct {
	deps     Dependencies
	sessions *lru.Cache[string, *Session]
	builds   singleflight.Group

	mu       sync.Mutex
	draining map[string]*Session
}

// lease tracks the requests holding a session. Guarded by Registry.mu.
type lease struct {
	holders int
	evicted bool
	closed  bool
}

// NewRegistry builds a registry holding at most size live sessions.
func NewRegistry(deps Dependencies, size int) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("session cache size must be positive")
	}
	r := &Registry{
		deps:     deps,
		draining: make(map[string]*Session),
	}
	cache, err := lru.NewWithEvict[string, *Session](size, r.evicted)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	r.sessions = cache
	return r, nil
}

// Acquire returns the session for id and holds it until release is called.
// A held session is never closed by eviction.
func (r *Registry) Acquire(ctx context.Context, id string) (*Session, func(), error) {
	for {
		session, err := r.Session(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		r.mu.Lock()
		l := &session.lease
		if l.closed {
			r.mu.Unlock()
			continue
		}
		l.holders++
		r.mu.Unlock()

		var once sync.Once
		return session, func() { once.Do(func() { r.release(session) }) }, nil
	}
}

// Session returns the live session for id, building and restoring it on a
// miss. Restore failures are logged; the session is still usable. The session
// is not held; request handling goes through Acquire.
func (r *Registry) Session(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session id required")
	}
	if session, ok := r.sessions.Get(id); ok {
		return session, nil
	}

	result, err, _ := r.builds.Do(id, func() (any, error) {
		if session, ok := r.sessions.Get(id); ok {
			return session, nil
		}
		if session, ok := r.reclaim(id); ok {
			r.sessions.Add(id, session)
			return session, nil
		}
		session, err := NewSession(id, r.deps)
		if err != nil {
			return nil, err
		}
		if err := session.Restore(ctx); err != nil {
			session.logg.Warn(session.logg.WithFields(ctx, map[string]any{
				"session_id": id,
				"error":      err.Error(),
			}), "session restored partially")
		}
		r.sessions.Add(id, session)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close drops every live session. Held sessions close on release.
func (r *Registry) Close() {
	r.sessions.Purge()
}

// reclaim takes a draining session back for id.
func (r *Registry) reclaim(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.draining[id]
	if !ok {
		return nil, false
	}
	delete(r.draining, id)
	session.lease.evicted = false
	return session, true
}

func (r *Registry) evicted(id string, session *Session) {
	r.mu.Lock()
	l := &session.lease
	l.evicted = true
	if l.holders > 0 {
		r.draining[id] = session
		r.mu.Unlock()
		return
	}
	l.closed = true
	r.mu.Unlock()
	session.Close()
}

func (r *Registry) release(session *Session) {
	r.mu.Lock()
	l := &session.lease
	l.holders--
	if l.holders > 0 || !l.evicted {
		r.mu.Unlock()
		return
	}
	if r.draining[session.ID] == session {
		delete(r.draining, session.ID)
	}
	l.closed = true
	r.mu.Unlock()
	session.Close()
}
