package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// ManagerOptions configures a Manager.  IdleTTL defaults to 30 minutes and
// HydrateTimeout to 5 seconds.
type ManagerOptions struct {
	Persister        Persister
	Fetcher          UserFetcher
	Events           EventSink
	Logger           zerolog.Logger
	IdleTTL          time.Duration
	HydrateTimeout   time.Duration
	RefreshOnHydrate bool
}

// Manager owns the live stores, one per session id.  Stores that see no
// traffic for IdleTTL are dropped from memory; the next Open rehydrates them
// from the persister.
type Manager struct {
	opts  ManagerOptions
	log   zerolog.Logger
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *Store]
}

// NewManager starts the cache janitor; call Close to stop it.
func NewManager(opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = 5 * time.Second
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Store](opts.IdleTTL),
	)
	go cache.Start()

	return &Manager{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "session-manager").Logger(),
		cache: cache,
	}
}

// Open returns the store for id, creating it and starting its hydration in
// the background when it is not in memory.  Every Open extends the store's
// idle deadline.
func (m *Manager) Open(id string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.cache.Get(id); item != nil {
		return item.Value()
	}
	st := NewStore(Options{
		ID:        id,
		Persister: m.opts.Persister,
		Fetcher:   m.opts.Fetcher,
		Events:    m.opts.Events,
		Logger:    m.opts.Logger,
	})
	m.cache.Set(id, st, ttlcache.DefaultTTL)
	go m.hydrate(st)
	return st
}

// Rotate moves the browser to a fresh session id before a login.  The store
// under the old id is logged out, its record deleted and it is dropped from
// memory; a client still presenting the old id gets an empty session.  The
// returned store is hydrated, empty and cached under newID.
func (m *Manager) Rotate(ctx context.Context, old *Store, newID string) (*Store, error) {
	if old != nil && old.ID() == newID {
		return nil, fmt.Errorf("session: rotate to the same id")
	}
	st := NewStore(Options{
		ID:        newID,
		Persister: m.opts.Persister,
		Fetcher:   m.opts.Fetcher,
		Events:    m.opts.Events,
		Logger:    m.opts.Logger,
	})
	st.Hydrate(ctx)

	// Close the old session before it leaves the cache so that an Open racing
	// the rotation cannot rehydrate the old record.
	var err error
	if old != nil {
		if lerr := old.Logout(ctx); lerr != nil {
			err = fmt.Errorf("session: close rotated session: %w", lerr)
		}
	}

	m.mu.Lock()
	m.cache.Set(newID, st, ttlcache.DefaultTTL)
	if old != nil {
		m.cache.Delete(old.ID())
	}
	m.mu.Unlock()
	return st, err
}

func (m *Manager) hydrate(st *Store) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HydrateTimeout)
	defer cancel()
	st.Hydrate(ctx)

	if !m.opts.RefreshOnHydrate || !st.IsAuthenticated() {
		return
	}
	if err := st.RefreshUser(ctx); err != nil {
		m.log.Debug().Err(err).Str("session", shortID(st.ID())).Msg("refresh after hydrate")
	}
}

// Forget drops a store from memory without touching its persisted record.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(id)
}

// Len reports how many stores are in memory.
func (m *Manager) Len() int { return m.cache.Len() }

// Close stops the janitor.  Stores already handed out keep working.
func (m *Manager) Close() { m.cache.Stop() }
