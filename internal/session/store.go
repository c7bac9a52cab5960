// Package session holds the portal's view of who is logged in.  A Store is
// the state of one browser session: the user record, the REST API token and
// the transient loading flag.  Stores persist the user and token through a
// Persister so that a restart, or an idle eviction, can resume the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/apiclient"
	"github.com/iliyamo/rentdesk-portal/internal/model"
	"github.com/iliyamo/rentdesk-portal/internal/repository"
	"github.com/iliyamo/rentdesk-portal/internal/utils"
)

var (
	// ErrEmptyToken is returned by Login when no token is supplied.
	ErrEmptyToken = errors.New("session: empty token")

	// ErrUnknownRole is returned by RefreshUser when the API answers with a
	// userType the portal cannot route.  The session has been closed.
	ErrUnknownRole = errors.New("session: unknown role")
)

// Persister stores encoded records.  Load returns repository.ErrNotFound
// when the key holds nothing.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// UserFetcher re-fetches the user behind a token.  An error wrapping
// apiclient.ErrUnauthorized means the token itself was rejected.
type UserFetcher interface {
	CurrentUser(ctx context.Context, token string) (model.User, error)
}

// Options wires a Store.  Persister and Fetcher are required.
type Options struct {
	ID        string
	Persister Persister
	Fetcher   UserFetcher
	Events    EventSink
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Store is safe for concurrent use.  Every exported mutation is atomic with
// respect to the others; RefreshUser drops the lock across its network call.
type Store struct {
	id      string
	key     string
	persist Persister
	fetch   UserFetcher
	events  EventSink
	log     zerolog.Logger
	now     func() time.Time

	mu            sync.Mutex
	user          *model.User
	token         string
	authenticated bool
	loading       int           // in-flight refreshes of the current generation
	idle          chan struct{} // closed while loading == 0
	generation    uint64        // bumped by Login and Logout

	hydrateOnce sync.Once
	hydrated    chan struct{}
}

// NewStore returns an empty, not yet hydrated store.
func NewStore(opts Options) *Store {
	if opts.Persister == nil || opts.Fetcher == nil {
		panic("session: NewStore needs a Persister and a Fetcher")
	}
	if opts.Events == nil {
		opts.Events = discardSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	idle := make(chan struct{})
	close(idle)
	return &Store{
		id:       opts.ID,
		key:      Key(opts.ID),
		persist:  opts.Persister,
		fetch:    opts.Fetcher,
		events:   opts.Events,
		log:      opts.Logger.With().Str("session", shortID(opts.ID)).Logger(),
		now:      opts.Now,
		idle:     idle,
		hydrated: make(chan struct{}),
	}
}

// ID returns the session id the store was opened with.
func (s *Store) ID() string { return s.id }

// Hydrate restores persisted state.  Only the first call does any work; the
// hydration channel is closed when it returns, whether or not the load
// succeeded.  A failed load leaves the session empty.  State committed by a
// Login or Logout that raced ahead of hydration is never overwritten.
func (s *Store) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		defer close(s.hydrated)

		restored, err := s.load(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("hydrate: starting with an empty session")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != 0 {
			return
		}
		s.user, s.token = restored.User, restored.Token
		s.derive()
		if s.authenticated {
			s.log.Debug().Str("user_id", s.user.ID).Msg("hydrate: session restored")
		}
	})
}

func (s *Store) load(ctx context.Context) (State, error) {
	b, err := s.persist.Load(ctx, s.key)
	if errors.Is(err, repository.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	st, err := DecodeRecord(b)
	if err != nil {
		_ = s.persist.Delete(ctx, s.key)
		return State{}, err
	}
	if st.User != nil && !st.User.UserType.Valid() {
		s.log.Warn().Str("role", string(st.User.UserType)).Msg("hydrate: persisted role unknown, clearing session")
		if err := s.persist.Delete(ctx, s.key); err != nil {
			s.log.Warn().Err(err).Msg("hydrate: delete record with unknown role")
		}
		return State{}, nil
	}
	if st.Token != "" && utils.TokenExpired(st.Token, s.now()) {
		s.log.Info().Msg("hydrate: persisted token expired, clearing session")
		if err := s.persist.Delete(ctx, s.key); err != nil {
			s.log.Warn().Err(err).Msg("hydrate: delete expired record")
		}
		return State{}, nil
	}
	return st, nil
}

// Hydrated reports whether Hydrate has completed.
func (s *Store) Hydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// HydrationDone is closed once Hydrate has completed.
func (s *Store) HydrationDone() <-chan struct{} { return s.hydrated }

// WaitSettled blocks until the store is hydrated and no refresh is in flight,
// or ctx is done.
func (s *Store) WaitSettled(ctx context.Context) error {
	select {
	case <-s.hydrated:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login replaces the whole session with user and token.  The in-memory
// transition is committed even when persisting it fails; the persistence
// error is returned.
func (s *Store) Login(ctx context.Context, user model.User, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	s.generation++
	s.user, s.token = &user, token
	s.resetLoading()
	s.derive()
	err := s.persistLocked(ctx)
	ev := s.eventLocked(EventLogin)
	s.mu.Unlock()

	s.emit(ctx, ev)
	return err
}

// Logout clears the session and deletes the persisted record.  Calling it on
// an empty session is harmless.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	ev, was := s.logoutLocked(EventLogout)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if was {
		s.emit(ctx, ev)
	}
	return err
}

// logoutLocked clears state and returns the event describing the session
// that was just closed.  was is false when nobody was logged in.
func (s *Store) logoutLocked(t EventType) (ev Event, was bool) {
	ev, was = s.eventLocked(t), s.authenticated
	s.generation++
	s.user, s.token = nil, ""
	s.resetLoading()
	s.derive()
	return ev, was
}

// UpdateUser merges patch into the current user.  Without a user it does
// nothing.  The token and the authenticated flag are not touched.
func (s *Store) UpdateUser(ctx context.Context, patch model.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	merged := patch.Apply(*s.user)
	s.user = &merged
	s.derive()
	return s.persistLocked(ctx)
}

// RefreshUser re-fetches the current user.  It does nothing without an
// authenticated session.  A rejected credential, or a user whose role is not
// one of model.Roles, logs the session out and the error is returned; any
// other error leaves the session as it was.  A
// response that arrives after the session was logged out or replaced is
// dropped.
func (s *Store) RefreshUser(ctx context.Context) error {
	s.mu.Lock()
	if s.token == "" || !s.authenticated {
		s.mu.Unlock()
		return nil
	}
	token, gen := s.token, s.generation
	s.acquireLoading()
	s.mu.Unlock()
	defer s.releaseLoading(gen)

	user, fetchErr := s.fetch.CurrentUser(ctx, token)

	s.mu.Lock()
	if s.generation != gen || s.token != token || !s.authenticated {
		s.mu.Unlock()
		s.log.Debug().Err(fetchErr).Msg("refresh: session changed during fetch, result dropped")
		return nil
	}
	if fetchErr == nil && !user.UserType.Valid() {
		fetchErr = fmt.Errorf("%w %q", ErrUnknownRole, user.UserType)
	}
	if fetchErr != nil {
		if !errors.Is(fetchErr, apiclient.ErrUnauthorized) && !errors.Is(fetchErr, ErrUnknownRole) {
			s.mu.Unlock()
			s.log.Warn().Err(fetchErr).Msg("refresh: keeping session")
			return fetchErr
		}
		ev, _ := s.logoutLocked(EventForcedLogout)
		if err := s.persistLocked(ctx); err != nil {
			s.log.Warn().Err(err).Msg("refresh: delete rejected session")
		}
		s.mu.Unlock()
		s.log.Info().Err(fetchErr).Msg("refresh: session rejected, closed")
		s.emit(ctx, ev)
		return fetchErr
	}
	s.user = &user
	s.derive()
	err := s.persistLocked(ctx)
	ev := s.eventLocked(EventRefreshed)
	s.mu.Unlock()

	s.emit(ctx, ev)
	return err
}

func (s *Store) acquireLoading() {
	if s.loading == 0 {
		s.idle = make(chan struct{})
	}
	s.loading++
}

// releaseLoading undoes acquireLoading unless a Login or Logout already reset
// the counter for a newer generation.
func (s *Store) releaseLoading(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.loading == 0 {
		return
	}
	s.loading--
	if s.loading == 0 {
		close(s.idle)
	}
}

func (s *Store) resetLoading() {
	if s.loading > 0 {
		s.loading = 0
		close(s.idle)
	}
}

// derive keeps the authenticated flag equal to its definition.  Every
// mutation calls it before releasing the lock.
func (s *Store) derive() {
	s.authenticated = s.user != nil && s.token != ""
}

func (s *Store) persistLocked(ctx context.Context) error {
	if !s.authenticated {
		return s.persist.Delete(ctx, s.key)
	}
	payload, err := EncodeRecord(State{User: s.user, Token: s.token})
	if err != nil {
		return err
	}
	if err := s.persist.Save(ctx, s.key, payload); err != nil {
		s.log.Error().Err(err).Msg("persist session")
		return err
	}
	return nil
}

func (s *Store) eventLocked(t EventType) Event {
	ev := Event{Type: t, SessionID: s.id, At: s.now().UTC()}
	if s.user != nil {
		ev.UserID, ev.Role = s.user.ID, s.user.UserType
	}
	return ev
}

func (s *Store) emit(ctx context.Context, ev Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish session event")
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Token:         s.token,
		Authenticated: s.authenticated,
		Loading:       s.loading > 0,
		Hydrated:      s.Hydrated(),
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// User returns a copy of the current user, or nil.
func (s *Store) User() *model.User { return s.Snapshot().User }

func (s *Store) Token() string             { return s.Snapshot().Token }
func (s *Store) IsAuthenticated() bool     { return s.Snapshot().Authenticated }
func (s *Store) IsLoading() bool           { return s.Snapshot().Loading }
func (s *Store) Role() model.Role          { return s.Snapshot().Role() }
func (s *Store) FullName() string          { return s.Snapshot().FullName() }
func (s *Store) IsSuperAdmin() bool        { return s.Snapshot().IsSuperAdmin() }
func (s *Store) IsAdmin() bool             { return s.Snapshot().IsAdmin() }
func (s *Store) IsTenant() bool            { return s.Snapshot().IsTenant() }
func (s *Store) HasRole(r model.Role) bool { return s.Snapshot().HasRole(r) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
