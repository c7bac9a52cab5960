package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rentdesk-portal/internal/apiclient"
	"github.com/iliyamo/rentdesk-portal/internal/model"
	"github.com/iliyamo/rentdesk-portal/internal/repository"
)

// fakeFetcher answers CurrentUser from fn.  When gate is set, each call
// signals started and then blocks until gate is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	fn      func(token string) (model.User, error)
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeFetcher) CurrentUser(ctx context.Context, token string) (model.User, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		f.started <- struct{}{}
		<-f.gate
	}
	return f.fn(token)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

var adminUser = model.User{
	ID:          "u-1",
	FirstName:   "Grace",
	LastName:    "Hopper",
	Email:       "grace@example.com",
	PhoneNumber: "555-0100",
	UserType:    model.RoleAdmin,
}

func newTestStore(t *testing.T, f *fakeFetcher) (*Store, *repository.MemoryBlobStore, *recordingSink) {
	t.Helper()
	blobs := repository.NewMemoryBlobStore()
	sink := &recordingSink{}
	if f == nil {
		f = &fakeFetcher{fn: func(string) (model.User, error) { return adminUser, nil }}
	}
	st := NewStore(Options{
		ID:        "sid-test-1",
		Persister: blobs,
		Fetcher:   f,
		Events:    sink,
		Logger:    zerolog.Nop(),
	})
	st.Hydrate(context.Background())
	return st, blobs, sink
}

func TestEmptySessionIsNeutral(t *testing.T) {
	st, _, _ := newTestStore(t, nil)

	assert.False(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading())
	assert.Nil(t, st.User())
	assert.Equal(t, model.Role(""), st.Role())
	assert.Equal(t, "", st.FullName())
	assert.False(t, st.IsSuperAdmin())
	assert.False(t, st.IsAdmin())
	assert.False(t, st.IsTenant())
	assert.False(t, st.HasRole(""))
}

func TestLoginSetsEverythingAndPersists(t *testing.T) {
	st, blobs, sink := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	assert.True(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading())
	assert.Equal(t, "tok-1", st.Token())
	assert.Equal(t, model.RoleAdmin, st.Role())
	assert.Equal(t, "Grace Hopper", st.FullName())
	assert.True(t, st.IsAdmin())
	assert.True(t, st.HasRole(model.RoleAdmin))
	assert.False(t, st.HasRole(model.RoleTenant))

	raw, err := blobs.Load(ctx, Key("sid-test-1"))
	require.NoError(t, err)
	restored, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.True(t, restored.IsAuthenticated)
	assert.Equal(t, "tok-1", restored.Token)
	assert.Equal(t, []EventType{EventLogin}, sink.types())
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	st, _, _ := newTestStore(t, nil)

	err := st.Login(context.Background(), adminUser, "")
	assert.ErrorIs(t, err, ErrEmptyToken)
	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User())
}

func TestLogoutClearsAndIsIdempotent(t *testing.T) {
	st, blobs, sink := newTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	require.NoError(t, st.Logout(ctx))
	require.NoError(t, st.Logout(ctx))

	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User())
	assert.Empty(t, st.Token())
	assert.False(t, st.IsAdmin())
	assert.Equal(t, model.Role(""), st.Role())
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, []EventType{EventLogin, EventLogout}, sink.types())
}

func TestUpdateUserMergesFields(t *testing.T) {
	st, blobs, _ := newTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	phone := "555-0199"
	require.NoError(t, st.UpdateUser(ctx, model.UserPatch{PhoneNumber: &phone}))

	u := st.User()
	require.NotNil(t, u)
	assert.Equal(t, "555-0199", u.PhoneNumber)
	assert.Equal(t, "Grace", u.FirstName)
	assert.Equal(t, "tok-1", st.Token())
	assert.True(t, st.IsAuthenticated())

	raw, err := blobs.Load(ctx, Key("sid-test-1"))
	require.NoError(t, err)
	restored, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "555-0199", restored.User.PhoneNumber)
}

func TestUpdateUserWithoutUserIsNoop(t *testing.T) {
	st, blobs, _ := newTestStore(t, nil)

	name := "Nobody"
	require.NoError(t, st.UpdateUser(context.Background(), model.UserPatch{FirstName: &name}))

	assert.Nil(t, st.User())
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, 0, blobs.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	st, _, _ := newTestStore(t, nil)
	require.NoError(t, st.Login(context.Background(), adminUser, "tok-1"))

	snap := st.Snapshot()
	snap.User.FirstName = "Mutated"

	assert.Equal(t, "Grace", st.User().FirstName)
}

func TestRefreshUserReplacesUser(t *testing.T) {
	updated := adminUser
	updated.LastName = "Murray Hopper"
	f := &fakeFetcher{fn: func(token string) (model.User, error) {
		assert.Equal(t, "tok-1", token)
		return updated, nil
	}}
	st, _, sink := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	require.NoError(t, st.RefreshUser(ctx))

	assert.Equal(t, "Grace Murray Hopper", st.FullName())
	assert.False(t, st.IsLoading())
	assert.Equal(t, []EventType{EventLogin, EventRefreshed}, sink.types())
}

func TestRefreshUserWithoutSessionIsNoop(t *testing.T) {
	f := &fakeFetcher{fn: func(string) (model.User, error) { return adminUser, nil }}
	st, _, _ := newTestStore(t, f)

	require.NoError(t, st.RefreshUser(context.Background()))
	assert.Equal(t, 0, f.calls)
	assert.False(t, st.IsAuthenticated())
}

func TestRefreshUserRejectedCredentialLogsOut(t *testing.T) {
	f := &fakeFetcher{fn: func(string) (model.User, error) {
		return model.User{}, apiclient.ErrUnauthorized
	}}
	st, blobs, sink := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	err := st.RefreshUser(ctx)

	assert.ErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User())
	assert.False(t, st.IsLoading())
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, []EventType{EventLogin, EventForcedLogout}, sink.types())
}

func TestRefreshUserUnknownRoleLogsOut(t *testing.T) {
	f := &fakeFetcher{fn: func(string) (model.User, error) {
		u := adminUser
		u.UserType = "landlord"
		return u, nil
	}}
	st, blobs, sink := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	err := st.RefreshUser(ctx)

	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.False(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading())
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, []EventType{EventLogin, EventForcedLogout}, sink.types())
}

func TestRefreshUserTransientErrorKeepsSession(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeFetcher{fn: func(string) (model.User, error) { return model.User{}, boom }}
	st, _, _ := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	err := st.RefreshUser(ctx)

	assert.ErrorIs(t, err, boom)
	assert.True(t, st.IsAuthenticated())
	assert.Equal(t, "Grace", st.User().FirstName)
	assert.False(t, st.IsLoading())
}

func TestRefreshUserLoadingFlagDuringFetch(t *testing.T) {
	f := &fakeFetcher{
		fn:      func(string) (model.User, error) { return adminUser, nil },
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	st, _, _ := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	done := make(chan error, 1)
	go func() { done <- st.RefreshUser(ctx) }()
	<-f.started
	assert.True(t, st.IsLoading())

	close(f.gate)
	require.NoError(t, <-done)
	assert.False(t, st.IsLoading())
}

func TestLateUnauthorizedAfterLogoutStaysLoggedOut(t *testing.T) {
	f := &fakeFetcher{
		fn:      func(string) (model.User, error) { return model.User{}, apiclient.ErrUnauthorized },
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	st, blobs, sink := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	done := make(chan error, 1)
	go func() { done <- st.RefreshUser(ctx) }()
	<-f.started
	require.NoError(t, st.Logout(ctx))
	close(f.gate)

	require.NoError(t, <-done)
	assert.False(t, st.IsAuthenticated())
	assert.Nil(t, st.User())
	assert.False(t, st.IsLoading())
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, []EventType{EventLogin, EventLogout}, sink.types())
}

func TestLateSuccessAfterLogoutDoesNotResurrect(t *testing.T) {
	f := &fakeFetcher{
		fn:      func(string) (model.User, error) { return adminUser, nil },
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	st, blobs, _ := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	done := make(chan error, 1)
	go func() { done <- st.RefreshUser(ctx) }()
	<-f.started
	require.NoError(t, st.Logout(ctx))
	close(f.gate)

	require.NoError(t, <-done)
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, 0, blobs.Len())
}

func TestLateRefreshAfterReloginIsDropped(t *testing.T) {
	tenant := model.User{ID: "u-2", FirstName: "Tess", UserType: model.RoleTenant}
	f := &fakeFetcher{
		fn:      func(string) (model.User, error) { return adminUser, nil },
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	st, _, _ := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	done := make(chan error, 1)
	go func() { done <- st.RefreshUser(ctx) }()
	<-f.started
	require.NoError(t, st.Login(ctx, tenant, "tok-2"))
	close(f.gate)

	require.NoError(t, <-done)
	assert.True(t, st.IsTenant())
	assert.Equal(t, "tok-2", st.Token())
	assert.False(t, st.IsLoading())
}

func TestOverlappingRefreshesClearLoadingOnce(t *testing.T) {
	f := &fakeFetcher{
		fn:      func(string) (model.User, error) { return adminUser, nil },
		started: make(chan struct{}, 2),
		gate:    make(chan struct{}),
	}
	st, _, _ := newTestStore(t, f)
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, adminUser, "tok-1"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.RefreshUser(ctx))
		}()
	}
	<-f.started
	<-f.started
	assert.True(t, st.IsLoading())

	close(f.gate)
	wg.Wait()
	assert.False(t, st.IsLoading())
	assert.NoError(t, st.WaitSettled(ctx))
}

func TestHydrateRestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	blobs := repository.NewMemoryBlobStore()
	payload, err := EncodeRecord(State{User: &adminUser, Token: "tok-1"})
	require.NoError(t, err)
	require.NoError(t, blobs.Save(ctx, Key("sid-a"), payload))

	st := NewStore(Options{ID: "sid-a", Persister: blobs, Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	assert.False(t, st.Hydrated())

	st.Hydrate(ctx)

	assert.True(t, st.Hydrated())
	assert.True(t, st.IsAuthenticated())
	assert.False(t, st.IsLoading())
	assert.True(t, st.IsAdmin())
	select {
	case <-st.HydrationDone():
	default:
		t.Fatal("hydration channel not closed")
	}
}

func TestHydrateDropsExpiredToken(t *testing.T) {
	ctx := context.Background()
	blobs := repository.NewMemoryBlobStore()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	payload, err := EncodeRecord(State{User: &adminUser, Token: expired})
	require.NoError(t, err)
	require.NoError(t, blobs.Save(ctx, Key("sid-b"), payload))

	st := NewStore(Options{ID: "sid-b", Persister: blobs, Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	st.Hydrate(ctx)

	assert.True(t, st.Hydrated())
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, 0, blobs.Len())
}

func TestHydrateCorruptRecordStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := repository.NewMemoryBlobStore()
	require.NoError(t, blobs.Save(ctx, Key("sid-c"), []byte("{not json")))

	st := NewStore(Options{ID: "sid-c", Persister: blobs, Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	st.Hydrate(ctx)

	assert.True(t, st.Hydrated())
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, 0, blobs.Len())
}

func TestHydrateUnknownRoleStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := repository.NewMemoryBlobStore()
	landlord := adminUser
	landlord.UserType = "landlord"
	payload, err := EncodeRecord(State{User: &landlord, Token: "tok-1"})
	require.NoError(t, err)
	require.NoError(t, blobs.Save(ctx, Key("sid-d"), payload))

	st := NewStore(Options{ID: "sid-d", Persister: blobs, Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	st.Hydrate(ctx)

	assert.True(t, st.Hydrated())
	assert.False(t, st.IsAuthenticated())
	assert.Equal(t, 0, blobs.Len())
}

func TestHydrateDoesNotOverwriteEarlierLogin(t *testing.T) {
	ctx := context.Background()
	blobs := repository.NewMemoryBlobStore()
	stale, err := EncodeRecord(State{User: &adminUser, Token: "old"})
	require.NoError(t, err)
	require.NoError(t, blobs.Save(ctx, Key("sid-d"), stale))

	st := NewStore(Options{ID: "sid-d", Persister: blobs, Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	tenant := model.User{ID: "u-2", UserType: model.RoleTenant}
	require.NoError(t, st.Login(ctx, tenant, "new"))
	st.Hydrate(ctx)

	assert.Equal(t, "new", st.Token())
	assert.True(t, st.IsTenant())
}

func TestWaitSettledHonoursContext(t *testing.T) {
	st := NewStore(Options{ID: "sid-e", Persister: repository.NewMemoryBlobStore(), Fetcher: &fakeFetcher{}, Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, st.WaitSettled(ctx), context.DeadlineExceeded)
}
