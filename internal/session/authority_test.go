package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamcards/internal/domain"
	"teamcards/internal/platform/telemetry"
	"teamcards/internal/session"
	"teamcards/internal/session/adapter/cache"
	"teamcards/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	ana = domain.Identity{ID: "u-ana", Email: "ana@tecnocomp.com", SessionID: "s-1"}
	bia = domain.Identity{ID: "u-bia", Email: "bia@tecnocomp.com", SessionID: "s-2"}
)

type recorder struct {
	mu    sync.Mutex
	views []domain.View
}

func (r *recorder) record(v domain.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) snapshot() []domain.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.View(nil), r.views...)
}

func (r *recorder) lastVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return 0
	}
	return r.views[len(r.views)-1].Version
}

type harness struct {
	authority *session.Authority
	provider  *testutil.FakeProvider
	directory *testutil.FakeDirectory
	cache     *cache.Memory
	logs      *testutil.LogBuffer
}

func newHarness(t *testing.T, mutate ...func(*session.Options)) *harness {
	t.Helper()

	logger, logs := testutil.NewLogger()
	h := &harness{
		provider:  testutil.NewFakeProvider(),
		directory: testutil.NewFakeDirectory(),
		cache:     cache.NewMemory(),
		logs:      logs,
	}
	h.provider.AddUser("ana-pass", ana)
	h.provider.AddUser("bia-pass", bia)
	h.directory.SetProfile(domain.Profile{IdentityKey: ana.ID, DisplayName: "Ana", IsAdministrator: true})
	h.directory.SetProfile(domain.Profile{IdentityKey: bia.ID, DisplayName: "Bia"})

	opts := session.Options{
		Provider:  h.provider,
		Directory: h.directory,
		Cache:     h.cache,
		Logger:    logger,
	}
	for _, m := range mutate {
		m(&opts)
	}

	a, err := session.NewAuthority(opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h.authority = a
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.authority.Start(context.Background()))
}

func (h *harness) signIn(t *testing.T, email, password string) {
	t.Helper()
	_, err := h.authority.SignIn(context.Background(), domain.Credentials{Email: email, Password: password})
	require.NoError(t, err)
}

func (h *harness) waitState(t *testing.T, state domain.ResolutionState) domain.View {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.authority.CurrentView().State == state
	}, waitFor, tick, "view never reached %s", state)
	return h.authority.CurrentView()
}

func TestNewAuthorityRequiresCollaborators(t *testing.T) {
	_, err := session.NewAuthority(session.Options{Directory: testutil.NewFakeDirectory()})
	assert.Error(t, err)

	_, err = session.NewAuthority(session.Options{Provider: testutil.NewFakeProvider()})
	assert.Error(t, err)
}

func TestInitialView(t *testing.T) {
	h := newHarness(t)

	v := h.authority.CurrentView()
	assert.Equal(t, domain.StateUnauthenticated, v.State)
	assert.Nil(t, v.Identity)
	assert.False(t, v.IsAdministrator)
	assert.Equal(t, domain.AccessDenied, v.MemberAccess())
}

func TestAdministratorSignIn(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	release := h.directory.Hold(ana.ID)

	h.signIn(t, ana.Email, "ana-pass")

	pending := h.authority.CurrentView()
	assert.Equal(t, domain.StatePending, pending.State)
	require.NotNil(t, pending.Identity)
	assert.Equal(t, ana.ID, pending.Identity.ID)
	assert.False(t, pending.IsAdministrator, "pending view must not claim administrator")
	assert.Equal(t, domain.AccessPending, pending.AdminAccess())

	release()
	v := h.waitState(t, domain.StateResolved)
	assert.True(t, v.IsAdministrator)
	require.NotNil(t, v.Profile)
	assert.Equal(t, "Ana", v.Profile.DisplayName)
	assert.Equal(t, domain.AccessGranted, v.AdminAccess())
}

func TestMemberSignIn(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.signIn(t, bia.Email, "bia-pass")

	v := h.waitState(t, domain.StateResolved)
	assert.False(t, v.IsAdministrator)
	assert.Equal(t, domain.AccessGranted, v.MemberAccess())
	assert.Equal(t, domain.AccessDenied, v.AdminAccess())
}

func TestIdentityWithoutProfile(t *testing.T) {
	h := newHarness(t)
	ghost := domain.Identity{ID: "u-ghost", Email: "ghost@tecnocomp.com", SessionID: "s-9"}
	h.provider.AddUser("boo", ghost)
	h.start(t)

	h.signIn(t, ghost.Email, "boo")

	v := h.waitState(t, domain.StateResolved)
	assert.Nil(t, v.Profile)
	assert.False(t, v.IsAdministrator)
	assert.True(t, h.logs.Contains("identity has no directory profile"))
}

func TestLookupFailureResolvesWithoutPrivileges(t *testing.T) {
	h := newHarness(t)
	h.directory.SetError(ana.ID, errors.New("connection reset"))
	h.start(t)

	h.signIn(t, ana.Email, "ana-pass")

	v := h.waitState(t, domain.StateResolved)
	assert.False(t, v.IsAdministrator)
	assert.Nil(t, v.Profile)
	assert.True(t, h.logs.Contains("directory lookup failed"))
}

func TestLookupTimeout(t *testing.T) {
	h := newHarness(t, func(o *session.Options) { o.LookupTimeout = 20 * time.Millisecond })
	h.directory.Hold(ana.ID)
	h.start(t)

	h.signIn(t, ana.Email, "ana-pass")

	v := h.waitState(t, domain.StateResolved)
	assert.False(t, v.IsAdministrator)
	assert.True(t, h.logs.Contains("context deadline exceeded"))
}

func TestStaleLookupDiscarded(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	rec := &recorder{}
	h.authority.Subscribe(rec.record)
	releaseAna := h.directory.Hold(ana.ID)

	h.signIn(t, ana.Email, "ana-pass")
	h.authority.SignOut(context.Background())
	h.signIn(t, bia.Email, "bia-pass")
	h.waitState(t, domain.StateResolved)

	releaseAna()
	require.Eventually(t, func() bool {
		return h.logs.Contains("stale directory result discarded")
	}, waitFor, tick)

	v := h.authority.CurrentView()
	require.NotNil(t, v.Identity)
	assert.Equal(t, bia.ID, v.Identity.ID)
	assert.False(t, v.IsAdministrator, "administrator flag from the earlier identity must not leak")

	require.Eventually(t, func() bool { return rec.lastVersion() == v.Version }, waitFor, tick)
	for _, seen := range rec.snapshot() {
		if seen.IsAdministrator {
			t.Fatalf("observer saw administrator view %+v", seen)
		}
	}
}

func TestIdentitySwitchWithoutSignOut(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	releaseAna := h.directory.Hold(ana.ID)

	h.signIn(t, ana.Email, "ana-pass")
	h.provider.Emit(domain.SignedIn{Identity: bia})
	v := h.waitState(t, domain.StateResolved)
	assert.Equal(t, bia.ID, v.Identity.ID)

	releaseAna()
	require.Eventually(t, func() bool {
		return h.logs.Contains("stale directory result discarded")
	}, waitFor, tick)
	assert.Equal(t, bia.ID, h.authority.CurrentView().Identity.ID)
}

func TestSignInRejected(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	before := h.authority.CurrentView()

	_, err := h.authority.SignIn(context.Background(), domain.Credentials{Email: ana.Email, Password: "wrong"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialsRejected)
	assert.Equal(t, before.Version, h.authority.CurrentView().Version, "rejected sign-in must not publish")

	for _, line := range strings.Split(h.logs.String(), "\n") {
		if strings.Contains(line, `"level":"INFO"`) || strings.Contains(line, `"level":"WARN"`) {
			assert.NotContains(t, line, ana.Email, "email must stay out of default-level logs")
		}
	}
}

func TestDuplicateSignInIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	// The fake provider echoes the sign-in on its event stream.
	h.signIn(t, ana.Email, "ana-pass")
	v := h.waitState(t, domain.StateResolved)

	h.provider.Emit(domain.SignedIn{Identity: ana})

	assert.Equal(t, v.Version, h.authority.CurrentView().Version)
	assert.Equal(t, 1, h.directory.Calls(ana.ID))
}

func TestNewSessionForSameUserResolvesAgain(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)

	renewed := ana
	renewed.SessionID = "s-renewed"
	h.provider.Emit(domain.SignedIn{Identity: renewed})

	require.Eventually(t, func() bool { return h.directory.Calls(ana.ID) == 2 }, waitFor, tick)
	v := h.waitState(t, domain.StateResolved)
	assert.Equal(t, "s-renewed", v.Identity.SessionID)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)

	h.authority.SignOut(context.Background())

	v := h.authority.CurrentView()
	assert.Equal(t, domain.StateUnauthenticated, v.State)
	assert.Nil(t, v.Identity)
	assert.Nil(t, v.Profile)
	assert.False(t, v.IsAdministrator)
	assert.Equal(t, 1, h.provider.SignOutCalls())
}

func TestSignOutRemoteFailureStillSignsOutLocally(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)
	h.provider.SignOutErr = errors.New("network unreachable")

	h.authority.SignOut(context.Background())

	assert.Equal(t, domain.StateUnauthenticated, h.authority.CurrentView().State)
	assert.True(t, h.logs.Contains("remote sign-out failed"))
}

func TestSignOutWhileUnauthenticatedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	before := h.authority.CurrentView().Version

	h.authority.SignOut(context.Background())

	assert.Equal(t, before, h.authority.CurrentView().Version)
}

func TestProviderExpiryEvent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)

	h.provider.Emit(domain.SignedOut{Reason: domain.SignOutExpired})

	assert.Equal(t, domain.StateUnauthenticated, h.authority.CurrentView().State)
	assert.True(t, h.logs.Contains(`"reason":"expired"`))
}

// expiringProvider ends the session on the event stream while a sign-in or
// session read is still returning to the caller.
type expiringProvider struct {
	*testutil.FakeProvider
}

func (p expiringProvider) SignInWithPassword(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	id, err := p.FakeProvider.SignInWithPassword(ctx, creds)
	if err == nil {
		p.Emit(domain.SignedOut{Reason: domain.SignOutExpired})
	}
	return id, err
}

func (p expiringProvider) CurrentSession(ctx context.Context) (domain.Identity, bool, error) {
	id, ok, err := p.FakeProvider.CurrentSession(ctx)
	if ok {
		p.Emit(domain.SignedOut{Reason: domain.SignOutExpired})
	}
	return id, ok, err
}

func TestSignOutDuringSignInWins(t *testing.T) {
	h := newHarness(t, func(o *session.Options) {
		o.Provider = expiringProvider{FakeProvider: o.Provider.(*testutil.FakeProvider)}
	})
	h.start(t)

	_, err := h.authority.SignIn(context.Background(), domain.Credentials{Email: ana.Email, Password: "ana-pass"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	v := h.authority.CurrentView()
	assert.Equal(t, domain.StateUnauthenticated, v.State)
	assert.False(t, v.IsAdministrator)
	assert.Nil(t, v.Identity)
	assert.True(t, h.logs.Contains("sign-in superseded by a later sign-out"))
}

func TestSignOutDuringStartWins(t *testing.T) {
	h := newHarness(t, func(o *session.Options) {
		fp := o.Provider.(*testutil.FakeProvider)
		id := ana
		fp.SetSession(&id)
		o.Provider = expiringProvider{FakeProvider: fp}
	})
	h.start(t)

	time.Sleep(50 * time.Millisecond)
	v := h.authority.CurrentView()
	assert.Equal(t, domain.StateUnauthenticated, v.State)
	assert.False(t, v.IsAdministrator)
	assert.Equal(t, 0, h.directory.Calls(ana.ID))
}

func TestSubscribeReplaysCurrentView(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, ana.Email, "ana-pass")
	current := h.waitState(t, domain.StateResolved)

	rec := &recorder{}
	h.authority.Subscribe(rec.record)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, tick)
	first := rec.snapshot()[0]
	assert.Equal(t, current.Version, first.Version)
	assert.True(t, first.IsAdministrator)
}

func TestObserversShareOneOrder(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	recs := []*recorder{{}, {}, {}}
	for _, r := range recs {
		h.authority.Subscribe(r.record)
	}

	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)
	h.authority.SignOut(context.Background())
	h.signIn(t, bia.Email, "bia-pass")
	final := h.waitState(t, domain.StateResolved)

	for _, r := range recs {
		require.Eventually(t, func() bool { return r.lastVersion() == final.Version }, waitFor, tick)
	}

	want := recs[0].snapshot()
	for i, v := range want[1:] {
		assert.Equal(t, want[i].Version+1, v.Version, "versions must be contiguous")
	}
	for _, r := range recs[1:] {
		got := r.snapshot()
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Version, got[i].Version)
			assert.Equal(t, want[i].State, got[i].State)
		}
	}
}

func TestPanickingObserverIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.authority.Subscribe(func(domain.View) { panic("observer bug") })
	rec := &recorder{}
	h.authority.Subscribe(rec.record)

	h.signIn(t, bia.Email, "bia-pass")
	final := h.waitState(t, domain.StateResolved)

	require.Eventually(t, func() bool { return rec.lastVersion() == final.Version }, waitFor, tick)
	assert.True(t, h.logs.Contains("view observer panicked"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	rec := &recorder{}
	unsubscribe := h.authority.Subscribe(rec.record)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, tick)

	unsubscribe()
	unsubscribe()
	h.signIn(t, bia.Email, "bia-pass")
	h.waitState(t, domain.StateResolved)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestObserverMayReadCurrentView(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	seen := make(chan uint64, 16)
	h.authority.Subscribe(func(v domain.View) {
		seen <- h.authority.CurrentView().Version
	})
	h.signIn(t, bia.Email, "bia-pass")
	final := h.waitState(t, domain.StateResolved)

	require.Eventually(t, func() bool {
		for {
			select {
			case got := <-seen:
				if got == final.Version {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	err := h.authority.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.signIn(t, ana.Email, "ana-pass")
	v := h.waitState(t, domain.StateResolved)
	require.True(t, v.IsAdministrator)

	h.directory.SetProfile(domain.Profile{IdentityKey: ana.ID, DisplayName: "Ana"})
	require.NoError(t, h.authority.Refresh(context.Background()))

	require.Eventually(t, func() bool {
		cur := h.authority.CurrentView()
		return cur.State == domain.StateResolved && cur.Version > v.Version && !cur.IsAdministrator
	}, waitFor, tick)
}

func TestStartRestoresHint(t *testing.T) {
	h := newHarness(t)
	hint := domain.CachedView{IdentityPresent: true, IsAdministrator: true, SavedAt: time.Now()}
	require.NoError(t, h.cache.Save(context.Background(), hint))
	h.provider.SetSession(&ana)
	release := h.directory.Hold(ana.ID)

	h.start(t)

	v := h.authority.CurrentView()
	assert.Equal(t, domain.StatePending, v.State)
	require.NotNil(t, v.Hint, "hint survives until the first live resolution")
	assert.True(t, v.Hint.IsAdministrator)
	assert.False(t, v.IsAdministrator, "hint never grants authority")
	assert.Equal(t, domain.AccessPending, v.AdminAccess())

	release()
	resolved := h.waitState(t, domain.StateResolved)
	assert.Nil(t, resolved.Hint)
	assert.True(t, resolved.IsAdministrator)
}

func TestStartWithoutSessionDropsHint(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cache.Save(context.Background(), domain.CachedView{IdentityPresent: true, IsAdministrator: true}))

	h.start(t)

	v := h.authority.CurrentView()
	assert.Equal(t, domain.StateUnauthenticated, v.State)
	assert.Nil(t, v.Hint)
	require.Eventually(t, func() bool {
		_, ok, _ := h.cache.Load(context.Background())
		return !ok
	}, waitFor, tick, "cache should be cleared once the provider reports no session")
}

func TestStartSessionErrorTreatedAsSignedOut(t *testing.T) {
	h := newHarness(t)
	h.provider.SessionErr = errors.New("token store unreadable")

	h.start(t)

	assert.Equal(t, domain.StateUnauthenticated, h.authority.CurrentView().State)
	assert.True(t, h.logs.Contains("reading existing session failed"))
}

func TestStartIgnoresExpiredSession(t *testing.T) {
	h := newHarness(t)
	expired := ana
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	h.provider.SetSession(&expired)

	h.start(t)

	assert.Equal(t, domain.StateUnauthenticated, h.authority.CurrentView().State)
	assert.Equal(t, 0, h.directory.Calls(ana.ID))
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	assert.Error(t, h.authority.Start(context.Background()))
}

func TestCacheMirrorsResolvedViews(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)

	require.Eventually(t, func() bool {
		cached, ok, _ := h.cache.Load(context.Background())
		return ok && cached.IdentityPresent && cached.IsAdministrator
	}, waitFor, tick)

	h.authority.SignOut(context.Background())
	require.Eventually(t, func() bool {
		_, ok, _ := h.cache.Load(context.Background())
		return !ok
	}, waitFor, tick)
}

func TestWithoutCache(t *testing.T) {
	h := newHarness(t, func(o *session.Options) { o.Cache = nil })
	h.start(t)

	h.signIn(t, bia.Email, "bia-pass")
	h.waitState(t, domain.StateResolved)
}

func TestMetricsRecorded(t *testing.T) {
	metrics, err := telemetry.NewSessionMetrics()
	require.NoError(t, err)
	h := newHarness(t, func(o *session.Options) { o.Metrics = metrics })
	h.start(t)

	h.signIn(t, ana.Email, "ana-pass")
	h.waitState(t, domain.StateResolved)
	_, err = h.authority.SignIn(context.Background(), domain.Credentials{Email: ana.Email, Password: "nope"})
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.directory.Hold(ana.ID)
	rec := &recorder{}
	h.authority.Subscribe(rec.record)

	h.signIn(t, ana.Email, "ana-pass")
	h.authority.Close()

	pendingVersion := h.authority.CurrentView().Version
	assert.Equal(t, pendingVersion, rec.lastVersion(), "queued views are flushed on close")
	assert.Equal(t, 0, h.provider.Listeners(), "provider registration removed")

	_, err := h.authority.SignIn(context.Background(), domain.Credentials{Email: bia.Email, Password: "bia-pass"})
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, h.authority.Refresh(context.Background()), domain.ErrClosed)

	h.provider.Emit(domain.SignedIn{Identity: bia})
	assert.Equal(t, pendingVersion, h.authority.CurrentView().Version)

	noop := h.authority.Subscribe(func(domain.View) { t.Error("closed authority must not deliver") })
	noop()
	h.authority.Close()
}
