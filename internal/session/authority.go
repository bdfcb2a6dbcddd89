package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"teamcards/internal/domain"
	"teamcards/internal/platform/telemetry"
)

// Options groups the collaborators of an Authority.
type Options struct {
	Provider  IdentityProvider
	Directory DirectoryLookup

	// Cache is optional; nil disables the persisted hint.
	Cache Cache

	// Metrics is optional; nil skips metric recording.
	Metrics *telemetry.SessionMetrics
	Logger  *slog.Logger

	// LookupTimeout bounds each directory lookup. Zero means no timeout:
	// a hung lookup keeps the view pending.
	LookupTimeout time.Duration

	// Clock is injectable for deterministic testing.
	Clock func() time.Time
}

// Authority reconciles the identity provider's event stream with directory
// lookups into a single, consistently ordered authorization view.
//
// Every transition runs under mu and is published to subscribers before the
// lock is released, so all observers see the same total order. Directory
// lookups run on their own goroutines and carry the generation they were
// issued under; a result is applied only if that generation is still current.
// An identity returned by a provider call is applied only if no sign-out was
// processed while the call was in flight.
type Authority struct {
	provider      IdentityProvider
	directory     DirectoryLookup
	cache         Cache
	metrics       *telemetry.SessionMetrics
	logger        *slog.Logger
	lookupTimeout time.Duration
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	view        domain.View
	generation  uint64
	signOuts    uint64
	subs        map[uint64]*subscriber
	nextSub     uint64
	unsubscribe func()
	started     bool
	closed      bool

	current atomic.Pointer[domain.View]
	lookups sync.WaitGroup
}

// NewAuthority creates an Authority in the unauthenticated state.
// Call Start to hydrate from the cache and the provider.
func NewAuthority(opts Options) (*Authority, error) {
	if opts.Provider == nil {
		return nil, errors.New("session authority requires an identity provider")
	}
	if opts.Directory == nil {
		return nil, errors.New("session authority requires a directory lookup")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Authority{
		provider:      opts.Provider,
		directory:     opts.Directory,
		cache:         opts.Cache,
		metrics:       opts.Metrics,
		logger:        logger,
		lookupTimeout: opts.LookupTimeout,
		now:           clock,
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[uint64]*subscriber),
	}
	a.view = domain.View{State: domain.StateUnauthenticated, Version: 1}
	initial := a.view
	a.current.Store(&initial)
	return a, nil
}

// Start hydrates the authority: it publishes the persisted hint, registers
// for provider events and then asks the provider for an existing session.
func (a *Authority) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return errors.New("session authority already started")
	}
	a.started = true
	a.mu.Unlock()

	if a.cache != nil {
		a.loadHint(ctx)
		a.Subscribe(a.mirror)
	}

	unsubscribe := a.provider.OnAuthStateChange(a.handleEvent)
	a.mu.Lock()
	a.unsubscribe = unsubscribe
	epoch := a.signOuts
	a.mu.Unlock()

	id, ok, err := a.provider.CurrentSession(ctx)
	if err != nil {
		a.logger.Warn("reading existing session failed; starting signed out", "error", err)
	}
	if err == nil && ok && !id.Expired(a.now()) {
		a.signedInSince(id, epoch)
		return nil
	}
	a.confirmSignedOut()
	return nil
}

// CurrentView returns the latest view. It never blocks and performs no I/O.
func (a *Authority) CurrentView() domain.View {
	return *a.current.Load()
}

// Subscribe registers fn for every view transition, starting with the current
// view. The returned function stops delivery; views not yet delivered are dropped.
func (a *Authority) Subscribe(fn func(domain.View)) (unsubscribe func()) {
	sub := newSubscriber(fn, a.logger)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		sub.stop(false)
		return func() {}
	}
	id := a.nextSub
	a.nextSub++
	a.subs[id] = sub
	sub.push(a.view)
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			sub.stop(false)
		})
	}
}

// SignIn verifies credentials with the provider. Success moves the view to
// pending; the administrator flag is resolved asynchronously. Any provider
// error is reported as domain.ErrCredentialsRejected and leaves the view unchanged.
func (a *Authority) SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	if a.isClosed() {
		return domain.Identity{}, domain.ErrClosed
	}
	epoch := a.signOutEpoch()

	id, err := a.provider.SignInWithPassword(ctx, creds)
	if err != nil {
		a.logger.Info("sign-in rejected", "error", err)
		a.logger.Debug("rejected sign-in credentials", "email", creds.Email)
		if a.metrics != nil {
			a.metrics.RecordSignIn(ctx, "rejected")
		}
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrCredentialsRejected, err)
	}

	if a.metrics != nil {
		a.metrics.RecordSignIn(ctx, "success")
	}
	a.signedInSince(id, epoch)
	return id, nil
}

// SignOut ends the provider session and always leaves the view unauthenticated,
// even when the provider call fails.
func (a *Authority) SignOut(ctx context.Context) {
	if err := a.provider.SignOut(ctx); err != nil {
		a.logger.Warn("remote sign-out failed; signing out locally",
			"error", fmt.Errorf("%w: %w", domain.ErrSignOutFailed, err))
		if a.metrics != nil {
			a.metrics.RecordSignOut(ctx, "failed")
		}
	} else if a.metrics != nil {
		a.metrics.RecordSignOut(ctx, "success")
	}
	a.signedOut(domain.SignOutRequested)
}

// Refresh re-resolves the current identity against the directory.
// It returns domain.ErrUnauthorized when nobody is signed in.
func (a *Authority) Refresh(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrClosed
	}
	if a.view.Identity == nil {
		return domain.ErrUnauthorized
	}
	a.beginLookupLocked(*a.view.Identity)
	return nil
}

// Close stops event processing, cancels in-flight lookups and flushes
// every subscriber. Calling Close more than once is a no-op.
func (a *Authority) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	unsubscribe := a.unsubscribe
	subs := make([]*subscriber, 0, len(a.subs))
	for id, s := range a.subs {
		subs = append(subs, s)
		delete(a.subs, id)
	}
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.cancel()
	a.lookups.Wait()
	for _, s := range subs {
		s.stop(true)
		<-s.done
	}
}

func (a *Authority) signOutEpoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signOuts
}

func (a *Authority) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Authority) handleEvent(ev domain.AuthEvent) {
	switch e := ev.(type) {
	case domain.SignedIn:
		a.signedIn(e.Identity)
	case domain.SignedOut:
		a.logger.Debug("provider reported sign-out", "reason", e.Reason.String())
		a.signedOut(e.Reason)
	default:
		a.logger.Warn("ignoring unknown auth event", "type", fmt.Sprintf("%T", ev))
	}
}

func (a *Authority) signedIn(id domain.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signedInLocked(id)
}

// signedInSince applies an identity obtained from a provider call that began
// at sign-out epoch. A sign-out processed since then wins.
func (a *Authority) signedInSince(id domain.Identity, epoch uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.signOuts != epoch {
		a.logger.Info("sign-in superseded by a later sign-out", "identity_id", id.ID)
		return
	}
	a.signedInLocked(id)
}

func (a *Authority) signedInLocked(id domain.Identity) {
	if a.closed {
		return
	}
	if cur := a.view.Identity; cur != nil && cur.Same(id) {
		// The provider stream echoes sign-ins we already applied.
		a.logger.Debug("duplicate sign-in ignored", "identity_id", id.ID)
		return
	}
	a.beginLookupLocked(id)
}

// beginLookupLocked moves to Pending(id) under a fresh generation and issues
// the directory lookup. Must be called with mu held.
func (a *Authority) beginLookupLocked(id domain.Identity) {
	a.generation++
	gen := a.generation
	a.publishLocked(domain.View{
		Identity: &id,
		State:    domain.StatePending,
		Hint:     a.view.Hint,
	})

	a.lookups.Add(1)
	go a.resolve(gen, id)
}

func (a *Authority) resolve(gen uint64, id domain.Identity) {
	defer a.lookups.Done()

	ctx := a.ctx
	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.lookupTimeout)
		defer cancel()
	}

	start := a.now()
	profile, err := a.directory.FindProfileByIdentity(ctx, id)
	a.completeLookup(gen, id, profile, err, a.now().Sub(start))
}

func (a *Authority) completeLookup(gen uint64, id domain.Identity, profile *domain.Profile, err error, took time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if gen != a.generation {
		a.logger.Info("stale directory result discarded",
			"identity_id", id.ID,
			"generation", gen,
			"current_generation", a.generation,
		)
		if a.metrics != nil {
			a.metrics.RecordStaleResult(a.ctx)
		}
		return
	}

	next := domain.View{Identity: &id, State: domain.StateResolved}
	result := "found"
	switch {
	case err != nil:
		result = "failed"
		a.logger.Warn("directory lookup failed; continuing without elevated privileges",
			"identity_id", id.ID,
			"error", fmt.Errorf("%w: %w", domain.ErrLookupFailed, err),
		)
	case profile == nil:
		result = "absent"
		a.logger.Info("identity has no directory profile", "identity_id", id.ID)
	default:
		next.Profile = profile
		next.IsAdministrator = profile.IsAdministrator
	}
	if a.metrics != nil {
		a.metrics.RecordLookup(a.ctx, result, took.Seconds())
	}
	a.publishLocked(next)
}

func (a *Authority) signedOut(reason domain.SignOutReason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.signOuts++
	if a.view.State == domain.StateUnauthenticated && a.view.Hint == nil {
		return
	}
	a.generation++
	a.logger.Info("signed out", "reason", reason.String())
	a.publishLocked(domain.View{State: domain.StateUnauthenticated})
}

// confirmSignedOut drops a startup hint once the provider reports no session.
// A live identity that arrived in the meantime is left alone.
func (a *Authority) confirmSignedOut() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.view.State != domain.StateUnauthenticated || a.view.Hint == nil {
		return
	}
	a.publishLocked(domain.View{State: domain.StateUnauthenticated})
}

// publishLocked installs v as the current view and fans it out.
// Must be called with mu held.
func (a *Authority) publishLocked(v domain.View) {
	if v.State == domain.StateResolved {
		v.Hint = nil
	}
	if v.State != domain.StateResolved {
		v.IsAdministrator = false
	}
	v.Version = a.view.Version + 1
	a.view = v

	snapshot := v
	a.current.Store(&snapshot)

	identityID := ""
	if v.Identity != nil {
		identityID = v.Identity.ID
	}
	a.logger.Debug("authorization view changed",
		"state", v.State.String(),
		"version", v.Version,
		"identity_id", identityID,
		"is_administrator", v.IsAdministrator,
	)
	if a.metrics != nil {
		a.metrics.RecordTransition(a.ctx, v.State.String())
	}
	for _, s := range a.subs {
		s.push(v)
	}
}
