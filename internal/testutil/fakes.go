package testutil

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"teamcards/internal/domain"
)

var errInvalidLogin = errors.New("invalid login credentials")

type fakeUser struct {
	password string
	identity domain.Identity
}

// FakeProvider is an in-memory identity provider. Like a hosted auth
// service it echoes its own sign-ins and sign-outs on the event stream.
type FakeProvider struct {
	mu        sync.Mutex
	users     map[string]fakeUser
	listeners map[int]func(domain.AuthEvent)
	nextID    int
	session   *domain.Identity
	signOuts  int

	SignInErr  error
	SignOutErr error
	SessionErr error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		users:     make(map[string]fakeUser),
		listeners: make(map[int]func(domain.AuthEvent)),
	}
}

// AddUser registers credentials that SignInWithPassword accepts.
func (p *FakeProvider) AddUser(password string, id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[strings.ToLower(id.Email)] = fakeUser{password: password, identity: id}
}

// SetSession sets the session CurrentSession reports. nil means none.
func (p *FakeProvider) SetSession(id *domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = id
}

func (p *FakeProvider) OnAuthStateChange(fn func(domain.AuthEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *FakeProvider) SignInWithPassword(_ context.Context, creds domain.Credentials) (domain.Identity, error) {
	p.mu.Lock()
	if p.SignInErr != nil {
		err := p.SignInErr
		p.mu.Unlock()
		return domain.Identity{}, err
	}
	u, ok := p.users[strings.ToLower(creds.Email)]
	if !ok || u.password != creds.Password {
		p.mu.Unlock()
		return domain.Identity{}, errInvalidLogin
	}
	id := u.identity
	p.session = &id
	p.mu.Unlock()

	p.Emit(domain.SignedIn{Identity: id})
	return id, nil
}

func (p *FakeProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.signOuts++
	if p.SignOutErr != nil {
		err := p.SignOutErr
		p.mu.Unlock()
		return err
	}
	p.session = nil
	p.mu.Unlock()

	p.Emit(domain.SignedOut{Reason: domain.SignOutRequested})
	return nil
}

func (p *FakeProvider) CurrentSession(_ context.Context) (domain.Identity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SessionErr != nil {
		return domain.Identity{}, false, p.SessionErr
	}
	if p.session == nil {
		return domain.Identity{}, false, nil
	}
	return *p.session, true, nil
}

// Emit delivers ev to every listener synchronously.
func (p *FakeProvider) Emit(ev domain.AuthEvent) {
	p.mu.Lock()
	fns := make([]func(domain.AuthEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SignOutCalls reports how many times SignOut was invoked.
func (p *FakeProvider) SignOutCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts
}

// Listeners reports the number of registered listeners.
func (p *FakeProvider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// FakeDirectory is an in-memory directory whose lookups can be held open
// to script completion order.
type FakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	errs     map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		profiles: make(map[string]domain.Profile),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (d *FakeDirectory) SetProfile(p domain.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.IdentityKey] = p
}

func (d *FakeDirectory) SetError(identityID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[identityID] = err
}

// Hold blocks lookups for identityID until the returned release is called.
func (d *FakeDirectory) Hold(identityID string) (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gates[identityID] = gate
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gates[identityID] == gate {
				delete(d.gates, identityID)
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Calls reports how many lookups were issued for identityID.
func (d *FakeDirectory) Calls(identityID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[identityID]
}

func (d *FakeDirectory) FindProfileByIdentity(ctx context.Context, id domain.Identity) (*domain.Profile, error) {
	d.mu.Lock()
	d.calls[id.ID]++
	gate := d.gates[id.ID]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[id.ID]; err != nil {
		return nil, err
	}
	p, ok := d.profiles[id.ID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// LogBuffer is a goroutine-safe sink for slog output.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Contains reports whether any log line contains s.
func (b *LogBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

// NewLogger returns a debug-level JSON logger writing to a fresh LogBuffer.
func NewLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
