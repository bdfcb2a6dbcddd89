package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"teamcards/internal/domain"
	"teamcards/internal/session"
)

const maxClockSkew = 30 * time.Second

// Endpoint paths below the identity service base URL.
const (
	TokenPath  = "/auth/token"
	LogoutPath = "/auth/logout"
	JWKSPath   = "/.well-known/jwks.json"
)

// Config describes how to reach the identity service.
type Config struct {
	BaseURL  string
	ClientID string

	// Issuer, when set, must match the iss claim of every access token.
	Issuer string

	// TokenFile, when set, persists the session so it survives restarts.
	TokenFile string
}

// Client is a password-grant identity provider. Access tokens are RS256 JWTs
// verified against the service's key set. Like hosted auth services it
// announces its own sign-ins, sign-outs and expiries to listeners.
type Client struct {
	cfg        Config
	oauth      oauth2.Config
	keys       session.KeyProvider
	httpClient *http.Client
	store      *tokenStore
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     *oauth2.Token
	identity  *domain.Identity
	expiry    *time.Timer
	listeners map[int]func(domain.AuthEvent)
	nextID    int
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, keys session.KeyProvider, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + TokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		keys:       keys,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
		listeners:  make(map[int]func(domain.AuthEvent)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.TokenFile != "" {
		c.store = &tokenStore{path: cfg.TokenFile}
	}
	return c
}

func (c *Client) OnAuthStateChange(fn func(domain.AuthEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
		})
	}
}

func (c *Client) SignInWithPassword(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.PasswordCredentialsToken(ctx, creds.Email, creds.Password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return domain.Identity{}, fmt.Errorf("%s: %s", re.ErrorCode, re.ErrorDescription)
		}
		return domain.Identity{}, fmt.Errorf("password grant: %w", err)
	}

	id, err := c.verify(ctx, tok.AccessToken)
	if err != nil {
		return domain.Identity{}, err
	}

	c.mu.Lock()
	c.installLocked(tok, id)
	c.mu.Unlock()
	c.persist(tok)

	c.emit(domain.SignedIn{Identity: id})
	return id, nil
}

// SignOut revokes the session remotely and always forgets it locally.
// The remote error, if any, is returned after listeners are notified.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	hadSession := c.identity != nil
	c.clearLocked()
	c.mu.Unlock()
	c.forget()

	var remoteErr error
	if tok != nil {
		remoteErr = c.revoke(ctx, tok.AccessToken)
	}
	if hadSession {
		c.emit(domain.SignedOut{Reason: domain.SignOutRequested})
	}
	return remoteErr
}

// CurrentSession reports the live session, restoring it from the token file
// on first use. A persisted token that no longer verifies is discarded.
func (c *Client) CurrentSession(ctx context.Context) (domain.Identity, bool, error) {
	c.mu.Lock()
	if c.identity != nil {
		id := *c.identity
		c.mu.Unlock()
		return id, true, nil
	}
	c.mu.Unlock()

	if c.store == nil {
		return domain.Identity{}, false, nil
	}
	tok, ok, err := c.store.load()
	if err != nil || !ok {
		return domain.Identity{}, false, err
	}

	id, err := c.verify(ctx, tok.AccessToken)
	if err != nil {
		c.logger.Info("discarding persisted session", "error", err)
		c.forget()
		return domain.Identity{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return *c.identity, true, nil
	}
	c.installLocked(tok, id)
	return id, true, nil
}

// AccessToken returns the bearer token of the live session.
func (c *Client) AccessToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return "", false
	}
	return c.token.AccessToken, true
}

// Close stops the expiry timer.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

func (c *Client) verify(ctx context.Context, raw string) (domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(maxClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return c.keys.GetKey(ctx, kid)
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
		}
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return identityFromClaims(token.Claims)
}

func identityFromClaims(claims jwt.Claims) (domain.Identity, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing sub claim", domain.ErrInvalidToken)
	}

	id := domain.Identity{ID: sub}
	id.Email, _ = mc["email"].(string)
	id.SessionID, _ = mc["sid"].(string)
	if id.SessionID == "" {
		id.SessionID, _ = mc["jti"].(string)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// installLocked records the live session and arms its expiry.
func (c *Client) installLocked(tok *oauth2.Token, id domain.Identity) {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.token = tok
	c.identity = &id
	if !id.ExpiresAt.IsZero() {
		c.expiry = time.AfterFunc(id.ExpiresAt.Sub(c.now()), func() { c.expire(id) })
	}
}

func (c *Client) clearLocked() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.token = nil
	c.identity = nil
}

func (c *Client) expire(id domain.Identity) {
	c.mu.Lock()
	if c.identity == nil || !c.identity.Same(id) {
		c.mu.Unlock()
		return
	}
	c.clearLocked()
	c.mu.Unlock()
	c.forget()

	c.logger.Info("session expired", "identity_id", id.ID)
	c.emit(domain.SignedOut{Reason: domain.SignOutExpired})
}

func (c *Client) revoke(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+LogoutPath, nil)
	if err != nil {
		return fmt.Errorf("creating logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()

	// An already-invalid token means the session is gone remotely too.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("logout returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) persist(tok *oauth2.Token) {
	if c.store == nil {
		return
	}
	if err := c.store.save(tok); err != nil {
		c.logger.Warn("persisting session token failed", "error", err)
	}
}

func (c *Client) forget() {
	if c.store == nil {
		return
	}
	if err := c.store.remove(); err != nil {
		c.logger.Warn("removing session token failed", "error", err)
	}
}

func (c *Client) emit(ev domain.AuthEvent) {
	c.mu.Lock()
	fns := make([]func(domain.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
