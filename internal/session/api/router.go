package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"teamcards/internal/domain"
	"teamcards/internal/platform/telemetry"
	"teamcards/internal/session"
	"teamcards/internal/session/middleware"
)

const (
	defaultHeartbeat = 15 * time.Second
	eventBuffer      = 16
)

// Authority is what the HTTP surface needs from *session.Authority.
type Authority interface {
	session.ViewSource
	SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error)
	SignOut(ctx context.Context)
	Refresh(ctx context.Context) error
	Subscribe(fn func(domain.View)) (unsubscribe func())
}

// LoginThrottle limits sign-in attempts per email address.
type LoginThrottle interface {
	session.Throttle
	Reset(key string)
}

// Options configures a Router.
type Options struct {
	Authority    Authority
	Organization string

	// LoginThrottle is optional; nil disables per-email throttling.
	LoginThrottle LoginThrottle

	// Ready reports whether startup has finished. Nil means always ready.
	Ready func() bool

	// Heartbeat is the comment interval on event streams. Zero means 15s.
	Heartbeat time.Duration

	Metrics *telemetry.SessionMetrics
	Logger  *slog.Logger
}

// Router serves the local session surface.
type Router struct {
	mux       *http.ServeMux
	authority Authority
	org       string
	throttle  LoginThrottle
	ready     func() bool
	heartbeat time.Duration
	metrics   *telemetry.SessionMetrics
	logger    *slog.Logger
}

func NewRouter(opts Options) (*Router, error) {
	if opts.Authority == nil {
		return nil, errors.New("router requires an authority")
	}
	r := &Router{
		mux:       http.NewServeMux(),
		authority: opts.Authority,
		org:       opts.Organization,
		throttle:  opts.LoginThrottle,
		ready:     opts.Ready,
		heartbeat: opts.Heartbeat,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultHeartbeat
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	member := middleware.RequireMember(r.authority)
	admin := middleware.RequireAdmin(r.authority)

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)
	r.mux.HandleFunc("GET /session", r.currentSession)
	r.mux.HandleFunc("POST /session/login", r.login)
	r.mux.HandleFunc("POST /session/logout", r.logout)
	r.mux.HandleFunc("POST /session/refresh", r.refresh)
	r.mux.HandleFunc("GET /session/events", r.events)
	r.mux.Handle("GET /me/vcard", member(http.HandlerFunc(r.vcard)))
	r.mux.Handle("GET /admin/overview", admin(http.HandlerFunc(r.adminOverview)))

	return r, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// view returns the snapshot attached to the request, or the current view.
func (r *Router) view(req *http.Request) domain.View {
	if v, ok := session.ViewFromContext(req.Context()); ok {
		return v
	}
	return r.authority.CurrentView()
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	if r.ready != nil && !r.ready() {
		middleware.WriteError(w, http.StatusServiceUnavailable, "not_ready", "session authority starting", 1)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *Router) currentSession(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.view(req))
}

type loginResponse struct {
	Identity domain.Identity `json:"identity"`
	View     domain.View     `json:"view"`
}

func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var creds domain.Credentials
	if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large", 0)
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON object with email and password", 0)
		return
	}
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required", 0)
		return
	}

	key := strings.ToLower(creds.Email)
	if r.throttle != nil {
		result := r.throttle.Allow(key)
		if r.metrics != nil {
			r.metrics.RecordRateLimitDecision(req.Context(), "login", decision(result.Allowed))
		}
		if !result.Allowed {
			middleware.WriteError(w, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error(), result.RetryAfter)
			return
		}
	}

	id, err := r.authority.SignIn(req.Context(), creds)
	switch {
	case errors.Is(err, domain.ErrCredentialsRejected):
		middleware.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect", 0)
		return
	case errors.Is(err, domain.ErrClosed):
		middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "shutting down", 0)
		return
	case err != nil:
		r.logger.Error("sign-in failed", "error", err, "request_id", session.RequestIDFromContext(req.Context()))
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "sign-in failed", 0)
		return
	}

	if r.throttle != nil {
		r.throttle.Reset(key)
	}
	// Administrator status resolves asynchronously; clients follow /session/events.
	writeJSON(w, http.StatusAccepted, loginResponse{Identity: id, View: r.authority.CurrentView()})
}

func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	r.authority.SignOut(req.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) refresh(w http.ResponseWriter, req *http.Request) {
	err := r.authority.Refresh(req.Context())
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error(), 0)
	case errors.Is(err, domain.ErrClosed):
		middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "shutting down", 0)
	case err != nil:
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "refresh failed", 0)
	default:
		writeJSON(w, http.StatusAccepted, r.authority.CurrentView())
	}
}

func (r *Router) vcard(w http.ResponseWriter, req *http.Request) {
	v := r.view(req)
	if v.Profile == nil {
		middleware.WriteError(w, http.StatusNotFound, "not_found", domain.ErrNotFound.Error(), 0)
		return
	}
	writeVCard(w, *v.Profile, r.org)
}

type adminOverview struct {
	Identity     *domain.Identity    `json:"identity"`
	Profile      *domain.Profile     `json:"profile"`
	Organization string              `json:"organization"`
	Departments  []domain.Department `json:"departments"`
	ViewVersion  uint64              `json:"view_version"`
}

func (r *Router) adminOverview(w http.ResponseWriter, req *http.Request) {
	v := r.view(req)
	writeJSON(w, http.StatusOK, adminOverview{
		Identity:     v.Identity,
		Profile:      v.Profile,
		Organization: r.org,
		Departments:  domain.Departments(),
		ViewVersion:  v.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func decision(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
