package middleware

import (
	"net/http"

	"teamcards/internal/domain"
	"teamcards/internal/session"
)

// pendingRetryAfter is the Retry-After, in seconds, sent while the
// administrator flag is still being resolved.
const pendingRetryAfter = 1

// AttachView snapshots the current view into the request context so a
// handler makes every decision against one consistent view.
func AttachView(src session.ViewSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := session.ContextWithView(r.Context(), src.CurrentView())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMember admits any resolved identity.
func RequireMember(src session.ViewSource) Middleware {
	return guard(src, domain.View.MemberAccess)
}

// RequireAdmin admits only resolved administrators. A pending view is
// answered with 503 so clients retry instead of treating it as a denial.
func RequireAdmin(src session.ViewSource) Middleware {
	return guard(src, domain.View.AdminAccess)
}

func guard(src session.ViewSource, decide func(domain.View) domain.Access) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, ok := session.ViewFromContext(r.Context())
			if !ok {
				v = src.CurrentView()
				r = r.WithContext(session.ContextWithView(r.Context(), v))
			}

			switch decide(v) {
			case domain.AccessGranted:
				next.ServeHTTP(w, r)
			case domain.AccessPending:
				WriteError(w, http.StatusServiceUnavailable, "authorization_pending",
					domain.ErrAuthorizationPending.Error(), pendingRetryAfter)
			default:
				if !v.Authenticated() {
					WriteError(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error(), 0)
					return
				}
				WriteError(w, http.StatusForbidden, "forbidden", domain.ErrForbidden.Error(), 0)
			}
		})
	}
}
