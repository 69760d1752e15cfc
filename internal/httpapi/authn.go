package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"rusunawa.app/internal/audit"
	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoToken = errors.New("access denied, token not found")

// withAuth rejects requests without a valid bearer token and binds the
// session to the request context. It never reads the user store.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			if errors.Is(err, errNoToken) {
				writeError(w, http.StatusUnauthorized, err.Error())
			} else {
				writeError(w, http.StatusUnauthorized, "invalid token")
			}
			return
		}

		session, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		setLogIdentity(r.Context(), session.UserID, actorOf(session))
		ctx := auth.ContextWithSession(r.Context(), session)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withOptionalAuth binds a session when a valid token is present and
// otherwise lets the request through unchanged.
func (a *API) withOptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil {
			if session, err := a.authn.Authenticate(r.Context(), token); err == nil {
				setLogIdentity(r.Context(), session.UserID, actorOf(session))
				r = r.WithContext(auth.ContextWithSession(r.Context(), session))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// require resolves the session user's permissions from the store and checks
// them against req. Token claims are never used as permissions.
func (a *API) require(req auth.Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, errNoToken.Error())
			return
		}
		set, err := a.resolver.PermissionSet(r.Context(), session.UserID)
		if err != nil {
			obs.ObserveAuthorization("error")
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}
			a.fail(w, r, err)
			return
		}
		if err := req.Check(set); err != nil {
			obs.ObserveAuthorization("denied")
			_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"requirement": req.String(),
			})
			a.fail(w, r, err)
			return
		}
		obs.ObserveAuthorization("allowed")
		session.Permissions = set
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}

// protect chains the authentication gate and, when given, the authorization
// gate in front of h.
func (a *API) protect(h http.HandlerFunc, reqs ...auth.Requirement) http.Handler {
	var next http.Handler = h
	for i := len(reqs) - 1; i >= 0; i-- {
		next = a.require(reqs[i], next)
	}
	return a.withAuth(next)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", errNoToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", auth.ErrTokenMalformed
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

func actorOf(s auth.Session) string {
	if s.Impersonating() {
		return s.Impersonation.ActorID
	}
	return ""
}

// sessionFrom returns the session bound by withAuth. Routes behind protect
// always have one.
func sessionFrom(r *http.Request) auth.Session {
	s, _ := auth.SessionFromContext(r.Context())
	return s
}
