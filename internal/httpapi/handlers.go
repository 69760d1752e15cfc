package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/obs"
)

const serviceName = "rusunawa-api"

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: проверка готовности, база данных и (если есть) denylist.
type ReadyProbe struct {
	DB       Pinger
	Denylist Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Denylist != nil {
		if err := rp.Denylist.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Services are the domain components behind the API.
type Services struct {
	Authenticator *auth.Authenticator
	Resolver      *auth.Resolver
	Accounts      *auth.AccountService
	RBAC          *auth.RBACService
	Impersonator  *auth.Impersonator
}

func (s Services) validate() error {
	if s.Authenticator == nil || s.Resolver == nil || s.Accounts == nil || s.RBAC == nil || s.Impersonator == nil {
		return errors.New("httpapi: all services are required")
	}
	return nil
}

// Option configures the API.
type Option func(*API)

// WithDevelopment exposes internal error details in responses.
func WithDevelopment(dev bool) Option {
	return func(a *API) { a.development = dev }
}

// WithAllowedOrigins sets the CORS origin allow list.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

// WithRateLimit configures the per-IP limiter on public auth endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// API: HTTP слой.
type API struct {
	router     *mux.Router
	readyProbe ReadyProbe
	version    string

	authn        *auth.Authenticator
	resolver     *auth.Resolver
	accounts     *auth.AccountService
	rbac         *auth.RBACService
	impersonator *auth.Impersonator

	development    bool
	allowedOrigins []string
	rateBurst      int
	ratePerSec     int
	handler        http.Handler
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) (*API, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	a := &API{
		router:       mux.NewRouter(),
		readyProbe:   rp,
		version:      version,
		authn:        svc.Authenticator,
		resolver:     svc.Resolver,
		accounts:     svc.Accounts,
		rbac:         svc.RBAC,
		impersonator: svc.Impersonator,
		rateBurst:    20,
		ratePerSec:   10,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()

	var h http.Handler = a.router
	h = CORS(a.allowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	a.handler = obs.Instrument(h)
	return a, nil
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	return a.handler
}

var (
	routeNotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	methodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
)

// subrouter mounts prefix under parent. mux only answers 405 from the router
// that owns the mismatched route, so every subrouter carries both handlers.
func subrouter(parent *mux.Router, prefix string) *mux.Router {
	sub := parent.PathPrefix(prefix).Subrouter()
	sub.NotFoundHandler = routeNotFound
	sub.MethodNotAllowedHandler = methodNotAllowed
	return sub
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = routeNotFound
	r.MethodNotAllowedHandler = methodNotAllowed

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := subrouter(r, "/api")
	api.Handle("/info", a.withOptionalAuth(http.HandlerFunc(a.Info))).Methods(http.MethodGet)

	limiter := newRateLimiter(a.rateBurst, a.ratePerSec)
	authRoutes := subrouter(api, "/auth")
	authRoutes.Handle("/register", limiter.wrap(http.HandlerFunc(a.handleRegister))).Methods(http.MethodPost)
	authRoutes.Handle("/login", limiter.wrap(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	authRoutes.Handle("/logout", a.protect(a.handleLogout)).Methods(http.MethodPost)
	authRoutes.Handle("/me", a.protect(a.handleMe)).Methods(http.MethodGet)
	authRoutes.Handle("/impersonate/{userId}", a.protect(a.handleImpersonate)).Methods(http.MethodPost)
	authRoutes.Handle("/stop-impersonate", a.protect(a.handleStopImpersonate)).Methods(http.MethodPost)

	viewUsers := auth.Any(auth.PermViewUser, auth.PermViewAnyUser)
	updateUsers := auth.All(auth.PermUpdateUser)
	users := subrouter(api, "/users")
	users.Handle("", a.protect(a.handleListUsers, viewUsers)).Methods(http.MethodGet)
	users.Handle("", a.protect(a.handleCreateUser, auth.All(auth.PermCreateUser))).Methods(http.MethodPost)
	users.Handle("/deleted", a.protect(a.handleListDeletedUsers, viewUsers)).Methods(http.MethodGet)
	users.Handle("/{id}", a.protect(a.handleGetUser, viewUsers)).Methods(http.MethodGet)
	users.Handle("/{id}", a.protect(a.handleUpdateUser, updateUsers)).Methods(http.MethodPut)
	users.Handle("/{id}", a.protect(a.handleDeleteUser, auth.Any(auth.PermDeleteUser, auth.PermDeleteAnyUser))).Methods(http.MethodDelete)
	users.Handle("/{id}/roles", a.protect(a.handleSetUserRoles, updateUsers)).Methods(http.MethodPut)
	users.Handle("/{id}/force", a.protect(a.handleForceDeleteUser, auth.Any(auth.PermForceDeleteUser, auth.PermForceDeleteAnyUser))).Methods(http.MethodDelete)
	users.Handle("/{id}/verify-email", a.protect(a.handleVerifyEmail, updateUsers)).Methods(http.MethodPost)
	users.Handle("/{id}/send-verification-email", a.protect(a.handleSendVerificationEmail, updateUsers)).Methods(http.MethodPost)
	users.Handle("/{id}/reset-password", a.protect(a.handleResetPassword, updateUsers)).Methods(http.MethodPost)

	viewRoles := auth.Any(auth.PermViewRole, auth.PermViewAnyRole)
	updateRoles := auth.All(auth.PermUpdateRole)
	roles := subrouter(api, "/roles")
	roles.Handle("", a.protect(a.handleListRoles, viewRoles)).Methods(http.MethodGet)
	roles.Handle("/permissions", a.protect(a.handleListPermissions, viewRoles)).Methods(http.MethodGet)
	roles.Handle("/{id}", a.protect(a.handleGetRole, viewRoles)).Methods(http.MethodGet)
	roles.Handle("/{id}", a.protect(a.handleUpdateRole, updateRoles)).Methods(http.MethodPut)
	roles.Handle("/{id}/permissions", a.protect(a.handleSetRolePermissions, updateRoles)).Methods(http.MethodPut)

	api.Handle("/audit/stream", a.protect(a.handleAuditStream, auth.All(auth.PermViewUser, auth.PermViewRole))).Methods(http.MethodGet)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "ok", map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		body := envelope{Message: "not ready", Data: map[string]any{"status": "not_ready"}}
		if a.development {
			body.Error = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	respond(w, http.StatusOK, "ready", map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		data["user"] = auth.Identity{ID: s.UserID, Username: s.Username, Email: s.Email}
		data["impersonating"] = s.Impersonating()
	}
	respond(w, http.StatusOK, "service info", data)
}
