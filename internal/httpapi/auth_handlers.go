package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rusunawa.app/internal/audit"
	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.accounts.Register(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{
		"target_user_id": user.ID,
		"username":       user.Username,
	})
	respond(w, http.StatusCreated, "user registered successfully", map[string]any{"user": user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setLogIdentity(r.Context(), res.User.ID, "")
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"target_user_id": res.User.ID,
		"expires_at":     res.ExpiresAt.Format(time.RFC3339),
	})
	respond(w, http.StatusOK, "login successful", res)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	revoked, err := a.authn.Revoke(r.Context(), session)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{"revoked": revoked})
	respond(w, http.StatusOK, "logout successful", map[string]any{"revoked": revoked})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := a.accounts.Me(r.Context(), sessionFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "profile retrieved successfully", map[string]any{"user": profile})
}

func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["userId"]
	res, err := a.impersonator.Start(r.Context(), sessionFrom(r), targetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	obs.ObserveImpersonation("start")
	_ = audit.LogEvent(r.Context(), audit.EventImpersonationStart, map[string]any{
		"target_user_id": res.User.ID,
		"target_email":   res.User.Email,
		"expires_at":     res.ExpiresAt.Format(time.RFC3339),
	})
	respond(w, http.StatusOK, "impersonation started", res)
}

func (a *API) handleStopImpersonate(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	res, err := a.impersonator.Stop(r.Context(), session)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	obs.ObserveImpersonation("stop")
	_ = audit.LogEvent(r.Context(), audit.EventImpersonationStop, map[string]any{
		"target_user_id": session.UserID,
	})
	respond(w, http.StatusOK, "impersonation stopped", res)
}
