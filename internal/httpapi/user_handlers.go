package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rusunawa.app/internal/audit"
	"rusunawa.app/internal/auth"
)

type setUserRolesRequest struct {
	RoleIDs *auth.IDList `json:"role_ids"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	a.listUsers(w, r, false)
}

func (a *API) handleListDeletedUsers(w http.ResponseWriter, r *http.Request) {
	a.listUsers(w, r, true)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request, deleted bool) {
	filter, err := listFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, err := a.rbac.ListUsers(r.Context(), auth.UserFilter{ListFilter: filter, Deleted: deleted})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "users retrieved successfully", page)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserCreate, map[string]any{
		"target_user_id": user.ID,
		"roles":          roleNames(user.Roles),
	})
	w.Header().Set("Location", "/api/users/"+user.ID)
	respond(w, http.StatusCreated, "user created successfully", user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "user retrieved successfully", user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateUserInput
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.rbac.UpdateUser(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserUpdate, map[string]any{"target_user_id": user.ID})
	respond(w, http.StatusOK, "user updated successfully", user)
}

func (a *API) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	var req setUserRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.RoleIDs == nil {
		verr := &auth.ValidationError{}
		verr.Add("role_ids", "role_ids must be an array")
		a.fail(w, r, verr)
		return
	}
	userID := mux.Vars(r)["id"]
	roles, err := a.rbac.SetUserRoles(r.Context(), userID, *req.RoleIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserRoles, map[string]any{
		"target_user_id": userID,
		"roles":          roleNames(roles),
	})
	respond(w, http.StatusOK, "user roles updated successfully", map[string]any{"roles": roles})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if err := a.rbac.DeleteUser(r.Context(), userID, sessionFrom(r).UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserDelete, map[string]any{"target_user_id": userID})
	respond(w, http.StatusOK, "user deleted successfully", nil)
}

func (a *API) handleForceDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if err := a.rbac.ForceDeleteUser(r.Context(), userID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserForceDelete, map[string]any{"target_user_id": userID})
	respond(w, http.StatusOK, "user permanently deleted", nil)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	at, err := a.rbac.VerifyEmail(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserVerifyEmail, map[string]any{"target_user_id": userID})
	respond(w, http.StatusOK, "email verified successfully", map[string]any{
		"email_verified_at": at.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	email, err := a.rbac.SendVerificationEmail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "verification email sent", map[string]any{"email": email})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	userID := mux.Vars(r)["id"]
	if err := a.rbac.ResetPassword(r.Context(), userID, req); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserResetPassword, map[string]any{"target_user_id": userID})
	respond(w, http.StatusOK, "password reset successfully", nil)
}

func roleNames(roles []auth.Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}
