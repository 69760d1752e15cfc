package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"rusunawa.app/internal/audit"
	"rusunawa.app/internal/auth"
)

type setRolePermissionsRequest struct {
	PermissionIDs *auth.IDList `json:"permission_ids"`
}

type permissionCatalog struct {
	Permissions []auth.Permission           `json:"permissions"`
	Categories  auth.CategorizedPermissions `json:"categories"`
	Models      []auth.ModelGroup           `json:"models"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, err := a.rbac.ListRoles(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "roles retrieved successfully", page)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "permissions retrieved successfully", permissionCatalog{
		Permissions: perms,
		Categories:  auth.CategorizeAll(perms),
		Models:      auth.GroupByModel(perms),
	})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "role retrieved successfully", role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateRoleInput
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleUpdate, map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	respond(w, http.StatusOK, "role updated successfully", role)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.PermissionIDs == nil {
		verr := &auth.ValidationError{}
		verr.Add("permission_ids", "permission_ids must be an array")
		a.fail(w, r, verr)
		return
	}
	roleID := mux.Vars(r)["id"]
	perms, err := a.rbac.SetRolePermissions(r.Context(), roleID, *req.PermissionIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRolePermissions, map[string]any{
		"role_id": roleID,
		"count":   len(perms),
	})
	respond(w, http.StatusOK, "role permissions updated successfully", map[string]any{"permissions": perms})
}
