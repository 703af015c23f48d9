package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
)

type createServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateServiceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"is_active"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	ServiceID string `json:"service_id"`
	RoleID    string `json:"role_id"`
}

type updateUserRequest struct {
	Active *bool `json:"is_active"`
}

type authzCheckRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	ServiceID  string `json:"service_id"`
}

type permissionView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (a *API) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermServiceRead) {
			return
		}
		services, err := a.rbac.ListServices(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		views := make([]auth.ServiceView, 0, len(services))
		for _, svc := range services {
			views = append(views, svc.View())
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": views})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermServiceWrite) {
			return
		}
		var req createServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		svc, err := a.rbac.CreateService(r.Context(), req.Name, req.Description)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.service.created",
			"service_id", svc.PublicID, "name", svc.Name)
		w.Header().Set("Location", fmt.Sprintf("/v1/services/%s", svc.PublicID))
		writeResult(w, http.StatusCreated, "service created", map[string]any{
			"service": svc.View(),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleServiceScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/services/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	serviceID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleService(w, r, serviceID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleServiceRoles(w, r, serviceID)
	case len(parts) == 2 && parts[1] == "tokens":
		a.handleServiceTokens(w, r, serviceID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleService(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermServiceRead) {
			return
		}
		svc, err := a.rbac.GetService(r.Context(), serviceID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.View())
	case http.MethodPatch:
		if !a.ensurePermissions(w, r, auth.PermServiceWrite) {
			return
		}
		var req updateServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		svc, err := a.rbac.UpdateService(r.Context(), serviceID, auth.ServiceUpdate{
			Name:        req.Name,
			Description: req.Description,
			Active:      req.Active,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.service.updated", "service_id", serviceID)
		writeResult(w, http.StatusOK, "service updated", map[string]any{
			"service": svc.View(),
		})
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermServiceDelete) {
			return
		}
		if err := a.rbac.DeleteService(r.Context(), serviceID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.service.deleted", "service_id", serviceID)
		writeResult(w, http.StatusOK, "service deleted", nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleServiceRoles(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermRoleRead) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context(), serviceID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermRoleWrite) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), serviceID, req.Name, req.Description, req.Permissions)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		view, err := a.rbac.RoleView(r.Context(), role.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.role.created",
			"service_id", serviceID, "role_id", role.ID, "name", role.Name)
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeResult(w, http.StatusCreated, "role created", map[string]any{
			"role": view,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleRole(w, r, roleID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermRoleRead) {
			return
		}
		view, err := a.rbac.RoleView(r.Context(), roleID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		if !a.ensurePermissions(w, r, auth.PermRoleWrite) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		view, err := a.rbac.RoleView(r.Context(), role.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.role.updated", "role_id", roleID)
		writeResult(w, http.StatusOK, "role updated", map[string]any{
			"role": view,
		})
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermRoleDelete) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.role.deleted", "role_id", roleID)
		writeResult(w, http.StatusOK, "role deleted", nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRoleWrite) {
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.rbac.SetRolePermissions(r.Context(), roleID, req.Permissions)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "rbac.role.permissions_set",
		"role_id", roleID, "count", len(req.Permissions))
	writeResult(w, http.StatusOK, "role permissions updated", map[string]any{
		"role": view,
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRoleRead) {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, permissionView{Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": views})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRole(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "services":
		a.handleUserServices(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermUserRead) {
			return
		}
		user, err := a.accounts.GetUser(r.Context(), userID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.View())
	case http.MethodPatch:
		if !a.ensurePermissions(w, r, auth.PermUserWrite) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Active == nil {
			writeError(w, r, http.StatusBadRequest, "is_active is required")
			return
		}
		if err := a.accounts.SetUserActive(r.Context(), userID, *req.Active); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.user.active_set",
			"user_id", userID, "is_active", *req.Active)
		user, err := a.accounts.GetUser(r.Context(), userID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeResult(w, http.StatusOK, "user updated", map[string]any{
			"user": user.View(),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermUserRead) {
			return
		}
		serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
		if serviceID == "" {
			writeError(w, r, http.StatusBadRequest, "service_id is required")
			return
		}
		roles, err := a.rbac.RolesForUser(r.Context(), userID, serviceID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermUserWrite) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.ServiceID == "" || req.RoleID == "" {
			writeError(w, r, http.StatusBadRequest, "service_id and role_id are required")
			return
		}
		if err := a.rbac.AssignRole(r.Context(), userID, req.ServiceID, req.RoleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "rbac.role.assigned",
			"user_id", userID, "service_id", req.ServiceID, "role_id", req.RoleID)
		writeResult(w, http.StatusOK, "role assigned", nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermUserWrite) {
		return
	}
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID == "" {
		writeError(w, r, http.StatusBadRequest, "service_id is required")
		return
	}
	if err := a.rbac.RemoveRole(r.Context(), userID, serviceID, roleID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "rbac.role.removed",
		"user_id", userID, "service_id", serviceID, "role_id", roleID)
	writeResult(w, http.StatusOK, "role removed", nil)
}

func (a *API) handleUserServices(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermUserRead) {
		return
	}
	services, err := a.rbac.ServicesForUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]auth.ServiceView, 0, len(services))
	for _, svc := range services {
		views = append(views, svc.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": views})
}

func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermUserRead) {
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" || req.Permission == "" || req.ServiceID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id, permission and service_id are required")
		return
	}
	allowed, err := a.rbac.HasPermission(r.Context(), req.UserID, req.Permission, req.ServiceID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
