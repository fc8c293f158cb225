package authz

import (
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Handler exposes permission introspection and role assignment
// administration. Assignment endpoints are themselves gated by the engine.
type Handler struct {
	service  *Service
	current  func(r *http.Request) (User, bool)
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the authz HTTP handler.
func NewHandler(service *Service, current func(r *http.Request) (User, bool), logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		current:  current,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes registers the authz endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/permissions/{module}", h.myPermissions)
	r.Get("/assignments", h.myAssignments)
	r.Post("/assignments", h.assignRole)
	r.Delete("/assignments", h.revokeRole)
}

// myPermissions returns the static grant outcome per configured action of a
// module, for the calling user and a processus.
func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.current(r)
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "authentication required")
		return
	}
	module := Module(chi.URLParam(r, "module"))
	processusID := ProcessusFromRequest(r)
	perms := h.service.PermissionsFor(r.Context(), user, module, processusID)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"module":      module,
		"processus":   processusID,
		"permissions": perms,
	})
}

func (h *Handler) myAssignments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.current(r)
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "authentication required")
		return
	}
	assignments, err := h.service.AssignmentsFor(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("authz: list assignments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

type assignmentRequest struct {
	UserID    int64  `json:"user_id" validate:"required"`
	Processus string `json:"processus" validate:"required,uuid"`
	Role      string `json:"role" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	user, req, processusID, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	decision := h.service.CanPerform(r.Context(), user, ModuleAuthz, processusID, "assign-role", nil)
	if !decision.Allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", decision.Reason)
		return
	}
	err := h.service.Assign(r.Context(), Assignment{
		UserID:      req.UserID,
		ProcessusID: processusID,
		Role:        RoleCode(req.Role),
		GrantedBy:   user.ID,
		Active:      true,
	})
	if err != nil {
		h.logger.Error("authz: assign role",
			slog.Int64("grantee", req.UserID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"status": "assigned",
		"user":   strconv.FormatInt(req.UserID, 10),
		"role":   req.Role,
	})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	user, req, processusID, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	decision := h.service.CanPerform(r.Context(), user, ModuleAuthz, processusID, "revoke-role", nil)
	if !decision.Allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", decision.Reason)
		return
	}
	if err := h.service.Revoke(r.Context(), req.UserID, processusID, RoleCode(req.Role)); err != nil {
		h.logger.Error("authz: revoke role",
			slog.Int64("grantee", req.UserID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) decodeAssignment(w http.ResponseWriter, r *http.Request) (User, assignmentRequest, uuid.UUID, bool) {
	user, ok := h.current(r)
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "authentication required")
		return User{}, assignmentRequest{}, uuid.Nil, false
	}
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payload")
		return User{}, assignmentRequest{}, uuid.Nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return User{}, assignmentRequest{}, uuid.Nil, false
	}
	processusID, err := uuid.Parse(req.Processus)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid processus identifier")
		return User{}, assignmentRequest{}, uuid.Nil, false
	}
	return user, req, processusID, true
}

// GrantsForAdministration declares the engine's own administrative actions.
func GrantsForAdministration() []Grant {
	return []Grant{
		{Module: ModuleAuthz, Action: "assign-role", Roles: []RoleCode{RoleAdmin}},
		{Module: ModuleAuthz, Action: "revoke-role", Roles: []RoleCode{RoleAdmin}},
		{Module: ModuleAuthz, Action: ActionViewAudit, Roles: []RoleCode{RoleAdmin}},
	}
}
