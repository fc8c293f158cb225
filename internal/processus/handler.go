package processus

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// ActionManage gates registry mutations.
const ActionManage authz.ActionCode = "manage-processus"

// GrantsForRegistry declares who may edit the registry.
func GrantsForRegistry() []authz.Grant {
	return []authz.Grant{
		{Module: authz.ModuleAuthz, Action: ActionManage, Roles: []authz.RoleCode{authz.RoleAdmin}},
	}
}

// Handler exposes the processus registry over HTTP.
type Handler struct {
	service  *Service
	perms    *authz.Service
	current  func(r *http.Request) (authz.User, bool)
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, perms *authz.Service, current func(r *http.Request) (authz.User, bool)) *Handler {
	return &Handler{service: service, perms: perms, current: current, validate: validator.New()}
}

// Routes mounts registry endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/processus", h.list)
	r.Get("/processus/{processusID}", h.get)
	r.Post("/processus", h.create)
	r.Put("/processus/{processusID}", h.update)
}

type processusRequest struct {
	Nom         string `json:"nom" validate:"required,max=255"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

type processusResponse struct {
	ID          uuid.UUID `json:"id"`
	Numero      string    `json:"numero"`
	Nom         string    `json:"nom"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
}

func toResponse(p Processus) processusResponse {
	return processusResponse{
		ID:          p.ID,
		Numero:      p.Numero,
		Nom:         p.Nom,
		Description: p.Description,
		IsActive:    p.IsActive,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	out, err := h.service.List(r.Context(), includeInactive)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]processusResponse, 0, len(out))
	for _, p := range out {
		resp = append(resp, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "processusID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid processus id")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if !h.allowManage(w, r, uuid.Nil) {
		return
	}
	var req processusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{Nom: req.Nom, Description: req.Description})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "processusID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid processus id")
		return
	}
	if !h.allowManage(w, r, id) {
		return
	}
	var req processusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{Nom: req.Nom, Description: req.Description, IsActive: active})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

func (h *Handler) allowManage(w http.ResponseWriter, r *http.Request, processusID uuid.UUID) bool {
	user, ok := h.current(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return false
	}
	decision := h.perms.CanPerform(r.Context(), user, authz.ModuleAuthz, processusID, ActionManage, nil)
	if !decision.Allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", decision.Reason)
		return false
	}
	return true
}
