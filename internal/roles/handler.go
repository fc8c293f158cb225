package roles

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Handler exposes the role catalog.
type Handler struct {
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/roles", h.list)
}

type roleResponse struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(all))
	for _, role := range all {
		out = append(out, roleResponse{
			Code:        string(role.Code),
			Name:        role.Name,
			Description: role.Description,
			IsActive:    role.IsActive,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
