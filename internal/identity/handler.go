package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Handler exposes the account directory.
type Handler struct {
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts identity endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users", h.list)
	r.Get("/me", h.me)
}

type userResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    bool   `json:"is_active"`
}

func toResponse(u User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toResponse(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := FromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*user))
}
