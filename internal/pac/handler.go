package pac

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Handler exposes corrective plans over HTTP.
type Handler struct {
	service  *Service
	current  func(r *http.Request) (authz.User, bool)
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, current func(r *http.Request) (authz.User, bool)) *Handler {
	return &Handler{service: service, current: current, validate: validator.New()}
}

// Routes mounts corrective plan endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/corrective-plans", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{recordID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/amendments", h.amend)
			r.Post("/validate", h.validateRecord)
			r.Post("/unvalidate", h.unvalidate)
			r.Post("/treatments", h.addTreatment)
			r.Put("/treatments/{treatmentID}", h.updateTreatment)
			r.Delete("/treatments/{treatmentID}", h.deleteTreatment)
			r.Post("/treatments/{treatmentID}/followups", h.addFollowUp)
		})
	})
}

type createRequest struct {
	Processus string `json:"processus" validate:"required,uuid"`
	Period    int    `json:"period" validate:"required,min=2000,max=2100"`
	Origin    string `json:"origin" validate:"required,max=500"`
}

type treatmentRequest struct {
	Action   string    `json:"action" validate:"required,max=1000"`
	Type     string    `json:"type" validate:"required,oneof=corrective preventive"`
	Owner    string    `json:"owner" validate:"required,max=255"`
	Deadline time.Time `json:"deadline" validate:"required"`
}

type followUpRequest struct {
	Note       string `json:"note" validate:"required,max=2000"`
	ProgressPC int    `json:"progress_pc" validate:"min=0,max=100"`
}

type planResponse struct {
	ID          uuid.UUID  `json:"id"`
	Processus   uuid.UUID  `json:"processus"`
	Period      int        `json:"period"`
	Stage       string     `json:"stage"`
	State       string     `json:"state"`
	Origin      string     `json:"origin"`
	IsValidated bool       `json:"is_validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toResponse(p Plan) planResponse {
	return planResponse{
		ID:          p.ID,
		Processus:   p.ProcessusID,
		Period:      p.Period,
		Stage:       p.Stage.String(),
		State:       p.State(),
		Origin:      p.Origin,
		IsValidated: p.IsValidated,
		ValidatedAt: p.ValidatedAt,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var denied *authz.DeniedError
	if errors.As(err, &denied) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", denied.Reason)
		return
	}
	if lifecycle.WriteProblem(w, err) {
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (authz.User, bool) {
	user, ok := h.current(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return user, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	processusID, err := uuid.Parse(r.URL.Query().Get("processus"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "processus query parameter required")
		return
	}
	period, _ := strconv.Atoi(r.URL.Query().Get("period"))
	plans, err := h.service.List(r.Context(), user, processusID, period)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	processusID, _ := uuid.Parse(req.Processus)
	p, err := h.service.Create(r.Context(), user, processusID, req.Period, req.Origin)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	p, treatments, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"plan":       toResponse(*p),
		"treatments": treatments,
	})
}

func (h *Handler) amend(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	p, err := h.service.Amend(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*p))
}

func (h *Handler) validateRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	p, err := h.service.Validate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

func (h *Handler) unvalidate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	p, err := h.service.Unvalidate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

func (h *Handler) addTreatment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	var req treatmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.service.AddTreatment(r.Context(), user, id, TreatmentInput{
		Action: req.Action, Type: TreatmentType(req.Type), Owner: req.Owner, Deadline: req.Deadline,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tr)
}

func (h *Handler) updateTreatment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	var req treatmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.service.UpdateTreatment(r.Context(), user, id, treatmentID, TreatmentInput{
		Action: req.Action, Type: TreatmentType(req.Type), Owner: req.Owner, Deadline: req.Deadline,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) deleteTreatment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	if err := h.service.DeleteTreatment(r.Context(), user, id, treatmentID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addFollowUp(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	var req followUpRequest
	if !h.decode(w, r, &req) {
		return
	}
	fu, err := h.service.AddFollowUp(r.Context(), user, id, treatmentID, FollowUpInput{Note: req.Note, ProgressPC: req.ProgressPC})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fu)
}
