package riskmap

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

// Handler exposes risk maps over HTTP.
type Handler struct {
	service  *Service
	current  func(r *http.Request) (authz.User, bool)
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, current func(r *http.Request) (authz.User, bool)) *Handler {
	return &Handler{service: service, current: current, validate: validator.New()}
}

// Routes mounts risk map endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/risk-maps", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{recordID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/amendments", h.amend)
			r.Post("/validate", h.validateRecord)
			r.Post("/unvalidate", h.unvalidate)
			r.Post("/details", h.addDetail)
			r.Put("/details/{detailID}", h.updateDetail)
			r.Delete("/details/{detailID}", h.deleteDetail)
			r.Post("/details/{detailID}/evaluations", h.addEvaluation)
			r.Post("/details/{detailID}/action-plans", h.addActionPlan)
		})
	})
}

type createRequest struct {
	Processus string `json:"processus" validate:"required,uuid"`
	Period    int    `json:"period" validate:"required,min=2000,max=2100"`
	Title     string `json:"title" validate:"required,max=255"`
}

type detailRequest struct {
	Activity string `json:"activity" validate:"required,max=500"`
	Risk     string `json:"risk" validate:"required,max=500"`
	Causes   string `json:"causes" validate:"max=2000"`
}

type evaluationRequest struct {
	Frequency int `json:"frequency" validate:"required,min=1,max=5"`
	Gravity   int `json:"gravity" validate:"required,min=1,max=5"`
}

type actionPlanRequest struct {
	Action   string    `json:"action" validate:"required,max=1000"`
	Owner    string    `json:"owner" validate:"required,max=255"`
	Deadline time.Time `json:"deadline" validate:"required"`
}

type mapResponse struct {
	ID          uuid.UUID  `json:"id"`
	Processus   uuid.UUID  `json:"processus"`
	Period      int        `json:"period"`
	Stage       string     `json:"stage"`
	State       string     `json:"state"`
	Title       string     `json:"title"`
	IsValidated bool       `json:"is_validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toResponse(m RiskMap) mapResponse {
	return mapResponse{
		ID:          m.ID,
		Processus:   m.ProcessusID,
		Period:      m.Period,
		Stage:       m.Stage.String(),
		State:       m.State(),
		Title:       m.Title,
		IsValidated: m.IsValidated,
		ValidatedAt: m.ValidatedAt,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
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

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) detailID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "detailID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid detail id")
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
	maps, err := h.service.List(r.Context(), user, processusID, period)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	out := make([]mapResponse, 0, len(maps))
	for _, m := range maps {
		out = append(out, toResponse(m))
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
	m, err := h.service.Create(r.Context(), user, processusID, req.Period, req.Title)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*m))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	m, details, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"map":     toResponse(*m),
		"details": details,
	})
}

func (h *Handler) amend(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Amend(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*m))
}

func (h *Handler) validateRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Validate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*m))
}

func (h *Handler) unvalidate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Unvalidate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*m))
}

func (h *Handler) addDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	var req detailRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.AddDetail(r.Context(), user, id, DetailInput{Activity: req.Activity, Risk: req.Risk, Causes: req.Causes})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) updateDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	detailID, ok := h.detailID(w, r)
	if !ok {
		return
	}
	var req detailRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.UpdateDetail(r.Context(), user, id, detailID, DetailInput{Activity: req.Activity, Risk: req.Risk, Causes: req.Causes})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) deleteDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	detailID, ok := h.detailID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDetail(r.Context(), user, id, detailID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addEvaluation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	detailID, ok := h.detailID(w, r)
	if !ok {
		return
	}
	var req evaluationRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.service.AddEvaluation(r.Context(), user, id, detailID, EvaluationInput{Frequency: req.Frequency, Gravity: req.Gravity})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) addActionPlan(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	detailID, ok := h.detailID(w, r)
	if !ok {
		return
	}
	var req actionPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.AddActionPlan(r.Context(), user, id, detailID, ActionPlanInput{Action: req.Action, Owner: req.Owner, Deadline: req.Deadline})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}
