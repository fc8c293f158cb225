package activities

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

// Handler exposes activity programs over HTTP.
type Handler struct {
	service  *Service
	current  func(r *http.Request) (authz.User, bool)
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, current func(r *http.Request) (authz.User, bool)) *Handler {
	return &Handler{service: service, current: current, validate: validator.New()}
}

// Routes mounts activity program endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/activity-programs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{recordID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/amendments", h.amend)
			r.Post("/validate", h.validateRecord)
			r.Post("/unvalidate", h.unvalidate)
			r.Post("/rows", h.addActivity)
			r.Put("/rows/{activityID}", h.updateActivity)
			r.Delete("/rows/{activityID}", h.deleteActivity)
			r.Post("/rows/{activityID}/months", h.recordMonth)
		})
	})
}

type createRequest struct {
	Processus string `json:"processus" validate:"required,uuid"`
	Period    int    `json:"period" validate:"required,min=2000,max=2100"`
	Title     string `json:"title" validate:"required,max=255"`
}

type activityRequest struct {
	Description string   `json:"description" validate:"required,max=1000"`
	Frequency   string   `json:"frequency" validate:"required,oneof=monthly quarterly semiannual annual"`
	Units       []string `json:"units" validate:"required,min=1,dive,required,max=255"`
}

type monthRequest struct {
	Month int    `json:"month" validate:"required,min=1,max=12"`
	Done  bool   `json:"done"`
	Note  string `json:"note" validate:"max=2000"`
}

type programResponse struct {
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

func toResponse(p Program) programResponse {
	return programResponse{
		ID:          p.ID,
		Processus:   p.ProcessusID,
		Period:      p.Period,
		Stage:       p.Stage.String(),
		State:       p.State(),
		Title:       p.Title,
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

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
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
	programs, err := h.service.List(r.Context(), user, processusID, period)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	out := make([]programResponse, 0, len(programs))
	for _, p := range programs {
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
	p, err := h.service.Create(r.Context(), user, processusID, req.Period, req.Title)
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
	p, rows, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"program":    toResponse(*p),
		"activities": rows,
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

func (h *Handler) addActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.service.AddActivity(r.Context(), user, id, ActivityInput{
		Description: req.Description, Frequency: req.Frequency, Units: req.Units,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	activityID, ok := h.pathID(w, r, "activityID")
	if !ok {
		return
	}
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.service.UpdateActivity(r.Context(), user, id, activityID, ActivityInput{
		Description: req.Description, Frequency: req.Frequency, Units: req.Units,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	activityID, ok := h.pathID(w, r, "activityID")
	if !ok {
		return
	}
	if err := h.service.DeleteActivity(r.Context(), user, id, activityID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordMonth(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	activityID, ok := h.pathID(w, r, "activityID")
	if !ok {
		return
	}
	var req monthRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.service.RecordMonth(r.Context(), user, id, activityID, MonthEntryInput{
		Month: time.Month(req.Month), Done: req.Done, Note: req.Note,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}
