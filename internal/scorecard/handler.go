package scorecard

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

// Handler exposes scorecards over HTTP.
type Handler struct {
	service  *Service
	current  func(r *http.Request) (authz.User, bool)
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, current func(r *http.Request) (authz.User, bool)) *Handler {
	return &Handler{service: service, current: current, validate: validator.New()}
}

// Routes mounts scorecard endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/scorecards", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{recordID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/amendments", h.amend)
			r.Post("/validate", h.validateRecord)
			r.Post("/unvalidate", h.unvalidate)
			r.Post("/objectives", h.addObjective)
			r.Put("/objectives/{objectiveID}", h.updateObjective)
			r.Delete("/objectives/{objectiveID}", h.deleteObjective)
			r.Post("/objectives/{objectiveID}/indicators", h.addIndicator)
			r.Put("/indicators/{indicatorID}", h.updateIndicator)
			r.Delete("/indicators/{indicatorID}", h.deleteIndicator)
			r.Post("/indicators/{indicatorID}/observations", h.recordObservation)
		})
	})
}

type createRequest struct {
	Processus string `json:"processus" validate:"required,uuid"`
	Period    int    `json:"period" validate:"required,min=2000,max=2100"`
	Name      string `json:"name" validate:"required,max=255"`
}

type objectiveRequest struct {
	Label string `json:"label" validate:"required,max=500"`
}

type indicatorRequest struct {
	Label     string  `json:"label" validate:"required,max=500"`
	Unit      string  `json:"unit" validate:"max=50"`
	Target    float64 `json:"target" validate:"required"`
	Frequency string  `json:"frequency" validate:"required,oneof=monthly quarterly semiannual annual"`
}

type observationRequest struct {
	Value float64 `json:"value" validate:"required"`
	Note  string  `json:"note" validate:"max=2000"`
}

type cardResponse struct {
	ID          uuid.UUID  `json:"id"`
	Processus   uuid.UUID  `json:"processus"`
	Period      int        `json:"period"`
	Stage       string     `json:"stage"`
	State       string     `json:"state"`
	Name        string     `json:"name"`
	IsValidated bool       `json:"is_validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toResponse(c Scorecard) cardResponse {
	return cardResponse{
		ID:          c.ID,
		Processus:   c.ProcessusID,
		Period:      c.Period,
		Stage:       c.Stage.String(),
		State:       c.State(),
		Name:        c.Name,
		IsValidated: c.IsValidated,
		ValidatedAt: c.ValidatedAt,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
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
	cards, err := h.service.List(r.Context(), user, processusID, period)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	out := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, toResponse(c))
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
	c, err := h.service.Create(r.Context(), user, processusID, req.Period, req.Name)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*c))
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
	c, objectives, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"scorecard":  toResponse(*c),
		"objectives": objectives,
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
	c, err := h.service.Amend(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*c))
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
	c, err := h.service.Validate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*c))
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
	c, err := h.service.Unvalidate(r.Context(), user, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*c))
}

func (h *Handler) addObjective(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	var req objectiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.service.AddObjective(r.Context(), user, id, ObjectiveInput{Label: req.Label})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) updateObjective(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	objectiveID, ok := h.pathID(w, r, "objectiveID")
	if !ok {
		return
	}
	var req objectiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.service.UpdateObjective(r.Context(), user, id, objectiveID, ObjectiveInput{Label: req.Label})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) deleteObjective(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	objectiveID, ok := h.pathID(w, r, "objectiveID")
	if !ok {
		return
	}
	if err := h.service.DeleteObjective(r.Context(), user, id, objectiveID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addIndicator(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	objectiveID, ok := h.pathID(w, r, "objectiveID")
	if !ok {
		return
	}
	var req indicatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.service.AddIndicator(r.Context(), user, id, objectiveID, IndicatorInput{
		Label: req.Label, Unit: req.Unit, Target: req.Target, Frequency: req.Frequency,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, in)
}

func (h *Handler) updateIndicator(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	indicatorID, ok := h.pathID(w, r, "indicatorID")
	if !ok {
		return
	}
	var req indicatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.service.UpdateIndicator(r.Context(), user, id, indicatorID, IndicatorInput{
		Label: req.Label, Unit: req.Unit, Target: req.Target, Frequency: req.Frequency,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) deleteIndicator(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	indicatorID, ok := h.pathID(w, r, "indicatorID")
	if !ok {
		return
	}
	if err := h.service.DeleteIndicator(r.Context(), user, id, indicatorID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordObservation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "recordID")
	if !ok {
		return
	}
	indicatorID, ok := h.pathID(w, r, "indicatorID")
	if !ok {
		return
	}
	var req observationRequest
	if !h.decode(w, r, &req) {
		return
	}
	ob, err := h.service.RecordObservation(r.Context(), user, id, indicatorID, ObservationInput{Value: req.Value, Note: req.Note})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ob)
}
