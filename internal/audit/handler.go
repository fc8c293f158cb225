package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Handler exposes the transition timeline. Routing gates it behind the
// admin-only authz middleware; the handler itself only reads.
type Handler struct {
	timeline *Timeline
}

// NewHandler builds Handler instance.
func NewHandler(timeline *Timeline) *Handler {
	return &Handler{timeline: timeline}
}

// Routes mounts timeline endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit/timeline", h.list)
}

type entryResponse struct {
	ID       int64     `json:"id"`
	Module   string    `json:"module"`
	RecordID uuid.UUID `json:"record_id"`
	Action   string    `json:"action"`
	ActorID  int64     `json:"actor_id"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

type timelineResponse struct {
	Entries    []entryResponse `json:"entries"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, page, err := h.timeline.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := timelineResponse{
		Entries:    make([]entryResponse, 0, len(entries)),
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryResponse{
			ID: e.ID, Module: e.Module, RecordID: e.RecordID,
			Action: e.Action, ActorID: e.ActorID, Detail: e.Detail, At: e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func parseFilter(r *http.Request) (TimelineFilter, error) {
	q := r.URL.Query()
	filter := TimelineFilter{Module: q.Get("module")}
	if raw := q.Get("record"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.RecordID = id
	}
	if raw := q.Get("actor"); raw != "" {
		actor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.ActorID = actor
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(key); raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, err
			}
			*dst = at
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	return filter, nil
}
