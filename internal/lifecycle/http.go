package lifecycle

import (
	"net/http"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

var kindStatus = map[FailureKind]int{
	KindAlreadyExists:           http.StatusConflict,
	KindPredecessorNotValidated: http.StatusConflict,
	KindMaxAmendmentsReached:    http.StatusConflict,
	KindAlreadyValidated:        http.StatusConflict,
	KindIncompleteChildren:      http.StatusUnprocessableEntity,
	KindRecordLocked:            http.StatusConflict,
	KindNotValidated:            http.StatusConflict,
	KindNotFound:                http.StatusNotFound,
	KindStageOutOfRange:         http.StatusBadRequest,
}

// WriteProblem renders a transition refusal as an RFC7807 response and
// reports whether err was one. Incomplete-children refusals carry every
// failing entry in the fields array.
func WriteProblem(w http.ResponseWriter, err error) bool {
	te, ok := AsTransition(err)
	if !ok {
		return false
	}
	status, known := kindStatus[te.Kind]
	if !known {
		status = http.StatusConflict
	}
	if len(te.Missing) > 0 {
		fields := make([]any, 0, len(te.Missing))
		for _, f := range te.Missing {
			fields = append(fields, f)
		}
		httpx.ProblemWithFields(w, status, string(te.Kind), te.Detail, fields)
		return true
	}
	httpx.Problem(w, status, string(te.Kind), te.Detail)
	return true
}
