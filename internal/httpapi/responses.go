package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
)

type errorBody struct {
	Kind    apierr.Kind    `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *apierr.Error) {
	writeJSON(w, err.HTTPStatus(), errorBody{Kind: err.Kind, Message: err.Message, Details: err.Details})
}

func internalErr(recovered any) *apierr.Error {
	return apierr.New(apierr.Internal, fmt.Sprintf("panic: %v", recovered))
}

// taskAccepted is spec.md §6's shape for every mutating endpoint: "all
// mutating endpoints return 202 with a task id".
type taskAccepted struct {
	TaskID string `json:"task_id"`
}

func writeAccepted(w http.ResponseWriter, taskID string) {
	writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: taskID})
}
