package dashapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/feedforward/internal/actions"
)

const maxActionBytes = 16 << 10

type actionsResponse struct {
	Actions []actions.Info `json:"actions"`
}

func (a *API) handleListActions(w http.ResponseWriter, _ *http.Request) {
	list := a.actions.List()
	if list == nil {
		list = []actions.Info{}
	}
	writeJSON(w, http.StatusOK, actionsResponse{Actions: list})
}

// handleRunAction runs a named action. The body is an optional JSON object
// of string parameters.
func (a *API) handleRunAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("feedforward.action", name))

	params := map[string]string{}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBytes)).Decode(&params)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	out, err := a.actions.Execute(r.Context(), name, params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
