package dashapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/results"
	"github.com/linnemanlabs/feedforward/internal/stages"
)

const (
	defaultRecent = 10
	maxRecent     = 100
)

type matrixResponse struct {
	Points []results.Point `json:"points"`
}

type workflowResponse struct {
	stages.State
	Phase stages.Phase `json:"phase"`
}

type recentResponse struct {
	Batches []*archive.Batch `json:"batches"`
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := feedback.ParseFilter(q.Get("urgency"), q.Get("impact"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var sorted bool
	switch q.Get("sort") {
	case "", "none":
	case "priority":
		sorted = true
	default:
		a.writeError(w, r, feedback.Invalid("sort must be priority or none"))
		return
	}

	v := a.svc.View(f, sorted)
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("feedforward.view.status", string(v.Status)),
		attribute.Int("feedforward.view.matched", v.Matched),
	)
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleMatrix(w http.ResponseWriter, _ *http.Request) {
	pts := a.svc.Matrix()
	if pts == nil {
		pts = []results.Point{}
	}
	writeJSON(w, http.StatusOK, matrixResponse{Points: pts})
}

func (a *API) handleWorkflow(w http.ResponseWriter, _ *http.Request) {
	st := a.svc.Workflow()
	if st.Log == nil {
		st.Log = []string{}
	}
	writeJSON(w, http.StatusOK, workflowResponse{State: st, Phase: st.Phase()})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	rep, err := a.svc.Export(format)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("feedforward.export.format", format),
		attribute.Int("feedforward.export.bytes", len(rep.Body)),
	)

	w.Header().Set("Content-Type", rep.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.Body)
}

func (a *API) handleRecentBatches(w http.ResponseWriter, r *http.Request) {
	n := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			a.writeError(w, r, feedback.Invalid("limit must be a positive integer"))
			return
		}
		n = min(v, maxRecent)
	}

	batches, err := a.svc.Recent(r.Context(), n)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if batches == nil {
		batches = []*archive.Batch{}
	}
	writeJSON(w, http.StatusOK, recentResponse{Batches: batches})
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("feedforward.batch.id", id))

	b, ok, err := a.svc.Batch(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}
