// Package dashapi exposes the dashboard service over HTTP.
package dashapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/feedforward/internal/actions"
	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/authmw"
	"github.com/linnemanlabs/feedforward/internal/dashboard"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/report"
	"github.com/linnemanlabs/feedforward/internal/results"
	"github.com/linnemanlabs/feedforward/internal/stages"
)

// DefaultMaxUpload bounds CSV uploads when Options.MaxUploadBytes is zero.
const DefaultMaxUpload = 4 << 20

// DashboardService defines the business operations dashapi needs.
type DashboardService interface {
	Submit(ctx context.Context, text string) (*dashboard.SubmitResult, error)
	ProcessCSV(ctx context.Context, r io.Reader) (*dashboard.BatchSummary, error)
	View(f feedback.Filter, sortByPriority bool) results.View
	Matrix() []results.Point
	Workflow() stages.State
	Export(format string) (*report.Report, error)
	Batch(ctx context.Context, id string) (*archive.Batch, bool, error)
	Recent(ctx context.Context, n int) ([]*archive.Batch, error)
}

// ActionRunner lists and runs named actions.
type ActionRunner interface {
	List() []actions.Info
	Execute(ctx context.Context, name string, params map[string]string) (*actions.Output, error)
}

// Options tunes the API.
type Options struct {
	// APIToken guards the action endpoints. Empty disables the check.
	APIToken string

	// MaxUploadBytes bounds CSV uploads. Zero means DefaultMaxUpload.
	MaxUploadBytes int64
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       DashboardService
	actions   ActionRunner
	token     string
	maxUpload int64
}

// New creates a new API handler.
func New(logger log.Logger, svc DashboardService, acts ActionRunner, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("dashboard service is required"))
	}
	if acts == nil {
		panic(xerrors.New("action runner is required"))
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &API{
		logger:    logger,
		svc:       svc,
		actions:   acts,
		token:     opts.APIToken,
		maxUpload: maxUpload,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/feedback", a.handleSubmit)
		r.Post("/feedback/csv", a.handleUploadCSV)
		r.Get("/results", a.handleResults)
		r.Get("/matrix", a.handleMatrix)
		r.Get("/workflow", a.handleWorkflow)
		r.Get("/export", a.handleExport)
		r.Get("/batches", a.handleRecentBatches)
		r.Get("/batches/{id}", a.handleGetBatch)
		r.Get("/actions", a.handleListActions)
		r.With(authmw.BearerToken(a.token)).Post("/actions/{name}", a.handleRunAction)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code. Internal errors are logged and
// their text withheld.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, feedback.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(err)})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
	case errors.Is(err, feedback.ErrNetwork):
		a.logger.Warn(r.Context(), "upstream call failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream service unavailable"})
	case errors.Is(err, actions.ErrUnknownAction):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		a.logger.Error(r.Context(), err, "request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func validationMessage(err error) string {
	var ve *feedback.ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	return err.Error()
}
