package dashapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/feedforward/internal/dashboard"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/results"
)

const maxSubmitBytes = 64 << 10

type submitRequest struct {
	Text string `json:"text"`
}

type submitResponse struct {
	*dashboard.SubmitResult
	View results.View `json:"view"`
}

type uploadResponse struct {
	*dashboard.BatchSummary
	View results.View `json:"view"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	span := trace.SpanFromContext(r.Context())

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	res, err := a.svc.Submit(r.Context(), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("feedforward.batch.id", res.BatchID),
		attribute.Bool("feedforward.batch.committed", res.Committed),
		attribute.Int("feedforward.result.score", res.Result.PriorityScore),
	)

	writeJSON(w, http.StatusOK, submitResponse{
		SubmitResult: res,
		View:         a.svc.View(feedback.NoFilter, false),
	})
}

// handleUploadCSV accepts either a multipart form with a "file" part or a
// raw CSV request body.
func (a *API) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	span := trace.SpanFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			a.writeError(w, r, uploadError(err))
			return
		}
		defer file.Close()
		body = file
	}

	sum, err := a.svc.ProcessCSV(r.Context(), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("feedforward.batch.id", sum.BatchID),
		attribute.Bool("feedforward.batch.committed", sum.Committed),
		attribute.Int("feedforward.batch.size", sum.Total),
		attribute.Int("feedforward.batch.failed", sum.Failed),
		attribute.Int("feedforward.batch.dropped", sum.Dropped),
	)

	writeJSON(w, http.StatusOK, uploadResponse{
		BatchSummary: sum,
		View:         a.svc.View(feedback.NoFilter, false),
	})
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return feedback.Invalid("please upload a CSV file")
}
