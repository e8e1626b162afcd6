package dashapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/feedforward/internal/actions"
	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/dashboard"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/ingest"
	"github.com/linnemanlabs/feedforward/internal/report"
	"github.com/linnemanlabs/feedforward/internal/results"
	"github.com/linnemanlabs/feedforward/internal/stages"
)

// fakeService records calls and returns canned values.
type fakeService struct {
	mu sync.Mutex

	submitErr error
	csvErr    error
	csvBodies []string
	texts     []string

	view      results.View
	viewCalls []viewCall
	points    []results.Point
	workflow  stages.State
	exportErr error
	batches   map[string]*archive.Batch
	recentN   int
}

type viewCall struct {
	filter feedback.Filter
	sorted bool
}

func (f *fakeService) Submit(_ context.Context, text string) (*dashboard.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if strings.TrimSpace(text) == "" {
		return nil, feedback.Invalid("please enter feedback")
	}
	return &dashboard.SubmitResult{
		BatchID:   "01J00000000000000000000000",
		Committed: true,
		Result: feedback.Scored(feedback.Result{
			Feedback: text,
			Urgency:  feedback.High,
			Impact:   feedback.High,
		}, "manual", "2026-03-02"),
	}, nil
}

func (f *fakeService) ProcessCSV(_ context.Context, r io.Reader) (*dashboard.BatchSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	f.mu.Lock()
	f.csvBodies = append(f.csvBodies, string(data))
	csvErr := f.csvErr
	f.mu.Unlock()
	if csvErr != nil {
		return nil, csvErr
	}

	rows, err := ingest.ParseRows(bytes.NewReader(data), ingest.Options{})
	if err != nil {
		return nil, err
	}
	if len(rows.Records) == 0 {
		return nil, feedback.Invalid("no feedback rows found in the uploaded file")
	}
	return &dashboard.BatchSummary{
		BatchID:    "01J00000000000000000000001",
		Committed:  true,
		TextColumn: rows.TextColumn,
		Total:      len(rows.Records),
		Dropped:    rows.Dropped,
	}, nil
}

func (f *fakeService) View(fl feedback.Filter, sorted bool) results.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewCalls = append(f.viewCalls, viewCall{filter: fl, sorted: sorted})
	v := f.view
	v.Filter = fl
	v.Sorted = sorted
	return v
}

func (f *fakeService) Matrix() []results.Point { return f.points }

func (f *fakeService) Workflow() stages.State { return f.workflow }

func (f *fakeService) Export(format string) (*report.Report, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	fm, err := report.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return report.Render(nil, fm, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
}

func (f *fakeService) Batch(_ context.Context, id string) (*archive.Batch, bool, error) {
	b, ok := f.batches[id]
	return b, ok, nil
}

func (f *fakeService) Recent(_ context.Context, n int) ([]*archive.Batch, error) {
	f.mu.Lock()
	f.recentN = n
	f.mu.Unlock()
	out := make([]*archive.Batch, 0, len(f.batches))
	for _, b := range f.batches {
		out = append(out, b)
	}
	return out, nil
}

type fakeActions struct {
	mu    sync.Mutex
	calls []map[string]string
	err   error
}

func (f *fakeActions) List() []actions.Info {
	return []actions.Info{{Name: "send_slack", Description: "Send the report to Slack", Params: []string{"webhook_url"}}}
}

func (f *fakeActions) Execute(_ context.Context, name string, params map[string]string) (*actions.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "send_slack" {
		return nil, fmt.Errorf("%w: %s", actions.ErrUnknownAction, name)
	}
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &actions.Output{Message: "sent"}, nil
}

func newTestRouter(t *testing.T, opts Options) (chi.Router, *fakeService, *fakeActions) {
	t.Helper()
	svc := &fakeService{view: results.View{Status: results.StatusEmpty}}
	acts := &fakeActions{}
	api := New(nil, svc, acts, opts)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, svc, acts
}

func serve(r http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &fakeService{}, &fakeActions{}, Options{})
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
	if api.maxUpload != DefaultMaxUpload {
		t.Errorf("maxUpload = %d, want %d", api.maxUpload, DefaultMaxUpload)
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), &fakeService{}, &fakeActions{}, Options{MaxUploadBytes: 10})
	if api.maxUpload != 10 {
		t.Errorf("maxUpload = %d, want 10", api.maxUpload)
	}
}

func TestNew_NilDependencies_Panic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		svc  DashboardService
		acts ActionRunner
	}{
		{"nil service", nil, &fakeActions{}},
		{"nil actions", &fakeService{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("New did not panic")
				}
			}()
			New(nil, tt.svc, tt.acts, Options{})
		})
	}
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, Options{})

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/v1/feedback", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/feedback/csv", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/results", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/v1/matrix", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/workflow", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/export", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/actions/send_slack", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/results", http.StatusOK},
		{http.MethodGet, "/api/v1/matrix", http.StatusOK},
		{http.MethodGet, "/api/v1/workflow", http.StatusOK},
		{http.MethodGet, "/api/v1/actions", http.StatusOK},
		{http.MethodGet, "/api/v1/batches", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := serve(r, tt.method, tt.path, "", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, Options{})

	for _, path := range []string{"/", "/api/v1", "/api/v2/results", "/api/v1/unknown"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			rec := serve(r, http.MethodGet, path, "", "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Single submission

func TestHandleSubmit_OK(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})
	rec := serve(r, http.MethodPost, "/api/v1/feedback", "application/json", `{"text":"The app crashes on login"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body)
	}

	var resp struct {
		BatchID   string                `json:"batch_id"`
		Committed bool                  `json:"committed"`
		Result    feedback.ScoredResult `json:"result"`
		View      results.View          `json:"view"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Committed || resp.BatchID == "" {
		t.Errorf("committed=%v batch=%q, want committed batch", resp.Committed, resp.BatchID)
	}
	if resp.Result.PriorityScore != 9 {
		t.Errorf("priority_score = %d, want 9", resp.Result.PriorityScore)
	}
	if diff := cmp.Diff([]string{"The app crashes on login"}, svc.texts); diff != "" {
		t.Errorf("submitted texts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]viewCall{{filter: feedback.NoFilter}}, svc.viewCalls, cmp.AllowUnexported(viewCall{})); diff != "" {
		t.Errorf("view calls (-want +got):\n%s", diff)
	}
}

func TestHandleSubmit_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantError  string
	}{
		{"invalid json", `{"text":`, nil, http.StatusBadRequest, "invalid JSON payload"},
		{"blank text", `{"text":"   "}`, nil, http.StatusBadRequest, "please enter feedback"},
		{"network", `{"text":"slow"}`, fmt.Errorf("classify: %w", feedback.ErrNetwork), http.StatusBadGateway, "upstream service unavailable"},
		{"internal", `{"text":"slow"}`, errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, svc, _ := newTestRouter(t, Options{})
			svc.submitErr = tt.svcErr
			rec := serve(r, http.MethodPost, "/api/v1/feedback", "application/json", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeError(t, rec); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}
}

// CSV upload

func TestHandleUploadCSV_RawBody(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})
	body := "feedback,source\nlogin broken,email\n,email\nslow search,chat\n"
	rec := serve(r, http.MethodPost, "/api/v1/feedback/csv", "text/csv", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body)
	}

	var resp dashboard.BatchSummary
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || resp.Dropped != 1 || resp.TextColumn != "feedback" {
		t.Errorf("summary = %+v, want total=2 dropped=1 text_column=feedback", resp)
	}
	if diff := cmp.Diff([]string{body}, svc.csvBodies); diff != "" {
		t.Errorf("csv bodies (-want +got):\n%s", diff)
	}
}

func TestHandleUploadCSV_Multipart(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "feedback.csv")
	if err != nil {
		t.Fatal(err)
	}
	csv := "text\ncheckout fails\n"
	if _, err := io.WriteString(part, csv); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	rec := serve(r, http.MethodPost, "/api/v1/feedback/csv", mw.FormDataContentType(), buf.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body)
	}
	if diff := cmp.Diff([]string{csv}, svc.csvBodies); diff != "" {
		t.Errorf("csv bodies (-want +got):\n%s", diff)
	}
}

func TestHandleUploadCSV_MultipartMissingFile(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	rec := serve(r, http.MethodPost, "/api/v1/feedback/csv", mw.FormDataContentType(), buf.String())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(svc.csvBodies) != 0 {
		t.Errorf("ProcessCSV called %d times, want 0", len(svc.csvBodies))
	}
}

func TestHandleUploadCSV_TooLarge(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, Options{MaxUploadBytes: 32})
	body := "text\n" + strings.Repeat("this row is long\n", 10)
	rec := serve(r, http.MethodPost, "/api/v1/feedback/csv", "text/csv", body)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleUploadCSV_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty", "", http.StatusBadRequest},
		{"header only", "feedback\n", http.StatusBadRequest},
		{"no text column", "id,score\n1,2\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _, _ := newTestRouter(t, Options{})
			rec := serve(r, http.MethodPost, "/api/v1/feedback/csv", "text/csv", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// Views

func TestHandleResults_Query(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query      string
		wantStatus int
		wantCall   viewCall
	}{
		{"", http.StatusOK, viewCall{filter: feedback.NoFilter}},
		{"?urgency=High", http.StatusOK, viewCall{filter: feedback.Filter{Urgency: "High", Impact: feedback.All}}},
		{"?urgency=high&impact=low&sort=priority", http.StatusOK, viewCall{filter: feedback.Filter{Urgency: "High", Impact: "Low"}, sorted: true}},
		{"?sort=none", http.StatusOK, viewCall{filter: feedback.NoFilter}},
		{"?urgency=urgent", http.StatusBadRequest, viewCall{}},
		{"?sort=date", http.StatusBadRequest, viewCall{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()

			r, svc, _ := newTestRouter(t, Options{})
			rec := serve(r, http.MethodGet, "/api/v1/results"+tt.query, "", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if len(svc.viewCalls) != 0 {
					t.Errorf("View called on rejected query")
				}
				return
			}
			if diff := cmp.Diff([]viewCall{tt.wantCall}, svc.viewCalls, cmp.AllowUnexported(viewCall{})); diff != "" {
				t.Errorf("view calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleMatrix_EmptyIsArray(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, Options{})
	rec := serve(r, http.MethodGet, "/api/v1/matrix", "", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"points":[]}` {
		t.Errorf("body = %s, want empty points array", got)
	}
}

func TestHandleWorkflow_IncludesPhase(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})
	svc.workflow = stages.State{Gen: 3, Input: true, Halted: true, Reason: "classification failed", Log: []string{"x"}}

	rec := serve(r, http.MethodGet, "/api/v1/workflow", "", "")
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["phase"] != string(stages.PhaseHalted) {
		t.Errorf("phase = %v, want %q", resp["phase"], stages.PhaseHalted)
	}
	if resp["reason"] != "classification failed" {
		t.Errorf("reason = %v", resp["reason"])
	}
	if resp["input"] != true {
		t.Errorf("input = %v, want true", resp["input"])
	}
}

func TestHandleExport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query           string
		wantStatus      int
		wantType        string
		wantDisposition string
	}{
		{"", http.StatusOK, "application/json", `attachment; filename="weekly_report_2026-03-02.json"`},
		{"?format=md", http.StatusOK, "text/markdown; charset=utf-8", `attachment; filename="weekly_report_2026-03-02.md"`},
		{"?format=pdf", http.StatusBadRequest, "application/json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()

			r, _, _ := newTestRouter(t, Options{})
			rec := serve(r, http.MethodGet, "/api/v1/export"+tt.query, "", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
			if got := rec.Header().Get("Content-Disposition"); got != tt.wantDisposition {
				t.Errorf("Content-Disposition = %q, want %q", got, tt.wantDisposition)
			}
		})
	}
}

// Batches

func TestHandleBatches(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t, Options{})
	svc.batches = map[string]*archive.Batch{
		"b1": {ID: "b1", Kind: archive.KindCSV, Total: 2},
	}

	rec := serve(r, http.MethodGet, "/api/v1/batches/b1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET batch = %d, want 200", rec.Code)
	}
	var got archive.Batch
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "b1" || got.Kind != archive.KindCSV {
		t.Errorf("batch = %+v", got)
	}

	rec = serve(r, http.MethodGet, "/api/v1/batches/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET missing batch = %d, want 404", rec.Code)
	}
}

func TestHandleRecentBatches_Limit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query      string
		wantStatus int
		wantN      int
	}{
		{"", http.StatusOK, defaultRecent},
		{"?limit=3", http.StatusOK, 3},
		{"?limit=5000", http.StatusOK, maxRecent},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			r, svc, _ := newTestRouter(t, Options{})
			rec := serve(r, http.MethodGet, "/api/v1/batches"+tt.query, "", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if svc.recentN != tt.wantN {
				t.Errorf("Recent n = %d, want %d", svc.recentN, tt.wantN)
			}
		})
	}
}

// Actions

func TestHandleListActions(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t, Options{})
	rec := serve(r, http.MethodGet, "/api/v1/actions", "", "")

	var resp actionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []actions.Info{{Name: "send_slack", Description: "Send the report to Slack", Params: []string{"webhook_url"}}}
	if diff := cmp.Diff(want, resp.Actions); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
}

func TestHandleRunAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		auth       string
		body       string
		actErr     error
		wantStatus int
	}{
		{"no token", "/api/v1/actions/send_slack", "", `{}`, nil, http.StatusUnauthorized},
		{"wrong token", "/api/v1/actions/send_slack", "Bearer nope", `{}`, nil, http.StatusUnauthorized},
		{"ok", "/api/v1/actions/send_slack", "Bearer s3cret", `{"webhook_url":"https://hooks.example"}`, nil, http.StatusOK},
		{"empty body", "/api/v1/actions/send_slack", "Bearer s3cret", ``, nil, http.StatusOK},
		{"bad body", "/api/v1/actions/send_slack", "Bearer s3cret", `[1,2]`, nil, http.StatusBadRequest},
		{"unknown", "/api/v1/actions/launch", "Bearer s3cret", `{}`, nil, http.StatusNotFound},
		{"missing param", "/api/v1/actions/send_slack", "Bearer s3cret", `{}`, feedback.Invalid("missing webhook_url"), http.StatusBadRequest},
		{"upstream down", "/api/v1/actions/send_slack", "Bearer s3cret", `{}`, feedback.ErrNetwork, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, _, acts := newTestRouter(t, Options{APIToken: "s3cret"})
			acts.err = tt.actErr

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body=%s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus == http.StatusUnauthorized && len(acts.calls) != 0 {
				t.Errorf("action executed without valid token")
			}
		})
	}
}

// Tracing

func TestHandleUploadCSV_SpanAttributes(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r, _, _ := newTestRouter(t, Options{})

	ctx, span := tp.Tracer("dashapi-test").Start(context.Background(), "upload")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/csv", strings.NewReader("text\na\n\nb\n"))
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	span.End()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if v := got["feedforward.batch.size"]; v.AsInt64() != 2 {
		t.Errorf("feedforward.batch.size = %v, want 2", v.Emit())
	}
	if v := got["feedforward.batch.committed"]; !v.AsBool() {
		t.Errorf("feedforward.batch.committed = %v, want true", v.Emit())
	}
}

// Fuzz

func FuzzUploadCSV(f *testing.F) {
	api := New(nil, &fakeService{}, &fakeActions{}, Options{MaxUploadBytes: 1 << 16})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	seeds := []struct {
		body        []byte
		contentType string
	}{
		{nil, ""},
		{[]byte("feedback\nhello\n"), "text/csv"},
		{[]byte("a;b\n1;2\n"), "text/csv"},
		{[]byte("\"unterminated\nx"), "text/csv"},
		{[]byte("feedback,source\n\"quoted, comma\",web\n"), "text/csv"},
		{[]byte("--x\r\n\r\n"), "multipart/form-data; boundary=x"},
		{[]byte("garbage"), "multipart/form-data"},
		{[]byte("\x00\x01\x02\xff\xfe"), "application/octet-stream"},
	}
	for _, s := range seeds {
		f.Add(s.body, s.contentType)
	}

	f.Fuzz(func(t *testing.T, body []byte, contentType string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/csv", bytes.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		default:
			t.Errorf("POST csv len=%d content-type=%q = %d, want 200, 400 or 413",
				len(body), contentType, rec.Code)
		}
	})
}
