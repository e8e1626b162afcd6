package dashboard

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/classifier"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/ingest"
	"github.com/linnemanlabs/feedforward/internal/report"
	"github.com/linnemanlabs/feedforward/internal/results"
	"github.com/linnemanlabs/feedforward/internal/stages"
)

const (
	// SourceManual and SourceCSV label results without a source column.
	SourceManual = "manual"
	SourceCSV    = "csv"

	haltReason   = "classification failed"
	notifyBudget = 15 * time.Second
)

// Classifier classifies feedback text.
type Classifier interface {
	Classify(ctx context.Context, text string) (feedback.Result, error)
	ClassifyBatch(ctx context.Context, records []feedback.Record) classifier.Batch
}

// Notifier is told about every committed batch.
type Notifier interface {
	Notify(ctx context.Context, b *archive.Batch) error
}

// Options configures a Service. Zero values are usable.
type Options struct {
	Archive    archive.Store
	Notifier   Notifier
	Metrics    *Metrics
	Logger     log.Logger
	TextColumn string
	Now        func() time.Time
}

// SubmitResult is the outcome of one manual submission.
type SubmitResult struct {
	BatchID   string                `json:"batch_id"`
	Committed bool                  `json:"committed"`
	Result    feedback.ScoredResult `json:"result"`
}

// BatchSummary is the outcome of one CSV upload.
type BatchSummary struct {
	BatchID    string        `json:"batch_id"`
	Committed  bool          `json:"committed"`
	TextColumn string        `json:"text_column"`
	Total      int           `json:"total"`
	Failed     int           `json:"failed"`
	Dropped    int           `json:"dropped"`
	Skipped    []ingest.Skip `json:"skipped,omitempty"`
}

// Service is the business boundary for dashboard operations.
type Service struct {
	classifier Classifier
	results    *results.Store
	seq        *stages.Sequencer
	archive    archive.Store
	notifier   Notifier
	metrics    *Metrics
	logger     log.Logger
	textColumn string
	now        func() time.Time

	wg sync.WaitGroup
}

// NewService creates a new dashboard service.
func NewService(c Classifier, store *results.Store, seq *stages.Sequencer, opts Options) *Service {
	s := &Service{
		classifier: c,
		results:    store,
		seq:        seq,
		archive:    opts.Archive,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		textColumn: opts.TextColumn,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Close waits for pending notifications and stops the stage sequencer.
func (s *Service) Close() {
	s.wg.Wait()
	s.seq.Stop()
}

// Submit classifies one piece of feedback and, unless a newer submission
// started meanwhile, makes it the current result set. A failed call leaves
// the previous results in place.
func (s *Service) Submit(ctx context.Context, text string) (*SubmitResult, error) {
	if strings.TrimSpace(text) == "" {
		s.metrics.submission(string(archive.KindSingle), "invalid")
		return nil, feedback.Invalid("please enter feedback")
	}

	gen := s.begin()

	res, err := s.classifier.Classify(ctx, text)
	if err != nil {
		s.results.Abort(gen)
		s.seq.Fail(gen, haltReason)
		s.metrics.submission(string(archive.KindSingle), "network_error")
		s.logger.Warn(ctx, "submit classify failed", "error", err)
		return nil, err
	}

	scored := []feedback.ScoredResult{feedback.Scored(res, SourceManual, s.today())}
	id, committed := s.commit(ctx, gen, archive.KindSingle, scored, 0, 0)

	return &SubmitResult{BatchID: id, Committed: committed, Result: scored[0]}, nil
}

// ProcessCSV classifies every row of an upload and makes the batch the
// current result set. Rows that fail to classify are kept as Error
// sentinels; only an upload with no usable rows is rejected.
func (s *Service) ProcessCSV(ctx context.Context, r io.Reader) (*BatchSummary, error) {
	rows, err := ingest.ParseRows(r, ingest.Options{TextColumn: s.textColumn})
	if err != nil {
		s.metrics.submission(string(archive.KindCSV), "invalid")
		return nil, err
	}
	if len(rows.Records) == 0 {
		s.metrics.submission(string(archive.KindCSV), "invalid")
		return nil, feedback.Invalid("no feedback rows found in the uploaded file")
	}

	gen := s.begin()

	batch := s.classifier.ClassifyBatch(ctx, rows.Records)

	today := s.today()
	scored := make([]feedback.ScoredResult, len(batch.Results))
	for i, res := range batch.Results {
		rec := rows.Records[i]
		scored[i] = feedback.Scored(res, orDefault(rec.Field("source"), SourceCSV), orDefault(rec.Field("date"), today))
	}

	id, committed := s.commit(ctx, gen, archive.KindCSV, scored, batch.Failed, rows.Dropped)
	if batch.Partial() {
		s.logger.Warn(ctx, "batch partially failed", "batch_id", id, "failed", batch.Failed, "total", len(scored))
	}

	return &BatchSummary{
		BatchID:    id,
		Committed:  committed,
		TextColumn: rows.TextColumn,
		Total:      len(scored),
		Failed:     batch.Failed,
		Dropped:    rows.Dropped,
		Skipped:    rows.Skipped,
	}, nil
}

// begin starts a workflow cycle and opens the result generation with the
// same number. If a newer cycle started in between, the result generation is
// refused and the submission can only end superseded.
func (s *Service) begin() uint64 {
	gen := s.seq.Start()
	s.results.BeginAt(gen)
	return gen
}

func (s *Service) commit(ctx context.Context, gen uint64, kind archive.Kind, scored []feedback.ScoredResult, failed, dropped int) (string, bool) {
	id := ulid.Make().String()
	L := s.logger.With("batch_id", id, "kind", kind)

	ok := s.results.Commit(gen, id, scored)
	if !ok {
		s.metrics.superseded()
		s.metrics.submission(string(kind), "superseded")
		L.Info(ctx, "results superseded by a newer submission")
		return id, false
	}

	s.seq.Finish(gen)
	s.metrics.submission(string(kind), "ok")
	s.metrics.committed(len(scored), failed, dropped)
	L.Info(ctx, "results committed", "total", len(scored), "failed", failed, "dropped", dropped)

	b := &archive.Batch{
		ID:        id,
		Kind:      kind,
		CreatedAt: s.now(),
		Total:     len(scored),
		Failed:    failed,
		Dropped:   dropped,
		Results:   scored,
	}
	s.record(context.WithoutCancel(ctx), L, b)
	return id, true
}

// record archives b and hands it to the notifier. Failures are logged only.
func (s *Service) record(ctx context.Context, L log.Logger, b *archive.Batch) {
	if s.archive != nil {
		if err := s.archive.Put(ctx, b); err != nil {
			s.metrics.sideEffectFailed("archive")
			L.Error(ctx, err, "failed to archive batch")
		}
	}

	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(ctx, notifyBudget)
		defer cancel()
		if err := s.notifier.Notify(nctx, b); err != nil {
			s.metrics.sideEffectFailed("notify")
			L.Error(nctx, err, "failed to send urgent digest")
		}
	}()
}

// View returns the current results narrowed by f, optionally ordered by
// descending priority score.
func (s *Service) View(f feedback.Filter, sortByPriority bool) results.View {
	return s.results.View(f, sortByPriority)
}

// Matrix returns the scatter points of the current results.
func (s *Service) Matrix() []results.Point {
	return s.results.Matrix()
}

// Workflow returns the stage state of the current cycle.
func (s *Service) Workflow() stages.State {
	return s.seq.State()
}

// Results returns the current result set in commit order.
func (s *Service) Results() []feedback.ScoredResult {
	return s.results.Snapshot().Results
}

// Export renders the current results, highest priority first.
func (s *Service) Export(format string) (*report.Report, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return report.Render(feedback.SortByPriority(s.Results()), f, s.now())
}

// Batch retrieves an archived batch by ID.
func (s *Service) Batch(ctx context.Context, id string) (*archive.Batch, bool, error) {
	if s.archive == nil {
		return nil, false, nil
	}
	return s.archive.Get(ctx, id)
}

// Recent lists up to n archived batches, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]*archive.Batch, error) {
	if s.archive == nil {
		return nil, nil
	}
	return s.archive.Recent(ctx, n)
}

func (s *Service) today() string {
	return s.now().Format(time.DateOnly)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
