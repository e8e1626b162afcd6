// Package pgstore provides a PostgreSQL implementation of archive.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/feedback"
)

var tracer = otel.Tracer("github.com/linnemanlabs/feedforward/internal/archive/pgstore")

//go:embed schema.sql
var schema string

// Store persists batches in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// keeps ownership of pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Put inserts a batch and its results in one transaction. Re-putting an
// existing batch replaces its results.
func (s *Store) Put(ctx context.Context, b *archive.Batch) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("feedforward.batch.size", len(b.Results)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx, `INSERT INTO feedback_batches (id, kind, created_at, total, failed, dropped)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			kind    = EXCLUDED.kind,
			total   = EXCLUDED.total,
			failed  = EXCLUDED.failed,
			dropped = EXCLUDED.dropped`,
		b.ID, string(b.Kind), b.CreatedAt, b.Total, b.Failed, b.Dropped,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert batch: %w", err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM feedback_results WHERE batch_id = $1`, b.ID); err != nil {
		return fail(span, fmt.Errorf("clear results: %w", err))
	}

	if len(b.Results) > 0 {
		rows := make([][]any, len(b.Results))
		for i, r := range b.Results {
			rows[i] = []any{
				b.ID, i, r.Feedback, string(r.Urgency), string(r.Impact),
				r.Summary, r.Reason, r.PriorityScore, r.Source, r.Date,
			}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"feedback_results"},
			[]string{"batch_id", "seq", "feedback", "urgency", "impact", "summary", "reason", "priority_score", "source", "date"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fail(span, fmt.Errorf("copy results: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Get retrieves a batch with its results in original order.
func (s *Store) Get(ctx context.Context, id string) (*archive.Batch, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT id, kind, created_at, total, failed, dropped FROM feedback_batches WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if b == nil {
		return nil, false, nil
	}

	if err := s.loadResults(ctx, b); err != nil {
		return nil, false, fail(span, err)
	}
	return b, true, nil
}

// Recent returns up to n batches, newest first, with their results.
func (s *Store) Recent(ctx context.Context, n int) ([]*archive.Batch, error) {
	ctx, span := startSpan(ctx, "pgstore.Recent", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, created_at, total, failed, dropped FROM feedback_batches
		 ORDER BY created_at DESC, id DESC LIMIT $1`, n)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query batches: %w", err))
	}

	var out []*archive.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			rows.Close()
			return nil, fail(span, err)
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate batches: %w", err))
	}

	for _, b := range out {
		if err := s.loadResults(ctx, b); err != nil {
			return nil, fail(span, err)
		}
	}
	return out, nil
}

func (s *Store) loadResults(ctx context.Context, b *archive.Batch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT feedback, urgency, impact, summary, reason, priority_score, source, date
		 FROM feedback_results WHERE batch_id = $1 ORDER BY seq`, b.ID)
	if err != nil {
		return fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	b.Results = []feedback.ScoredResult{}
	for rows.Next() {
		var (
			r       feedback.ScoredResult
			urgency string
			impact  string
		)
		if err := rows.Scan(&r.Feedback, &urgency, &impact, &r.Summary, &r.Reason, &r.PriorityScore, &r.Source, &r.Date); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		r.Urgency = feedback.Category(urgency)
		r.Impact = feedback.Category(impact)
		b.Results = append(b.Results, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate results: %w", err)
	}
	return nil
}

// scanBatch returns (nil, nil) when no row is found.
func scanBatch(row pgx.Row) (*archive.Batch, error) {
	var (
		b    archive.Batch
		kind string
	)
	if err := row.Scan(&b.ID, &kind, &b.CreatedAt, &b.Total, &b.Failed, &b.Dropped); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.Kind = archive.Kind(kind)
	return &b, nil
}
