package classifier

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// Batch is the settled outcome of classifying a set of records.
type Batch struct {
	// Results is index-aligned with the input records.
	Results []feedback.Result

	// Failed counts sentinel results.
	Failed int
}

// Partial reports whether some, but not all, records failed.
func (b Batch) Partial() bool {
	return b.Failed > 0 && b.Failed < len(b.Results)
}

// ClassifyBatch classifies every record with at most MaxInFlight requests
// outstanding. It returns once every record has settled. Failures become
// sentinel results in place; they never stop the rest of the batch. When
// ctx is cancelled no further requests start and the remaining records are
// recorded as sentinels.
func (c *Client) ClassifyBatch(ctx context.Context, records []feedback.Record) Batch {
	results := make([]feedback.Result, len(records))
	failed := make([]bool, len(records))

	g := new(errgroup.Group)
	g.SetLimit(c.maxInFlight)

	for i, rec := range records {
		if ctx.Err() != nil {
			results[i] = feedback.Sentinel(rec.Text)
			failed[i] = true
			continue
		}
		g.Go(func() error {
			c.inFlight(1)
			defer c.inFlight(-1)

			res, err := c.Classify(ctx, rec.Text)
			if err != nil {
				failed[i] = true
				if errors.Is(err, feedback.ErrValidation) {
					res = feedback.Sentinel(rec.Text)
				}
				c.logger.Warn(ctx, "batch classify failed", "line", rec.Line, "error", err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	b := Batch{Results: results}
	for _, f := range failed {
		if f {
			b.Failed++
		}
	}
	return b
}

func (c *Client) inFlight(delta int) {
	if c.hooks.OnInFlight != nil {
		c.hooks.OnInFlight(delta)
	}
}
