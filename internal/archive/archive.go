// Package archive keeps an append-only history of committed batches.
package archive

import (
	"context"
	"time"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// Kind is how a batch entered the dashboard.
type Kind string

const (
	KindSingle Kind = "single"
	KindCSV    Kind = "csv"
)

// Batch is one committed result set.
type Batch struct {
	ID        string                  `json:"id"`
	Kind      Kind                    `json:"kind"`
	CreatedAt time.Time               `json:"created_at"`
	Total     int                     `json:"total"`
	Failed    int                     `json:"failed"`
	Dropped   int                     `json:"dropped,omitempty"`
	Results   []feedback.ScoredResult `json:"results"`
}

// Store is the persistence interface for batch history.
type Store interface {
	Put(ctx context.Context, b *Batch) error
	Get(ctx context.Context, id string) (*Batch, bool, error)
	Recent(ctx context.Context, n int) ([]*Batch, error)
}
