package ingest

import (
	"context"
	"iter"
	"time"
)

// Source is implemented by every adapter, whatever its transport.
type Source interface {
	// Name is the stable source label written on records and errors.
	Name() string
	// ListItems yields listing items for the date window. The sequence is
	// lazy: when the consumer stops pulling, the adapter stops working. A
	// non-nil error ends the sequence.
	ListItems(ctx context.Context, from, to time.Time) iter.Seq2[Item, error]
	// FetchItem downloads the item's artifacts and returns a record that
	// has not been normalized yet.
	FetchItem(ctx context.Context, item Item) (Record, error)
	// ParseAndNormalize extracts clean text and fills the derived fields.
	ParseAndNormalize(ctx context.Context, rec Record) (Record, error)
}

// RecordSink is an append-only writer of normalized records.
type RecordSink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}
