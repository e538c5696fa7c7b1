package sink

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
	"github.com/JakeFAU/preprint-crawler/internal/metrics"
)

// Named is a sink with a label.
type Named interface {
	ingest.RecordSink
	Name() string
}

// Fanout writes to a primary sink and best-effort to secondaries. Only a
// primary failure fails the append.
type Fanout struct {
	primary     Named
	secondaries []Named
	logger      *zap.Logger
}

// NewFanout creates a fanout sink.
func NewFanout(primary Named, logger *zap.Logger, secondaries ...Named) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{primary: primary, secondaries: secondaries, logger: logger}
}

// Append implements ingest.RecordSink.
func (f *Fanout) Append(ctx context.Context, rec ingest.Record) error {
	if err := f.primary.Append(ctx, rec); err != nil {
		metrics.ObserveSinkFailure(f.primary.Name())
		return err
	}
	for _, s := range f.secondaries {
		if err := s.Append(ctx, rec); err != nil {
			metrics.ObserveSinkFailure(s.Name())
			f.logger.Warn("secondary sink failed",
				zap.String("sink", s.Name()),
				zap.String("source", rec.Source),
				zap.String("item", rec.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	errs := []error{f.primary.Close()}
	for _, s := range f.secondaries {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
