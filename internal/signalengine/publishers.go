package signalengine

import (
	"context"
	"errors"

	"signal-engine/internal/model"
)

// Publishers fans one report out to several publishers. Every publisher is
// tried even when an earlier one fails; failures are joined.
type Publishers []model.ReportPublisher

// PublishReport implements model.ReportPublisher.
func (ps Publishers) PublishReport(ctx context.Context, r model.Report) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishReport(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (ps Publishers) Close() error {
	var errs []error
	for _, p := range ps {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
