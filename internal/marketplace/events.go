package marketplace

import (
	"context"
	"errors"

	"ms-ticket-market/internal/models"
)

// Publisher receives ticket events after the operation has committed.
type Publisher interface {
	PublishTicketEvent(ctx context.Context, event models.TicketEvent) error
}

// Publishers fans one event out to every publisher, continuing past
// failures.
type Publishers []Publisher

func (p Publishers) PublishTicketEvent(ctx context.Context, event models.TicketEvent) error {
	var errs []error
	for _, publisher := range p {
		if publisher == nil {
			continue
		}
		if err := publisher.PublishTicketEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
