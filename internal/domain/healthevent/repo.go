package healthevent

import (
	"context"
)

// Store persists health events. CreateEvents and ReplaceSeries are atomic:
// either every event is stored or none is.
type Store interface {
	CreateEvents(ctx context.Context, events []*HealthEvent) error
	DeleteEventSeries(ctx context.Context, referenceID string) (int64, error)
	ReplaceSeries(ctx context.Context, referenceID string, events []*HealthEvent) error
	ListByReference(ctx context.Context, referenceID string, limit, offset int) ([]*HealthEvent, int, error)
	ListInWindow(ctx context.Context, q WindowQuery, limit, offset int) ([]*HealthEvent, int, error)
}
