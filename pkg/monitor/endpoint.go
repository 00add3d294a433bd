package monitor

import (
	"context"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

// Endpoint is the client supplied receiver of notifications. Notify returns
// nil only once the client acknowledged the batch.
type Endpoint interface {
	Notify(ctx context.Context, id model.WatchID, events []model.NotificationEvent) error
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(ctx context.Context, id model.WatchID, events []model.NotificationEvent) error

func (f EndpointFunc) Notify(ctx context.Context, id model.WatchID, events []model.NotificationEvent) error {
	return f(ctx, id, events)
}
