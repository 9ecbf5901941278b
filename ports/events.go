package ports

import (
	"context"

	"github.com/layer-3/murmur/core"
)

// EventPublisher publishes session events to observers outside the process.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event core.SessionEvent) error
}
