package bus

import (
	"context"

	"github.com/zorth44/sqlfluff-service/internal/events"
)

// Bus is the pub/sub transport between the control plane and workers.
// Delivery is at-least-once; consumers must tolerate duplicates.
type Bus interface {
	Publish(ctx context.Context, channel string, e events.Envelope) error
	// Subscribe consumes channel until ctx is cancelled, invoking onEvent for
	// every decodable envelope. It returns once the subscription is
	// established; decoding failures are logged and skipped.
	Subscribe(ctx context.Context, channel string, onEvent func(e events.Envelope)) error
	Close() error
}
