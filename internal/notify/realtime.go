package notify

import (
	"context"

	"abuseflow/internal/broadcast"
	"abuseflow/pkg/models"
)

// RealtimeChannel pushes events onto the live broadcaster feeding connected
// stream subscribers. Publishing is non-blocking, so Send cannot fail once the
// channel is enabled.
type RealtimeChannel struct {
	broadcaster *broadcast.Broadcaster
	enabled     bool
}

func NewRealtimeChannel(b *broadcast.Broadcaster, enabled bool) *RealtimeChannel {
	return &RealtimeChannel{broadcaster: b, enabled: enabled}
}

func (c *RealtimeChannel) Name() string  { return "realtime" }
func (c *RealtimeChannel) Enabled() bool { return c.enabled }

func (c *RealtimeChannel) Send(ctx context.Context, event models.TicketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.broadcaster.Publish(event)
	return nil
}
