package notify

import (
	"context"

	"abuseflow/pkg/models"
)

// Channel is one notification destination. Send is expected to honor the
// context deadline; the dispatcher enforces a per-channel timeout around it.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, event models.TicketEvent) error
}
