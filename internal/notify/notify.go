// Package notify delivers post-mutation events to an external consumer.
//
// Deliveries are fire-and-forget: the request pipeline reports a mutation
// and moves on, and a failed or slow delivery never affects the API
// response.
package notify

import (
	"context"
	"time"

	"github.com/portagehq/portage/internal/auth"
	"github.com/portagehq/portage/internal/metadata"
)

// Event describes one successful mutating action.
type Event struct {
	ID       string            `json:"id"`
	Time     time.Time         `json:"time"`
	Action   string            `json:"action"`
	Resource string            `json:"resource"`
	Provider string            `json:"provider"`
	Path     string            `json:"path"`
	Entity   *metadata.JSONAPI `json:"entity,omitempty"`
	Actor    auth.Identity     `json:"actor"`

	// Callback is the per-grant delivery destination. It routes the event
	// and never appears in the payload.
	Callback string `json:"-"`
}

// Notifier receives events after mutations commit. Implementations must not
// block the caller and must swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards all events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) {}

var _ Notifier = Nop{}
