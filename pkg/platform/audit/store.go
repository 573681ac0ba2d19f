package audit

import "context"

// Store persists audit events. Append-only by contract; nothing in the
// engine ever edits or deletes a recorded event.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByDID(ctx context.Context, did string) ([]Event, error)
}
