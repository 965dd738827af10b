package domain

import (
	"context"
	"time"
)

// DedupTTL is how long a processed-event marker stays valid.
const DedupTTL = 300 * time.Second

// DedupStore suppresses repeat deliveries of the same event. The store's
// check-then-set is assumed atomic; a benign race between two concurrent
// deliveries costs at most one duplicate publish within the TTL window.
type DedupStore interface {
	// Seen marks key for ttl and reports whether it was already present
	// and unexpired.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// EventKey keys on the provider's globally unique event id. Checked before
// classification to absorb provider-side redelivery.
func EventKey(eventID string) string { return "eid:" + eventID }

// PostKey keys on one physical post (channel + timestamp). Checked only
// after an event is confirmed actionable, so a mention event and its
// sibling message event cannot both publish.
func PostKey(channel, ts string) string { return "cts:" + channel + ":" + ts }
