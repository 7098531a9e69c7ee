package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - restaurant_id is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID       string    `json:"id"`
	TenantID string    `json:"restaurant_id"`
	Type     EventType `json:"type"`

	// ActorUserID is empty for events raised with the vendor secret.
	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	// Target is the phone number or cache category the event is about.
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypePhoneMapped     EventType = "phone_mapped"
	EventTypeCacheInvalidate EventType = "cache_invalidated"
)
