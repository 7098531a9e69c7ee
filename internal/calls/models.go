package calls

import (
	"strings"
	"time"
)

// Record is one stored call, written once by reconciliation.
//
// Multi-tenant invariant: TenantID is required on every row.
// VendorCallID is unique; a second write for the same vendor call is a no-op.
type Record struct {
	ID           string `json:"id"`
	TenantID     string `json:"restaurant_id"`
	VendorCallID string `json:"vendor_call_id"`
	PhoneNumber  string `json:"phone_number"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is nil when neither the vendor nor the timestamps provide it.
	DurationSeconds *int `json:"duration_seconds,omitempty"`

	Caller   string    `json:"caller,omitempty"`
	Outcome  string    `json:"outcome"`
	Messages []Message `json:"messages"`
	Cost     *float64  `json:"cost,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Message is one transcript turn. Only user and assistant turns are kept.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	StatusEnded     = "ended"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IsTerminal reports whether a vendor status means the call is over.
func IsTerminal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusEnded, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func keepRole(role string) bool {
	switch role {
	case "user", "assistant", "bot":
		return true
	default:
		return false
	}
}
