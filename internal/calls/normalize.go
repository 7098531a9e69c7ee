package calls

import (
	"strings"
	"time"

	"restaurant-voice/internal/telephony"
)

// Normalize turns a vendor call into a Record for phone. TenantID, ID and
// CreatedAt are left for the caller.
func Normalize(c telephony.Call, phone string) Record {
	status := strings.ToLower(strings.TrimSpace(c.Status))

	r := Record{
		VendorCallID: c.ID,
		PhoneNumber:  phone,
		Caller:       caller(c),
		Outcome:      status,
		Messages:     filterMessages(c.Messages),
		Cost:         c.Cost.Ptr(),
	}
	if r.Outcome == "" {
		r.Outcome = StatusCompleted
	}

	r.StartedAt = parseTime(firstNonEmpty(c.StartedAt, c.CreatedAt))
	ended := c.EndedAt
	if ended == "" && IsTerminal(status) {
		ended = c.UpdatedAt
	}
	r.EndedAt = parseTime(ended)

	if c.Duration.Valid && c.Duration.Value != 0 {
		d := int(c.Duration.Value)
		r.DurationSeconds = &d
	} else if r.StartedAt != nil && r.EndedAt != nil {
		d := int(r.EndedAt.Sub(*r.StartedAt).Seconds())
		r.DurationSeconds = &d
	}
	return r
}

func caller(c telephony.Call) string {
	if c.From != "" {
		return c.From
	}
	if c.Customer != nil {
		return firstNonEmpty(c.Customer.Number, c.Customer.PhoneNumber)
	}
	return ""
}

func filterMessages(in []telephony.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if !keepRole(m.Role) {
			continue
		}
		content := string(m.Content)
		if content == "" {
			content = string(m.Message)
		}
		if content == "" {
			continue
		}
		out = append(out, Message{Role: m.Role, Content: content})
	}
	return out
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
