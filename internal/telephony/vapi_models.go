package telephony

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Call is the vendor's call resource. The same shape arrives embedded in
// webhook payloads and from GET /call/{id}. Fields the vendor sends in
// more than one JSON form use the tolerant types below.
type Call struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	PhoneNumber   PhoneField `json:"phoneNumber"`
	PhoneNumberID string     `json:"phoneNumberId"`
	From          string     `json:"from"`
	Customer      *Customer  `json:"customer"`
	Messages      []Message  `json:"messages"`
	StartedAt     string     `json:"startedAt"`
	CreatedAt     string     `json:"createdAt"`
	EndedAt       string     `json:"endedAt"`
	UpdatedAt     string     `json:"updatedAt"`
	Duration      Number     `json:"duration"`
	Cost          Number     `json:"cost"`
}

type Customer struct {
	Number      string `json:"number"`
	PhoneNumber string `json:"phoneNumber"`
}

type Message struct {
	Role    string    `json:"role"`
	Content TextField `json:"content"`
	Message TextField `json:"message"`
}

// PhoneNumber is the vendor's phone-number resource.
type PhoneNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// PhoneField accepts either "+1555..." or {"number": "+1555..."}.
type PhoneField string

func (p *PhoneField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PhoneField(s)
	case '{':
		var obj struct {
			Number string `json:"number"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*p = PhoneField(obj.Number)
	default:
		*p = PhoneField(string(b))
	}
	return nil
}

// Number accepts a JSON number or a numeric string. Anything else,
// including NaN and infinities, leaves it unset.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number{Value: f, Valid: true}
	return nil
}

// Ptr returns nil when unset.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// TextField keeps string values and ignores structured content.
type TextField string

func (t *TextField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = ""
		return nil
	}
	*t = TextField(s)
	return nil
}
