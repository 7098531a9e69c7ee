package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventAssistantRequest EventType = "assistant_request"
	EventStatusUpdate     EventType = "status_update"
	EventEndOfCallReport  EventType = "end_of_call_report"
	EventUnknown          EventType = "unknown"
)

var wireEventTypes = map[string]EventType{
	"assistant-request":  EventAssistantRequest,
	"status-update":      EventStatusUpdate,
	"end-of-call-report": EventEndOfCallReport,
}

// CallEvent is one inbound server message reduced to the fields the
// dispatcher routes on. It is built per request and never stored.
type CallEvent struct {
	Type    EventType
	RawType string

	// HasCall is false when message.call is absent, null or empty.
	HasCall      bool
	VendorCallID string

	// PhoneNumber is the dialed number as sent, message.phoneNumber first,
	// then message.call.phoneNumber.
	PhoneNumber string

	// Status is lowercased, message.call.status first, then message.status.
	Status string
}

type serverEnvelope struct {
	Message struct {
		Type        string          `json:"type"`
		Status      string          `json:"status"`
		PhoneNumber PhoneField      `json:"phoneNumber"`
		Call        json.RawMessage `json:"call"`
	} `json:"message"`
}

// ParseServerMessage decodes a vendor server-URL payload. A payload without
// a message object yields an EventUnknown event, not an error.
func ParseServerMessage(body []byte) (CallEvent, error) {
	var env serverEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CallEvent{}, fmt.Errorf("decode server message: %w", err)
	}

	ev := CallEvent{
		RawType:     env.Message.Type,
		Status:      strings.ToLower(strings.TrimSpace(env.Message.Status)),
		PhoneNumber: strings.TrimSpace(string(env.Message.PhoneNumber)),
	}
	if t, ok := wireEventTypes[env.Message.Type]; ok {
		ev.Type = t
	} else {
		ev.Type = EventUnknown
	}

	if call, ok := decodeCall(env.Message.Call); ok {
		ev.HasCall = true
		ev.VendorCallID = strings.TrimSpace(call.ID)
		if s := strings.ToLower(strings.TrimSpace(call.Status)); s != "" {
			ev.Status = s
		}
		if ev.PhoneNumber == "" {
			ev.PhoneNumber = strings.TrimSpace(string(call.PhoneNumber))
		}
	}
	return ev, nil
}

func decodeCall(raw json.RawMessage) (Call, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Call{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return Call{}, false
	}
	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return Call{}, false
	}
	return call, true
}
