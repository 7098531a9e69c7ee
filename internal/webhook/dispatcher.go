package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"restaurant-voice/internal/metrics"
	"restaurant-voice/internal/telephony"
	"restaurant-voice/internal/tenant"
)

// Ack is the JSON body returned to the vendor. An empty Ack means "no
// instructions".
type Ack map[string]any

// RejectError marks a payload the dispatcher refuses. It is still answered
// with 200 so the vendor does not retry.
type RejectError struct {
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(msg string) error { return &RejectError{Message: msg} }

const statusRinging = "ringing"

// Scheduler is satisfied by *reconcile.Scheduler.
type Scheduler interface {
	Schedule(callID string) (bool, error)
}

// PhoneStore is satisfied by *cache.Manager.
type PhoneStore interface {
	StoreCallPhone(ctx context.Context, callID, phone string)
}

// TenantResolver is satisfied by *tenant.Resolver.
type TenantResolver interface {
	Resolve(ctx context.Context, phone string) (string, bool)
}

// Dispatcher routes vendor server messages to one handler per event type.
type Dispatcher struct {
	scheduler Scheduler
	phones    PhoneStore
	tenants   TenantResolver
	log       *slog.Logger
}

func NewDispatcher(scheduler Scheduler, phones PhoneStore, tenants TenantResolver, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		scheduler: scheduler,
		phones:    phones,
		tenants:   tenants,
		log:       log.With("component", "webhook"),
	}
}

// Dispatch decodes body and runs the matching handler. The returned error
// is either a *RejectError or an internal failure; pass both to Respond.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) (Ack, error) {
	ev, err := telephony.ParseServerMessage(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid", "error").Inc()
		return nil, err
	}

	var ack Ack
	switch ev.Type {
	case telephony.EventAssistantRequest:
		ack, err = d.assistantRequest(ctx, ev)
	case telephony.EventStatusUpdate:
		ack, err = d.statusUpdate(ctx, ev)
	case telephony.EventEndOfCallReport:
		ack, err = d.endOfCallReport(ctx, ev)
	default:
		d.log.Debug("ignoring server message", "type", ev.RawType)
		ack = Ack{}
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), outcome(err)).Inc()
	return ack, err
}

// Respond maps a handler result to the body sent with status 200.
func (d *Dispatcher) Respond(ctx context.Context, ack Ack, err error) Ack {
	if err == nil {
		if ack == nil {
			return Ack{}
		}
		return ack
	}
	var rej *RejectError
	if errors.As(err, &rej) {
		return Ack{"success": false, "message": rej.Message}
	}
	d.log.WarnContext(ctx, "server message handling failed", "err", err)
	return Ack{}
}

func (d *Dispatcher) assistantRequest(ctx context.Context, ev telephony.CallEvent) (Ack, error) {
	if ev.PhoneNumber == "" {
		d.log.Debug("assistant request without phone number", "call_id", ev.VendorCallID)
		return Ack{}, nil
	}
	phone := tenant.NormalizePhone(ev.PhoneNumber)
	if ev.VendorCallID != "" && d.phones != nil {
		d.phones.StoreCallPhone(ctx, ev.VendorCallID, phone)
	}

	tenantID, ok := d.tenants.Resolve(ctx, phone)
	if !ok {
		d.log.Info("no tenant for dialed number", "phone", phone, "call_id", ev.VendorCallID)
		return Ack{}, nil
	}
	return Ack{
		"metadata": map[string]any{
			"restaurant_id": tenantID,
			"phoneNumber":   phone,
		},
	}, nil
}

func (d *Dispatcher) statusUpdate(_ context.Context, ev telephony.CallEvent) (Ack, error) {
	if !ev.HasCall {
		return nil, reject("Invalid status-update payload")
	}
	if ev.Status == statusRinging && ev.VendorCallID != "" {
		return d.schedule(ev.VendorCallID)
	}
	return Ack{"success": true, "message": "Ignored status update: " + ev.Status}, nil
}

func (d *Dispatcher) endOfCallReport(_ context.Context, ev telephony.CallEvent) (Ack, error) {
	if !ev.HasCall {
		return nil, reject("Invalid webhook payload structure")
	}
	if ev.VendorCallID == "" {
		return nil, reject("Missing call ID")
	}
	return d.schedule(ev.VendorCallID)
}

func (d *Dispatcher) schedule(callID string) (Ack, error) {
	scheduled, err := d.scheduler.Schedule(callID)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", callID, err)
	}
	if !scheduled {
		d.log.Debug("reconciliation already pending", "call_id", callID)
	}
	return Ack{"success": true, "message": "Scheduled API fetch"}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var rej *RejectError
	if errors.As(err, &rej) {
		return "rejected"
	}
	return "error"
}
