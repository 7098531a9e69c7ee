package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"restaurant-voice/internal/calls"
	"restaurant-voice/internal/metrics"
	"restaurant-voice/internal/telephony"
	"restaurant-voice/internal/tenant"
)

type Status string

const (
	StatusStored    Status = "stored"
	StatusDuplicate Status = "duplicate"
	StatusNotEnded  Status = "not_ended"
	StatusNoPhone   Status = "no_phone"
	StatusNoTenant  Status = "no_tenant"
)

// Result describes what one fetch did. RecordID is set for stored and
// duplicate results.
type Result struct {
	Status       Status
	RecordID     string
	VendorStatus string
}

// PhoneSource returns the phone number remembered for a vendor call id.
type PhoneSource interface {
	CallPhone(ctx context.Context, callID string) (string, bool)
}

// TenantResolver maps a phone number to a tenant id.
type TenantResolver interface {
	Resolve(ctx context.Context, phone string) (string, bool)
}

// Fetcher pulls the authoritative call record from the vendor and stores it.
type Fetcher struct {
	api     telephony.CallAPI
	phones  PhoneSource
	tenants TenantResolver
	repo    calls.Repository
	log     *slog.Logger
}

func NewFetcher(api telephony.CallAPI, phones PhoneSource, tenants TenantResolver, repo calls.Repository, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		api:     api,
		phones:  phones,
		tenants: tenants,
		repo:    repo,
		log:     log.With("component", "reconcile_fetcher"),
	}
}

// FetchAndStore fetches callID and writes one call record if the call has
// ended and its tenant is known. Only vendor and storage failures are
// returned as errors; every other outcome is a Result.
func (f *Fetcher) FetchAndStore(ctx context.Context, callID string) (Result, error) {
	start := time.Now()
	defer metrics.ObserveFetch(start)

	res, err := f.fetchAndStore(ctx, callID)
	if err != nil {
		metrics.FetchOutcomesTotal.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.FetchOutcomesTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

func (f *Fetcher) fetchAndStore(ctx context.Context, callID string) (Result, error) {
	log := f.log.With("call_id", callID)

	call, err := f.api.GetCall(ctx, callID)
	if err != nil {
		return Result{}, fmt.Errorf("get call %s: %w", callID, err)
	}
	if call.ID == "" {
		call.ID = callID
	}

	status := strings.ToLower(strings.TrimSpace(call.Status))
	log.Info("fetched call", "status", status)
	if !calls.IsTerminal(status) {
		log.Debug("call not ended yet", "status", status)
		return Result{Status: StatusNotEnded, VendorStatus: status}, nil
	}

	phone := f.resolvePhone(ctx, callID, call)
	if phone == "" {
		log.Warn("no phone number for call")
		return Result{Status: StatusNoPhone, VendorStatus: status}, nil
	}

	tenantID, ok := f.tenants.Resolve(ctx, phone)
	if !ok {
		log.Warn("no tenant mapped for phone", "phone", phone)
		return Result{Status: StatusNoTenant, VendorStatus: status}, nil
	}

	rec := calls.Normalize(call, phone)
	rec.TenantID = tenantID

	id, inserted, err := f.repo.Insert(ctx, rec)
	if err != nil {
		return Result{VendorStatus: status}, fmt.Errorf("store call %s: %w", callID, err)
	}
	if !inserted {
		log.Info("call already stored", "record_id", id)
		return Result{Status: StatusDuplicate, RecordID: id, VendorStatus: status}, nil
	}
	log.Info("call stored", "record_id", id, "tenant_id", tenantID, "messages", len(rec.Messages))
	return Result{Status: StatusStored, RecordID: id, VendorStatus: status}, nil
}

// resolvePhone tries the cached association, the call payload, then the
// vendor phone-number resource. The result is normalized.
func (f *Fetcher) resolvePhone(ctx context.Context, callID string, call telephony.Call) string {
	if f.phones != nil {
		if p, ok := f.phones.CallPhone(ctx, callID); ok && p != "" {
			return tenant.NormalizePhone(p)
		}
	}
	if p := strings.TrimSpace(string(call.PhoneNumber)); p != "" {
		return tenant.NormalizePhone(p)
	}
	if call.PhoneNumberID != "" {
		pn, err := f.api.GetPhoneNumber(ctx, call.PhoneNumberID)
		if err != nil {
			f.log.Debug("phone number lookup failed", "call_id", callID, "phone_number_id", call.PhoneNumberID, "err", err)
			return ""
		}
		return tenant.NormalizePhone(strings.TrimSpace(pn.Number))
	}
	return ""
}
