package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.
type CallsSummaryRequest struct {
	TenantID string    `json:"restaurant_id"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string    `json:"restaurant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls     int            `json:"total_calls"`
	CompletedCalls int            `json:"completed_calls"`
	FailedCalls    int            `json:"failed_calls"`
	Outcomes       map[string]int `json:"outcomes"`

	// Calls without a known duration are left out of both duration fields.
	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCost float64 `json:"total_cost"`

	// TranscribedCalls counts calls with at least one kept message.
	TranscribedCalls int `json:"transcribed_calls"`
}
