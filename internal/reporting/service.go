package reporting

import (
	"context"
	"errors"
	"time"

	"restaurant-voice/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRange caps how much history one summary may scan.
const MaxRange = 366 * 24 * time.Hour

// Repository is the read side reporting needs. Implementations must filter
// by tenant. *calls.PostgresRepository and *calls.MemoryRepository satisfy it.
type Repository interface {
	ListRange(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListRange(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, Range: req.Range, Outcomes: map[string]int{}}
	timed := 0
	for _, r := range rows {
		out.TotalCalls++
		out.Outcomes[r.Outcome]++
		switch r.Outcome {
		case calls.StatusEnded, calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		}
		if r.DurationSeconds != nil {
			out.TotalDurationSeconds += *r.DurationSeconds
			timed++
		}
		if r.Cost != nil {
			out.TotalCost += *r.Cost
		}
		if len(r.Messages) > 0 {
			out.TranscribedCalls++
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}
	return out, nil
}
