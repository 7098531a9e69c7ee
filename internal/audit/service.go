package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Actor identifies who caused an event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// Service records configuration changes for internal ops.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Log* helpers are best-effort: failures are logged, never returned.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log.With("component", "audit")}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogPhoneMapped records that phone now routes to tenantID.
func (s *Service) LogPhoneMapped(ctx context.Context, tenantID, phone string, a Actor) {
	s.bestEffort(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypePhoneMapped,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		Target:      phone,
		Message:     "phone mapping updated",
	})
}

// LogCacheInvalidated records a knowledge cache invalidation.
func (s *Service) LogCacheInvalidated(ctx context.Context, tenantID, category string, deleted int, a Actor) {
	if category == "" {
		category = "all"
	}
	s.bestEffort(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeCacheInvalidate,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		Target:      category,
		Message:     "knowledge cache invalidated",
		Metadata:    fmt.Sprintf(`{"deleted":%d}`, deleted),
	})
}

func (s *Service) bestEffort(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.WarnContext(ctx, "audit append failed", "type", string(e.Type), "restaurant_id", e.TenantID, "err", err)
	}
}
