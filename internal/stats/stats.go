// Package stats serves the admin dashboard aggregates from a short-lived
// Redis cache that the booking engine invalidates on every committed change.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
)

const cacheKey = "stats:dashboard"

type ProviderStats struct {
	ProviderID            uuid.UUID `json:"provider_id"`
	ProviderName          string    `json:"provider_name"`
	ActiveAppointments    int64     `json:"active_appointments"`
	CancelledAppointments int64     `json:"cancelled_appointments"`
	TotalAppointments     int64     `json:"total_appointments"`
	CancellationRate      float64   `json:"cancellation_rate"` // percent of all appointments ever made
}

type Dashboard struct {
	Providers      []ProviderStats  `json:"providers"`
	PeakHours      map[string]int64 `json:"peak_hours"` // "00".."23" UTC start hour of active appointments
	TotalUsers     int64            `json:"total_users"`
	TotalProviders int64            `json:"total_providers"`
	ComputedAt     time.Time        `json:"computed_at"`
}

// Repository runs the read-only aggregate queries.
type Repository interface {
	ProviderCounts(ctx context.Context) ([]ProviderStats, error)
	ActiveStartHours(ctx context.Context) (map[int]int64, error)
	CountUsersByRole(ctx context.Context) (map[string]int64, error)
}

type Service struct {
	repo    Repository
	rdb     *redis.Client
	ttl     time.Duration
	metrics *metrics.Collector
	log     *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, rdb *redis.Client, ttl time.Duration, m *metrics.Collector, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		rdb:     rdb,
		ttl:     ttl,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the cached dashboard, recomputing it on a miss. A Redis
// failure degrades to an uncached read.
func (s *Service) Get(ctx context.Context) (*Dashboard, error) {
	raw, err := s.rdb.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var d Dashboard
		if jsonErr := json.Unmarshal(raw, &d); jsonErr == nil {
			s.metrics.StatsCacheHits.Inc()
			return &d, nil
		}
		s.log.Warn("discarding unreadable stats cache entry")
	case !errors.Is(err, redis.Nil):
		s.log.Warn("stats cache read failed", zap.Error(err))
	}

	s.metrics.StatsCacheMisses.Inc()
	d, err := s.Compute(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal dashboard: %w", err)
	}
	if err := s.rdb.Set(ctx, cacheKey, data, s.ttl).Err(); err != nil {
		s.log.Warn("stats cache write failed", zap.Error(err))
	}
	return d, nil
}

// Compute builds the dashboard straight from the database.
func (s *Service) Compute(ctx context.Context) (*Dashboard, error) {
	providers, err := s.repo.ProviderCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider counts: %w", err)
	}
	for i := range providers {
		providers[i].CancellationRate = rate(providers[i].CancelledAppointments, providers[i].TotalAppointments)
	}

	hours, err := s.repo.ActiveStartHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("peak hours: %w", err)
	}
	peak := make(map[string]int64, len(hours))
	for h, n := range hours {
		peak[fmt.Sprintf("%02d", h)] = n
	}

	roles, err := s.repo.CountUsersByRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	if providers == nil {
		providers = []ProviderStats{}
	}
	return &Dashboard{
		Providers:      providers,
		PeakHours:      peak,
		TotalUsers:     roles["user"],
		TotalProviders: roles["provider"],
		ComputedAt:     s.now().UTC(),
	}, nil
}

// Invalidate drops the cached dashboard. Its signature matches the booking
// engine's commit hook.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.rdb.Del(ctx, cacheKey).Err(); err != nil {
		s.log.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
