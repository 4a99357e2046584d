package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

var DefaultCashLimitValue = decimal.RequireFromString("5000.00")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// DefaultCashLimit applies to registers opened without an explicit limit.
	// When unset, DefaultCashLimitValue is used; a set value is kept as given.
	DefaultCashLimit decimal.NullDecimal
	ReportCacheTTL   time.Duration
	Logger           *slog.Logger
}

// Service runs every mutating pipeline operation as one store transaction.
// Store reads are never issued from inside a WithTx callback.
type Service struct {
	repo             store.Store
	reports          cache.ReportCache
	reportGroup      singleflight.Group
	fillMu           sync.Mutex
	generations      map[string]uint64
	defaultCashLimit decimal.Decimal
	reportTTL        time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func New(repo store.Store, reports cache.ReportCache, opts Options) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 30 * time.Second
	}
	if !opts.DefaultCashLimit.Valid {
		opts.DefaultCashLimit = decimal.NewNullDecimal(DefaultCashLimitValue)
	}

	return &Service{
		repo:             repo,
		reports:          reports,
		defaultCashLimit: opts.DefaultCashLimit.Decimal,
		reportTTL:        opts.ReportCacheTTL,
		generations:      make(map[string]uint64),
		logger:           opts.Logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, store.Unauthorized("authenticated user required")
	}
	return actor, nil
}

// logAudit records one audit event for a committed mutation.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, attrs ...slog.Attr) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	all := make([]slog.Attr, 0, len(attrs)+4)
	all = append(all,
		slog.String("action", action),
		slog.String("entity", entityType),
		slog.String("entity_id", entityID),
		slog.String("actor", actor.Username),
	)
	all = append(all, attrs...)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", all...)
}

func clampPage(skip int, limit int, fallback int, ceiling int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = fallback
	}
	if limit > ceiling {
		limit = ceiling
	}
	return skip, limit
}

// invalidateReports drops the daily aggregate of at and every dashboard
// aggregate. Generations are bumped before the delete so a build that read the
// store earlier cannot store its result afterwards.
func (s *Service) invalidateReports(ctx context.Context, at time.Time) {
	daily := cache.DailyKey(at)
	s.bumpGenerations(daily, cache.DashboardPrefix)
	if err := s.reports.Delete(ctx, daily); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate daily report cache", slog.Any("error", err))
	}
	if err := s.reports.DeletePrefix(ctx, cache.DashboardPrefix); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate dashboard cache", slog.Any("error", err))
	}
}

// invalidateDashboards is for inventory changes, which leave daily sales intact.
func (s *Service) invalidateDashboards(ctx context.Context) {
	s.bumpGenerations(cache.DashboardPrefix)
	if err := s.reports.DeletePrefix(ctx, cache.DashboardPrefix); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate dashboard cache", slog.Any("error", err))
	}
}

func (s *Service) bumpGenerations(scopes ...string) {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	for _, scope := range scopes {
		s.generations[scope]++
	}
}

func (s *Service) generation(scope string) uint64 {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	return s.generations[scope]
}

// fillReport stores value only if scope was not invalidated since gen was read.
func (s *Service) fillReport(ctx context.Context, key string, scope string, gen uint64, value any) {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	if s.generations[scope] != gen {
		s.logger.DebugContext(ctx, "report invalidated while building, not cached", slog.String("key", key))
		return
	}
	if err := cache.SetJSON(ctx, s.reports, key, value, s.reportTTL); err != nil {
		s.logger.WarnContext(ctx, "report cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
