// Package service implements the application operations on top of the
// repositories: webhook ingestion, identity resolution, the message store,
// quota enforcement, the response orchestrator and the learning store.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/repository"
)

// planStore subset of PlanRepo used by the quota service
type planStore interface {
	FindByTenant(ctx context.Context, tenantID string) (*model.Plan, error)
}

// usageStore subset of UsageRepo used by the quota service
type usageStore interface {
	Get(ctx context.Context, tenantID, monthKey, dayKey string) (*model.UsageCounter, error)
	ResetMonthIfStale(ctx context.Context, tenantID, monthKey string) (bool, error)
	ResetDayIfStale(ctx context.Context, tenantID, dayKey string) (bool, error)
	AddUsage(ctx context.Context, tenantID string, tokens int64) error
}

// QuotaService enforces plan features, token budgets and the per-tenant
// provider-call rate. All checks are fail-closed: a store error declines.
type QuotaService struct {
	plans    planStore
	usage    usageStore
	counters cache.CounterStore
	cfg      config.QuotaConfig
	loc      *time.Location
	now      func() time.Time
}

// NewQuotaService creates the quota service. An unknown timezone falls back
// to UTC with a log line rather than failing startup.
func NewQuotaService(plans planStore, usage usageStore, counters cache.CounterStore, cfg config.QuotaConfig) *QuotaService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Str("timezone", cfg.Timezone).Err(err).Msg("invalid quota timezone, using UTC")
		loc = time.UTC
	}
	return &QuotaService{
		plans:    plans,
		usage:    usage,
		counters: counters,
		cfg:      cfg,
		loc:      loc,
		now:      time.Now,
	}
}

// CheckFeature verifies the tenant's plan allows a feature: the feature must
// be enabled and the plan active and unexpired, in that order
func (s *QuotaService) CheckFeature(ctx context.Context, tenantID, feature string) (*model.QuotaDecision, error) {
	plan, err := s.plans.FindByTenant(ctx, tenantID)
	if err != nil {
		if err == repository.ErrNotFound {
			return model.Decline(model.ReasonPlanInactive, "no subscription found for this account", true), nil
		}
		return nil, err
	}

	if !plan.HasFeature(feature) {
		return model.Decline(model.ReasonFeatureDisabled, "this feature is not included in your plan", true), nil
	}
	if plan.Status != model.PlanActive {
		return model.Decline(model.ReasonPlanInactive, "your subscription is not active", true), nil
	}
	if plan.Expired(s.now()) {
		return model.Decline(model.ReasonPlanExpired, "your subscription has expired", true), nil
	}
	return model.Allow(), nil
}

// CheckUsage verifies the estimated token cost fits the remaining monthly and
// daily budgets. Stale boundary counters are reset lazily before the check;
// the monthly budget is evaluated first. A zero limit means unlimited.
func (s *QuotaService) CheckUsage(ctx context.Context, tenantID string, estimatedTokens int) (*model.QuotaDecision, error) {
	plan, err := s.plans.FindByTenant(ctx, tenantID)
	if err != nil {
		if err == repository.ErrNotFound {
			return model.Decline(model.ReasonPlanInactive, "no subscription found for this account", true), nil
		}
		return nil, err
	}

	now := s.now().In(s.loc)
	monthKey := now.Format(model.MonthKeyFormat)
	dayKey := now.Format(model.DayKeyFormat)

	if _, err := s.usage.ResetMonthIfStale(ctx, tenantID, monthKey); err != nil {
		return nil, err
	}
	if _, err := s.usage.ResetDayIfStale(ctx, tenantID, dayKey); err != nil {
		return nil, err
	}

	counter, err := s.usage.Get(ctx, tenantID, monthKey, dayKey)
	if err != nil {
		return nil, err
	}

	est := int64(estimatedTokens)
	if plan.MonthlyTokenLimit > 0 && counter.MonthlyUsed+est > plan.MonthlyTokenLimit {
		return model.Decline(model.ReasonMonthlyLimitExceeded, "monthly AI usage limit reached", true), nil
	}
	if plan.DailyTokenLimit > 0 && counter.DailyUsed+est > plan.DailyTokenLimit {
		return model.Decline(model.ReasonDailyLimitExceeded, "daily AI usage limit reached, resets tomorrow", false), nil
	}
	return model.Allow(), nil
}

// CheckRate admits or declines under the per-tenant provider-call window.
// The count-then-check order means a burst overshoots by at most the number
// of concurrent callers, never undercounts.
func (s *QuotaService) CheckRate(ctx context.Context, tenantID string) (*model.RateDecision, error) {
	if s.cfg.ProviderCallsPerMinute <= 0 {
		return &model.RateDecision{Allowed: true}, nil
	}

	n, err := s.counters.IncrWindow(ctx, cache.TenantRateKey(tenantID), time.Minute)
	if err != nil {
		return nil, err
	}
	if n > s.cfg.ProviderCallsPerMinute {
		return &model.RateDecision{Allowed: false, RetryAfter: 60}, nil
	}
	return &model.RateDecision{Allowed: true, Remaining: s.cfg.ProviderCallsPerMinute - n}, nil
}

// RecordUsage charges actual token consumption after a successful provider
// call. Failures are logged, never propagated: the reply was already sent.
func (s *QuotaService) RecordUsage(ctx context.Context, tenantID string, usage *model.TokenUsage) {
	if usage == nil || usage.TotalTokens <= 0 {
		return
	}
	if err := s.usage.AddUsage(ctx, tenantID, int64(usage.TotalTokens)); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to record token usage")
	}
}
