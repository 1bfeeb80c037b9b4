package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
	domusage "github.com/kailas-cloud/askdex/internal/domain/usage"
	"github.com/kailas-cloud/askdex/internal/domain/usage/budget"
	"github.com/kailas-cloud/askdex/internal/domain/usage/metrics"
	"github.com/kailas-cloud/askdex/internal/usecase/gateway"
)

// Service handles usage reporting.
type Service struct {
	src BudgetSource
	now func() time.Time
}

// New creates a Service. src can be nil (no budgets configured).
func New(src BudgetSource) *Service {
	return &Service{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// GetReports builds one report per provider for the given period. A
// non-empty provider narrows the result to that provider.
func (s *Service) GetReports(_ context.Context, period domusage.Period, provider string) ([]domusage.Report, error) {
	var budgets []gateway.BudgetReport
	if s.src != nil {
		budgets = s.src.Budgets()
	}
	out := make([]domusage.Report, 0, len(budgets))
	for _, b := range budgets {
		if provider != "" && b.Provider != provider {
			continue
		}
		out = append(out, s.report(period, b))
	}
	if provider != "" && len(out) == 0 {
		return nil, fmt.Errorf("provider %q: %w", provider, domain.ErrNotFound)
	}
	return out, nil
}

func (s *Service) report(period domusage.Period, b gateway.BudgetReport) domusage.Report {
	now := s.now()
	var start, end int64
	var limit, used, remaining, requests int64

	switch period {
	case domusage.PeriodDay:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		start = dayStart.UnixMilli()
		end = dayStart.Add(24 * time.Hour).UnixMilli()
		limit, used, remaining, requests = b.DailyLimit, b.DailyUsed, b.DailyRemaining, b.DailyRequests
	case domusage.PeriodMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = monthStart.UnixMilli()
		end = monthStart.AddDate(0, 1, 0).UnixMilli()
		limit, used, remaining, requests = b.MonthlyLimit, b.MonthlyUsed, b.MonthlyRemaining, b.MonthlyRequests
	default:
		// total: counters only live for the current month
		limit, used, remaining, requests = b.MonthlyLimit, b.MonthlyUsed, b.MonthlyRemaining, b.MonthlyRequests
	}

	exhausted := limit > 0 && remaining <= 0
	return domusage.NewReport(period, start, end, b.Provider,
		metrics.New(requests, used),
		budget.New(limit, remaining, exhausted, end),
	)
}
