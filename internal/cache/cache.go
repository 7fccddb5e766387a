package cache

import (
	"context"
	"time"

	"partspos/internal/domain"
)

// SummaryCache holds computed debt summaries so dashboard polling does
// not rescan the ledger on every request.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.DebtSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.DebtSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.DebtSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.DebtSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
