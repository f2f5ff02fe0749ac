package valuation

import (
	"context"
	"fmt"

	"portfolio-tracker/config"
	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

// Ledger is the read side of the ledger the service values.
type Ledger interface {
	Snapshot(ctx context.Context, owner uint) (*ledger.Snapshot, error)
	GetLot(ctx context.Context, owner, id uint) (*models.Lot, error)
}

// Service values owners' ledgers against a configured benchmark set.
type Service struct {
	ledger     Ledger
	agg        *Aggregator
	benchmarks []models.Benchmark
	logger     *config.Logger
}

func NewService(l Ledger, agg *Aggregator, benchmarks []models.Benchmark, logger *config.Logger) *Service {
	if len(benchmarks) == 0 {
		benchmarks = models.DefaultBenchmarks()
	}
	if logger == nil {
		logger = config.NewSilentLogger()
	}
	return &Service{ledger: l, agg: agg, benchmarks: benchmarks, logger: logger}
}

// Benchmarks returns the configured benchmark set.
func (s *Service) Benchmarks() []models.Benchmark {
	return s.benchmarks
}

func (s *Service) pick(benchmarks []models.Benchmark) []models.Benchmark {
	if len(benchmarks) == 0 {
		return s.benchmarks
	}
	return benchmarks
}

// PortfolioSummary values the owner's ledger. Nil benchmarks means the
// configured set.
func (s *Service) PortfolioSummary(ctx context.Context, owner uint, benchmarks []models.Benchmark) (*Summary, error) {
	snap, err := s.ledger.Snapshot(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	sum := s.agg.Summarize(ctx, snap, s.pick(benchmarks))
	if len(sum.MissingPrices) > 0 {
		s.logger.Warn().Uint("owner", owner).Strs("tickers", sum.MissingPrices).Msg("current prices unavailable")
	}
	return sum, nil
}

// PortfolioHistory charts the owner's ledger. Nil benchmarks means the
// configured set.
func (s *Service) PortfolioHistory(ctx context.Context, owner uint, benchmarks []models.Benchmark) (*History, error) {
	snap, err := s.ledger.Snapshot(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return s.agg.History(ctx, snap, s.pick(benchmarks)), nil
}

// CompareLot compares one of the owner's lots with the configured
// benchmarks.
func (s *Service) CompareLot(ctx context.Context, owner, lotID uint) (*LotComparison, error) {
	lot, err := s.ledger.GetLot(ctx, owner, lotID)
	if err != nil {
		return nil, err
	}
	return s.agg.CompareLot(ctx, *lot, s.benchmarks), nil
}

// GuestSummary values lots that are not stored anywhere.
func (s *Service) GuestSummary(ctx context.Context, lots []models.Lot) *Summary {
	return s.agg.Summarize(ctx, &ledger.Snapshot{Lots: lots}, s.benchmarks)
}

// GuestHistory charts lots that are not stored anywhere.
func (s *Service) GuestHistory(ctx context.Context, lots []models.Lot) *History {
	return s.agg.History(ctx, &ledger.Snapshot{Lots: lots}, s.benchmarks)
}
