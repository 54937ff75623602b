// Package service holds infrastructure-side implementations of domain ports
// that are computed rather than stored.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/investment"
)

// Compounding selects how interest accrues on each investment.
type Compounding string

const (
	CompoundingNone    Compounding = "simple"
	CompoundingDaily   Compounding = "daily"
	CompoundingMonthly Compounding = "monthly"
)

// BalanceConfig is the class-level accrual setting.
type BalanceConfig struct {
	// AnnualRate is a fraction, 0.05 means 5% a year.
	AnnualRate  float64
	Compounding Compounding
}

// DefaultBalanceConfig returns no interest, so the balance equals the sum of
// amounts.
func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{AnnualRate: 0, Compounding: CompoundingNone}
}

// Validate checks the config.
func (c BalanceConfig) Validate() error {
	if c.AnnualRate < 0 || c.AnnualRate > 1 {
		return fmt.Errorf("annual rate must be within [0, 1], got %v", c.AnnualRate)
	}
	switch c.Compounding {
	case CompoundingNone, CompoundingDaily, CompoundingMonthly:
		return nil
	default:
		return fmt.Errorf("unknown compounding %q", c.Compounding)
	}
}

// BalanceService accrues interest on a student's history up to now.
// It implements investment.BalanceProvider.
type BalanceService struct {
	config BalanceConfig
	now    func() time.Time
}

var _ investment.BalanceProvider = (*BalanceService)(nil)

// NewBalanceService creates a BalanceService.
func NewBalanceService(config BalanceConfig) *BalanceService {
	return &BalanceService{config: config, now: time.Now}
}

// CurrentBalance implements investment.BalanceProvider.
func (s *BalanceService) CurrentBalance(ctx context.Context, _ string, history []investment.Investment) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	var total float64
	for _, inv := range history {
		total += s.accrue(inv.Amount, now.Sub(inv.Date))
	}
	// Cents, so thresholds compare against what the student sees.
	return math.Round(total*100) / 100, nil
}

func (s *BalanceService) accrue(amount float64, held time.Duration) float64 {
	if s.config.AnnualRate == 0 || held <= 0 {
		return amount
	}
	years := held.Hours() / 24 / 365

	switch s.config.Compounding {
	case CompoundingDaily:
		return amount * math.Pow(1+s.config.AnnualRate/365, years*365)
	case CompoundingMonthly:
		return amount * math.Pow(1+s.config.AnnualRate/12, years*12)
	default:
		return amount * (1 + s.config.AnnualRate*years)
	}
}
