// Package registry creates ledger records with their default state.
//
// Uniqueness is enforced by the store on insert (store.ErrAlreadyExists);
// registry itself only builds records and bumps the global user counter.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
)

// ErrInactiveAccount is returned when a deactivated user tries to move funds.
var ErrInactiveAccount = errors.New("registry: account is inactive")

// RequireActive fails with ErrInactiveAccount unless user is active.
func RequireActive(user *model.UserLedger) error {
	if !user.IsActive {
		return fmt.Errorf("%w: %s", ErrInactiveAccount, user.Identity)
	}
	return nil
}

// NewPlatform builds the platform singleton with zeroed counters.
func NewPlatform(authority string, now time.Time) *model.PlatformStats {
	return &model.PlatformStats{
		Authority: authority,
		CreatedAt: now,
	}
}

// NewUser builds an active, empty user ledger and increments
// stats.TotalUsers. stats is untouched on error.
func NewUser(stats *model.PlatformStats, identity, username string, now time.Time) (*model.UserLedger, error) {
	total, err := ledger.Incr(stats.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("total users: %w", err)
	}
	stats.TotalUsers = total

	return &model.UserLedger{
		Identity:  identity,
		Username:  username,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

// PoolParams are the manager-chosen attributes of a new pool. They are
// stored verbatim.
type PoolParams struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Strategy       string  `json:"strategy"`
	RiskLevel      uint8   `json:"risk_level"`
	MinInvestment  uint64  `json:"min_investment"`
	MaxInvestment  uint64  `json:"max_investment"`
	AnnualReturn   float64 `json:"annual_return"`
	ManagementFee  float64 `json:"management_fee"`
	PerformanceFee float64 `json:"performance_fee"`
}

// NewPool builds an active, empty pool owned by manager. The pool key is
// derived from the manager and the creation time.
func NewPool(manager *model.UserLedger, p PoolParams, now time.Time) *model.InvestmentPool {
	return &model.InvestmentPool{
		ID:             keys.Pool(manager.Identity, now),
		Manager:        manager.Identity,
		Name:           p.Name,
		Description:    p.Description,
		Strategy:       p.Strategy,
		RiskLevel:      p.RiskLevel,
		MinInvestment:  p.MinInvestment,
		MaxInvestment:  p.MaxInvestment,
		AnnualReturn:   p.AnnualReturn,
		ManagementFee:  p.ManagementFee,
		PerformanceFee: p.PerformanceFee,
		Status:         model.PoolActive,
		CreatedAt:      now,
	}
}
