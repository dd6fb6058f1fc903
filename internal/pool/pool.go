// Package pool manages investment into and redemption out of manager-run
// investment pools.
//
// Shares are issued 1:1 with the invested amount. Redemption prices a share
// at total_value / total_investors, a head-count divisor rather than the
// number of outstanding shares. The formula is kept for compatibility with
// existing settled positions.
package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/registry"
)

var (
	ErrPoolInactive          = errors.New("pool: pool is not active")
	ErrInvestmentOutOfBounds = errors.New("pool: investment out of bounds")
	ErrInvestmentTooSmall    = fmt.Errorf("%w: below minimum", ErrInvestmentOutOfBounds)
	ErrInvestmentTooLarge    = fmt.Errorf("%w: above maximum", ErrInvestmentOutOfBounds)
	ErrInsufficientShares    = errors.New("pool: insufficient shares")
	ErrInvestmentInactive    = errors.New("pool: investment is not active")
	ErrNoInvestors           = errors.New("pool: pool has no investors")
	ErrInvalidStatus         = errors.New("pool: invalid status")
	ErrWrongPool             = errors.New("pool: investment belongs to another pool")
)

// Invest moves amount from user into p and opens the user's investment in
// it. Nothing is modified on error.
func Invest(user *model.UserLedger, p *model.InvestmentPool, amount uint64, now time.Time) (*model.Investment, error) {
	if !user.Balance.Covers(amount) {
		return nil, fmt.Errorf("invest %d: %w", amount, ledger.ErrInsufficientBalance)
	}
	if err := registry.RequireActive(user); err != nil {
		return nil, err
	}
	if p.Status != model.PoolActive {
		return nil, fmt.Errorf("%s is %s: %w", p.ID, p.Status, ErrPoolInactive)
	}
	if amount < p.MinInvestment {
		return nil, fmt.Errorf("%d < %d: %w", amount, p.MinInvestment, ErrInvestmentTooSmall)
	}
	if amount > p.MaxInvestment {
		return nil, fmt.Errorf("%d > %d: %w", amount, p.MaxInvestment, ErrInvestmentTooLarge)
	}

	u, pl := *user, *p
	var err error
	if pl.TotalInvestors, err = ledger.Incr(pl.TotalInvestors); err != nil {
		return nil, fmt.Errorf("total investors: %w", err)
	}
	if err := pl.TotalValue.Credit(amount); err != nil {
		return nil, fmt.Errorf("pool value: %w", err)
	}
	if err := u.Balance.Debit(amount); err != nil {
		return nil, err
	}

	inv := &model.Investment{
		ID:        keys.Investment(u.Identity, pl.ID),
		User:      u.Identity,
		PoolID:    pl.ID,
		Amount:    amount,
		Shares:    amount,
		Status:    model.InvestmentActive,
		CreatedAt: now,
	}

	*user, *p = u, pl
	return inv, nil
}

// RedemptionAmount prices shares at the pool's current per-investor value:
// floor(shares * (total_value / total_investors)), in float64.
func RedemptionAmount(p *model.InvestmentPool, shares uint64) (uint64, error) {
	if p.TotalInvestors == 0 {
		return 0, fmt.Errorf("%s: %w", p.ID, ErrNoInvestors)
	}
	price := float64(p.TotalValue.Amount()) / float64(p.TotalInvestors)
	return ledger.FloorMul(shares, price)
}

// Redeem burns shares from inv and pays their redemption amount out of p to
// user. When the investment's shares reach zero it is marked redeemed and
// the pool's investor count drops by one. Returns the amount paid. Nothing
// is modified on error.
func Redeem(user *model.UserLedger, p *model.InvestmentPool, inv *model.Investment, shares uint64) (uint64, error) {
	if inv.User != user.Identity {
		return 0, fmt.Errorf("%s: %w", inv.ID, ErrInsufficientShares)
	}
	if inv.PoolID != p.ID {
		return 0, fmt.Errorf("%s: %w", inv.ID, ErrWrongPool)
	}
	if shares > inv.Shares {
		return 0, fmt.Errorf("redeem %d of %d: %w", shares, inv.Shares, ErrInsufficientShares)
	}
	if inv.Status != model.InvestmentActive {
		return 0, fmt.Errorf("%s is %s: %w", inv.ID, inv.Status, ErrInvestmentInactive)
	}

	amount, err := RedemptionAmount(p, shares)
	if err != nil {
		return 0, err
	}

	u, pl, in := *user, *p, *inv
	in.Shares -= shares
	if in.Shares == 0 {
		in.Status = model.InvestmentRedeemed
		if pl.TotalInvestors, err = ledger.SubUint64(pl.TotalInvestors, 1); err != nil {
			return 0, fmt.Errorf("total investors: %w", err)
		}
	}
	if err := u.Balance.CanCredit(amount); err != nil {
		return 0, err
	}
	if err := pl.TotalValue.Debit(amount); err != nil {
		return 0, fmt.Errorf("pool value: %w", err)
	}
	if err := u.Balance.Credit(amount); err != nil {
		return 0, err
	}

	*user, *p, *inv = u, pl, in
	return amount, nil
}

// SetStatus moves p to status. Any transition between the known statuses
// is allowed, including to the current one.
func SetStatus(p *model.InvestmentPool, status model.PoolStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	p.Status = status
	return nil
}
