// Package wager places bets against a user's platform balance and settles
// them.
//
// A wager moves Pending -> Settled exactly once. Odds and results are taken
// as given; deciding who may settle is the caller's concern.
package wager

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
	ErrAlreadySettled = errors.New("wager: already settled")
	ErrInvalidResult  = errors.New("wager: result must be win, loss or draw")
	ErrWrongUser      = errors.New("wager: wager belongs to another user")
)

// PlaceRequest is the JSON body for placing a bet.
type PlaceRequest struct {
	MatchID    string  `json:"match_id"`
	Prediction string  `json:"prediction"`
	Amount     uint64  `json:"amount"`
	Odds       float64 `json:"odds"`
}

// Place debits req.Amount from user and opens a pending wager created at
// now. user.TotalBets and stats.TotalBets are incremented. Nothing is
// modified on error.
func Place(user *model.UserLedger, stats *model.PlatformStats, req PlaceRequest, now time.Time) (*model.Wager, error) {
	if !user.Balance.Covers(req.Amount) {
		return nil, fmt.Errorf("stake %d: %w", req.Amount, ledger.ErrInsufficientBalance)
	}
	if err := registry.RequireActive(user); err != nil {
		return nil, err
	}

	potential, err := ledger.FloorMul(req.Amount, req.Odds)
	if err != nil {
		return nil, fmt.Errorf("potential winnings: %w", err)
	}

	u, s := *user, *stats
	if u.TotalBets, err = ledger.Incr(u.TotalBets); err != nil {
		return nil, fmt.Errorf("user bets: %w", err)
	}
	if s.TotalBets, err = ledger.Incr(s.TotalBets); err != nil {
		return nil, fmt.Errorf("platform bets: %w", err)
	}
	if err := u.Balance.Debit(req.Amount); err != nil {
		return nil, err
	}

	w := &model.Wager{
		ID:                keys.Wager(u.Identity, now),
		User:              u.Identity,
		MatchID:           req.MatchID,
		Prediction:        req.Prediction,
		Amount:            req.Amount,
		Odds:              req.Odds,
		PotentialWinnings: potential,
		Status:            model.WagerPending,
		CreatedAt:         now,
	}

	*user, *stats = u, s
	return w, nil
}

// Payout is the amount credited back to the bettor for result: the
// potential winnings on a win, the stake on a draw, nothing on a loss.
func Payout(w *model.Wager, result model.BetResult) (uint64, error) {
	switch result {
	case model.ResultWin:
		return w.PotentialWinnings, nil
	case model.ResultDraw:
		return w.Amount, nil
	case model.ResultLoss:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidResult, result)
}

// Settle records result on a pending wager and credits the payout to user.
// A win also increments user.TotalWins. w and user are modified only on
// success.
func Settle(w *model.Wager, user *model.UserLedger, result model.BetResult, now time.Time) error {
	if w.Status != model.WagerPending {
		return fmt.Errorf("%s: %w", w.ID, ErrAlreadySettled)
	}
	if w.User != user.Identity {
		return fmt.Errorf("%s: %w", w.ID, ErrWrongUser)
	}

	payout, err := Payout(w, result)
	if err != nil {
		return err
	}

	u := *user
	if result == model.ResultWin {
		if u.TotalWins, err = ledger.Incr(u.TotalWins); err != nil {
			return fmt.Errorf("user wins: %w", err)
		}
	}
	if err := u.Balance.Credit(payout); err != nil {
		return err
	}

	settled := now
	w.Status = model.WagerSettled
	w.Result = result
	w.Winnings = payout
	w.SettledAt = &settled
	*user = u
	return nil
}
