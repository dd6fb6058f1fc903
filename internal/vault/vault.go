// Package vault implements the token vault: a parallel ledger whose user
// balances are funded by custodial deposits, spent on strategy-tagged bets,
// and withdrawn at most once per cooldown period.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
)

// CooldownPeriod is the minimum time between two withdrawals by one user.
const CooldownPeriod = 24 * time.Hour

var (
	ErrWithdrawalCooldown = errors.New("vault: withdrawal cooldown active")
	ErrAlreadySettled     = errors.New("vault: bet already settled")
	ErrVaultInactive      = errors.New("vault: vault is inactive")
	ErrInvalidResult      = errors.New("vault: result must be win, loss, draw or void")
	ErrWrongUser          = errors.New("vault: bet belongs to another user")
)

// Initialize builds the active vault singleton.
func Initialize(authority, name, symbol string, now time.Time) *model.VaultLedger {
	return &model.VaultLedger{
		Authority: authority,
		Name:      name,
		Symbol:    symbol,
		IsActive:  true,
		CreatedAt: now,
	}
}

// NewAccount builds the empty vault position of user. It is created lazily
// on first deposit.
func NewAccount(user string) *model.VaultUserAccount {
	return &model.VaultUserAccount{User: user}
}

// SetActive toggles deposits and bet execution on the vault.
func SetActive(v *model.VaultLedger, active bool) {
	v.IsActive = active
}

// Engine moves tokens between user wallets and the vault token account.
// Signer is the identity that authorizes transfers out of Account.
type Engine struct {
	Transferer custody.Transferer
	Account    custody.Account
	Signer     string
}

// Deposit transfers amount from the user's wallet into the vault and
// credits the account. v and acct are modified only on success.
func (e Engine) Deposit(ctx context.Context, v *model.VaultLedger, acct *model.VaultUserAccount, amount uint64, now time.Time) error {
	if !v.IsActive {
		return ErrVaultInactive
	}
	vl, a := *v, *acct

	var err error
	if a.TotalDeposited, err = ledger.AddUint64(a.TotalDeposited, amount); err != nil {
		return fmt.Errorf("account deposits: %w", err)
	}
	if vl.TotalDeposits, err = ledger.AddUint64(vl.TotalDeposits, amount); err != nil {
		return fmt.Errorf("vault deposits: %w", err)
	}
	a.LastDepositAt = now

	err = ledger.TransferExternal(ctx, e.Transferer, ledger.Inbound, &a.CurrentBalance, custody.Transfer{
		From:       custody.WalletOf(a.User),
		To:         e.Account,
		Authorizer: a.User,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	*v, *acct = vl, a
	return nil
}

// CooldownRemaining returns how long acct must wait before withdrawing at
// now. Zero means a withdrawal is allowed.
func CooldownRemaining(acct *model.VaultUserAccount, now time.Time) time.Duration {
	if acct.LastWithdrawalAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(acct.LastWithdrawalAt)
	if elapsed >= CooldownPeriod {
		return 0
	}
	return CooldownPeriod - elapsed
}

// Withdraw transfers amount out of the vault to the user's wallet. The
// balance must cover amount and a full cooldown period must have passed
// since the previous withdrawal.
func (e Engine) Withdraw(ctx context.Context, v *model.VaultLedger, acct *model.VaultUserAccount, amount uint64, now time.Time) error {
	if !acct.CurrentBalance.Covers(amount) {
		return fmt.Errorf("withdraw %d: %w", amount, ledger.ErrInsufficientBalance)
	}
	if wait := CooldownRemaining(acct, now); wait > 0 {
		return fmt.Errorf("%w: %s remaining", ErrWithdrawalCooldown, wait)
	}
	vl, a := *v, *acct

	var err error
	if vl.TotalWithdrawals, err = ledger.AddUint64(vl.TotalWithdrawals, amount); err != nil {
		return fmt.Errorf("vault withdrawals: %w", err)
	}
	a.LastWithdrawalAt = now

	err = ledger.TransferExternal(ctx, e.Transferer, ledger.Outbound, &a.CurrentBalance, custody.Transfer{
		From:       e.Account,
		To:         custody.WalletOf(a.User),
		Authorizer: e.Signer,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	*v, *acct = vl, a
	return nil
}

// ExecuteRequest is the JSON body for executing a vault bet.
type ExecuteRequest struct {
	BetID      string `json:"bet_id"`
	StrategyID string `json:"strategy_id"`
	Amount     uint64 `json:"amount"`
}

// ExecuteBet debits req.Amount from acct and opens a pending bet record.
// Uniqueness of the bet id is left to the store.
func ExecuteBet(v *model.VaultLedger, acct *model.VaultUserAccount, req ExecuteRequest, now time.Time) (*model.VaultBetRecord, error) {
	if !v.IsActive {
		return nil, ErrVaultInactive
	}
	if err := keys.ValidateBetID(req.BetID); err != nil {
		return nil, err
	}
	if err := acct.CurrentBalance.Debit(req.Amount); err != nil {
		return nil, err
	}
	return &model.VaultBetRecord{
		BetID:      req.BetID,
		User:       acct.User,
		StrategyID: req.StrategyID,
		Amount:     req.Amount,
		Status:     model.VaultBetPending,
		CreatedAt:  now,
	}, nil
}

func validResult(r model.BetResult) bool {
	switch r {
	case model.ResultWin, model.ResultLoss, model.ResultDraw, model.ResultVoid:
		return true
	}
	return false
}

// SettleBet closes a pending bet with result and profit. A positive profit
// is credited to the account and counted as earnings; zero or negative
// profit is recorded without touching the balance, since the stake left it
// at execution.
func SettleBet(v *model.VaultLedger, acct *model.VaultUserAccount, rec *model.VaultBetRecord, result model.BetResult, profit int64, now time.Time) error {
	if rec.Status != model.VaultBetPending {
		return fmt.Errorf("%s is %s: %w", rec.BetID, rec.Status, ErrAlreadySettled)
	}
	if !validResult(result) {
		return fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}
	if rec.User != acct.User {
		return fmt.Errorf("%s: %w", rec.BetID, ErrWrongUser)
	}

	vl, a := *v, *acct
	if profit > 0 {
		gain := uint64(profit)
		var err error
		if a.TotalEarnings, err = ledger.AddUint64(a.TotalEarnings, gain); err != nil {
			return fmt.Errorf("account earnings: %w", err)
		}
		if vl.TotalEarnings, err = ledger.AddUint64(vl.TotalEarnings, gain); err != nil {
			return fmt.Errorf("vault earnings: %w", err)
		}
		if err := a.CurrentBalance.Credit(gain); err != nil {
			return err
		}
	}

	settled := now
	rec.Status = model.VaultBetSettled
	rec.Result = result
	rec.Profit = profit
	rec.SettledAt = &settled
	*v, *acct = vl, a
	return nil
}

// CancelBet closes a pending bet without a result and refunds its stake.
func CancelBet(acct *model.VaultUserAccount, rec *model.VaultBetRecord, now time.Time) error {
	if rec.Status != model.VaultBetPending {
		return fmt.Errorf("%s is %s: %w", rec.BetID, rec.Status, ErrAlreadySettled)
	}
	if rec.User != acct.User {
		return fmt.Errorf("%s: %w", rec.BetID, ErrWrongUser)
	}
	if err := acct.CurrentBalance.Credit(rec.Amount); err != nil {
		return err
	}

	closed := now
	rec.Status = model.VaultBetCancelled
	rec.SettledAt = &closed
	return nil
}

// CollectFees transfers amount from the vault to the authority's wallet and
// adds it to the fee total. Whether amount is fee revenue rather than
// principal is not checked.
func (e Engine) CollectFees(ctx context.Context, v *model.VaultLedger, amount uint64) error {
	total, err := ledger.AddUint64(v.TotalFees, amount)
	if err != nil {
		return fmt.Errorf("vault fees: %w", err)
	}

	err = custody.Execute(ctx, e.Transferer, custody.Transfer{
		From:       e.Account,
		To:         custody.WalletOf(v.Authority),
		Authorizer: e.Signer,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	v.TotalFees = total
	return nil
}
