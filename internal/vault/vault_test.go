package vault_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/vault"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const vaultAcct custody.Account = "vault:main"

func setup(t *testing.T, wallet uint64) (*custody.MemoryCustody, vault.Engine, *model.VaultLedger, *model.VaultUserAccount) {
	t.Helper()
	c := custody.NewMemoryCustody()
	c.Open(vaultAcct, "vault-signer")
	c.Open(custody.WalletOf("admin"), "admin")
	c.Mint(custody.WalletOf("alice"), "alice", wallet)

	e := vault.Engine{Transferer: c, Account: vaultAcct, Signer: "vault-signer"}
	v := vault.Initialize("admin", "Strategy Vault", "SVT", t0)
	return c, e, v, vault.NewAccount("alice")
}

func deposit(t *testing.T, e vault.Engine, v *model.VaultLedger, a *model.VaultUserAccount, amount uint64, at time.Time) {
	t.Helper()
	require.NoError(t, e.Deposit(context.Background(), v, a, amount, at))
}

func TestInitialize(t *testing.T) {
	v := vault.Initialize("admin", "Strategy Vault", "SVT", t0)
	assert.True(t, v.IsActive)
	assert.Equal(t, "admin", v.Authority)
	assert.Equal(t, "SVT", v.Symbol)
	assert.Equal(t, t0, v.CreatedAt)
}

func TestDeposit(t *testing.T) {
	c, e, v, a := setup(t, 1000)

	deposit(t, e, v, a, 600, t0)

	assert.Equal(t, uint64(600), a.CurrentBalance.Amount())
	assert.Equal(t, uint64(600), a.TotalDeposited)
	assert.Equal(t, t0, a.LastDepositAt)
	assert.Equal(t, uint64(600), v.TotalDeposits)
	assert.Equal(t, uint64(600), c.Balance(vaultAcct))
	assert.Equal(t, uint64(400), c.Balance(custody.WalletOf("alice")))
}

func TestDeposit_TransferFailureLeavesState(t *testing.T) {
	c, e, v, a := setup(t, 1000)
	c.FailNext(errors.New("rpc timeout"))

	err := e.Deposit(context.Background(), v, a, 600, t0)

	require.ErrorIs(t, err, custody.ErrTransferFailed)
	assert.Equal(t, uint64(0), a.CurrentBalance.Amount())
	assert.Equal(t, uint64(0), a.TotalDeposited)
	assert.True(t, a.LastDepositAt.IsZero())
	assert.Equal(t, uint64(0), v.TotalDeposits)
	assert.Equal(t, uint64(1000), c.Balance(custody.WalletOf("alice")))
}

func TestDeposit_Inactive(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	vault.SetActive(v, false)

	err := e.Deposit(context.Background(), v, a, 100, t0)
	require.ErrorIs(t, err, vault.ErrVaultInactive)
	assert.Equal(t, uint64(0), a.CurrentBalance.Amount())
}

func TestWithdraw_Cooldown(t *testing.T) {
	c, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)
	ctx := context.Background()

	require.NoError(t, e.Withdraw(ctx, v, a, 100, t0))
	assert.Equal(t, t0, a.LastWithdrawalAt)

	err := e.Withdraw(ctx, v, a, 100, t0.Add(vault.CooldownPeriod-time.Second))
	require.ErrorIs(t, err, vault.ErrWithdrawalCooldown)
	assert.Equal(t, uint64(900), a.CurrentBalance.Amount())

	require.NoError(t, e.Withdraw(ctx, v, a, 100, t0.Add(vault.CooldownPeriod)))
	assert.Equal(t, uint64(800), a.CurrentBalance.Amount())
	assert.Equal(t, uint64(200), v.TotalWithdrawals)
	assert.Equal(t, uint64(800), c.Balance(vaultAcct))
	assert.Equal(t, uint64(200), c.Balance(custody.WalletOf("alice")))
}

func TestWithdraw_InsufficientBeforeCooldown(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 100, t0)
	require.NoError(t, e.Withdraw(context.Background(), v, a, 50, t0))

	err := e.Withdraw(context.Background(), v, a, 500, t0.Add(time.Minute))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.NotErrorIs(t, err, vault.ErrWithdrawalCooldown)
}

func TestWithdraw_AllowedWhileInactive(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 100, t0)
	vault.SetActive(v, false)

	require.NoError(t, e.Withdraw(context.Background(), v, a, 100, t0))
	assert.Equal(t, uint64(0), a.CurrentBalance.Amount())
}

func TestCooldownRemaining(t *testing.T) {
	a := vault.NewAccount("alice")
	assert.Zero(t, vault.CooldownRemaining(a, t0))

	a.LastWithdrawalAt = t0
	assert.Equal(t, vault.CooldownPeriod, vault.CooldownRemaining(a, t0))
	assert.Equal(t, time.Hour, vault.CooldownRemaining(a, t0.Add(23*time.Hour)))
	assert.Zero(t, vault.CooldownRemaining(a, t0.Add(25*time.Hour)))
}

func TestExecuteAndSettle_Profit(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)

	rec, err := vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", StrategyID: "arb", Amount: 300}, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), a.CurrentBalance.Amount())
	assert.Equal(t, model.VaultBetPending, rec.Status)

	require.NoError(t, vault.SettleBet(v, a, rec, model.ResultWin, 450, t0.Add(time.Hour)))
	assert.Equal(t, uint64(1150), a.CurrentBalance.Amount())
	assert.Equal(t, uint64(450), a.TotalEarnings)
	assert.Equal(t, uint64(450), v.TotalEarnings)
	assert.Equal(t, model.VaultBetSettled, rec.Status)
	assert.Equal(t, int64(450), rec.Profit)
	require.NotNil(t, rec.SettledAt)
}

func TestSettleBet_NegativeProfitNotCharged(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)
	rec, err := vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", Amount: 300}, t0)
	require.NoError(t, err)

	require.NoError(t, vault.SettleBet(v, a, rec, model.ResultLoss, -900, t0))
	assert.Equal(t, uint64(700), a.CurrentBalance.Amount())
	assert.Equal(t, uint64(0), a.TotalEarnings)
	assert.Equal(t, int64(-900), rec.Profit)
}

func TestSettleBet_Twice(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)
	rec, err := vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", Amount: 300}, t0)
	require.NoError(t, err)
	require.NoError(t, vault.SettleBet(v, a, rec, model.ResultWin, 10, t0))

	err = vault.SettleBet(v, a, rec, model.ResultWin, 10, t0)
	require.ErrorIs(t, err, vault.ErrAlreadySettled)
	assert.Equal(t, uint64(710), a.CurrentBalance.Amount())
}

func TestExecuteBet_Rejections(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 100, t0)

	_, err := vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", Amount: 101}, t0)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "", Amount: 1}, t0)
	require.ErrorIs(t, err, keys.ErrInvalidBetID)

	vault.SetActive(v, false)
	_, err = vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", Amount: 1}, t0)
	require.ErrorIs(t, err, vault.ErrVaultInactive)

	assert.Equal(t, uint64(100), a.CurrentBalance.Amount())
}

func TestCancelBet(t *testing.T) {
	_, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)
	rec, err := vault.ExecuteBet(v, a, vault.ExecuteRequest{BetID: "b-1", Amount: 300}, t0)
	require.NoError(t, err)

	require.NoError(t, vault.CancelBet(a, rec, t0))
	assert.Equal(t, uint64(1000), a.CurrentBalance.Amount())
	assert.Equal(t, model.VaultBetCancelled, rec.Status)

	require.ErrorIs(t, vault.CancelBet(a, rec, t0), vault.ErrAlreadySettled)
	require.ErrorIs(t, vault.SettleBet(v, a, rec, model.ResultWin, 5, t0), vault.ErrAlreadySettled)
	assert.Equal(t, uint64(1000), a.CurrentBalance.Amount())
}

func TestCollectFees(t *testing.T) {
	c, e, v, a := setup(t, 1000)
	deposit(t, e, v, a, 1000, t0)

	require.NoError(t, e.CollectFees(context.Background(), v, 50))
	assert.Equal(t, uint64(50), v.TotalFees)
	assert.Equal(t, uint64(950), c.Balance(vaultAcct))
	assert.Equal(t, uint64(50), c.Balance(custody.WalletOf("admin")))

	err := e.CollectFees(context.Background(), v, 5000)
	require.ErrorIs(t, err, custody.ErrInsufficientFunds)
	require.ErrorIs(t, err, custody.ErrTransferFailed)
	assert.Equal(t, uint64(50), v.TotalFees)
}

func TestConservation(t *testing.T) {
	c, e, v, a := setup(t, 5000)
	ctx := context.Background()
	now := t0

	deposit(t, e, v, a, 3000, now)
	require.NoError(t, e.Withdraw(ctx, v, a, 500, now))
	require.NoError(t, e.CollectFees(ctx, v, 100))
	now = now.Add(vault.CooldownPeriod)
	require.NoError(t, e.Withdraw(ctx, v, a, 250, now))
	deposit(t, e, v, a, 1000, now)

	assert.Equal(t, v.TotalDeposits-v.TotalWithdrawals-v.TotalFees, c.Balance(vaultAcct))
}
