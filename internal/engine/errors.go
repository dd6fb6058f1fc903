package engine

import (
	"errors"

	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/pool"
	"github.com/vegais/ledger-engine/internal/registry"
	"github.com/vegais/ledger-engine/internal/store"
	"github.com/vegais/ledger-engine/internal/vault"
	"github.com/vegais/ledger-engine/internal/wager"
)

// ErrUnauthorized is returned when the caller is not the stored authority
// for a privileged operation.
var ErrUnauthorized = errors.New("engine: caller is not authorized")

// codes maps each ledger error to a stable code. Order matters: more
// specific errors come before the ones they wrap.
var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{store.ErrNotFound, "not_found"},
	{store.ErrAlreadyExists, "already_exists"},
	{ledger.ErrInsufficientBalance, "insufficient_balance"},
	{ledger.ErrOverflow, "overflow"},
	{ledger.ErrUnderflow, "underflow"},
	{registry.ErrInactiveAccount, "inactive_account"},
	{wager.ErrAlreadySettled, "already_settled"},
	{vault.ErrAlreadySettled, "already_settled"},
	{wager.ErrInvalidResult, "invalid_result"},
	{vault.ErrInvalidResult, "invalid_result"},
	{wager.ErrWrongUser, "invalid_request"},
	{vault.ErrWrongUser, "invalid_request"},
	{pool.ErrWrongPool, "invalid_request"},
	{pool.ErrPoolInactive, "pool_inactive"},
	{pool.ErrInvestmentTooSmall, "investment_too_small"},
	{pool.ErrInvestmentTooLarge, "investment_too_large"},
	{pool.ErrInvestmentOutOfBounds, "investment_out_of_bounds"},
	{pool.ErrInsufficientShares, "insufficient_shares"},
	{pool.ErrInvestmentInactive, "investment_inactive"},
	{pool.ErrNoInvestors, "no_investors"},
	{pool.ErrInvalidStatus, "invalid_status"},
	{vault.ErrWithdrawalCooldown, "withdrawal_cooldown"},
	{vault.ErrVaultInactive, "vault_inactive"},
	{keys.ErrInvalidIdentity, "invalid_identity"},
	{keys.ErrInvalidKey, "invalid_request"},
	{keys.ErrInvalidBetID, "invalid_request"},
	{custody.ErrTransferFailed, "transfer_failed"},
}

// Code returns the stable code of err: "ok" for nil, "internal" for errors
// outside the ledger taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
