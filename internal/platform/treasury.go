// Package platform moves funds between a user's wallet and their platform
// balance through the platform vault token account.
package platform

import (
	"context"
	"fmt"

	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/registry"
)

// Treasury is the platform vault: the custody account holding every user's
// platform balance, and the identity that signs transfers out of it.
type Treasury struct {
	Transferer custody.Transferer
	Vault      custody.Account
	Signer     string
}

// Deposit moves amount from the user's wallet into the platform vault and
// credits the user's balance. user and stats are updated only on success.
func (t Treasury) Deposit(ctx context.Context, stats *model.PlatformStats, user *model.UserLedger, amount uint64) error {
	u, s := *user, *stats

	var err error
	if u.TotalVolume, err = ledger.AddUint64(u.TotalVolume, amount); err != nil {
		return fmt.Errorf("user volume: %w", err)
	}
	if s.TotalVolume, err = ledger.AddUint64(s.TotalVolume, amount); err != nil {
		return fmt.Errorf("platform volume: %w", err)
	}

	err = ledger.TransferExternal(ctx, t.Transferer, ledger.Inbound, &u.Balance, custody.Transfer{
		From:       custody.WalletOf(u.Identity),
		To:         t.Vault,
		Authorizer: u.Identity,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	*user, *stats = u, s
	return nil
}

// Withdraw moves amount from the platform vault back to the user's wallet
// and debits the user's balance. The platform volume counter is decreased;
// going below zero is a hard failure like every other counter.
func (t Treasury) Withdraw(ctx context.Context, stats *model.PlatformStats, user *model.UserLedger, amount uint64) error {
	if !user.Balance.Covers(amount) {
		return fmt.Errorf("withdraw %d: %w", amount, ledger.ErrInsufficientBalance)
	}
	if err := registry.RequireActive(user); err != nil {
		return err
	}
	u, s := *user, *stats

	var err error
	if s.TotalVolume, err = ledger.SubUint64(s.TotalVolume, amount); err != nil {
		return fmt.Errorf("platform volume: %w", err)
	}

	err = ledger.TransferExternal(ctx, t.Transferer, ledger.Outbound, &u.Balance, custody.Transfer{
		From:       t.Vault,
		To:         custody.WalletOf(u.Identity),
		Authorizer: t.Signer,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	*user, *stats = u, s
	return nil
}
