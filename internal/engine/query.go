package engine

import (
	"context"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/store"
)

// view runs one read-only lookup.
func view[T any](ctx context.Context, st store.Store, fn func(tx store.Tx) (T, error)) (T, error) {
	var out T
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

func (s *Service) Platform(ctx context.Context) (*model.PlatformStats, error) {
	return view(ctx, s.store, func(tx store.Tx) (*model.PlatformStats, error) {
		return tx.GetPlatform(ctx)
	})
}

func (s *Service) User(ctx context.Context, identity string) (*model.UserLedger, error) {
	return view(ctx, s.store, func(tx store.Tx) (*model.UserLedger, error) {
		return tx.GetUser(ctx, identity)
	})
}

func (s *Service) Wager(ctx context.Context, id string) (*model.Wager, error) {
	if _, err := keys.ParseWager(id); err != nil {
		return nil, err
	}
	return view(ctx, s.store, func(tx store.Tx) (*model.Wager, error) {
		return tx.GetWager(ctx, id)
	})
}

// WagersByUser returns a user's wagers, oldest first.
func (s *Service) WagersByUser(ctx context.Context, user string) ([]model.Wager, error) {
	return view(ctx, s.store, func(tx store.Tx) ([]model.Wager, error) {
		return tx.ListWagersByUser(ctx, user)
	})
}

func (s *Service) Pool(ctx context.Context, id string) (*model.InvestmentPool, error) {
	if _, err := keys.ParsePool(id); err != nil {
		return nil, err
	}
	return view(ctx, s.store, func(tx store.Tx) (*model.InvestmentPool, error) {
		return tx.GetPool(ctx, id)
	})
}

func (s *Service) Pools(ctx context.Context) ([]model.InvestmentPool, error) {
	return view(ctx, s.store, func(tx store.Tx) ([]model.InvestmentPool, error) {
		return tx.ListPools(ctx)
	})
}

// Investment returns user's investment in a pool.
func (s *Service) Investment(ctx context.Context, user, poolID string) (*model.Investment, error) {
	if _, err := keys.ParsePool(poolID); err != nil {
		return nil, err
	}
	return view(ctx, s.store, func(tx store.Tx) (*model.Investment, error) {
		return tx.GetInvestment(ctx, keys.Investment(user, poolID))
	})
}

func (s *Service) InvestmentsByUser(ctx context.Context, user string) ([]model.Investment, error) {
	return view(ctx, s.store, func(tx store.Tx) ([]model.Investment, error) {
		return tx.ListInvestmentsByUser(ctx, user)
	})
}

func (s *Service) Vault(ctx context.Context) (*model.VaultLedger, error) {
	return view(ctx, s.store, func(tx store.Tx) (*model.VaultLedger, error) {
		return tx.GetVault(ctx)
	})
}

func (s *Service) VaultAccount(ctx context.Context, user string) (*model.VaultUserAccount, error) {
	return view(ctx, s.store, func(tx store.Tx) (*model.VaultUserAccount, error) {
		return tx.GetVaultAccount(ctx, user)
	})
}

func (s *Service) VaultBet(ctx context.Context, betID string) (*model.VaultBetRecord, error) {
	return view(ctx, s.store, func(tx store.Tx) (*model.VaultBetRecord, error) {
		return tx.GetVaultBet(ctx, betID)
	})
}

func (s *Service) VaultBetsByUser(ctx context.Context, user string) ([]model.VaultBetRecord, error) {
	return view(ctx, s.store, func(tx store.Tx) ([]model.VaultBetRecord, error) {
		return tx.ListVaultBetsByUser(ctx, user)
	})
}

// Events returns audit events matching f, oldest first.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	return view(ctx, s.store, func(tx store.Tx) ([]model.Event, error) {
		return tx.ListEvents(ctx, f)
	})
}
