// Package engine runs ledger transitions. Each external call becomes one
// store transaction: the records it touches are loaded, the wager, pool or
// vault rules are applied to them, and the results are saved together with
// the audit events they produce. Events are published only after commit.
//
// The engine compares the already-authenticated caller against stored
// authority fields for privileged operations; it never verifies identities
// itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vegais/ledger-engine/internal/clock"
	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/events"
	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/metrics"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/platform"
	"github.com/vegais/ledger-engine/internal/pool"
	"github.com/vegais/ledger-engine/internal/registry"
	"github.com/vegais/ledger-engine/internal/store"
	"github.com/vegais/ledger-engine/internal/vault"
	"github.com/vegais/ledger-engine/internal/wager"
)

// Service executes ledger transitions against a store.
type Service struct {
	store     store.Store
	clock     clock.Clock
	treasury  platform.Treasury
	vault     vault.Engine
	publisher events.Publisher
}

// NewService creates a ledger service. Pass nil for pub if committed events
// only need to be kept in the store.
func NewService(st store.Store, clk clock.Clock, treasury platform.Treasury, v vault.Engine, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Multi{}
	}
	return &Service{
		store:     st,
		clock:     clk,
		treasury:  treasury,
		vault:     v,
		publisher: pub,
	}
}

// txn is the state of one transition in flight.
type txn struct {
	store.Tx
	ctx       context.Context
	now       time.Time
	caller    string
	events    []model.Event
	transfers custody.Deferred
}

func (t *txn) emit(e model.Event) {
	t.events = append(t.events, e)
}

// stagedTreasury returns tr with its custody transfers queued on t.
func (t *txn) stagedTreasury(tr platform.Treasury) platform.Treasury {
	tr.Transferer = t.transfers.Via(tr.Transferer)
	return tr
}

// stagedVault returns v with its custody transfers queued on t.
func (t *txn) stagedVault(v vault.Engine) vault.Engine {
	v.Transferer = t.transfers.Via(v.Transferer)
	return v
}

// transition runs fn as one atomic ledger transition on behalf of caller.
// The clock is read once; every timestamp written by fn uses t.now. Custody
// transfers requested by fn run after all of its writes and events, so the
// commit is the only step that can still fail once tokens have moved.
func (s *Service) transition(ctx context.Context, op, caller string, fn func(t *txn) error) error {
	start := time.Now()
	if err := keys.ValidateIdentity(caller); err != nil {
		metrics.ObserveTransition(op, Code(err), start)
		return err
	}

	now := s.clock.Now()
	var committed []model.Event
	err := s.store.Update(ctx, func(tx store.Tx) error {
		t := &txn{Tx: tx, ctx: ctx, now: now, caller: caller}
		if err := fn(t); err != nil {
			return err
		}
		for i := range t.events {
			e := &t.events[i]
			e.ID = uuid.New().String()
			e.Timestamp = now
			if err := tx.AppendEvent(ctx, e); err != nil {
				return fmt.Errorf("append event: %w", err)
			}
		}
		if err := t.transfers.Run(ctx); err != nil {
			return err
		}
		committed = t.events
		return nil
	})

	metrics.ObserveTransition(op, Code(err), start)
	if err != nil {
		slog.Warn("transition rejected", "op", op, "caller", caller, "code", Code(err), "error", err)
		return err
	}

	for _, e := range committed {
		if err := s.publisher.Publish(ctx, e); err != nil {
			metrics.EventPublishFailures.Inc()
			slog.Warn("event publish failed", "op", op, "event", e.ID, "error", err)
		}
	}
	slog.Info("transition committed", "op", op, "caller", caller, "events", len(committed))
	return nil
}

// --- Platform and users ---

// InitializePlatform creates the platform singleton with caller as its
// settlement authority.
func (s *Service) InitializePlatform(ctx context.Context, caller string) (*model.PlatformStats, error) {
	var out *model.PlatformStats
	err := s.transition(ctx, "initialize_platform", caller, func(t *txn) error {
		p := registry.NewPlatform(caller, t.now)
		if err := t.CreatePlatform(ctx, p); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventPlatformInitialized, User: caller, Ref: keys.Platform})
		out = p
		return nil
	})
	return out, err
}

// CreateUser opens the caller's user ledger.
func (s *Service) CreateUser(ctx context.Context, caller, username string) (*model.UserLedger, error) {
	var out *model.UserLedger
	err := s.transition(ctx, "create_user", caller, func(t *txn) error {
		stats, err := t.GetPlatform(ctx)
		if err != nil {
			return err
		}
		u, err := registry.NewUser(stats, caller, username, t.now)
		if err != nil {
			return err
		}
		if err := t.CreateUser(ctx, u); err != nil {
			return err
		}
		if err := t.SavePlatform(ctx, stats); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventUserCreated, User: caller, Ref: keys.User(caller), Detail: username})
		out = u
		return nil
	})
	return out, err
}

// Deposit moves amount from the caller's wallet onto their platform balance.
func (s *Service) Deposit(ctx context.Context, caller string, amount uint64) (*model.UserLedger, error) {
	return s.moveFunds(ctx, "deposit", caller, amount, platform.Treasury.Deposit, model.EventDeposit)
}

// Withdraw moves amount from the caller's platform balance to their wallet.
func (s *Service) Withdraw(ctx context.Context, caller string, amount uint64) (*model.UserLedger, error) {
	return s.moveFunds(ctx, "withdraw", caller, amount, platform.Treasury.Withdraw, model.EventWithdraw)
}

type treasuryOp func(tr platform.Treasury, ctx context.Context, stats *model.PlatformStats, user *model.UserLedger, amount uint64) error

func (s *Service) moveFunds(ctx context.Context, op, caller string, amount uint64, move treasuryOp, typ model.EventType) (*model.UserLedger, error) {
	var out *model.UserLedger
	err := s.transition(ctx, op, caller, func(t *txn) error {
		stats, err := t.GetPlatform(ctx)
		if err != nil {
			return err
		}
		u, err := t.GetUser(ctx, caller)
		if err != nil {
			return err
		}
		if err := move(t.stagedTreasury(s.treasury), ctx, stats, u, amount); err != nil {
			return err
		}
		if err := t.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := t.SavePlatform(ctx, stats); err != nil {
			return err
		}
		t.emit(model.Event{Type: typ, User: caller, Ref: keys.User(caller), Amount: amount})
		out = u
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues(op).Add(float64(amount))
	}
	return out, err
}

// --- Wagers ---

// PlaceWager stakes req.Amount from the caller's balance on a new wager.
func (s *Service) PlaceWager(ctx context.Context, caller string, req wager.PlaceRequest) (*model.Wager, error) {
	var out *model.Wager
	err := s.transition(ctx, "place_wager", caller, func(t *txn) error {
		stats, err := t.GetPlatform(ctx)
		if err != nil {
			return err
		}
		u, err := t.GetUser(ctx, caller)
		if err != nil {
			return err
		}
		w, err := wager.Place(u, stats, req, t.now)
		if err != nil {
			return err
		}
		if err := t.CreateWager(ctx, w); err != nil {
			return err
		}
		if err := t.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := t.SavePlatform(ctx, stats); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventBetPlaced, User: caller, Ref: w.ID, Amount: w.Amount, Detail: w.MatchID})
		out = w
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues("place_wager").Add(float64(req.Amount))
	}
	return out, err
}

var settleEvents = map[model.BetResult]model.EventType{
	model.ResultWin:  model.EventBetWon,
	model.ResultLoss: model.EventBetLost,
	model.ResultDraw: model.EventBetDraw,
}

// SettleWager records result on a pending wager. Only the platform
// authority may settle.
func (s *Service) SettleWager(ctx context.Context, caller, wagerID string, result model.BetResult) (*model.Wager, error) {
	var out *model.Wager
	err := s.transition(ctx, "settle_wager", caller, func(t *txn) error {
		if _, err := keys.ParseWager(wagerID); err != nil {
			return err
		}
		stats, err := t.GetPlatform(ctx)
		if err != nil {
			return err
		}
		if caller != stats.Authority {
			return ErrUnauthorized
		}
		w, err := t.GetWager(ctx, wagerID)
		if err != nil {
			return err
		}
		u, err := t.GetUser(ctx, w.User)
		if err != nil {
			return err
		}
		if err := wager.Settle(w, u, result, t.now); err != nil {
			return err
		}
		if err := t.SaveWager(ctx, w); err != nil {
			return err
		}
		if err := t.SaveUser(ctx, u); err != nil {
			return err
		}
		t.emit(model.Event{Type: settleEvents[result], User: w.User, Ref: w.ID, Amount: w.Winnings})
		out = w
		return nil
	})
	if err == nil {
		metrics.SettlementsTotal.WithLabelValues("wager", string(result)).Inc()
	}
	return out, err
}

// --- Investment pools ---

// CreatePool opens a new pool managed by the caller, who must have a user
// ledger.
func (s *Service) CreatePool(ctx context.Context, caller string, params registry.PoolParams) (*model.InvestmentPool, error) {
	var out *model.InvestmentPool
	err := s.transition(ctx, "create_pool", caller, func(t *txn) error {
		manager, err := t.GetUser(ctx, caller)
		if err != nil {
			return err
		}
		p := registry.NewPool(manager, params, t.now)
		if err := t.CreatePool(ctx, p); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventPoolCreated, User: caller, Ref: p.ID, Detail: p.Name})
		out = p
		return nil
	})
	return out, err
}

// SetPoolStatus moves a pool between active, paused and closed. Only the
// pool's manager may do so.
func (s *Service) SetPoolStatus(ctx context.Context, caller, poolID string, status model.PoolStatus) (*model.InvestmentPool, error) {
	var out *model.InvestmentPool
	err := s.transition(ctx, "set_pool_status", caller, func(t *txn) error {
		if _, err := keys.ParsePool(poolID); err != nil {
			return err
		}
		p, err := t.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		if caller != p.Manager {
			return ErrUnauthorized
		}
		if err := pool.SetStatus(p, status); err != nil {
			return err
		}
		if err := t.SavePool(ctx, p); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventPoolStatusChanged, User: caller, Ref: p.ID, Detail: string(status)})
		out = p
		return nil
	})
	return out, err
}

// Invest moves amount from the caller's balance into a pool.
func (s *Service) Invest(ctx context.Context, caller, poolID string, amount uint64) (*model.Investment, error) {
	var out *model.Investment
	err := s.transition(ctx, "invest", caller, func(t *txn) error {
		if _, err := keys.ParsePool(poolID); err != nil {
			return err
		}
		u, err := t.GetUser(ctx, caller)
		if err != nil {
			return err
		}
		p, err := t.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		inv, err := pool.Invest(u, p, amount, t.now)
		if err != nil {
			return err
		}
		if err := t.CreateInvestment(ctx, inv); err != nil {
			return err
		}
		if err := t.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := t.SavePool(ctx, p); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventInvestment, User: caller, Ref: inv.ID, Amount: amount})
		out = inv
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues("invest").Add(float64(amount))
	}
	return out, err
}

// Redemption is the result of a redeem call.
type Redemption struct {
	Investment *model.Investment `json:"investment"`
	Amount     uint64            `json:"amount"`
}

// Redeem burns shares of the caller's investment in a pool and credits the
// redemption amount.
func (s *Service) Redeem(ctx context.Context, caller, poolID string, shares uint64) (*Redemption, error) {
	var out *Redemption
	err := s.transition(ctx, "redeem", caller, func(t *txn) error {
		if _, err := keys.ParsePool(poolID); err != nil {
			return err
		}
		u, err := t.GetUser(ctx, caller)
		if err != nil {
			return err
		}
		p, err := t.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		inv, err := t.GetInvestment(ctx, keys.Investment(caller, poolID))
		if err != nil {
			return err
		}
		paid, err := pool.Redeem(u, p, inv, shares)
		if err != nil {
			return err
		}
		if err := t.SaveInvestment(ctx, inv); err != nil {
			return err
		}
		if err := t.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := t.SavePool(ctx, p); err != nil {
			return err
		}
		t.emit(model.Event{
			Type:   model.EventRedeem,
			User:   caller,
			Ref:    inv.ID,
			Amount: paid,
			Detail: fmt.Sprintf("shares=%d", shares),
		})
		out = &Redemption{Investment: inv, Amount: paid}
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues("redeem").Add(float64(out.Amount))
	}
	return out, err
}

// --- Vault ---

// InitializeVault creates the vault singleton with caller as its authority.
func (s *Service) InitializeVault(ctx context.Context, caller, name, symbol string) (*model.VaultLedger, error) {
	var out *model.VaultLedger
	err := s.transition(ctx, "initialize_vault", caller, func(t *txn) error {
		v := vault.Initialize(caller, name, symbol, t.now)
		if err := t.CreateVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultInitialized, User: caller, Ref: "vault", Detail: symbol})
		out = v
		return nil
	})
	return out, err
}

// authorizedVault loads the vault and checks the caller is its authority.
func authorizedVault(t *txn) (*model.VaultLedger, error) {
	v, err := t.GetVault(t.ctx)
	if err != nil {
		return nil, err
	}
	if t.caller != v.Authority {
		return nil, ErrUnauthorized
	}
	return v, nil
}

// SetVaultActive enables or disables deposits and bet execution.
func (s *Service) SetVaultActive(ctx context.Context, caller string, active bool) (*model.VaultLedger, error) {
	var out *model.VaultLedger
	err := s.transition(ctx, "set_vault_active", caller, func(t *txn) error {
		v, err := authorizedVault(t)
		if err != nil {
			return err
		}
		vault.SetActive(v, active)
		if err := t.SaveVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultStatusChanged, User: caller, Ref: "vault", Detail: fmt.Sprintf("active=%t", active)})
		out = v
		return nil
	})
	return out, err
}

// VaultDeposit moves amount from the caller's wallet into the vault. The
// caller's vault account is created on first deposit.
func (s *Service) VaultDeposit(ctx context.Context, caller string, amount uint64) (*model.VaultUserAccount, error) {
	var out *model.VaultUserAccount
	err := s.transition(ctx, "vault_deposit", caller, func(t *txn) error {
		v, err := t.GetVault(ctx)
		if err != nil {
			return err
		}
		acct, err := t.GetVaultAccount(ctx, caller)
		isNew := errors.Is(err, store.ErrNotFound)
		switch {
		case isNew:
			acct = vault.NewAccount(caller)
		case err != nil:
			return err
		}

		if err := t.stagedVault(s.vault).Deposit(ctx, v, acct, amount, t.now); err != nil {
			return err
		}
		save := t.SaveVaultAccount
		if isNew {
			save = t.CreateVaultAccount
		}
		if err := save(ctx, acct); err != nil {
			return err
		}
		if err := t.SaveVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultDeposit, User: caller, Ref: keys.VaultAccount(caller), Amount: amount})
		out = acct
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues("vault_deposit").Add(float64(amount))
	}
	return out, err
}

// VaultWithdraw moves amount from the caller's vault balance to their
// wallet, subject to the withdrawal cooldown.
func (s *Service) VaultWithdraw(ctx context.Context, caller string, amount uint64) (*model.VaultUserAccount, error) {
	var out *model.VaultUserAccount
	err := s.transition(ctx, "vault_withdraw", caller, func(t *txn) error {
		v, err := t.GetVault(ctx)
		if err != nil {
			return err
		}
		acct, err := t.GetVaultAccount(ctx, caller)
		if err != nil {
			return err
		}
		if err := t.stagedVault(s.vault).Withdraw(ctx, v, acct, amount, t.now); err != nil {
			return err
		}
		if err := t.SaveVaultAccount(ctx, acct); err != nil {
			return err
		}
		if err := t.SaveVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultWithdraw, User: caller, Ref: keys.VaultAccount(caller), Amount: amount})
		out = acct
		return nil
	})
	if err == nil {
		metrics.VolumeTotal.WithLabelValues("vault_withdraw").Add(float64(amount))
	}
	return out, err
}

// ExecuteVaultBet stakes req.Amount of the caller's vault balance on a
// strategy bet identified by req.BetID.
func (s *Service) ExecuteVaultBet(ctx context.Context, caller string, req vault.ExecuteRequest) (*model.VaultBetRecord, error) {
	var out *model.VaultBetRecord
	err := s.transition(ctx, "execute_vault_bet", caller, func(t *txn) error {
		v, err := t.GetVault(ctx)
		if err != nil {
			return err
		}
		acct, err := t.GetVaultAccount(ctx, caller)
		if err != nil {
			return err
		}
		rec, err := vault.ExecuteBet(v, acct, req, t.now)
		if err != nil {
			return err
		}
		if err := t.CreateVaultBet(ctx, rec); err != nil {
			return err
		}
		if err := t.SaveVaultAccount(ctx, acct); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultBetExecuted, User: caller, Ref: keys.VaultBet(rec.BetID), Amount: rec.Amount, Detail: rec.StrategyID})
		out = rec
		return nil
	})
	return out, err
}

// SettleVaultBet closes a pending vault bet. Only the vault authority may
// settle; result and profit are recorded as given.
func (s *Service) SettleVaultBet(ctx context.Context, caller, betID string, result model.BetResult, profit int64) (*model.VaultBetRecord, error) {
	var out *model.VaultBetRecord
	err := s.transition(ctx, "settle_vault_bet", caller, func(t *txn) error {
		v, err := authorizedVault(t)
		if err != nil {
			return err
		}
		rec, err := t.GetVaultBet(ctx, betID)
		if err != nil {
			return err
		}
		acct, err := t.GetVaultAccount(ctx, rec.User)
		if err != nil {
			return err
		}
		if err := vault.SettleBet(v, acct, rec, result, profit, t.now); err != nil {
			return err
		}
		if err := t.SaveVaultBet(ctx, rec); err != nil {
			return err
		}
		if err := t.SaveVaultAccount(ctx, acct); err != nil {
			return err
		}
		if err := t.SaveVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{
			Type:   model.EventVaultBetSettled,
			User:   rec.User,
			Ref:    keys.VaultBet(rec.BetID),
			Amount: rec.Amount,
			Profit: profit,
			Detail: string(result),
		})
		out = rec
		return nil
	})
	if err == nil {
		metrics.SettlementsTotal.WithLabelValues("vault", string(result)).Inc()
	}
	return out, err
}

// CancelVaultBet closes a pending vault bet and refunds its stake. Only the
// vault authority may cancel.
func (s *Service) CancelVaultBet(ctx context.Context, caller, betID string) (*model.VaultBetRecord, error) {
	var out *model.VaultBetRecord
	err := s.transition(ctx, "cancel_vault_bet", caller, func(t *txn) error {
		if _, err := authorizedVault(t); err != nil {
			return err
		}
		rec, err := t.GetVaultBet(ctx, betID)
		if err != nil {
			return err
		}
		acct, err := t.GetVaultAccount(ctx, rec.User)
		if err != nil {
			return err
		}
		if err := vault.CancelBet(acct, rec, t.now); err != nil {
			return err
		}
		if err := t.SaveVaultBet(ctx, rec); err != nil {
			return err
		}
		if err := t.SaveVaultAccount(ctx, acct); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventVaultBetCancelled, User: rec.User, Ref: keys.VaultBet(rec.BetID), Amount: rec.Amount})
		out = rec
		return nil
	})
	return out, err
}

// CollectFees transfers amount from the vault to the authority's wallet.
func (s *Service) CollectFees(ctx context.Context, caller string, amount uint64) (*model.VaultLedger, error) {
	var out *model.VaultLedger
	err := s.transition(ctx, "collect_fees", caller, func(t *txn) error {
		v, err := authorizedVault(t)
		if err != nil {
			return err
		}
		if err := t.stagedVault(s.vault).CollectFees(ctx, v, amount); err != nil {
			return err
		}
		if err := t.SaveVault(ctx, v); err != nil {
			return err
		}
		t.emit(model.Event{Type: model.EventFeesCollected, User: caller, Ref: "vault", Amount: amount})
		out = v
		return nil
	})
	if err == nil {
		metrics.FeesCollected.Add(float64(amount))
	}
	return out, err
}
