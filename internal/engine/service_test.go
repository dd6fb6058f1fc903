package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegais/ledger-engine/internal/clock"
	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/engine"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/platform"
	"github.com/vegais/ledger-engine/internal/registry"
	"github.com/vegais/ledger-engine/internal/store"
	"github.com/vegais/ledger-engine/internal/vault"
	"github.com/vegais/ledger-engine/internal/wager"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	treasuryAcct custody.Account = "treasury:platform"
	vaultAcct    custody.Account = "vault:main"
)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// faultyStore fails the Tx write named by failOn inside Update. An empty
// failOn lets every write through.
type faultyStore struct {
	store.Store
	failOn string
	err    error
}

func (s *faultyStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.Update(ctx, func(tx store.Tx) error {
		return fn(faultyTx{Tx: tx, s: s})
	})
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t faultyTx) fault(op string) error {
	if t.s.failOn == op {
		return t.s.err
	}
	return nil
}

func (t faultyTx) SaveUser(ctx context.Context, u *model.UserLedger) error {
	if err := t.fault("SaveUser"); err != nil {
		return err
	}
	return t.Tx.SaveUser(ctx, u)
}

func (t faultyTx) SavePlatform(ctx context.Context, p *model.PlatformStats) error {
	if err := t.fault("SavePlatform"); err != nil {
		return err
	}
	return t.Tx.SavePlatform(ctx, p)
}

func (t faultyTx) CreateVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	if err := t.fault("CreateVaultAccount"); err != nil {
		return err
	}
	return t.Tx.CreateVaultAccount(ctx, a)
}

func (t faultyTx) SaveVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	if err := t.fault("SaveVaultAccount"); err != nil {
		return err
	}
	return t.Tx.SaveVaultAccount(ctx, a)
}

func (t faultyTx) SaveVault(ctx context.Context, v *model.VaultLedger) error {
	if err := t.fault("SaveVault"); err != nil {
		return err
	}
	return t.Tx.SaveVault(ctx, v)
}

func (t faultyTx) AppendEvent(ctx context.Context, e *model.Event) error {
	if err := t.fault("AppendEvent"); err != nil {
		return err
	}
	return t.Tx.AppendEvent(ctx, e)
}

type env struct {
	svc     *engine.Service
	custody *custody.MemoryCustody
	clock   *clock.Manual
	pub     *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithStore(t, store.NewMemoryStore())
}

func newEnvWithStore(t *testing.T, st store.Store) *env {
	t.Helper()
	c := custody.NewMemoryCustody()
	c.Open(treasuryAcct, "platform-signer")
	c.Open(vaultAcct, "vault-signer")
	c.Open(custody.WalletOf("admin"), "admin")
	c.Mint(custody.WalletOf("alice"), "alice", 10_000)
	c.Mint(custody.WalletOf("bob"), "bob", 10_000)

	clk := clock.NewManual(t0)
	pub := &recorder{}
	svc := engine.NewService(
		st,
		clk,
		platform.Treasury{Transferer: c, Vault: treasuryAcct, Signer: "platform-signer"},
		vault.Engine{Transferer: c, Account: vaultAcct, Signer: "vault-signer"},
		pub,
	)
	return &env{svc: svc, custody: c, clock: clk, pub: pub}
}

// bootstrap initializes the platform with admin as authority and opens
// ledgers for alice and bob.
func bootstrap(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.InitializePlatform(ctx, "admin")
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob"} {
		_, err := e.svc.CreateUser(ctx, id, id)
		require.NoError(t, err)
	}
}

// --- Platform and users ---

func TestCreateUser(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.Equal(t, uint64(0), u.Balance.Amount())
	assert.Equal(t, t0, u.CreatedAt)

	stats, err := e.svc.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalUsers)
	assert.Equal(t, "admin", stats.Authority)
}

func TestCreateUser_Twice(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()

	_, err := e.svc.CreateUser(ctx, "alice", "alice2")
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Equal(t, "already_exists", engine.Code(err))

	stats, err := e.svc.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalUsers, "failed create must not bump the counter")

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestCreateUser_BeforePlatform(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CreateUser(context.Background(), "alice", "alice")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializePlatform_Twice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.InitializePlatform(ctx, "admin")
	require.NoError(t, err)
	_, err = e.svc.InitializePlatform(ctx, "mallory")
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	stats, err := e.svc.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", stats.Authority)
}

func TestInvalidCaller(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.InitializePlatform(context.Background(), "bad:identity")
	assert.Equal(t, "invalid_identity", engine.Code(err))
}

func TestDepositWithdraw(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()

	u, err := e.svc.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), u.Balance.Amount())
	assert.Equal(t, uint64(1000), u.TotalVolume)

	u, err = e.svc.Withdraw(ctx, "alice", 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), u.Balance.Amount())

	assert.Equal(t, uint64(700), e.custody.Balance(treasuryAcct))
	assert.Equal(t, uint64(9300), e.custody.Balance(custody.WalletOf("alice")))

	stats, err := e.svc.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), stats.TotalVolume)
}

func TestWithdraw_Insufficient(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	_, err := e.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)

	_, err = e.svc.Withdraw(ctx, "alice", 101)
	assert.Equal(t, "insufficient_balance", engine.Code(err))
	assert.Equal(t, uint64(100), e.custody.Balance(treasuryAcct))
}

func TestDeposit_TransferFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	published := len(e.pub.types())

	e.custody.FailNext(errors.New("rpc timeout"))
	_, err := e.svc.Deposit(ctx, "alice", 500)
	require.ErrorIs(t, err, custody.ErrTransferFailed)
	assert.Equal(t, "transfer_failed", engine.Code(err))

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), u.Balance.Amount())
	assert.Equal(t, uint64(0), u.TotalVolume)

	stats, err := e.svc.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.TotalVolume)

	evs, err := e.svc.Events(ctx, store.EventFilter{Type: model.EventDeposit})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Len(t, e.pub.types(), published, "rejected transitions publish nothing")
}

func TestWriteFailureMovesNoTokens(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		err    error
		run    func(ctx context.Context, svc *engine.Service) error
	}{
		{
			name: "deposit", failOn: "SaveUser", err: errors.New("connection lost"),
			run: func(ctx context.Context, svc *engine.Service) error {
				_, err := svc.Deposit(ctx, "bob", 500)
				return err
			},
		},
		{
			name: "withdraw", failOn: "SavePlatform", err: errors.New("connection lost"),
			run: func(ctx context.Context, svc *engine.Service) error {
				_, err := svc.Withdraw(ctx, "alice", 100)
				return err
			},
		},
		{
			// A concurrent first deposit inserted the account row first.
			name: "first vault deposit", failOn: "CreateVaultAccount", err: store.ErrAlreadyExists,
			run: func(ctx context.Context, svc *engine.Service) error {
				_, err := svc.VaultDeposit(ctx, "bob", 400)
				return err
			},
		},
		{
			name: "vault withdraw", failOn: "SaveVaultAccount", err: errors.New("connection lost"),
			run: func(ctx context.Context, svc *engine.Service) error {
				_, err := svc.VaultWithdraw(ctx, "alice", 100)
				return err
			},
		},
		{
			name: "collect fees", failOn: "AppendEvent", err: errors.New("connection lost"),
			run: func(ctx context.Context, svc *engine.Service) error {
				_, err := svc.CollectFees(ctx, "admin", 50)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &faultyStore{Store: store.NewMemoryStore()}
			e := newEnvWithStore(t, st)
			bootstrap(t, e)
			initVault(t, e)
			ctx := context.Background()
			_, err := e.svc.Deposit(ctx, "alice", 1000)
			require.NoError(t, err)
			_, err = e.svc.VaultDeposit(ctx, "alice", 1000)
			require.NoError(t, err)

			accounts := []custody.Account{
				treasuryAcct, vaultAcct,
				custody.WalletOf("alice"), custody.WalletOf("bob"), custody.WalletOf("admin"),
			}
			before := make(map[custody.Account]uint64)
			for _, a := range accounts {
				before[a] = e.custody.Balance(a)
			}

			st.failOn, st.err = tt.failOn, tt.err
			err = tt.run(ctx, e.svc)
			require.ErrorIs(t, err, tt.err)
			st.failOn = ""

			for _, a := range accounts {
				assert.Equal(t, before[a], e.custody.Balance(a), "custody balance of %s", a)
			}
			u, err := e.svc.User(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), u.Balance.Amount())
			acct, err := e.svc.VaultAccount(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), acct.CurrentBalance.Amount())
			_, err = e.svc.VaultAccount(ctx, "bob")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

// --- Wagers ---

func TestWagerLifecycle(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	_, err := e.svc.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	w, err := e.svc.PlaceWager(ctx, "alice", wager.PlaceRequest{
		MatchID: "m-1", Prediction: "home", Amount: 500, Odds: 2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1250), w.PotentialWinnings)
	assert.Equal(t, model.WagerPending, w.Status)

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), u.Balance.Amount())

	_, err = e.svc.SettleWager(ctx, "alice", w.ID, model.ResultWin)
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	settled, err := e.svc.SettleWager(ctx, "admin", w.ID, model.ResultWin)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, settled.Status)
	assert.Equal(t, uint64(1250), settled.Winnings)
	require.NotNil(t, settled.SettledAt)

	u, err = e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1750), u.Balance.Amount())
	assert.Equal(t, uint64(1), u.TotalWins)
	assert.Equal(t, uint64(1), u.TotalBets)

	_, err = e.svc.SettleWager(ctx, "admin", w.ID, model.ResultLoss)
	assert.Equal(t, "already_settled", engine.Code(err))

	u, err = e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1750), u.Balance.Amount(), "second settle must not pay")
}

func TestPlaceWager_SameSecond(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	_, err := e.svc.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	req := wager.PlaceRequest{MatchID: "m-1", Prediction: "away", Amount: 100, Odds: 1.5}
	_, err = e.svc.PlaceWager(ctx, "alice", req)
	require.NoError(t, err)
	_, err = e.svc.PlaceWager(ctx, "alice", req)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	e.clock.Advance(time.Second)
	_, err = e.svc.PlaceWager(ctx, "alice", req)
	require.NoError(t, err)

	ws, err := e.svc.WagersByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, ws, 2)

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(800), u.Balance.Amount())
}

// --- Investment pools ---

func createPool(t *testing.T, e *env) *model.InvestmentPool {
	t.Helper()
	p, err := e.svc.CreatePool(context.Background(), "alice", registry.PoolParams{
		Name:          "Top Flight",
		Strategy:      "favourites",
		RiskLevel:     3,
		MinInvestment: 100,
		MaxInvestment: 5000,
	})
	require.NoError(t, err)
	return p
}

func TestPoolLifecycle(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	p := createPool(t, e)
	assert.Equal(t, model.PoolActive, p.Status)

	for _, id := range []string{"alice", "bob"} {
		_, err := e.svc.Deposit(ctx, id, 2000)
		require.NoError(t, err)
	}
	_, err := e.svc.Invest(ctx, "alice", p.ID, 300)
	require.NoError(t, err)
	inv, err := e.svc.Invest(ctx, "bob", p.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), inv.Shares)

	got, err := e.svc.Pool(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got.TotalValue.Amount())
	assert.Equal(t, uint64(2), got.TotalInvestors)

	// 400 value over 2 investors prices a share at 200.
	r, err := e.svc.Redeem(ctx, "bob", p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), r.Amount)
	assert.Equal(t, uint64(99), r.Investment.Shares)

	u, err := e.svc.User(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(2100), u.Balance.Amount())

	_, err = e.svc.Redeem(ctx, "bob", p.ID, 100)
	assert.Equal(t, "insufficient_shares", engine.Code(err))

	_, err = e.svc.Invest(ctx, "bob", p.ID, 100)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestInvest_Bounds(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	p := createPool(t, e)
	_, err := e.svc.Deposit(ctx, "bob", 9000)
	require.NoError(t, err)

	_, err = e.svc.Invest(ctx, "bob", p.ID, 99)
	assert.Equal(t, "investment_too_small", engine.Code(err))
	_, err = e.svc.Invest(ctx, "bob", p.ID, 5001)
	assert.Equal(t, "investment_too_large", engine.Code(err))

	u, err := e.svc.User(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), u.Balance.Amount())
}

func TestSetPoolStatus(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	p := createPool(t, e)

	_, err := e.svc.SetPoolStatus(ctx, "bob", p.ID, model.PoolPaused)
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	got, err := e.svc.SetPoolStatus(ctx, "alice", p.ID, model.PoolPaused)
	require.NoError(t, err)
	assert.Equal(t, model.PoolPaused, got.Status)

	_, err = e.svc.Deposit(ctx, "bob", 500)
	require.NoError(t, err)
	_, err = e.svc.Invest(ctx, "bob", p.ID, 200)
	assert.Equal(t, "pool_inactive", engine.Code(err))

	_, err = e.svc.SetPoolStatus(ctx, "alice", p.ID, "frozen")
	assert.Equal(t, "invalid_status", engine.Code(err))
}

func TestMalformedIDs(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	_, err := e.svc.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	_, err = e.svc.Wager(ctx, "m-1")
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.SettleWager(ctx, "admin", "etf:alice:1", model.ResultWin)
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.Pool(ctx, "bet:alice:1")
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.Invest(ctx, "alice", "pool-1", 100)
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.Redeem(ctx, "alice", "pool-1", 1)
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.SetPoolStatus(ctx, "alice", "pool-1", model.PoolPaused)
	assert.Equal(t, "invalid_request", engine.Code(err))
	_, err = e.svc.Investment(ctx, "alice", "pool-1")
	assert.Equal(t, "invalid_request", engine.Code(err))

	// Well-formed ids of records that do not exist are still missing.
	_, err = e.svc.Wager(ctx, "bet:alice:1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.svc.Pool(ctx, "etf:alice:1")
	require.ErrorIs(t, err, store.ErrNotFound)

	u, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), u.Balance.Amount())
}

func TestCreatePool_RequiresUser(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	_, err := e.svc.CreatePool(context.Background(), "carol", registry.PoolParams{Name: "x", MaxInvestment: 1})
	require.ErrorIs(t, err, store.ErrNotFound)
}

// --- Vault ---

func initVault(t *testing.T, e *env) {
	t.Helper()
	_, err := e.svc.InitializeVault(context.Background(), "admin", "Strategy Vault", "SVT")
	require.NoError(t, err)
}

func TestVaultDepositCreatesAccount(t *testing.T) {
	e := newEnv(t)
	initVault(t, e)
	ctx := context.Background()

	_, err := e.svc.VaultAccount(ctx, "alice")
	require.ErrorIs(t, err, store.ErrNotFound)

	acct, err := e.svc.VaultDeposit(ctx, "alice", 600)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), acct.CurrentBalance.Amount())

	acct, err = e.svc.VaultDeposit(ctx, "alice", 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acct.CurrentBalance.Amount())
	assert.Equal(t, uint64(1000), acct.TotalDeposited)

	v, err := e.svc.Vault(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v.TotalDeposits)
	assert.Equal(t, uint64(1000), e.custody.Balance(vaultAcct))
}

func TestVaultWithdraw_Cooldown(t *testing.T) {
	e := newEnv(t)
	initVault(t, e)
	ctx := context.Background()
	_, err := e.svc.VaultDeposit(ctx, "alice", 1000)
	require.NoError(t, err)

	_, err = e.svc.VaultWithdraw(ctx, "alice", 100)
	require.NoError(t, err, "first withdrawal has no cooldown")

	e.clock.Advance(23 * time.Hour)
	_, err = e.svc.VaultWithdraw(ctx, "alice", 100)
	assert.Equal(t, "withdrawal_cooldown", engine.Code(err))

	e.clock.Advance(time.Hour)
	acct, err := e.svc.VaultWithdraw(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), acct.CurrentBalance.Amount())
	assert.Equal(t, uint64(800), e.custody.Balance(vaultAcct))
}

func TestVaultBets(t *testing.T) {
	e := newEnv(t)
	initVault(t, e)
	ctx := context.Background()
	_, err := e.svc.VaultDeposit(ctx, "alice", 1000)
	require.NoError(t, err)

	rec, err := e.svc.ExecuteVaultBet(ctx, "alice", vault.ExecuteRequest{BetID: "b-1", StrategyID: "s-1", Amount: 400})
	require.NoError(t, err)
	assert.Equal(t, model.VaultBetPending, rec.Status)

	_, err = e.svc.ExecuteVaultBet(ctx, "alice", vault.ExecuteRequest{BetID: "b-1", StrategyID: "s-1", Amount: 100})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = e.svc.SettleVaultBet(ctx, "alice", "b-1", model.ResultWin, 250)
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	rec, err = e.svc.SettleVaultBet(ctx, "admin", "b-1", model.ResultWin, 250)
	require.NoError(t, err)
	assert.Equal(t, model.VaultBetSettled, rec.Status)

	acct, err := e.svc.VaultAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(850), acct.CurrentBalance.Amount())
	assert.Equal(t, uint64(250), acct.TotalEarnings)

	_, err = e.svc.CancelVaultBet(ctx, "admin", "b-1")
	assert.Equal(t, "already_settled", engine.Code(err))

	_, err = e.svc.ExecuteVaultBet(ctx, "alice", vault.ExecuteRequest{BetID: "b-2", StrategyID: "s-1", Amount: 300})
	require.NoError(t, err)
	rec, err = e.svc.CancelVaultBet(ctx, "admin", "b-2")
	require.NoError(t, err)
	assert.Equal(t, model.VaultBetCancelled, rec.Status)

	acct, err = e.svc.VaultAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(850), acct.CurrentBalance.Amount())

	bets, err := e.svc.VaultBetsByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, bets, 2)
}

func TestSetVaultActive(t *testing.T) {
	e := newEnv(t)
	initVault(t, e)
	ctx := context.Background()
	_, err := e.svc.VaultDeposit(ctx, "alice", 500)
	require.NoError(t, err)

	_, err = e.svc.SetVaultActive(ctx, "alice", false)
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	v, err := e.svc.SetVaultActive(ctx, "admin", false)
	require.NoError(t, err)
	assert.False(t, v.IsActive)

	_, err = e.svc.VaultDeposit(ctx, "alice", 100)
	assert.Equal(t, "vault_inactive", engine.Code(err))
	_, err = e.svc.ExecuteVaultBet(ctx, "alice", vault.ExecuteRequest{BetID: "b-1", Amount: 100})
	assert.Equal(t, "vault_inactive", engine.Code(err))

	_, err = e.svc.VaultWithdraw(ctx, "alice", 100)
	require.NoError(t, err, "withdrawals stay open while the vault is inactive")
}

func TestCollectFees(t *testing.T) {
	e := newEnv(t)
	initVault(t, e)
	ctx := context.Background()
	_, err := e.svc.VaultDeposit(ctx, "alice", 1000)
	require.NoError(t, err)

	_, err = e.svc.CollectFees(ctx, "bob", 50)
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	v, err := e.svc.CollectFees(ctx, "admin", 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), v.TotalFees)
	assert.Equal(t, uint64(950), e.custody.Balance(vaultAcct))
	assert.Equal(t, uint64(50), e.custody.Balance(custody.WalletOf("admin")))
}

// --- Conservation and audit ---

func TestConservation(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	p := createPool(t, e)

	_, err := e.svc.Deposit(ctx, "alice", 3000)
	require.NoError(t, err)
	_, err = e.svc.Deposit(ctx, "bob", 2000)
	require.NoError(t, err)

	w, err := e.svc.PlaceWager(ctx, "alice", wager.PlaceRequest{MatchID: "m", Prediction: "home", Amount: 400, Odds: 2})
	require.NoError(t, err)
	_, err = e.svc.Invest(ctx, "bob", p.ID, 500)
	require.NoError(t, err)
	_, err = e.svc.Withdraw(ctx, "bob", 700)
	require.NoError(t, err)

	// Sum of user balances, open stakes and pool value equals custody
	// while the wager is pending.
	alice, err := e.svc.User(ctx, "alice")
	require.NoError(t, err)
	bob, err := e.svc.User(ctx, "bob")
	require.NoError(t, err)
	pool, err := e.svc.Pool(ctx, p.ID)
	require.NoError(t, err)
	held := alice.Balance.Amount() + bob.Balance.Amount() + w.Amount + pool.TotalValue.Amount()
	assert.Equal(t, e.custody.Balance(treasuryAcct), held)

	wallets := e.custody.Balance(custody.WalletOf("alice")) + e.custody.Balance(custody.WalletOf("bob"))
	assert.Equal(t, uint64(20_000), wallets+e.custody.Balance(treasuryAcct))
}

func TestEvents(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	ctx := context.Background()
	e.clock.Advance(time.Minute)
	_, err := e.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)

	evs, err := e.svc.Events(ctx, store.EventFilter{User: "alice"})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventUserCreated, evs[0].Type)
	assert.Equal(t, model.EventDeposit, evs[1].Type)
	assert.Equal(t, uint64(100), evs[1].Amount)
	assert.Equal(t, t0.Add(time.Minute), evs[1].Timestamp)
	assert.NotEmpty(t, evs[1].ID)
	assert.NotEqual(t, evs[0].ID, evs[1].ID)

	assert.Equal(t, []model.EventType{
		model.EventPlatformInitialized,
		model.EventUserCreated,
		model.EventUserCreated,
		model.EventDeposit,
	}, e.pub.types())
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	e := newEnv(t)
	bootstrap(t, e)
	e.pub.err = errors.New("broker down")
	ctx := context.Background()

	u, err := e.svc.Deposit(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), u.Balance.Amount())

	evs, err := e.svc.Events(ctx, store.EventFilter{Type: model.EventDeposit})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ok", engine.Code(nil))
	assert.Equal(t, "internal", engine.Code(errors.New("boom")))
	assert.Equal(t, "not_found", engine.Code(store.ErrNotFound))
	assert.Equal(t, "inactive_account", engine.Code(registry.ErrInactiveAccount))
	assert.Equal(t, "withdrawal_cooldown", engine.Code(vault.ErrWithdrawalCooldown))
}
