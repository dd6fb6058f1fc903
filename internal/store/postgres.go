package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/ledger"
	"github.com/vegais/ledger-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// u64 amounts are stored as NUMERIC(20,0) and read back as text, so no value
// round-trips through a float.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema files in lexical order. Every file is
// idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		slog.Info("migration applied", "file", name)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, false, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx reads with FOR UPDATE in read-write transactions, so concurrent
// transitions on the same rows wait for each other.
type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) lock() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *pgTx) exec(ctx context.Context, key, sql string, args ...any) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, sql, args...)
	return mapError(key, err)
}

// execSave runs an UPDATE and reports ErrNotFound when it matched no row.
func (t *pgTx) execSave(ctx context.Context, key, sql string, args ...any) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return nil
}

func mapError(key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", key, err)
}

// --- Platform ---

func (t *pgTx) GetPlatform(ctx context.Context) (*model.PlatformStats, error) {
	var p model.PlatformStats
	var users, bets, volume string
	err := t.tx.QueryRow(ctx,
		`SELECT authority, total_users::TEXT, total_bets::TEXT, total_volume::TEXT, created_at
		 FROM platform_stats WHERE id = $1`+t.lock(), keys.Platform).
		Scan(&p.Authority, &users, &bets, &volume, &p.CreatedAt)
	if err != nil {
		return nil, mapError(keys.Platform, err)
	}
	var d numDecoder
	p.TotalUsers = d.u64(users)
	p.TotalBets = d.u64(bets)
	p.TotalVolume = d.u64(volume)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, d.err
}

func (t *pgTx) CreatePlatform(ctx context.Context, p *model.PlatformStats) error {
	return t.exec(ctx, keys.Platform,
		`INSERT INTO platform_stats (id, authority, total_users, total_bets, total_volume, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)`,
		keys.Platform, p.Authority,
		numeric(p.TotalUsers), numeric(p.TotalBets), numeric(p.TotalVolume),
		p.CreatedAt,
	)
}

func (t *pgTx) SavePlatform(ctx context.Context, p *model.PlatformStats) error {
	return t.execSave(ctx, keys.Platform,
		`UPDATE platform_stats
		 SET total_users = $2::NUMERIC, total_bets = $3::NUMERIC, total_volume = $4::NUMERIC
		 WHERE id = $1`,
		keys.Platform, numeric(p.TotalUsers), numeric(p.TotalBets), numeric(p.TotalVolume),
	)
}

// --- Users ---

const userColumns = `identity, username, balance::TEXT, total_bets::TEXT, total_wins::TEXT,
	total_volume::TEXT, is_active, created_at`

func scanUser(row pgx.Row) (*model.UserLedger, error) {
	var u model.UserLedger
	var balance, bets, wins, volume string
	if err := row.Scan(&u.Identity, &u.Username, &balance, &bets, &wins, &volume, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	var d numDecoder
	u.Balance = ledger.NewBalance(d.u64(balance))
	u.TotalBets = d.u64(bets)
	u.TotalWins = d.u64(wins)
	u.TotalVolume = d.u64(volume)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, d.err
}

func (t *pgTx) GetUser(ctx context.Context, identity string) (*model.UserLedger, error) {
	u, err := scanUser(t.tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM user_ledgers WHERE identity = $1`+t.lock(), identity))
	if err != nil {
		return nil, mapError(keys.User(identity), err)
	}
	return u, nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.UserLedger) error {
	return t.exec(ctx, keys.User(u.Identity),
		`INSERT INTO user_ledgers (identity, username, balance, total_bets, total_wins, total_volume, is_active, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		u.Identity, u.Username, numeric(u.Balance.Amount()),
		numeric(u.TotalBets), numeric(u.TotalWins), numeric(u.TotalVolume),
		u.IsActive, u.CreatedAt,
	)
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.UserLedger) error {
	return t.execSave(ctx, keys.User(u.Identity),
		`UPDATE user_ledgers
		 SET balance = $2::NUMERIC, total_bets = $3::NUMERIC, total_wins = $4::NUMERIC,
		     total_volume = $5::NUMERIC, is_active = $6
		 WHERE identity = $1`,
		u.Identity, numeric(u.Balance.Amount()),
		numeric(u.TotalBets), numeric(u.TotalWins), numeric(u.TotalVolume),
		u.IsActive,
	)
}

// --- Wagers ---

const wagerColumns = `id, user_identity, match_id, prediction, amount::TEXT, odds,
	potential_winnings::TEXT, winnings::TEXT, status, result, created_at, settled_at`

func scanWager(row pgx.Row) (*model.Wager, error) {
	var w model.Wager
	var amount, potential, winnings string
	if err := row.Scan(&w.ID, &w.User, &w.MatchID, &w.Prediction, &amount, &w.Odds,
		&potential, &winnings, &w.Status, &w.Result, &w.CreatedAt, &w.SettledAt); err != nil {
		return nil, err
	}
	var d numDecoder
	w.Amount = d.u64(amount)
	w.PotentialWinnings = d.u64(potential)
	w.Winnings = d.u64(winnings)
	w.CreatedAt = w.CreatedAt.UTC()
	w.SettledAt = utcPtr(w.SettledAt)
	return &w, d.err
}

func (t *pgTx) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	w, err := scanWager(t.tx.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`+t.lock(), id))
	if err != nil {
		return nil, mapError(id, err)
	}
	return w, nil
}

func (t *pgTx) CreateWager(ctx context.Context, w *model.Wager) error {
	return t.exec(ctx, w.ID,
		`INSERT INTO wagers (id, user_identity, match_id, prediction, amount, odds,
		                     potential_winnings, winnings, status, result, created_at, settled_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		w.ID, w.User, w.MatchID, w.Prediction, numeric(w.Amount), w.Odds,
		numeric(w.PotentialWinnings), numeric(w.Winnings),
		w.Status, w.Result, w.CreatedAt, w.SettledAt,
	)
}

func (t *pgTx) SaveWager(ctx context.Context, w *model.Wager) error {
	return t.execSave(ctx, w.ID,
		`UPDATE wagers
		 SET winnings = $2::NUMERIC, status = $3, result = $4, settled_at = $5
		 WHERE id = $1`,
		w.ID, numeric(w.Winnings), w.Status, w.Result, w.SettledAt,
	)
}

func (t *pgTx) ListWagersByUser(ctx context.Context, user string) ([]model.Wager, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_identity = $1 ORDER BY created_at, id`, user)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWager)
}

// --- Pools ---

const poolColumns = `id, manager, name, description, strategy, risk_level,
	min_investment::TEXT, max_investment::TEXT, annual_return, management_fee, performance_fee,
	status, total_value::TEXT, total_investors::TEXT, current_return, created_at`

func scanPool(row pgx.Row) (*model.InvestmentPool, error) {
	var p model.InvestmentPool
	var risk int16
	var minInv, maxInv, value, investors string
	if err := row.Scan(&p.ID, &p.Manager, &p.Name, &p.Description, &p.Strategy, &risk,
		&minInv, &maxInv, &p.AnnualReturn, &p.ManagementFee, &p.PerformanceFee,
		&p.Status, &value, &investors, &p.CurrentReturn, &p.CreatedAt); err != nil {
		return nil, err
	}
	var d numDecoder
	p.RiskLevel = uint8(risk)
	p.MinInvestment = d.u64(minInv)
	p.MaxInvestment = d.u64(maxInv)
	p.TotalValue = ledger.NewBalance(d.u64(value))
	p.TotalInvestors = d.u64(investors)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, d.err
}

func (t *pgTx) GetPool(ctx context.Context, id string) (*model.InvestmentPool, error) {
	p, err := scanPool(t.tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM investment_pools WHERE id = $1`+t.lock(), id))
	if err != nil {
		return nil, mapError(id, err)
	}
	return p, nil
}

func (t *pgTx) CreatePool(ctx context.Context, p *model.InvestmentPool) error {
	return t.exec(ctx, p.ID,
		`INSERT INTO investment_pools (id, manager, name, description, strategy, risk_level,
		                               min_investment, max_investment, annual_return, management_fee,
		                               performance_fee, status, total_value, total_investors,
		                               current_return, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12,
		         $13::NUMERIC, $14::NUMERIC, $15, $16)`,
		p.ID, p.Manager, p.Name, p.Description, p.Strategy, int16(p.RiskLevel),
		numeric(p.MinInvestment), numeric(p.MaxInvestment),
		p.AnnualReturn, p.ManagementFee, p.PerformanceFee,
		p.Status, numeric(p.TotalValue.Amount()), numeric(p.TotalInvestors),
		p.CurrentReturn, p.CreatedAt,
	)
}

func (t *pgTx) SavePool(ctx context.Context, p *model.InvestmentPool) error {
	return t.execSave(ctx, p.ID,
		`UPDATE investment_pools
		 SET status = $2, total_value = $3::NUMERIC, total_investors = $4::NUMERIC, current_return = $5
		 WHERE id = $1`,
		p.ID, p.Status, numeric(p.TotalValue.Amount()), numeric(p.TotalInvestors), p.CurrentReturn,
	)
}

func (t *pgTx) ListPools(ctx context.Context) ([]model.InvestmentPool, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+poolColumns+` FROM investment_pools ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPool)
}

// --- Investments ---

const investmentColumns = `id, user_identity, pool_id, amount::TEXT, shares::TEXT, status, created_at`

func scanInvestment(row pgx.Row) (*model.Investment, error) {
	var inv model.Investment
	var amount, shares string
	if err := row.Scan(&inv.ID, &inv.User, &inv.PoolID, &amount, &shares, &inv.Status, &inv.CreatedAt); err != nil {
		return nil, err
	}
	var d numDecoder
	inv.Amount = d.u64(amount)
	inv.Shares = d.u64(shares)
	inv.CreatedAt = inv.CreatedAt.UTC()
	return &inv, d.err
}

func (t *pgTx) GetInvestment(ctx context.Context, id string) (*model.Investment, error) {
	inv, err := scanInvestment(t.tx.QueryRow(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE id = $1`+t.lock(), id))
	if err != nil {
		return nil, mapError(id, err)
	}
	return inv, nil
}

func (t *pgTx) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	return t.exec(ctx, inv.ID,
		`INSERT INTO investments (id, user_identity, pool_id, amount, shares, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		inv.ID, inv.User, inv.PoolID, numeric(inv.Amount), numeric(inv.Shares), inv.Status, inv.CreatedAt,
	)
}

func (t *pgTx) SaveInvestment(ctx context.Context, inv *model.Investment) error {
	return t.execSave(ctx, inv.ID,
		`UPDATE investments SET shares = $2::NUMERIC, status = $3 WHERE id = $1`,
		inv.ID, numeric(inv.Shares), inv.Status,
	)
}

func (t *pgTx) ListInvestmentsByUser(ctx context.Context, user string) ([]model.Investment, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE user_identity = $1 ORDER BY created_at, id`, user)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvestment)
}

// --- Vault ---

func (t *pgTx) GetVault(ctx context.Context) (*model.VaultLedger, error) {
	var v model.VaultLedger
	var deposits, withdrawals, earnings, fees string
	err := t.tx.QueryRow(ctx,
		`SELECT authority, name, symbol, total_deposits::TEXT, total_withdrawals::TEXT,
		        total_earnings::TEXT, total_fees::TEXT, is_active, created_at
		 FROM vault_ledger WHERE id = $1`+t.lock(), vaultKey).
		Scan(&v.Authority, &v.Name, &v.Symbol, &deposits, &withdrawals, &earnings, &fees, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, mapError(vaultKey, err)
	}
	var d numDecoder
	v.TotalDeposits = d.u64(deposits)
	v.TotalWithdrawals = d.u64(withdrawals)
	v.TotalEarnings = d.u64(earnings)
	v.TotalFees = d.u64(fees)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, d.err
}

func (t *pgTx) CreateVault(ctx context.Context, v *model.VaultLedger) error {
	return t.exec(ctx, vaultKey,
		`INSERT INTO vault_ledger (id, authority, name, symbol, total_deposits, total_withdrawals,
		                           total_earnings, total_fees, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		vaultKey, v.Authority, v.Name, v.Symbol,
		numeric(v.TotalDeposits), numeric(v.TotalWithdrawals), numeric(v.TotalEarnings), numeric(v.TotalFees),
		v.IsActive, v.CreatedAt,
	)
}

func (t *pgTx) SaveVault(ctx context.Context, v *model.VaultLedger) error {
	return t.execSave(ctx, vaultKey,
		`UPDATE vault_ledger
		 SET total_deposits = $2::NUMERIC, total_withdrawals = $3::NUMERIC,
		     total_earnings = $4::NUMERIC, total_fees = $5::NUMERIC, is_active = $6
		 WHERE id = $1`,
		vaultKey, numeric(v.TotalDeposits), numeric(v.TotalWithdrawals),
		numeric(v.TotalEarnings), numeric(v.TotalFees), v.IsActive,
	)
}

func (t *pgTx) GetVaultAccount(ctx context.Context, user string) (*model.VaultUserAccount, error) {
	var a model.VaultUserAccount
	var deposited, balance, earnings string
	var lastDeposit, lastWithdrawal *time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT user_identity, total_deposited::TEXT, current_balance::TEXT, total_earnings::TEXT,
		        last_deposit_at, last_withdrawal_at
		 FROM vault_accounts WHERE user_identity = $1`+t.lock(), user).
		Scan(&a.User, &deposited, &balance, &earnings, &lastDeposit, &lastWithdrawal)
	if err != nil {
		return nil, mapError(keys.VaultAccount(user), err)
	}
	var d numDecoder
	a.TotalDeposited = d.u64(deposited)
	a.CurrentBalance = ledger.NewBalance(d.u64(balance))
	a.TotalEarnings = d.u64(earnings)
	a.LastDepositAt = fromNull(lastDeposit)
	a.LastWithdrawalAt = fromNull(lastWithdrawal)
	return &a, d.err
}

func (t *pgTx) CreateVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	return t.exec(ctx, keys.VaultAccount(a.User),
		`INSERT INTO vault_accounts (user_identity, total_deposited, current_balance, total_earnings,
		                             last_deposit_at, last_withdrawal_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		a.User, numeric(a.TotalDeposited), numeric(a.CurrentBalance.Amount()), numeric(a.TotalEarnings),
		toNull(a.LastDepositAt), toNull(a.LastWithdrawalAt),
	)
}

func (t *pgTx) SaveVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	return t.execSave(ctx, keys.VaultAccount(a.User),
		`UPDATE vault_accounts
		 SET total_deposited = $2::NUMERIC, current_balance = $3::NUMERIC, total_earnings = $4::NUMERIC,
		     last_deposit_at = $5, last_withdrawal_at = $6
		 WHERE user_identity = $1`,
		a.User, numeric(a.TotalDeposited), numeric(a.CurrentBalance.Amount()), numeric(a.TotalEarnings),
		toNull(a.LastDepositAt), toNull(a.LastWithdrawalAt),
	)
}

const vaultBetColumns = `bet_id, user_identity, strategy_id, amount::TEXT, result, profit, status, created_at, settled_at`

func scanVaultBet(row pgx.Row) (*model.VaultBetRecord, error) {
	var b model.VaultBetRecord
	var amount string
	if err := row.Scan(&b.BetID, &b.User, &b.StrategyID, &amount, &b.Result, &b.Profit,
		&b.Status, &b.CreatedAt, &b.SettledAt); err != nil {
		return nil, err
	}
	var d numDecoder
	b.Amount = d.u64(amount)
	b.CreatedAt = b.CreatedAt.UTC()
	b.SettledAt = utcPtr(b.SettledAt)
	return &b, d.err
}

func (t *pgTx) GetVaultBet(ctx context.Context, betID string) (*model.VaultBetRecord, error) {
	b, err := scanVaultBet(t.tx.QueryRow(ctx,
		`SELECT `+vaultBetColumns+` FROM vault_bets WHERE bet_id = $1`+t.lock(), betID))
	if err != nil {
		return nil, mapError(keys.VaultBet(betID), err)
	}
	return b, nil
}

func (t *pgTx) CreateVaultBet(ctx context.Context, b *model.VaultBetRecord) error {
	return t.exec(ctx, keys.VaultBet(b.BetID),
		`INSERT INTO vault_bets (bet_id, user_identity, strategy_id, amount, result, profit, status, created_at, settled_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)`,
		b.BetID, b.User, b.StrategyID, numeric(b.Amount), b.Result, b.Profit, b.Status, b.CreatedAt, b.SettledAt,
	)
}

func (t *pgTx) SaveVaultBet(ctx context.Context, b *model.VaultBetRecord) error {
	return t.execSave(ctx, keys.VaultBet(b.BetID),
		`UPDATE vault_bets SET result = $2, profit = $3, status = $4, settled_at = $5 WHERE bet_id = $1`,
		b.BetID, b.Result, b.Profit, b.Status, b.SettledAt,
	)
}

func (t *pgTx) ListVaultBetsByUser(ctx context.Context, user string) ([]model.VaultBetRecord, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+vaultBetColumns+` FROM vault_bets WHERE user_identity = $1 ORDER BY created_at, bet_id`, user)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanVaultBet)
}

// --- Audit log ---

func (t *pgTx) AppendEvent(ctx context.Context, e *model.Event) error {
	return t.exec(ctx, e.ID,
		`INSERT INTO ledger_events (id, type, user_identity, ref, amount, profit, detail, ts)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		e.ID, e.Type, e.User, e.Ref, numeric(e.Amount), e.Profit, e.Detail, e.Timestamp,
	)
}

func (t *pgTx) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var where []string
	var args []any
	if f.User != "" {
		args = append(args, f.User)
		where = append(where, fmt.Sprintf("user_identity = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}

	q := `SELECT seq, id, type, user_identity, ref, amount::TEXT, profit, detail, ts FROM ledger_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, `SELECT id, type, user_identity, ref, amount, profit, detail, ts FROM (`+q+`) e ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*model.Event, error) {
		var e model.Event
		var amount string
		if err := row.Scan(&e.ID, &e.Type, &e.User, &e.Ref, &amount, &e.Profit, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		var d numDecoder
		e.Amount = d.u64(amount)
		e.Timestamp = e.Timestamp.UTC()
		return &e, d.err
	})
}

// --- Codec helpers ---

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func numeric(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0).String()
}

// numDecoder parses NUMERIC(20,0) text columns back into uint64, keeping the
// first error.
type numDecoder struct {
	err error
}

func (d *numDecoder) u64(s string) uint64 {
	if d.err != nil {
		return 0
	}
	n, err := decimal.NewFromString(s)
	if err != nil {
		d.err = fmt.Errorf("decode numeric %q: %w", s, err)
		return 0
	}
	b := n.BigInt()
	if !n.Equal(decimal.NewFromBigInt(b, 0)) || !b.IsUint64() {
		d.err = fmt.Errorf("decode numeric %q: not a u64", s)
		return 0
	}
	return b.Uint64()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toNull(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
