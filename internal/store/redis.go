package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Only View transactions read from the cache; Update transactions
// always read the primary, so balance checks never see a cached value.
// Records written by an Update are evicted once it commits.
//
// Eviction does not order against concurrent reads: a View that misses and
// reads the primary before an Update commits can store its older copy after
// the eviction, and that copy is served until ttl expires. Keep ttl short
// where query freshness matters.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&invalidatingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		if err := s.rdb.Del(ctx, touched...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", len(touched), "error", err)
		}
	}
	return nil
}

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&readThroughTx{Tx: tx, s: s})
	})
}

// --- Read-through (check cache first) ---

type readThroughTx struct {
	Tx
	s *CachedStore
}

func (t *readThroughTx) GetPlatform(ctx context.Context) (*model.PlatformStats, error) {
	return readThrough(ctx, t.s, cacheKey(keys.Platform), func() (*model.PlatformStats, error) {
		return t.Tx.GetPlatform(ctx)
	})
}

func (t *readThroughTx) GetUser(ctx context.Context, identity string) (*model.UserLedger, error) {
	return readThrough(ctx, t.s, cacheKey(keys.User(identity)), func() (*model.UserLedger, error) {
		return t.Tx.GetUser(ctx, identity)
	})
}

func (t *readThroughTx) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return readThrough(ctx, t.s, cacheKey(id), func() (*model.Wager, error) {
		return t.Tx.GetWager(ctx, id)
	})
}

func (t *readThroughTx) GetPool(ctx context.Context, id string) (*model.InvestmentPool, error) {
	return readThrough(ctx, t.s, cacheKey(id), func() (*model.InvestmentPool, error) {
		return t.Tx.GetPool(ctx, id)
	})
}

func (t *readThroughTx) GetInvestment(ctx context.Context, id string) (*model.Investment, error) {
	return readThrough(ctx, t.s, cacheKey(id), func() (*model.Investment, error) {
		return t.Tx.GetInvestment(ctx, id)
	})
}

func (t *readThroughTx) GetVault(ctx context.Context) (*model.VaultLedger, error) {
	return readThrough(ctx, t.s, cacheKey(vaultKey), func() (*model.VaultLedger, error) {
		return t.Tx.GetVault(ctx)
	})
}

func (t *readThroughTx) GetVaultAccount(ctx context.Context, user string) (*model.VaultUserAccount, error) {
	return readThrough(ctx, t.s, cacheKey(keys.VaultAccount(user)), func() (*model.VaultUserAccount, error) {
		return t.Tx.GetVaultAccount(ctx, user)
	})
}

func (t *readThroughTx) GetVaultBet(ctx context.Context, betID string) (*model.VaultBetRecord, error) {
	return readThrough(ctx, t.s, cacheKey(keys.VaultBet(betID)), func() (*model.VaultBetRecord, error) {
		return t.Tx.GetVaultBet(ctx, betID)
	})
}

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (*T, error)) (*T, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

// --- Write path (record touched keys for eviction) ---

type invalidatingTx struct {
	Tx
	touched *[]string
}

func (t *invalidatingTx) touch(key string) {
	*t.touched = append(*t.touched, cacheKey(key))
}

func (t *invalidatingTx) CreatePlatform(ctx context.Context, p *model.PlatformStats) error {
	t.touch(keys.Platform)
	return t.Tx.CreatePlatform(ctx, p)
}

func (t *invalidatingTx) SavePlatform(ctx context.Context, p *model.PlatformStats) error {
	t.touch(keys.Platform)
	return t.Tx.SavePlatform(ctx, p)
}

func (t *invalidatingTx) CreateUser(ctx context.Context, u *model.UserLedger) error {
	t.touch(keys.User(u.Identity))
	return t.Tx.CreateUser(ctx, u)
}

func (t *invalidatingTx) SaveUser(ctx context.Context, u *model.UserLedger) error {
	t.touch(keys.User(u.Identity))
	return t.Tx.SaveUser(ctx, u)
}

func (t *invalidatingTx) CreateWager(ctx context.Context, w *model.Wager) error {
	t.touch(w.ID)
	return t.Tx.CreateWager(ctx, w)
}

func (t *invalidatingTx) SaveWager(ctx context.Context, w *model.Wager) error {
	t.touch(w.ID)
	return t.Tx.SaveWager(ctx, w)
}

func (t *invalidatingTx) CreatePool(ctx context.Context, p *model.InvestmentPool) error {
	t.touch(p.ID)
	return t.Tx.CreatePool(ctx, p)
}

func (t *invalidatingTx) SavePool(ctx context.Context, p *model.InvestmentPool) error {
	t.touch(p.ID)
	return t.Tx.SavePool(ctx, p)
}

func (t *invalidatingTx) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	t.touch(inv.ID)
	return t.Tx.CreateInvestment(ctx, inv)
}

func (t *invalidatingTx) SaveInvestment(ctx context.Context, inv *model.Investment) error {
	t.touch(inv.ID)
	return t.Tx.SaveInvestment(ctx, inv)
}

func (t *invalidatingTx) CreateVault(ctx context.Context, v *model.VaultLedger) error {
	t.touch(vaultKey)
	return t.Tx.CreateVault(ctx, v)
}

func (t *invalidatingTx) SaveVault(ctx context.Context, v *model.VaultLedger) error {
	t.touch(vaultKey)
	return t.Tx.SaveVault(ctx, v)
}

func (t *invalidatingTx) CreateVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	t.touch(keys.VaultAccount(a.User))
	return t.Tx.CreateVaultAccount(ctx, a)
}

func (t *invalidatingTx) SaveVaultAccount(ctx context.Context, a *model.VaultUserAccount) error {
	t.touch(keys.VaultAccount(a.User))
	return t.Tx.SaveVaultAccount(ctx, a)
}

func (t *invalidatingTx) CreateVaultBet(ctx context.Context, b *model.VaultBetRecord) error {
	t.touch(keys.VaultBet(b.BetID))
	return t.Tx.CreateVaultBet(ctx, b)
}

func (t *invalidatingTx) SaveVaultBet(ctx context.Context, b *model.VaultBetRecord) error {
	t.touch(keys.VaultBet(b.BetID))
	return t.Tx.SaveVaultBet(ctx, b)
}

// --- Cache helpers ---

func cacheKey(recordKey string) string { return fmt.Sprintf("ledger:%s", recordKey) }
