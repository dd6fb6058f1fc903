package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vegais/ledger-engine/internal/keys"
	"github.com/vegais/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update holds the write lock for the whole transaction, so transitions are
// fully serialized. Writes are staged and applied only when fn succeeds.
type MemoryStore struct {
	mu          sync.RWMutex
	platform    table[model.PlatformStats]
	users       table[model.UserLedger]
	wagers      table[model.Wager]
	pools       table[model.InvestmentPool]
	investments table[model.Investment]
	vault       table[model.VaultLedger]
	accounts    table[model.VaultUserAccount]
	vaultBets   table[model.VaultBetRecord]
	events      []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		platform:    newTable[model.PlatformStats](),
		users:       newTable[model.UserLedger](),
		wagers:      newTable[model.Wager](),
		pools:       newTable[model.InvestmentPool](),
		investments: newTable[model.Investment](),
		vault:       newTable[model.VaultLedger](),
		accounts:    newTable[model.VaultUserAccount](),
		vaultBets:   newTable[model.VaultBetRecord](),
	}
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin(false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(s.begin(true))
}

func (s *MemoryStore) begin(readOnly bool) *memTx {
	return &memTx{
		store:       s,
		readOnly:    readOnly,
		platform:    s.platform.stage(),
		users:       s.users.stage(),
		wagers:      s.wagers.stage(),
		pools:       s.pools.stage(),
		investments: s.investments.stage(),
		vault:       s.vault.stage(),
		accounts:    s.accounts.stage(),
		vaultBets:   s.vaultBets.stage(),
	}
}

// --- Generic tables ---

// table keeps rows by key together with their insertion order, so listings
// come back oldest first.
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]T)}
}

func (t *table[T]) stage() *staged[T] {
	return &staged[T]{base: t, dirty: make(map[string]T)}
}

// staged overlays uncommitted writes on a table.
type staged[T any] struct {
	base  *table[T]
	dirty map[string]T
	added []string
}

func (s *staged[T]) get(key string) (*T, error) {
	if v, ok := s.dirty[key]; ok {
		return &v, nil
	}
	if v, ok := s.base.rows[key]; ok {
		return &v, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
}

func (s *staged[T]) exists(key string) bool {
	if _, ok := s.dirty[key]; ok {
		return true
	}
	_, ok := s.base.rows[key]
	return ok
}

func (s *staged[T]) create(key string, v T) error {
	if s.exists(key) {
		return fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	s.dirty[key] = v
	s.added = append(s.added, key)
	return nil
}

func (s *staged[T]) save(key string, v T) error {
	if !s.exists(key) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	s.dirty[key] = v
	return nil
}

func (s *staged[T]) list(match func(*T) bool) []T {
	var out []T
	for _, key := range append(append([]string(nil), s.base.order...), s.added...) {
		v, err := s.get(key)
		if err != nil {
			continue
		}
		if match == nil || match(v) {
			out = append(out, *v)
		}
	}
	return out
}

func (s *staged[T]) commit() {
	for k, v := range s.dirty {
		s.base.rows[k] = v
	}
	s.base.order = append(s.base.order, s.added...)
}

// --- Transaction ---

type memTx struct {
	store    *MemoryStore
	readOnly bool

	platform    *staged[model.PlatformStats]
	users       *staged[model.UserLedger]
	wagers      *staged[model.Wager]
	pools       *staged[model.InvestmentPool]
	investments *staged[model.Investment]
	vault       *staged[model.VaultLedger]
	accounts    *staged[model.VaultUserAccount]
	vaultBets   *staged[model.VaultBetRecord]
	events      []model.Event
}

func (tx *memTx) commit() {
	tx.platform.commit()
	tx.users.commit()
	tx.wagers.commit()
	tx.pools.commit()
	tx.investments.commit()
	tx.vault.commit()
	tx.accounts.commit()
	tx.vaultBets.commit()
	tx.store.events = append(tx.store.events, tx.events...)
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

const vaultKey = "vault"

func (tx *memTx) GetPlatform(_ context.Context) (*model.PlatformStats, error) {
	return tx.platform.get(keys.Platform)
}

func (tx *memTx) CreatePlatform(_ context.Context, p *model.PlatformStats) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.platform.create(keys.Platform, *p)
}

func (tx *memTx) SavePlatform(_ context.Context, p *model.PlatformStats) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.platform.save(keys.Platform, *p)
}

func (tx *memTx) GetUser(_ context.Context, identity string) (*model.UserLedger, error) {
	return tx.users.get(keys.User(identity))
}

func (tx *memTx) CreateUser(_ context.Context, u *model.UserLedger) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.users.create(keys.User(u.Identity), *u)
}

func (tx *memTx) SaveUser(_ context.Context, u *model.UserLedger) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.users.save(keys.User(u.Identity), *u)
}

func (tx *memTx) GetWager(_ context.Context, id string) (*model.Wager, error) {
	return tx.wagers.get(id)
}

func (tx *memTx) CreateWager(_ context.Context, w *model.Wager) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.wagers.create(w.ID, *w)
}

func (tx *memTx) SaveWager(_ context.Context, w *model.Wager) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.wagers.save(w.ID, *w)
}

func (tx *memTx) ListWagersByUser(_ context.Context, user string) ([]model.Wager, error) {
	return tx.wagers.list(func(w *model.Wager) bool { return w.User == user }), nil
}

func (tx *memTx) GetPool(_ context.Context, id string) (*model.InvestmentPool, error) {
	return tx.pools.get(id)
}

func (tx *memTx) CreatePool(_ context.Context, p *model.InvestmentPool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.pools.create(p.ID, *p)
}

func (tx *memTx) SavePool(_ context.Context, p *model.InvestmentPool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.pools.save(p.ID, *p)
}

func (tx *memTx) ListPools(_ context.Context) ([]model.InvestmentPool, error) {
	return tx.pools.list(nil), nil
}

func (tx *memTx) GetInvestment(_ context.Context, id string) (*model.Investment, error) {
	return tx.investments.get(id)
}

func (tx *memTx) CreateInvestment(_ context.Context, inv *model.Investment) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.investments.create(inv.ID, *inv)
}

func (tx *memTx) SaveInvestment(_ context.Context, inv *model.Investment) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.investments.save(inv.ID, *inv)
}

func (tx *memTx) ListInvestmentsByUser(_ context.Context, user string) ([]model.Investment, error) {
	return tx.investments.list(func(inv *model.Investment) bool { return inv.User == user }), nil
}

func (tx *memTx) GetVault(_ context.Context) (*model.VaultLedger, error) {
	return tx.vault.get(vaultKey)
}

func (tx *memTx) CreateVault(_ context.Context, v *model.VaultLedger) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.vault.create(vaultKey, *v)
}

func (tx *memTx) SaveVault(_ context.Context, v *model.VaultLedger) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.vault.save(vaultKey, *v)
}

func (tx *memTx) GetVaultAccount(_ context.Context, user string) (*model.VaultUserAccount, error) {
	return tx.accounts.get(keys.VaultAccount(user))
}

func (tx *memTx) CreateVaultAccount(_ context.Context, a *model.VaultUserAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.accounts.create(keys.VaultAccount(a.User), *a)
}

func (tx *memTx) SaveVaultAccount(_ context.Context, a *model.VaultUserAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.accounts.save(keys.VaultAccount(a.User), *a)
}

func (tx *memTx) GetVaultBet(_ context.Context, betID string) (*model.VaultBetRecord, error) {
	return tx.vaultBets.get(keys.VaultBet(betID))
}

func (tx *memTx) CreateVaultBet(_ context.Context, b *model.VaultBetRecord) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.vaultBets.create(keys.VaultBet(b.BetID), *b)
}

func (tx *memTx) SaveVaultBet(_ context.Context, b *model.VaultBetRecord) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.vaultBets.save(keys.VaultBet(b.BetID), *b)
}

func (tx *memTx) ListVaultBetsByUser(_ context.Context, user string) ([]model.VaultBetRecord, error) {
	return tx.vaultBets.list(func(b *model.VaultBetRecord) bool { return b.User == user }), nil
}

func (tx *memTx) AppendEvent(_ context.Context, e *model.Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.events = append(tx.events, *e)
	return nil
}

func (tx *memTx) ListEvents(_ context.Context, f EventFilter) ([]model.Event, error) {
	var out []model.Event
	for _, all := range [][]model.Event{tx.store.events, tx.events} {
		for i := range all {
			if f.Match(&all[i]) {
				out = append(out, all[i])
			}
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
