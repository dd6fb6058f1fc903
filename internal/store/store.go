// Package store defines the transactional persistence interface for the
// ledger. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache for queries), and in-memory (for testing).
//
// Every ledger transition runs inside one Update call: it reads the records
// it touches, validates, writes them back and either commits all of its
// writes or none of them. Update calls are serialized against each other for
// the records they touch; a transaction never observes another one's
// uncommitted writes.
package store

import (
	"context"
	"errors"

	"github.com/vegais/ledger-engine/internal/model"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
	ErrReadOnly      = errors.New("store: write in read-only transaction")
)

// Store runs transactions.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing it wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction. Writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of records a transaction can read and write. Get methods
// return ErrNotFound, Create methods ErrAlreadyExists, Save methods
// ErrNotFound when the record was never created.
type Tx interface {
	// --- Platform singleton ---

	GetPlatform(ctx context.Context) (*model.PlatformStats, error)
	CreatePlatform(ctx context.Context, p *model.PlatformStats) error
	SavePlatform(ctx context.Context, p *model.PlatformStats) error

	// --- Users ---

	GetUser(ctx context.Context, identity string) (*model.UserLedger, error)
	CreateUser(ctx context.Context, u *model.UserLedger) error
	SaveUser(ctx context.Context, u *model.UserLedger) error

	// --- Wagers ---

	GetWager(ctx context.Context, id string) (*model.Wager, error)
	CreateWager(ctx context.Context, w *model.Wager) error
	SaveWager(ctx context.Context, w *model.Wager) error
	// ListWagersByUser returns a user's wagers, oldest first.
	ListWagersByUser(ctx context.Context, user string) ([]model.Wager, error)

	// --- Investment pools ---

	GetPool(ctx context.Context, id string) (*model.InvestmentPool, error)
	CreatePool(ctx context.Context, p *model.InvestmentPool) error
	SavePool(ctx context.Context, p *model.InvestmentPool) error
	// ListPools returns all pools, oldest first.
	ListPools(ctx context.Context) ([]model.InvestmentPool, error)

	// --- Investments ---

	GetInvestment(ctx context.Context, id string) (*model.Investment, error)
	CreateInvestment(ctx context.Context, inv *model.Investment) error
	SaveInvestment(ctx context.Context, inv *model.Investment) error
	ListInvestmentsByUser(ctx context.Context, user string) ([]model.Investment, error)

	// --- Vault ---

	GetVault(ctx context.Context) (*model.VaultLedger, error)
	CreateVault(ctx context.Context, v *model.VaultLedger) error
	SaveVault(ctx context.Context, v *model.VaultLedger) error

	GetVaultAccount(ctx context.Context, user string) (*model.VaultUserAccount, error)
	CreateVaultAccount(ctx context.Context, a *model.VaultUserAccount) error
	SaveVaultAccount(ctx context.Context, a *model.VaultUserAccount) error

	GetVaultBet(ctx context.Context, betID string) (*model.VaultBetRecord, error)
	CreateVaultBet(ctx context.Context, b *model.VaultBetRecord) error
	SaveVaultBet(ctx context.Context, b *model.VaultBetRecord) error
	ListVaultBetsByUser(ctx context.Context, user string) ([]model.VaultBetRecord, error)

	// --- Immutable audit log ---

	// AppendEvent adds an event to the audit log.
	AppendEvent(ctx context.Context, e *model.Event) error
	// ListEvents returns matching events, oldest first.
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
}

// EventFilter narrows ListEvents. Zero fields match everything; Limit 0
// means no limit (the newest Limit events are returned otherwise).
type EventFilter struct {
	User  string
	Type  model.EventType
	Limit int
}

// Match reports whether e passes the filter's field conditions.
func (f EventFilter) Match(e *model.Event) bool {
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}
