package custody

import (
	"context"
	"sync"
)

// MemoryCustody implements Transferer with in-memory token accounts. Used for
// development and tests; each account has one owner allowed to authorize
// transfers out of it. A user wallet is opened on its first incoming
// transfer; every other account must be opened explicitly.
type MemoryCustody struct {
	mu       sync.Mutex
	balances map[Account]uint64
	owners   map[Account]string
	failNext error
}

// NewMemoryCustody creates an empty custody service.
func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{
		balances: make(map[Account]uint64),
		owners:   make(map[Account]string),
	}
}

// Open registers an account and its owner. Reopening keeps the balance.
func (c *MemoryCustody) Open(acct Account, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[acct] = owner
	if _, ok := c.balances[acct]; !ok {
		c.balances[acct] = 0
	}
}

// Mint credits an account out of thin air, opening it for owner if needed.
func (c *MemoryCustody) Mint(acct Account, owner string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owners[acct]; !ok {
		c.owners[acct] = owner
	}
	c.balances[acct] += amount
}

// Balance returns the token balance of an account.
func (c *MemoryCustody) Balance(acct Account) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[acct]
}

// FailNext makes the next Transfer call fail with err.
func (c *MemoryCustody) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

func (c *MemoryCustody) Transfer(_ context.Context, t Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failNext; err != nil {
		c.failNext = nil
		return &TransferError{Transfer: t, Err: err}
	}

	owner, ok := c.owners[t.From]
	if !ok {
		return &TransferError{Transfer: t, Err: ErrUnknownAccount}
	}
	_, known := c.owners[t.To]
	walletOwner, isWallet := OwnerOf(t.To)
	if !known && !isWallet {
		return &TransferError{Transfer: t, Err: ErrUnknownAccount}
	}
	if owner != t.Authorizer {
		return &TransferError{Transfer: t, Err: ErrBadAuthorizer}
	}
	if c.balances[t.From] < t.Amount {
		return &TransferError{Transfer: t, Err: ErrInsufficientFunds}
	}

	// Wallets receive without being opened first.
	if !known {
		c.owners[t.To] = walletOwner
	}

	c.balances[t.From] -= t.Amount
	c.balances[t.To] += t.Amount
	return nil
}
