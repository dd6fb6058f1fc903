// Package ledger is the single enforcement point for spendable balances.
//
// Balance fields on user, pool and vault records are of type Balance, whose
// amount is unexported: the only way to change one is Credit or Debit, so the
// non-negativity and overflow rules live in exactly one place.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the current balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrOverflow is returned when an addition would exceed the uint64 range.
	ErrOverflow = errors.New("ledger: arithmetic overflow")

	// ErrUnderflow is returned when a counter subtraction would go below zero.
	ErrUnderflow = errors.New("ledger: arithmetic underflow")
)

// Balance is a non-negative amount of base token units.
type Balance struct {
	amount uint64
}

// NewBalance restores a balance from persisted state. Persistence adapters
// and tests use it; transitions go through Credit and Debit.
func NewBalance(amount uint64) Balance {
	return Balance{amount: amount}
}

// Amount returns the current balance.
func (b Balance) Amount() uint64 {
	return b.amount
}

// Covers reports whether a debit of amount would succeed.
func (b Balance) Covers(amount uint64) bool {
	return amount <= b.amount
}

// CanCredit reports whether a credit of amount would succeed.
func (b Balance) CanCredit(amount uint64) error {
	if _, err := AddUint64(b.amount, amount); err != nil {
		return fmt.Errorf("credit %d to %d: %w", amount, b.amount, err)
	}
	return nil
}

// Credit adds amount. Fails with ErrOverflow, leaving the balance unchanged.
func (b *Balance) Credit(amount uint64) error {
	next, err := AddUint64(b.amount, amount)
	if err != nil {
		return fmt.Errorf("credit %d to %d: %w", amount, b.amount, err)
	}
	b.amount = next
	return nil
}

// Debit subtracts exactly amount. Fails with ErrInsufficientBalance when
// amount exceeds the current balance, leaving it unchanged.
func (b *Balance) Debit(amount uint64) error {
	if amount > b.amount {
		return fmt.Errorf("debit %d from %d: %w", amount, b.amount, ErrInsufficientBalance)
	}
	b.amount -= amount
	return nil
}

func (b Balance) String() string {
	return fmt.Sprintf("%d", b.amount)
}

// MarshalJSON encodes the balance as a plain JSON number.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.amount)
}

// UnmarshalJSON decodes a plain JSON number. Used by the Redis cache.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("ledger: decode balance: %w", err)
	}
	b.amount = v
	return nil
}
