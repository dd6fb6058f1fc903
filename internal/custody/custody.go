// Package custody defines the contract of the custodial token-transfer
// service that actually moves value between token accounts. The ledger core
// only calls it; settlement on a real chain lives outside this module.
package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransferFailed wraps every failure reported by a Transferer.
	ErrTransferFailed = errors.New("custody: transfer failed")

	ErrUnknownAccount    = errors.New("custody: unknown token account")
	ErrInsufficientFunds = errors.New("custody: insufficient token funds")
	ErrBadAuthorizer     = errors.New("custody: authorizer does not own source account")
)

// Account addresses a custodial token account.
type Account string

const walletPrefix = "wallet:"

// WalletOf returns the token account a user identity deposits from and
// withdraws to.
func WalletOf(identity string) Account {
	return Account(walletPrefix + identity)
}

// OwnerOf returns the identity whose wallet a is. ok is false when a is not
// a user wallet.
func OwnerOf(a Account) (identity string, ok bool) {
	identity, ok = strings.CutPrefix(string(a), walletPrefix)
	return identity, ok && identity != ""
}

// Transfer describes one movement of tokens. Authorizer is the identity that
// signs for the source account.
type Transfer struct {
	From       Account `json:"from"`
	To         Account `json:"to"`
	Authorizer string  `json:"authorizer"`
	Amount     uint64  `json:"amount"`
}

// Transferer moves tokens between custodial accounts.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// TransferError is the error type returned for a failed transfer. It matches
// ErrTransferFailed and the underlying cause with errors.Is.
type TransferError struct {
	Transfer Transfer
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("custody: transfer %d from %s to %s: %v",
		e.Transfer.Amount, e.Transfer.From, e.Transfer.To, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Err}
}

// Execute performs t on x and normalizes the failure so that it always
// matches ErrTransferFailed.
func Execute(ctx context.Context, x Transferer, t Transfer) error {
	if err := x.Transfer(ctx, t); err != nil {
		if !errors.Is(err, ErrTransferFailed) {
			err = &TransferError{Transfer: t, Err: err}
		}
		return err
	}
	return nil
}
