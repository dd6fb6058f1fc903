package ledger

import (
	"context"
	"fmt"

	"github.com/vegais/ledger-engine/internal/custody"
)

// Direction says which way value crosses the custody boundary.
type Direction int

const (
	// Inbound moves tokens into custody and credits the balance.
	Inbound Direction = iota
	// Outbound moves tokens out of custody and debits the balance.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// TransferExternal performs the custodial transfer t and then applies the
// matching credit (Inbound) or debit (Outbound) of t.Amount to b.
//
// The ledger side is validated before the transfer is attempted, so once the
// transfer succeeds the mutation cannot fail. If the transfer fails, b is
// left untouched and the custody error is returned.
func TransferExternal(ctx context.Context, xfer custody.Transferer, dir Direction, b *Balance, t custody.Transfer) error {
	switch dir {
	case Inbound:
		if err := b.CanCredit(t.Amount); err != nil {
			return err
		}
	case Outbound:
		if !b.Covers(t.Amount) {
			return fmt.Errorf("debit %d from %d: %w", t.Amount, b.amount, ErrInsufficientBalance)
		}
	default:
		return fmt.Errorf("ledger: unknown transfer direction %d", dir)
	}

	if err := custody.Execute(ctx, xfer, t); err != nil {
		return err
	}

	if dir == Inbound {
		b.amount += t.Amount
	} else {
		b.amount -= t.Amount
	}
	return nil
}
