package custody

import "context"

// Deferred queues transfers instead of executing them. A ledger transition
// routes its transfers through Via while it validates and writes records,
// then calls Run as its final step, so a failed write can never leave tokens
// moved.
type Deferred struct {
	queued []queuedTransfer
}

type queuedTransfer struct {
	target Transferer
	t      Transfer
}

// Via returns a Transferer whose Transfer calls are recorded on d and later
// executed against target.
func (d *Deferred) Via(target Transferer) Transferer {
	return deferredTransferer{d: d, target: target}
}

// Len returns the number of queued transfers.
func (d *Deferred) Len() int { return len(d.queued) }

// Run executes the queued transfers in order and empties the queue. It stops
// at the first failure; transfers before it have already been applied.
func (d *Deferred) Run(ctx context.Context) error {
	queued := d.queued
	d.queued = nil
	for _, q := range queued {
		if err := Execute(ctx, q.target, q.t); err != nil {
			return err
		}
	}
	return nil
}

type deferredTransferer struct {
	d      *Deferred
	target Transferer
}

func (x deferredTransferer) Transfer(_ context.Context, t Transfer) error {
	x.d.queued = append(x.d.queued, queuedTransfer{target: x.target, t: t})
	return nil
}
