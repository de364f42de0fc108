package airdrop

import (
	"context"
	"time"
)

type confirmOutcome int

const (
	confirmPending confirmOutcome = iota
	confirmConfirmed
	confirmExpired
	confirmDropped
)

// commitmentReached reports whether an observed confirmation status
// satisfies the configured commitment. Finalized always satisfies
// confirmed.
func commitmentReached(observed, want string) bool {
	switch want {
	case "processed":
		return observed != ""
	case "finalized":
		return observed == "finalized"
	default:
		return observed == "confirmed" || observed == "finalized"
	}
}

// waitForConfirmation polls the signature's status until it reaches the
// commitment, fails on chain, or the blockhash validity window passes.
// Expiry is not retried here: the caller owns resubmission, since a new
// attempt needs a new blockhash.
func (o *Orchestrator) waitForConfirmation(ctx context.Context, signature string, lastValidBlockHeight uint64) (confirmOutcome, error) {
	deadline := time.Now().Add(o.cfg.ConfirmTimeout)

	for {
		status, err := o.node.SignatureStatus(ctx, signature)
		if err != nil {
			if ctx.Err() != nil {
				return confirmPending, ctx.Err()
			}
			// Transient poll failures only matter if they outlast the
			// expiry window.
			o.log.WithError(err).WithField("signature", signature).Debug("signature status poll failed")
		} else if status != nil {
			if status.Err != nil {
				return confirmDropped, nil
			}
			if commitmentReached(status.ConfirmationStatus, o.cfg.Commitment) {
				return confirmConfirmed, nil
			}
		} else {
			// The node does not know the signature. If the chain has moved
			// past the blockhash validity window, the transaction can no
			// longer land.
			height, err := o.node.BlockHeight(ctx)
			if err == nil && height > lastValidBlockHeight {
				return confirmExpired, nil
			}
		}

		if time.Now().After(deadline) {
			return confirmExpired, nil
		}
		if err := sleepWithContext(ctx, o.cfg.ConfirmPollInterval); err != nil {
			return confirmPending, err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
