// Package airdrop drives batches of compressed-NFT transfers: one asset
// to one recipient per job, jobs processed strictly in input order
// against a single signing wallet.
package airdrop

import (
	"errors"
	"fmt"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

// TransferRequest names one transfer: which asset goes to which wallet.
type TransferRequest struct {
	AssetID   string
	Recipient solana.Pubkey
}

type State string

const (
	StatePending   State = "pending"
	StatePrepared  State = "prepared"
	StateSigned    State = "signed"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Stage names where in the pipeline a job failed.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageValidate Stage = "validate"
	StageBuild    Stage = "build"
	StageSubmit   Stage = "submit"
	StageConfirm  Stage = "confirm"
)

var (
	ErrNotOwner = errors.New("signer is not the asset owner or delegate")
	ErrExpired  = errors.New("blockhash expired before confirmation")
	ErrDropped  = errors.New("transaction failed on chain")
	ErrCanceled = errors.New("batch canceled before job started")
)

// JobResult is the terminal record for one transfer request. A job ends
// Confirmed with a signature, or Failed with the stage and reason.
type JobResult struct {
	AssetID   string
	Recipient solana.Pubkey

	State     State
	Signature string
	FailStage Stage
	Err       error
}

func (r JobResult) Confirmed() bool {
	return r.State == StateConfirmed
}

func (r JobResult) String() string {
	if r.Confirmed() {
		return fmt.Sprintf("%s -> %s: confirmed %s", r.AssetID, r.Recipient, r.Signature)
	}
	return fmt.Sprintf("%s -> %s: %s at %s: %v", r.AssetID, r.Recipient, r.State, r.FailStage, r.Err)
}

// BatchResult holds one entry per input request, in input order,
// regardless of individual outcomes. Immutable once returned.
type BatchResult struct {
	Jobs      []JobResult
	Confirmed int
	Failed    int
}

func (b *BatchResult) Summary() string {
	return fmt.Sprintf("%d/%d transfers confirmed", b.Confirmed, len(b.Jobs))
}
