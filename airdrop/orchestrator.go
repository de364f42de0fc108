package airdrop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DGrayArea/matt-sol-nft-airdrops/bubblegum"
	"github.com/DGrayArea/matt-sol-nft-airdrops/das"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solanarpc"
)

// AssetSource provides asset snapshots and inclusion proofs from the
// indexing service.
type AssetSource interface {
	GetAsset(ctx context.Context, id string) (das.Asset, error)
	GetAssetProof(ctx context.Context, id string) (das.Proof, error)
	GetAssetBatch(ctx context.Context, ids []string) (map[string]das.Asset, error)
}

// FeeEstimator prices compute units. Optional; a nil estimator means no
// priority fee instruction is attached.
type FeeEstimator interface {
	GetPriorityFeeEstimate(ctx context.Context, accountKeys []string, level das.PriorityLevel) (uint64, error)
}

// Node is the transaction submission and confirmation boundary.
type Node interface {
	LatestBlockhash(ctx context.Context) (solanarpc.Blockhash, error)
	SendTransaction(ctx context.Context, tx []byte, skipPreflight bool) (string, error)
	SignatureStatus(ctx context.Context, signature string) (*solanarpc.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Signer is the wallet's single signing capability. The orchestrator
// owns it exclusively for the duration of a batch; nothing else may
// request a signature concurrently.
type Signer interface {
	Pubkey() solana.Pubkey
	SignTransaction(recentBlockhash [32]byte, instructions []solana.Instruction) ([]byte, error)
}

type Config struct {
	// InterJobDelay is the minimum gap between jobs; doubled for the next
	// gap after a rate-limit response, then reset.
	InterJobDelay time.Duration

	// SubmitAttempts bounds sign+submit tries per job (expiry included).
	SubmitAttempts   int
	SubmitRetryDelay time.Duration

	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	Commitment          string

	// ComputeUnitLimit of 0 omits compute budget instructions entirely.
	ComputeUnitLimit uint32
	PriorityLevel    das.PriorityLevel

	// Prefetch fails obviously-missing assets in one batched lookup
	// before any per-job work starts.
	Prefetch      bool
	SkipPreflight bool

	FeeEstimator FeeEstimator
	Logger       logrus.FieldLogger
}

func (c *Config) applyDefaults() {
	if c.InterJobDelay <= 0 {
		c.InterJobDelay = time.Second
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.SubmitRetryDelay <= 0 {
		c.SubmitRetryDelay = 2 * time.Second
	}
	if c.ConfirmPollInterval <= 0 {
		c.ConfirmPollInterval = 2 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 90 * time.Second
	}
	if c.Commitment == "" {
		c.Commitment = "confirmed"
	}
	if c.PriorityLevel == "" {
		c.PriorityLevel = das.PriorityMedium
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

type Orchestrator struct {
	assets AssetSource
	node   Node
	signer Signer
	cfg    Config
	log    logrus.FieldLogger
}

func New(assets AssetSource, node Node, signer Signer, cfg Config) (*Orchestrator, error) {
	if assets == nil {
		return nil, errors.New("asset source required")
	}
	if node == nil {
		return nil, errors.New("node required")
	}
	if signer == nil {
		return nil, errors.New("signer required")
	}
	cfg.applyDefaults()
	return &Orchestrator{
		assets: assets,
		node:   node,
		signer: signer,
		cfg:    cfg,
		log:    cfg.Logger,
	}, nil
}

// Run processes the requests strictly in order, one at a time. A job
// failure never aborts the batch: the result always carries one entry
// per request. The returned error is never job-specific; it is reserved
// for the batch not being runnable at all.
func (o *Orchestrator) Run(ctx context.Context, requests []TransferRequest) (*BatchResult, error) {
	result := &BatchResult{Jobs: make([]JobResult, len(requests))}
	for i, req := range requests {
		result.Jobs[i] = JobResult{AssetID: req.AssetID, Recipient: req.Recipient, State: StatePending}
	}
	if len(requests) == 0 {
		return result, nil
	}

	skip := map[int]bool{}
	if o.cfg.Prefetch {
		o.prefetch(ctx, requests, result, skip)
	}

	delay := o.cfg.InterJobDelay
	started := false
	for i := range requests {
		if skip[i] {
			continue
		}

		// Best-effort cancellation between jobs. An in-flight broadcast
		// cannot be un-sent, so cancellation never interrupts one.
		if err := ctx.Err(); err != nil {
			o.failRemaining(result, skip, i, err)
			break
		}
		if started {
			if err := sleepWithContext(ctx, delay); err != nil {
				o.failRemaining(result, skip, i, err)
				break
			}
		}
		started = true

		res, rateLimited := o.runJob(ctx, requests[i])
		result.Jobs[i] = res

		if rateLimited {
			delay = o.cfg.InterJobDelay * 2
		} else {
			delay = o.cfg.InterJobDelay
		}
	}

	for _, j := range result.Jobs {
		if j.Confirmed() {
			result.Confirmed++
		} else {
			result.Failed++
		}
	}
	o.log.WithFields(logrus.Fields{
		"confirmed": result.Confirmed,
		"failed":    result.Failed,
		"total":     len(result.Jobs),
	}).Info("batch finished")
	return result, nil
}

// prefetch marks jobs whose assets the indexer does not know as failed
// before any per-job proof fetch spends rate budget. Errors here degrade
// to the per-job path deciding.
func (o *Orchestrator) prefetch(ctx context.Context, requests []TransferRequest, result *BatchResult, skip map[int]bool) {
	ids := make([]string, 0, len(requests))
	seen := map[string]bool{}
	for _, req := range requests {
		if !seen[req.AssetID] {
			seen[req.AssetID] = true
			ids = append(ids, req.AssetID)
		}
	}

	found, err := o.assets.GetAssetBatch(ctx, ids)
	if err != nil {
		o.log.WithError(err).Warn("asset prefetch failed; falling back to per-job fetch")
		return
	}
	for i, req := range requests {
		if _, ok := found[req.AssetID]; ok {
			continue
		}
		skip[i] = true
		result.Jobs[i] = JobResult{
			AssetID:   req.AssetID,
			Recipient: req.Recipient,
			State:     StateFailed,
			FailStage: StageFetch,
			Err:       fmt.Errorf("%w: %s", das.ErrAssetNotFound, req.AssetID),
		}
	}
}

func (o *Orchestrator) failRemaining(result *BatchResult, skip map[int]bool, from int, cause error) {
	for i := from; i < len(result.Jobs); i++ {
		if skip[i] {
			continue
		}
		result.Jobs[i].State = StateFailed
		result.Jobs[i].FailStage = StageFetch
		result.Jobs[i].Err = fmt.Errorf("%w: %v", ErrCanceled, cause)
	}
}

func isRateLimitErr(err error) bool {
	return errors.Is(err, das.ErrRateLimited) || errors.Is(err, solanarpc.ErrRateLimited)
}

// runJob walks one request through fetch, validate, build, sign+submit
// and confirm. The second return reports whether a rate-limit response
// was seen anywhere, so the scheduler can stretch the next gap.
func (o *Orchestrator) runJob(ctx context.Context, req TransferRequest) (JobResult, bool) {
	res := JobResult{AssetID: req.AssetID, Recipient: req.Recipient, State: StatePending}
	log := o.log.WithFields(logrus.Fields{"asset": req.AssetID, "recipient": req.Recipient.Base58()})
	rateLimited := false

	fail := func(stage Stage, err error) (JobResult, bool) {
		res.State = StateFailed
		res.FailStage = stage
		res.Err = err
		log.WithError(err).WithField("stage", string(stage)).Warn("transfer failed")
		return res, rateLimited
	}

	// Asset metadata and proof are independent reads; fetch them together.
	// Both must be fresh: proofs go stale against the live tree root and
	// ownership can change at any time.
	var (
		asset    das.Asset
		assetErr error
		proof    das.Proof
		proofErr error
	)
	done := make(chan struct{})
	go func() {
		proof, proofErr = o.assets.GetAssetProof(ctx, req.AssetID)
		close(done)
	}()
	asset, assetErr = o.assets.GetAsset(ctx, req.AssetID)
	<-done

	rateLimited = isRateLimitErr(assetErr) || isRateLimitErr(proofErr)
	if assetErr != nil {
		return fail(StageFetch, assetErr)
	}
	if proofErr != nil {
		return fail(StageFetch, proofErr)
	}

	if err := ValidateOwnership(asset, o.signer.Pubkey()); err != nil {
		return fail(StageValidate, err)
	}

	ix, err := bubblegum.TransferInstruction(asset, proof, req.Recipient, o.signer.Pubkey())
	if err != nil {
		return fail(StageBuild, err)
	}
	res.State = StatePrepared

	microLamports := o.priorityFee(ctx, ix)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.SubmitAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff between submission attempts.
			if err := sleepWithContext(ctx, o.cfg.SubmitRetryDelay*time.Duration(attempt-1)); err != nil {
				return fail(StageSubmit, err)
			}
		}

		// Fresh blockhash per attempt: jobs run serially with delays, so a
		// shared or reused one may already be near expiry.
		bh, err := o.node.LatestBlockhash(ctx)
		if err != nil {
			rateLimited = rateLimited || isRateLimitErr(err)
			lastErr = err
			continue
		}

		ixs := make([]solana.Instruction, 0, 3)
		if o.cfg.ComputeUnitLimit != 0 {
			ixs = append(ixs, solana.ComputeBudgetSetComputeUnitLimit(o.cfg.ComputeUnitLimit))
			if microLamports != 0 {
				ixs = append(ixs, solana.ComputeBudgetSetComputeUnitPrice(microLamports))
			}
		}
		ixs = append(ixs, ix)

		tx, err := o.signer.SignTransaction(bh.Hash, ixs)
		if err != nil {
			// A wallet that refuses to sign will not change its mind.
			return fail(StageSubmit, fmt.Errorf("sign transaction: %w", err))
		}
		res.State = StateSigned

		sig, err := o.node.SendTransaction(ctx, tx, o.cfg.SkipPreflight)
		if err != nil {
			rateLimited = rateLimited || isRateLimitErr(err)
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("submission failed")
			continue
		}
		res.State = StateSubmitted
		res.Signature = sig
		log.WithFields(logrus.Fields{"signature": sig, "attempt": attempt}).Info("submitted")

		outcome, err := o.waitForConfirmation(ctx, sig, bh.LastValidBlockHeight)
		if err != nil {
			return fail(StageConfirm, err)
		}
		switch outcome {
		case confirmConfirmed:
			res.State = StateConfirmed
			log.WithField("signature", sig).Info("confirmed")
			return res, rateLimited
		case confirmDropped:
			return fail(StageConfirm, fmt.Errorf("%w: %s", ErrDropped, sig))
		case confirmExpired:
			// A new submission attempt with a fresh blockhash, bounded by
			// the same outer budget.
			lastErr = fmt.Errorf("%w: %s", ErrExpired, sig)
			log.WithField("signature", sig).Warn("blockhash expired; resubmitting")
		}
	}

	if lastErr == nil {
		lastErr = errors.New("submission attempts exhausted")
	}
	return fail(StageSubmit, lastErr)
}

// priorityFee asks the estimator for a compute-unit price covering the
// transfer's accounts. Estimation failures are logged and ignored; a
// transfer without a priority fee is still valid.
func (o *Orchestrator) priorityFee(ctx context.Context, ix solana.Instruction) uint64 {
	if o.cfg.FeeEstimator == nil || o.cfg.ComputeUnitLimit == 0 {
		return 0
	}
	keys := make([]string, 0, len(ix.Accounts)+1)
	for _, am := range ix.Accounts {
		keys = append(keys, am.Pubkey.Base58())
	}
	keys = append(keys, ix.ProgramID.Base58())

	microLamports, err := o.cfg.FeeEstimator.GetPriorityFeeEstimate(ctx, keys, o.cfg.PriorityLevel)
	if err != nil {
		o.log.WithError(err).Debug("priority fee estimate unavailable")
		return 0
	}
	return microLamports
}
