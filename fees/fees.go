// Package fees estimates the lamport cost of an airdrop batch before any
// transaction is signed. One transfer means one signature.
package fees

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrOverflow = errors.New("overflow")

type BatchEstimate struct {
	Jobs                 uint64 `json:"jobs"`
	LamportsPerSignature uint64 `json:"lamports_per_signature"`
	BaseFeeLamports      uint64 `json:"base_fee_lamports"`

	ComputeUnitLimit    uint32 `json:"compute_unit_limit"`
	MicroLamportsPerCU  uint64 `json:"micro_lamports_per_cu"`
	PriorityFeeLamports uint64 `json:"priority_fee_lamports"`

	TotalLamports uint64 `json:"total_lamports"`
}

func PriorityFeeLamports(computeUnitLimit uint32, microLamportsPerCU uint64) (uint64, error) {
	if computeUnitLimit == 0 || microLamportsPerCU == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(computeUnitLimit), microLamportsPerCU)
	if hi != 0 {
		return 0, ErrOverflow
	}
	const denom = uint64(1_000_000)
	return (lo + denom - 1) / denom, nil
}

func BaseFeeLamports(lamportsPerSignature uint64, signatures uint64) (uint64, error) {
	hi, lo := bits.Mul64(lamportsPerSignature, signatures)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// EstimateBatch prices a batch of independent single-signature transfers,
// each carrying the same compute budget.
func EstimateBatch(jobs uint64, lamportsPerSignature uint64, computeUnitLimit uint32, microLamportsPerCU uint64) (BatchEstimate, error) {
	if jobs == 0 {
		return BatchEstimate{}, errors.New("jobs required")
	}

	base, err := BaseFeeLamports(lamportsPerSignature, jobs)
	if err != nil {
		return BatchEstimate{}, err
	}
	perTx, err := PriorityFeeLamports(computeUnitLimit, microLamportsPerCU)
	if err != nil {
		return BatchEstimate{}, err
	}
	hi, priority := bits.Mul64(perTx, jobs)
	if hi != 0 {
		return BatchEstimate{}, ErrOverflow
	}

	total, carry := bits.Add64(base, priority, 0)
	if carry != 0 {
		return BatchEstimate{}, ErrOverflow
	}

	return BatchEstimate{
		Jobs:                 jobs,
		LamportsPerSignature: lamportsPerSignature,
		BaseFeeLamports:      base,
		ComputeUnitLimit:     computeUnitLimit,
		MicroLamportsPerCU:   microLamportsPerCU,
		PriorityFeeLamports:  priority,
		TotalLamports:        total,
	}, nil
}

func (e BatchEstimate) String() string {
	return fmt.Sprintf("total=%d lamports for %d transfers (base=%d, priority=%d @ %d microLamports/CU, limit=%d)",
		e.TotalLamports,
		e.Jobs,
		e.BaseFeeLamports,
		e.PriorityFeeLamports,
		e.MicroLamportsPerCU,
		e.ComputeUnitLimit,
	)
}
