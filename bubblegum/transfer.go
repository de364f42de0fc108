// Package bubblegum builds instructions for the compressed-NFT program.
// Account ordering and byte layout follow the program's published
// interface exactly; the chain rejects any deviation.
package bubblegum

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/DGrayArea/matt-sol-nft-airdrops/das"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

var (
	// ProgramID is the Metaplex Bubblegum program.
	ProgramID = solana.MustPubkey("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")

	// AccountCompressionProgramID is the SPL account-compression program
	// that owns merkle tree accounts.
	AccountCompressionProgramID = solana.MustPubkey("cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK")

	// NoopProgramID is the SPL log-wrapper program.
	NoopProgramID = solana.MustPubkey("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")
)

// transferDiscriminator is the anchor sighash of "global:transfer".
var transferDiscriminator = [8]byte{163, 52, 200, 231, 140, 3, 69, 186}

var (
	ErrEmptyProof         = errors.New("empty proof")
	ErrTreeMismatch       = errors.New("proof tree does not match asset tree")
	ErrLeafIndexOverflow  = errors.New("leaf index exceeds u32")
	ErrNoSigningAuthority = errors.New("signer is neither leaf owner nor delegate")
	ErrDeriveAuthority    = errors.New("tree authority derivation failed")
)

// TreeAuthority derives the program-derived account that approves
// mutations of the given merkle tree. The tree address is the sole seed.
func TreeAuthority(tree solana.Pubkey) (solana.Pubkey, error) {
	authority, _, err := solana.FindProgramAddress([][]byte{tree[:]}, ProgramID)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("%w: %v", ErrDeriveAuthority, err)
	}
	return authority, nil
}

// TransferInstruction assembles a compressed-NFT transfer from a fresh
// asset snapshot and inclusion proof. The signer must be the current leaf
// owner or its delegate; exactly that account is marked as signing.
func TransferInstruction(
	asset das.Asset,
	proof das.Proof,
	newOwner solana.Pubkey,
	signer solana.Pubkey,
) (solana.Instruction, error) {
	if err := asset.Transferable(); err != nil {
		return solana.Instruction{}, err
	}
	if len(proof.Nodes) == 0 {
		return solana.Instruction{}, ErrEmptyProof
	}
	if !proof.TreeID.IsZero() && proof.TreeID != asset.Compression.Tree {
		return solana.Instruction{}, ErrTreeMismatch
	}
	if asset.Compression.LeafIndex > math.MaxUint32 {
		return solana.Instruction{}, ErrLeafIndexOverflow
	}

	leafOwner := asset.Owner
	leafDelegate := leafOwner
	if asset.Delegated && !asset.Delegate.IsZero() {
		leafDelegate = asset.Delegate
	}

	ownerSigns := signer == leafOwner
	delegateSigns := !ownerSigns && signer == leafDelegate
	if !ownerSigns && !delegateSigns {
		return solana.Instruction{}, ErrNoSigningAuthority
	}

	authority, err := TreeAuthority(asset.Compression.Tree)
	if err != nil {
		return solana.Instruction{}, err
	}

	accounts := make([]solana.AccountMeta, 0, 8+len(proof.Nodes))
	accounts = append(accounts,
		solana.AccountMeta{Pubkey: authority},
		solana.AccountMeta{Pubkey: leafOwner, IsSigner: ownerSigns},
		solana.AccountMeta{Pubkey: leafDelegate, IsSigner: delegateSigns},
		solana.AccountMeta{Pubkey: newOwner},
		solana.AccountMeta{Pubkey: asset.Compression.Tree, IsWritable: true},
		solana.AccountMeta{Pubkey: NoopProgramID},
		solana.AccountMeta{Pubkey: AccountCompressionProgramID},
		solana.AccountMeta{Pubkey: solana.SystemProgramID},
	)
	for _, node := range proof.Nodes {
		accounts = append(accounts, solana.AccountMeta{Pubkey: solana.Pubkey(node)})
	}

	// Layout: discriminator, root, data hash, creator hash, nonce (u64 LE),
	// leaf index (u32 LE). Nonce equals the leaf index for these trees.
	data := make([]byte, 0, 8+32+32+32+8+4)
	data = append(data, transferDiscriminator[:]...)
	data = append(data, proof.Root[:]...)
	data = append(data, asset.Compression.DataHash[:]...)
	data = append(data, asset.Compression.CreatorHash[:]...)
	data = binary.LittleEndian.AppendUint64(data, asset.Compression.LeafIndex)
	data = binary.LittleEndian.AppendUint32(data, uint32(asset.Compression.LeafIndex))

	return solana.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data:      data,
	}, nil
}
