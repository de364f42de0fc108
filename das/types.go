package das

import (
	"errors"
	"fmt"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

var (
	ErrAssetNotFound  = errors.New("asset not found")
	ErrInvalidProof   = errors.New("invalid proof")
	ErrNotCompressed  = errors.New("asset is not compressed")
	ErrBadCompression = errors.New("malformed compression record")
)

// Asset is the indexing service's view of one digital asset. It is a
// read-only snapshot: fetched fresh per transfer and discarded after use.
type Asset struct {
	ID        string
	Owner     solana.Pubkey
	Delegate  solana.Pubkey
	Delegated bool
	Frozen    bool

	Compressed  bool
	Compression Compression
}

// Compression locates the asset's leaf inside its merkle tree.
type Compression struct {
	Tree        solana.Pubkey
	DataHash    [32]byte
	CreatorHash [32]byte
	LeafIndex   uint64
	Seq         uint64
}

// Proof is a merkle inclusion proof for one asset. Proofs go stale as the
// tree mutates, so they are never cached across transfer attempts.
type Proof struct {
	Root      [32]byte
	Nodes     [][32]byte
	Leaf      [32]byte
	TreeID    solana.Pubkey
	NodeIndex uint64

	// IndexedAtSlot is the slot the indexer reported for this proof, or 0
	// when the endpoint does not include one.
	IndexedAtSlot uint64
}

type wireOwnership struct {
	Owner     string `json:"owner"`
	Delegate  string `json:"delegate"`
	Delegated bool   `json:"delegated"`
	Frozen    bool   `json:"frozen"`
}

type wireCompression struct {
	Compressed  bool   `json:"compressed"`
	Tree        string `json:"tree"`
	DataHash    string `json:"data_hash"`
	CreatorHash string `json:"creator_hash"`
	LeafID      uint64 `json:"leaf_id"`
	Seq         uint64 `json:"seq"`
}

type wireAsset struct {
	ID          string           `json:"id"`
	Ownership   *wireOwnership   `json:"ownership"`
	Compression *wireCompression `json:"compression"`
}

type wireProof struct {
	Root      string   `json:"root"`
	Proof     []string `json:"proof"`
	NodeIndex uint64   `json:"node_index"`
	Leaf      string   `json:"leaf"`
	TreeID    string   `json:"tree_id"`
	Slot      uint64   `json:"slot"`
}

func decodeAsset(w wireAsset) (Asset, error) {
	if w.ID == "" || w.Ownership == nil {
		return Asset{}, fmt.Errorf("%w: missing id or ownership", ErrAssetNotFound)
	}
	owner, err := solana.ParsePubkey(w.Ownership.Owner)
	if err != nil {
		return Asset{}, fmt.Errorf("parse owner: %w", err)
	}

	out := Asset{
		ID:        w.ID,
		Owner:     owner,
		Delegated: w.Ownership.Delegated,
		Frozen:    w.Ownership.Frozen,
	}
	if w.Ownership.Delegated {
		del, err := solana.ParsePubkey(w.Ownership.Delegate)
		if err != nil {
			return Asset{}, fmt.Errorf("parse delegate: %w", err)
		}
		out.Delegate = del
	}

	if w.Compression == nil || !w.Compression.Compressed {
		// Standard (uncompressed) assets are valid snapshots but cannot be
		// moved through the compressed-transfer pipeline.
		return out, nil
	}
	out.Compressed = true

	tree, err := solana.ParsePubkey(w.Compression.Tree)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: tree: %v", ErrBadCompression, err)
	}
	dataHash, err := hash32(w.Compression.DataHash)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: data_hash: %v", ErrBadCompression, err)
	}
	creatorHash, err := hash32(w.Compression.CreatorHash)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: creator_hash: %v", ErrBadCompression, err)
	}
	out.Compression = Compression{
		Tree:        tree,
		DataHash:    dataHash,
		CreatorHash: creatorHash,
		LeafIndex:   w.Compression.LeafID,
		Seq:         w.Compression.Seq,
	}
	return out, nil
}

func decodeProof(w wireProof) (Proof, error) {
	if w.Root == "" {
		return Proof{}, fmt.Errorf("%w: missing root", ErrInvalidProof)
	}
	if len(w.Proof) == 0 {
		return Proof{}, fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}

	root, err := hash32(w.Root)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: root: %v", ErrInvalidProof, err)
	}
	nodes := make([][32]byte, 0, len(w.Proof))
	for i, p := range w.Proof {
		n, err := hash32(p)
		if err != nil {
			return Proof{}, fmt.Errorf("%w: node %d: %v", ErrInvalidProof, i, err)
		}
		nodes = append(nodes, n)
	}

	out := Proof{
		Root:          root,
		Nodes:         nodes,
		NodeIndex:     w.NodeIndex,
		IndexedAtSlot: w.Slot,
	}
	if w.Leaf != "" {
		leaf, err := hash32(w.Leaf)
		if err != nil {
			return Proof{}, fmt.Errorf("%w: leaf: %v", ErrInvalidProof, err)
		}
		out.Leaf = leaf
	}
	if w.TreeID != "" {
		tree, err := solana.ParsePubkey(w.TreeID)
		if err != nil {
			return Proof{}, fmt.Errorf("%w: tree_id: %v", ErrInvalidProof, err)
		}
		out.TreeID = tree
	}
	return out, nil
}

// hash32 parses a base58 (or 64-char hex) encoded 32-byte value. DAS
// endpoints return hashes in the same encodings as account keys.
func hash32(s string) ([32]byte, error) {
	pk, err := solana.ParsePubkey(s)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(pk), nil
}

// Transferable reports whether an asset can go through the compressed
// transfer pipeline, with the blocking reason when it cannot.
func (a Asset) Transferable() error {
	if !a.Compressed {
		return ErrNotCompressed
	}
	if a.Compression.Tree.IsZero() {
		return fmt.Errorf("%w: zero tree", ErrBadCompression)
	}
	return nil
}
