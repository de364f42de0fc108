// Package wallet wraps a Solana-CLI-format keypair behind a narrow
// signing capability. Private key material never leaves this package.
package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

var ErrInvalidKeypairFile = errors.New("invalid keypair file")

func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

type Keypair struct {
	priv ed25519.PrivateKey
	pub  solana.Pubkey
}

func Load(path string) (*Keypair, error) {
	if path == "" {
		return nil, fmt.Errorf("keypair path required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, ErrInvalidKeypairFile
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypairFile
	}

	key := make([]byte, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, ErrInvalidKeypairFile
		}
		key[i] = byte(v)
	}
	return fromPrivateKey(ed25519.PrivateKey(key))
}

func fromPrivateKey(priv ed25519.PrivateKey) (*Keypair, error) {
	pk, ok := priv.Public().(ed25519.PublicKey)
	if !ok || len(pk) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeypairFile
	}
	var pub solana.Pubkey
	copy(pub[:], pk)
	return &Keypair{priv: priv, pub: pub}, nil
}

// FromSeed builds a keypair from a raw 32-byte ed25519 seed. Used by
// tests; operational keys come from Load.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKeypairFile
	}
	return fromPrivateKey(ed25519.NewKeyFromSeed(seed))
}

func (k *Keypair) Pubkey() solana.Pubkey {
	return k.pub
}

// SignTransaction compiles and signs a single-signer legacy transaction.
// It satisfies the orchestrator's signing capability.
func (k *Keypair) SignTransaction(recentBlockhash [32]byte, instructions []solana.Instruction) ([]byte, error) {
	if k == nil || len(k.priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypairFile
	}
	return solana.BuildAndSignLegacyTransaction(
		recentBlockhash,
		k.pub,
		map[solana.Pubkey]ed25519.PrivateKey{k.pub: k.priv},
		instructions,
	)
}
