package solana

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

type Pubkey [32]byte

var (
	ErrInvalidPubkey    = errors.New("invalid pubkey")
	ErrInvalidSignature = errors.New("invalid signature")
)

func ParsePubkey(s string) (Pubkey, error) {
	var out Pubkey
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return out, ErrInvalidPubkey
	}

	if len(s) == 64 {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 32 {
			return out, ErrInvalidPubkey
		}
		copy(out[:], b)
		return out, nil
	}

	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		return out, ErrInvalidPubkey
	}
	copy(out[:], b)
	return out, nil
}

func MustPubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic("solana: bad pubkey literal: " + s)
	}
	return pk
}

func (k Pubkey) Base58() string {
	return base58.Encode(k[:])
}

func (k Pubkey) String() string { return k.Base58() }

func (k Pubkey) IsZero() bool {
	return k == Pubkey{}
}

// Signature is a 64-byte ed25519 transaction signature.
type Signature [64]byte

func ParseSignature(s string) (Signature, error) {
	var out Signature
	b, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != 64 {
		return out, ErrInvalidSignature
	}
	copy(out[:], b)
	return out, nil
}

func (s Signature) Base58() string {
	return base58.Encode(s[:])
}

func (s Signature) String() string { return s.Base58() }
