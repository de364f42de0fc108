package wallet

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

func TestGenerateAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")

	pub, err := GenerateKeypairFile(path, false)
	if err != nil {
		t.Fatalf("GenerateKeypairFile: %v", err)
	}
	if pub.IsZero() {
		t.Fatalf("generated zero pubkey")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm=%o, want 600", perm)
	}

	kp, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if kp.Pubkey() != pub {
		t.Fatalf("loaded pubkey %s != generated %s", kp.Pubkey(), pub)
	}
}

func TestGenerateKeypairFile_NoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")
	if _, err := GenerateKeypairFile(path, false); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if _, err := GenerateKeypairFile(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite existing keypair")
	}
	if _, err := GenerateKeypairFile(path, true); err != nil {
		t.Fatalf("force generate: %v", err)
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"not json", "garbage"},
		{"wrong length", "[1,2,3]"},
		{"out of range", `[300` + str(",0", ed25519.PrivateKeySize-1) + `]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); !errors.Is(err, ErrInvalidKeypairFile) {
				t.Fatalf("want ErrInvalidKeypairFile, got %v", err)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func str(s string, n int) string {
	return string(bytes.Repeat([]byte(s), n))
}

func TestSignTransaction(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, ed25519.SeedSize)
	kp, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}

	var blockhash [32]byte
	blockhash[0] = 0xAA
	var dest solana.Pubkey
	dest[0] = 0x01

	ix := solana.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []solana.AccountMeta{
			{Pubkey: kp.Pubkey(), IsSigner: true, IsWritable: true},
			{Pubkey: dest, IsWritable: true},
		},
		Data: []byte{2, 0, 0, 0},
	}

	tx, err := kp.SignTransaction(blockhash, []solana.Instruction{ix})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}

	sig, err := solana.FirstSignature(tx)
	if err != nil {
		t.Fatalf("FirstSignature: %v", err)
	}

	// The first signature must verify against the fee payer over the
	// compiled message bytes.
	msg := tx[1+64:]
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, msg, sig[:]) {
		t.Fatalf("signature does not verify")
	}
}

func TestSignTransaction_NilKeypair(t *testing.T) {
	var kp *Keypair
	if _, err := kp.SignTransaction([32]byte{}, nil); !errors.Is(err, ErrInvalidKeypairFile) {
		t.Fatalf("want ErrInvalidKeypairFile, got %v", err)
	}
}
