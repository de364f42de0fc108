package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/DGrayArea/matt-sol-nft-airdrops/airdrop"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

// loadTransferList reads one transfer per line: an asset id and a
// recipient address separated by a comma or whitespace. Blank lines and
// lines starting with '#' are skipped.
func loadTransferList(path string) ([]airdrop.TransferRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []airdrop.TransferRequest
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"<asset-id>,<recipient>\", got %q", path, lineNo, line)
		}

		assetID := strings.TrimSpace(fields[0])
		recipient, err := solana.ParsePubkey(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad recipient %q: %w", path, lineNo, fields[1], err)
		}
		out = append(out, airdrop.TransferRequest{AssetID: assetID, Recipient: recipient})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no transfers", path)
	}
	return out, nil
}
