package airdrop

import (
	"fmt"

	"github.com/DGrayArea/matt-sol-nft-airdrops/das"
	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

// ValidateOwnership confirms the signing wallet may move the asset: it is
// the current leaf owner, or the active delegate. Runs on the freshest
// asset snapshot, after fetch and before any instruction is built, since
// ownership can change between selection and submission.
func ValidateOwnership(asset das.Asset, signer solana.Pubkey) error {
	if signer == asset.Owner {
		return nil
	}
	if asset.Delegated && !asset.Delegate.IsZero() && signer == asset.Delegate {
		return nil
	}
	return fmt.Errorf("%w: asset %s is owned by %s", ErrNotOwner, asset.ID, asset.Owner)
}
