package escrow

import (
	"context"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// VerifyTradeToken validates a received token against the contract
// amount, the expected spending conditions and the local wallet's mint
// authority, without trusting any claim made by the counterparty. It
// has no side effects and can be re-run while assembling dispute
// evidence.
func VerifyTradeToken(
	ctx context.Context,
	token *ports.Token, expectedAmount uint64, expectedLock ports.TokenLock,
	wallet ports.WalletService,
) error {
	if token == nil || len(token.Id) <= 0 || len(token.Secret) <= 0 {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidMalformed,
			Detail: "missing id or secret",
		}
	}
	if token.Mint != wallet.MintUrl() {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidUnknownMint,
			Detail: token.Mint,
		}
	}
	if token.Amount != expectedAmount {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidAmountMismatch,
		}
	}
	// A token locked to anyone but the contract's seller key could be
	// spent by the buyer after delivery.
	if token.LockedTo != expectedLock.LockedTo {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidWrongLock,
			Detail: "locked to " + token.LockedTo,
		}
	}
	if token.RefundTo != expectedLock.RefundTo {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidWrongLock,
			Detail: "refundable to " + token.RefundTo,
		}
	}

	redeemable, err := wallet.VerifyRedeemable(ctx, token)
	if err != nil {
		return err
	}
	if !redeemable {
		return &domain.TokenInvalidError{
			Reason: domain.TokenInvalidAlreadySpent,
		}
	}
	return nil
}
