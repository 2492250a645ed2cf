package ports

import "context"

// Token is a bearer e-cash token as exchanged between the parties.
// Whoever holds a redeemable token can spend it, there is no undo once
// it has been redeemed with the mint.
type Token struct {
	// Id is the mint-assigned identifier of the token.
	Id string
	// Amount in the smallest token unit.
	Amount uint64
	// Mint is the URL of the issuing mint authority.
	Mint string
	// LockedTo is the token pubkey the spending condition pays to.
	LockedTo string
	// RefundTo is the token pubkey of the refund path after the lock time.
	RefundTo string
	// Secret is the bearer part. It is encrypted to the recipient
	// whenever it crosses the messaging boundary.
	Secret string
}

// Receipt proves a token has been redeemed with the mint.
type Receipt struct {
	Id         string
	TokenId    string
	Amount     uint64
	RedeemedAt int64
}

// TokenLock describes the spending conditions a minted trade token is
// bound to.
type TokenLock struct {
	// LockedTo is the receiving party token pubkey.
	LockedTo string
	// RefundTo is the token pubkey allowed to reclaim after the timeout.
	RefundTo string
	// LockSeconds is the escrow time limit in seconds.
	LockSeconds uint64
}

// WalletService is the boundary towards the wallet subsystem talking to
// the mint authority. The core only mints, checks and redeems tokens
// and identifies itself with a stable per-trade token pubkey.
type WalletService interface {
	// Mint creates a token of exactly the given amount bound to the
	// given spending conditions. Fails with domain.ErrInsufficientFunds
	// or domain.ErrMintUnreachable.
	Mint(ctx context.Context, amount uint64, lock TokenLock) (*Token, error)
	// VerifyRedeemable returns whether the token is well formed, issued
	// by this wallet's mint and not yet spent. It has no side effects
	// and is safe to call repeatedly.
	VerifyRedeemable(ctx context.Context, token *Token) (bool, error)
	// Redeem spends the token with the mint. Fails with
	// domain.ErrTokenAlreadySpent or domain.ErrMintUnreachable.
	Redeem(ctx context.Context, token *Token) (*Receipt, error)
	// TradePublicKey returns the wallet token pubkey identifying the
	// local party in the trade.
	TradePublicKey() string
	// MintUrl returns the URL of the mint authority backing this wallet.
	MintUrl() string
}
