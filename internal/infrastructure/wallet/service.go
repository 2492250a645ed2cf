package wallet

import (
	"context"
	"fmt"

	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

type service struct {
	mint *MintAuthority
	keys *keyring.Keyring
}

// NewService returns a wallet backed by the given mint and identified
// by a one-time trade keypair.
func NewService(
	mint *MintAuthority, keys *keyring.Keyring,
) (ports.WalletService, error) {
	if mint == nil {
		return nil, fmt.Errorf("missing mint authority")
	}
	if keys == nil {
		return nil, fmt.Errorf("missing trade keys")
	}
	return &service{mint, keys}, nil
}

func (s *service) Mint(
	ctx context.Context, amount uint64, lock ports.TokenLock,
) (*ports.Token, error) {
	return s.mint.mint(s.keys.PublicKey(), amount, lock)
}

func (s *service) VerifyRedeemable(
	ctx context.Context, token *ports.Token,
) (bool, error) {
	return s.mint.verifyRedeemable(token)
}

func (s *service) Redeem(
	ctx context.Context, token *ports.Token,
) (*ports.Receipt, error) {
	return s.mint.redeem(s.keys.PublicKey(), token)
}

func (s *service) TradePublicKey() string {
	return s.keys.PublicKey()
}

func (s *service) MintUrl() string {
	return s.mint.Url()
}
