package wallet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/internal/infrastructure/wallet"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

const testMintUrl = "https://mint.test"

func TestMintAndRedeem(t *testing.T) {
	t.Parallel()

	mint := wallet.NewMintAuthority(testMintUrl)
	buyerWallet, buyerKeys := newTestWallet(t, mint)
	sellerWallet, sellerKeys := newTestWallet(t, mint)
	mint.Fund(buyerKeys.PublicKey(), 5000)

	token, err := buyerWallet.Mint(context.Background(), 5000, ports.TokenLock{
		LockedTo: sellerKeys.PublicKey(),
		RefundTo: buyerKeys.PublicKey(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, token.Id)
	require.NotEmpty(t, token.Secret)
	require.Equal(t, testMintUrl, token.Mint)
	// minting burns the buyer balance immediately
	require.Equal(t, uint64(0), mint.Balance(buyerKeys.PublicKey()))

	receipt, err := sellerWallet.Redeem(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, token.Id, receipt.TokenId)
	require.Equal(t, uint64(5000), receipt.Amount)
	require.Equal(t, uint64(5000), mint.Balance(sellerKeys.PublicKey()))
}

func TestFailingMintAndRedeem(t *testing.T) {
	t.Parallel()

	t.Run("insufficient_funds", func(t *testing.T) {
		t.Parallel()

		mint := wallet.NewMintAuthority(testMintUrl)
		buyerWallet, buyerKeys := newTestWallet(t, mint)
		mint.Fund(buyerKeys.PublicKey(), 1000)

		token, err := buyerWallet.Mint(
			context.Background(), 5000, ports.TokenLock{},
		)
		require.EqualError(t, err, domain.ErrInsufficientFunds.Error())
		require.Nil(t, token)
	})

	t.Run("double_spend", func(t *testing.T) {
		t.Parallel()

		mint := wallet.NewMintAuthority(testMintUrl)
		buyerWallet, buyerKeys := newTestWallet(t, mint)
		sellerWallet, sellerKeys := newTestWallet(t, mint)
		mint.Fund(buyerKeys.PublicKey(), 5000)

		token, err := buyerWallet.Mint(context.Background(), 5000, ports.TokenLock{
			LockedTo: sellerKeys.PublicKey(),
		})
		require.NoError(t, err)

		_, err = sellerWallet.Redeem(context.Background(), token)
		require.NoError(t, err)

		receipt, err := sellerWallet.Redeem(context.Background(), token)
		require.EqualError(t, err, domain.ErrTokenAlreadySpent.Error())
		require.Nil(t, receipt)
		require.Equal(t, uint64(5000), mint.Balance(sellerKeys.PublicKey()))
	})

	t.Run("redeem_by_wrong_party", func(t *testing.T) {
		t.Parallel()

		mint := wallet.NewMintAuthority(testMintUrl)
		buyerWallet, buyerKeys := newTestWallet(t, mint)
		sellerWallet, sellerKeys := newTestWallet(t, mint)
		mint.Fund(buyerKeys.PublicKey(), 5000)

		token, err := buyerWallet.Mint(context.Background(), 5000, ports.TokenLock{
			LockedTo: sellerKeys.PublicKey(),
			RefundTo: buyerKeys.PublicKey(),
		})
		require.NoError(t, err)

		// the token pays to the seller, the buyer cannot claim it back
		receipt, err := buyerWallet.Redeem(context.Background(), token)
		require.Error(t, err)
		require.Nil(t, receipt)

		redeemable, err := sellerWallet.VerifyRedeemable(context.Background(), token)
		require.NoError(t, err)
		require.True(t, redeemable)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		mint := wallet.NewMintAuthority(testMintUrl)
		buyerWallet, buyerKeys := newTestWallet(t, mint)
		mint.Fund(buyerKeys.PublicKey(), 5000)
		mint.SetUnreachable(true)

		_, err := buyerWallet.Mint(context.Background(), 5000, ports.TokenLock{})
		require.EqualError(t, err, domain.ErrMintUnreachable.Error())

		mint.SetUnreachable(false)
		_, err = buyerWallet.Mint(context.Background(), 5000, ports.TokenLock{})
		require.NoError(t, err)
	})
}

func newTestWallet(
	t *testing.T, mint *wallet.MintAuthority,
) (ports.WalletService, *keyring.Keyring) {
	keys, err := keyring.New()
	require.NoError(t, err)
	svc, err := wallet.NewService(mint, keys)
	require.NoError(t, err)
	return svc, keys
}
