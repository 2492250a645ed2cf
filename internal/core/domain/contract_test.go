package domain_test

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

func TestNewTradeContract(t *testing.T) {
	t.Parallel()

	nostrIdentities := randomNostrIdentities()
	ecashIdentities := randomEcashIdentities()

	contract, err := domain.NewTradeContract(
		"bitcoin at a premium", 5000, nostrIdentities, 72*time.Hour,
		ecashIdentities,
	)
	require.NoError(t, err)
	require.NotNil(t, contract)

	fromFields, err := domain.NewTradeContractFromFields(
		"bitcoin at a premium", 5000,
		nostrIdentities.BuyerPubkey, nostrIdentities.SellerPubkey,
		nostrIdentities.CoordinatorPubkey, 72*time.Hour,
		ecashIdentities.BuyerTokenPubkey, ecashIdentities.SellerTokenPubkey,
	)
	require.NoError(t, err)
	require.Equal(t, *contract, *fromFields)
	require.Equal(t, contract.HashHex(), fromFields.HashHex())
	require.Len(t, contract.HashHex(), 64)
}

func TestFailingNewTradeContract(t *testing.T) {
	t.Parallel()

	nostrIdentities := randomNostrIdentities()
	reusedKey := randomHex(33)

	tests := []struct {
		name            string
		amount          uint64
		nostrIdentities domain.TradeNostrIdentities
		timeLimit       time.Duration
		expectedError   error
	}{
		{
			name:            "null_amount",
			amount:          0,
			nostrIdentities: nostrIdentities,
			timeLimit:       72 * time.Hour,
			expectedError:   domain.ErrContractNullAmount,
		},
		{
			name:            "null_time_limit",
			amount:          5000,
			nostrIdentities: nostrIdentities,
			timeLimit:       0,
			expectedError:   domain.ErrContractNullTimeLimit,
		},
		{
			name:   "null_identity",
			amount: 5000,
			nostrIdentities: domain.TradeNostrIdentities{
				BuyerPubkey:  randomHex(33),
				SellerPubkey: randomHex(33),
			},
			timeLimit:     72 * time.Hour,
			expectedError: domain.ErrContractNullIdentity,
		},
		{
			name:   "identity_reuse",
			amount: 5000,
			nostrIdentities: domain.TradeNostrIdentities{
				BuyerPubkey:       reusedKey,
				SellerPubkey:      reusedKey,
				CoordinatorPubkey: randomHex(33),
			},
			timeLimit:     72 * time.Hour,
			expectedError: domain.ErrContractIdentityReuse,
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			contract, err := domain.NewTradeContract(
				"bitcoin at a premium", tt.amount, tt.nostrIdentities,
				tt.timeLimit, randomEcashIdentities(),
			)
			require.EqualError(t, err, tt.expectedError.Error())
			require.Nil(t, contract)
		})
	}
}

func TestContractHashStability(t *testing.T) {
	t.Parallel()

	contract := newTestContract(t)

	// the hash must survive a serialize/deserialize round trip, both
	// parties compute it on the wire form of the contract
	var decoded domain.TradeContract
	err := json.Unmarshal(contract.Serialize(), &decoded)
	require.NoError(t, err)
	require.Equal(t, contract.HashHex(), decoded.HashHex())

	// any field change must produce a different identity
	altered := *contract
	altered.Amount += 1
	require.NotEqual(t, contract.HashHex(), altered.HashHex())
}

func TestContractWithEcashIdentities(t *testing.T) {
	t.Parallel()

	contract := newTestContract(t)
	originalHash := contract.HashHex()

	updated := contract.WithEcashIdentities(randomEcashIdentities())
	require.Equal(t, originalHash, contract.HashHex())
	require.NotEqual(t, originalHash, updated.HashHex())
	require.True(t, updated.EcashIdentities.Complete())
}

func newTestContract(t *testing.T) *domain.TradeContract {
	contract, err := domain.NewTradeContract(
		"bitcoin at a premium", 5000, randomNostrIdentities(), 72*time.Hour,
		randomEcashIdentities(),
	)
	require.NoError(t, err)
	return contract
}

func randomNostrIdentities() domain.TradeNostrIdentities {
	return domain.TradeNostrIdentities{
		BuyerPubkey:       randomHex(33),
		SellerPubkey:      randomHex(33),
		CoordinatorPubkey: randomHex(33),
	}
}

func randomEcashIdentities() domain.EcashIdentities {
	return domain.EcashIdentities{
		BuyerTokenPubkey:  randomHex(33),
		SellerTokenPubkey: randomHex(33),
	}
}

func randomHex(len int) string {
	return hex.EncodeToString(randomBytes(len))
}

func randomId() string {
	return uuid.New().String()
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	rand.Read(b)
	return b
}
