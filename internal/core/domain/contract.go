package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TradeContract is the immutable agreement between buyer and seller.
// Both parties must act on byte-identical contract data, therefore any
// change, like learning the counterparty token pubkey during
// registration, produces a new contract value. The protocol identity of
// a contract is the SHA-256 of its canonical JSON serialization.
type TradeContract struct {
	Description     string               `json:"trade_description"`
	Amount          uint64               `json:"trade_amount_sat"`
	NostrIdentities TradeNostrIdentities `json:"nostr_identities"`
	TimeLimit       time.Duration        `json:"time_limit"`
	EcashIdentities EcashIdentities      `json:"ecash_identities"`
}

// NewTradeContract returns an immutable contract after validating its
// invariants: positive amount, positive time limit and three distinct
// messaging identities. Ecash identities may be incomplete at this
// point, they are checked again when the token exchange begins.
func NewTradeContract(
	description string, amount uint64,
	nostrIdentities TradeNostrIdentities, timeLimit time.Duration,
	ecashIdentities EcashIdentities,
) (*TradeContract, error) {
	if amount <= 0 {
		return nil, ErrContractNullAmount
	}
	if timeLimit <= 0 {
		return nil, ErrContractNullTimeLimit
	}
	if err := nostrIdentities.validate(); err != nil {
		return nil, err
	}

	return &TradeContract{
		Description:     description,
		Amount:          amount,
		NostrIdentities: nostrIdentities,
		TimeLimit:       timeLimit,
		EcashIdentities: ecashIdentities,
	}, nil
}

// NewTradeContractFromFields is the flat-field variant of
// NewTradeContract, kept for callers that did not assemble the identity
// bundles themselves. Both constructors normalize to the same value.
func NewTradeContractFromFields(
	description string, amount uint64,
	buyerPubkey, sellerPubkey, coordinatorPubkey string,
	timeLimit time.Duration,
	buyerTokenPubkey, sellerTokenPubkey string,
) (*TradeContract, error) {
	return NewTradeContract(
		description, amount,
		TradeNostrIdentities{
			BuyerPubkey:       buyerPubkey,
			SellerPubkey:      sellerPubkey,
			CoordinatorPubkey: coordinatorPubkey,
		},
		timeLimit,
		EcashIdentities{
			BuyerTokenPubkey:  buyerTokenPubkey,
			SellerTokenPubkey: sellerTokenPubkey,
		},
	)
}

// WithEcashIdentities returns a copy of the contract with the token
// pubkeys replaced. The receiver is left untouched.
func (c TradeContract) WithEcashIdentities(ids EcashIdentities) TradeContract {
	c.EcashIdentities = ids
	return c
}

// Serialize returns the canonical JSON encoding of the contract, the
// form that is signed, published and hashed.
func (c TradeContract) Serialize() []byte {
	// struct fields marshal in declaration order, the encoding is stable
	buf, _ := json.Marshal(c)
	return buf
}

// Hash returns the protocol identity of the contract.
func (c TradeContract) Hash() [32]byte {
	return sha256.Sum256(c.Serialize())
}

// HashHex returns the contract hash as a lowercase hex string.
func (c TradeContract) HashHex() string {
	h := c.Hash()
	return hex.EncodeToString(h[:])
}
