package domain

import (
	"crypto/sha256"
	"encoding/json"
)

// EscrowRegistration is the coordinator's reply once both parties have
// submitted byte-identical contracts. The fresh escrow pubkey is the
// coordinator's share of the token spending conditions for this trade
// only.
type EscrowRegistration struct {
	EscrowIdHex          string `json:"escrow_id_hex"`
	CoordinatorEscrowKey string `json:"coordinator_escrow_pubkey"`
	EscrowStartTime      int64  `json:"escrow_start_time"`
}

// RulingOutcome is the coordinator's verdict on a disputed trade.
type RulingOutcome int

const (
	RulingRelease RulingOutcome = iota
	RulingRefund
)

func (o RulingOutcome) String() string {
	if o == RulingRefund {
		return "refund"
	}
	return "release"
}

// Ruling is the signed arbitration verdict published by the coordinator
// to both parties of a disputed session. The signature covers every
// field but itself and is verifiable against the coordinator messaging
// pubkey of the contract.
type Ruling struct {
	ContractHashHex string        `json:"session_contract_hash"`
	Outcome         RulingOutcome `json:"ruling"`
	RecipientPubkey string        `json:"recipient_pubkey"`
	Signature       []byte        `json:"coordinator_signature"`
}

// SigningDigest returns the digest the coordinator signature must cover.
func (r Ruling) SigningDigest() [32]byte {
	unsigned := r
	unsigned.Signature = nil
	buf, _ := json.Marshal(unsigned)
	return sha256.Sum256(buf)
}
