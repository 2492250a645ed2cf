package escrow

import (
	"encoding/json"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// Protocol message kinds carried by envelope Kind tags.
const (
	MsgKindContractSubmission = "contract-submission"
	MsgKindRegistrationAck    = "registration-ack"
	MsgKindEscrowRegistration = "escrow-registration"
	MsgKindTradeToken         = "trade-token"
	MsgKindDeliveryNotice     = "delivery-notice"
	MsgKindDeliveryAck        = "delivery-ack"
	MsgKindDispute            = "dispute"
	MsgKindRuling             = "ruling"
)

// ContractSubmission is published by each party to the coordinator and
// the counterparty to initiate the escrow.
type ContractSubmission struct {
	Contract domain.TradeContract `json:"contract"`
}

// RegistrationAck acknowledges the counterparty's contract submission
// with the locally computed contract hash.
type RegistrationAck struct {
	ContractHashHex string `json:"contract_hash"`
}

// TradeTokenMessage carries the escrow token from buyer to seller. The
// transport encrypts it to the recipient.
type TradeTokenMessage struct {
	ContractHashHex string      `json:"contract_hash"`
	Token           ports.Token `json:"token"`
}

// DeliveryNotice is the seller's signed completion notice for the
// off-protocol duty.
type DeliveryNotice struct {
	ContractHashHex string `json:"contract_hash"`
	Proof           string `json:"proof"`
}

// DeliveryAck is the buyer's signed acknowledgement of receipt.
type DeliveryAck struct {
	ContractHashHex string `json:"contract_hash"`
}

// DisputeSubmission carries the evidence bundle to the coordinator.
type DisputeSubmission struct {
	Bundle domain.EvidenceBundle `json:"bundle"`
}

func marshalMessage(msg interface{}) []byte {
	buf, _ := json.Marshal(msg)
	return buf
}
