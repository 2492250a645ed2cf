package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStage represents the protocol stage a trade session is in.
type SessionStage struct {
	Code   int
	Failed bool
}

// TradeSession is the mutable aggregate driving one escrow trade from
// creation to a terminal outcome. The stage is the only field advancing
// the protocol; every transition is guarded so that out-of-order or
// repeated operations fail instead of re-executing side effects (a
// token must never be minted or redeemed twice for the same session).
type TradeSession struct {
	Id       string
	Contract TradeContract
	Role     Role
	Stage    SessionStage

	Registration  EscrowRegistration
	TokenRef      string
	ReceiptRef    string
	DisputeReason string
	RulingOutcome RulingOutcome

	RegistrationTime  int64
	TokenExchangeTime int64
	DutiesTime        int64
	CompletionTime    int64
	ResolutionTime    int64

	Evidence        []Evidence
	NextEvidenceSeq uint64
}

// NewTradeSession returns a session in the Created stage for a local
// party committing to run the protocol for the given contract and role.
func NewTradeSession(contract TradeContract, role Role) (*TradeSession, error) {
	if _, err := NewTradeContract(
		contract.Description, contract.Amount,
		contract.NostrIdentities, contract.TimeLimit,
		contract.EcashIdentities,
	); err != nil {
		return nil, err
	}

	return &TradeSession{
		Id:       uuid.New().String(),
		Contract: contract,
		Role:     role,
		Stage:    SessionStage{Code: SessionStageCodeCreated},
	}, nil
}

// Register brings the session from Created to Registered after the
// counterparty acknowledged the identical contract hash and the
// coordinator opened the escrow. A mismatching hash moves the session
// to Disputed and returns ErrContractMismatch.
func (s *TradeSession) Register(
	counterpartyHashHex string, registration EscrowRegistration,
) error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.Stage.Code >= SessionStageCodeRegistered {
		return ErrStageAlreadyAdvanced
	}

	if counterpartyHashHex != s.Contract.HashHex() {
		s.dispute(ErrContractMismatch.Error())
		return ErrContractMismatch
	}

	s.Registration = registration
	s.RegistrationTime = time.Now().Unix()
	s.Stage.Code = SessionStageCodeRegistered
	return nil
}

// ExchangeToken brings the session from Registered to TokenExchanged,
// recording the escrowed token. The buyer records the token it minted
// and sent, the seller the token it received and verified.
func (s *TradeSession) ExchangeToken(tokenRef string) error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.Stage.Code >= SessionStageCodeTokenExchanged {
		return ErrStageAlreadyAdvanced
	}
	if s.Stage.Code != SessionStageCodeRegistered {
		return ErrSessionMustBeRegistered
	}
	if !s.Contract.EcashIdentities.Complete() {
		return ErrContractMissingEcashIdentities
	}

	s.TokenRef = tokenRef
	s.TokenExchangeTime = time.Now().Unix()
	s.Stage.Code = SessionStageCodeTokenExchanged
	return nil
}

// FulfillDuties brings the session from TokenExchanged to
// DutiesFulfilled once the delivery notice and its acknowledgement have
// been exchanged.
func (s *TradeSession) FulfillDuties() error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.Stage.Code >= SessionStageCodeDutiesFulfilled {
		return ErrStageAlreadyAdvanced
	}
	if s.Stage.Code != SessionStageCodeTokenExchanged {
		return ErrSessionMustBeTokenExchanged
	}

	s.DutiesTime = time.Now().Unix()
	s.Stage.Code = SessionStageCodeDutiesFulfilled
	return nil
}

// Complete closes the session successfully. The seller passes the
// redemption receipt, the buyer a zero value. The session keeps its
// final contract hash, token reference and timestamps for audit.
func (s *TradeSession) Complete(receiptRef string) error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.Stage.Code != SessionStageCodeDutiesFulfilled {
		return ErrSessionMustBeDutiesFulfilled
	}

	s.ReceiptRef = receiptRef
	s.CompletionTime = time.Now().Unix()
	s.Stage.Code = SessionStageCodeCompleted
	return nil
}

// Dispute moves the session to Disputed from any non-terminal stage,
// carrying the accumulated evidence. It is entered on timeout, on
// verification failure or on explicit abort.
func (s *TradeSession) Dispute(reason string) error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	s.dispute(reason)
	return nil
}

func (s *TradeSession) dispute(reason string) {
	s.DisputeReason = reason
	s.Stage = SessionStage{Code: SessionStageCodeDisputed, Failed: true}
}

// Resolve applies a coordinator ruling to a disputed session, reaching
// the Refunded or Released terminal stage.
func (s *TradeSession) Resolve(outcome RulingOutcome) error {
	if s.Stage.Code != SessionStageCodeDisputed {
		if s.IsTerminal() {
			return ErrSessionTerminal
		}
		return ErrSessionMustBeDisputed
	}

	s.RulingOutcome = outcome
	s.ResolutionTime = time.Now().Unix()
	if outcome == RulingRefund {
		s.Stage = SessionStage{Code: SessionStageCodeRefunded, Failed: true}
	} else {
		s.Stage = SessionStage{Code: SessionStageCodeReleased, Failed: true}
	}
	return nil
}

// Expire terminates the session when a deadline elapsed in a stage
// whose timeout outcome is Expired: waiting for the registration
// acknowledgement, or waiting for a coordinator ruling past the dispute
// ceiling.
func (s *TradeSession) Expire() error {
	if s.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.Stage.Code != SessionStageCodeCreated &&
		s.Stage.Code != SessionStageCodeDisputed {
		return ErrSessionNotExpirable
	}

	s.ResolutionTime = time.Now().Unix()
	s.Stage = SessionStage{Code: SessionStageCodeExpired, Failed: true}
	return nil
}

// AppendEvidence records a signed protocol message with the next
// session-local sequence number.
func (s *TradeSession) AppendEvidence(
	kind, sender string, payload, signature []byte,
) Evidence {
	ev := Evidence{
		Seq:       s.NextEvidenceSeq,
		Stage:     s.Stage.Code,
		Sender:    sender,
		Kind:      kind,
		Payload:   payload,
		Signature: signature,
		Timestamp: time.Now().Unix(),
	}
	s.NextEvidenceSeq++
	s.Evidence = append(s.Evidence, ev)
	return ev
}

// EvidenceBundle assembles the deterministic dispute evidence bundle
// for this session.
func (s *TradeSession) EvidenceBundle() EvidenceBundle {
	return NewEvidenceBundle(
		s.Contract.HashHex(), s.Role, s.Stage.Code, s.DisputeReason, s.Evidence,
	)
}

// DisputeCeiling returns the hard deadline for a coordinator ruling as
// a multiple of the contract time limit.
func (s *TradeSession) DisputeCeiling(factor int) time.Duration {
	if factor <= 0 {
		factor = DefaultDisputeCeilingFactor
	}
	return time.Duration(factor) * s.Contract.TimeLimit
}

// IsCreated returns whether the session still is in the Created stage.
func (s TradeSession) IsCreated() bool {
	return s.Stage.Code == SessionStageCodeCreated
}

// IsRegistered returns whether the session is in the Registered stage.
func (s TradeSession) IsRegistered() bool {
	return s.Stage.Code == SessionStageCodeRegistered
}

// IsTokenExchanged returns whether the session is in the TokenExchanged stage.
func (s TradeSession) IsTokenExchanged() bool {
	return s.Stage.Code == SessionStageCodeTokenExchanged
}

// IsDutiesFulfilled returns whether the session is in the DutiesFulfilled stage.
func (s TradeSession) IsDutiesFulfilled() bool {
	return s.Stage.Code == SessionStageCodeDutiesFulfilled
}

// IsCompleted returns whether the session closed successfully.
func (s TradeSession) IsCompleted() bool {
	return s.Stage.Code == SessionStageCodeCompleted
}

// IsDisputed returns whether the session awaits a coordinator ruling.
func (s TradeSession) IsDisputed() bool {
	return s.Stage.Code == SessionStageCodeDisputed
}

// IsRefunded returns whether a ruling refunded the buyer.
func (s TradeSession) IsRefunded() bool {
	return s.Stage.Code == SessionStageCodeRefunded
}

// IsReleased returns whether a ruling released the token to the seller.
func (s TradeSession) IsReleased() bool {
	return s.Stage.Code == SessionStageCodeReleased
}

// IsExpired returns whether the session timed out without an outcome.
func (s TradeSession) IsExpired() bool {
	return s.Stage.Code == SessionStageCodeExpired
}

// IsTerminal returns whether no further operation is permitted.
func (s TradeSession) IsTerminal() bool {
	switch s.Stage.Code {
	case SessionStageCodeCompleted, SessionStageCodeRefunded,
		SessionStageCodeReleased, SessionStageCodeExpired:
		return true
	default:
		return false
	}
}
