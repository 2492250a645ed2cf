package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/application/escrow"
	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

// Service is the escrow coordinator: the mutually trusted third party
// holding no funds in the happy path. It opens an escrow once both
// parties submitted byte-identical contracts, collects dispute evidence
// bundles and publishes signed rulings. The arbitration decision itself
// is taken by the operator through Rule, the service only provides the
// protocol plumbing around it.
type Service struct {
	messaging  ports.MessagingService
	signer     *keyring.Keyring
	feePercent decimal.Decimal

	lock     sync.Mutex
	pending  map[string]pendingContract
	active   map[string]*activeTrade
	disputes map[string][]domain.EvidenceBundle
}

type pendingContract struct {
	contract  domain.TradeContract
	submitter string
}

type activeTrade struct {
	contract  domain.TradeContract
	escrowKey *keyring.Keyring
	startTime int64
}

// NewService returns a coordinator identified by the given keyring. The
// messaging identity must match the signing key, otherwise parties
// could not verify rulings against the coordinator pubkey of their
// contracts.
func NewService(
	messagingSvc ports.MessagingService, signer *keyring.Keyring,
	feePercent decimal.Decimal,
) (*Service, error) {
	if messagingSvc == nil {
		return nil, fmt.Errorf("missing messaging service")
	}
	if signer == nil {
		return nil, fmt.Errorf("missing signing key")
	}
	if messagingSvc.PublicKey() != signer.PublicKey() {
		return nil, fmt.Errorf("messaging identity does not match signing key")
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("fee percent must be in range [0, 100]")
	}

	return &Service{
		messaging:  messagingSvc,
		signer:     signer,
		feePercent: feePercent,
		pending:    make(map[string]pendingContract),
		active:     make(map[string]*activeTrade),
		disputes:   make(map[string][]domain.EvidenceBundle),
	}, nil
}

// Run consumes the messaging subscription until the context is
// cancelled or the transport closes.
func (s *Service) Run(ctx context.Context) error {
	events, err := s.messaging.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.WithField("pubkey", s.messaging.PublicKey()).Info("coordinator running")

	for {
		select {
		case env, ok := <-events:
			if !ok {
				return fmt.Errorf("messaging subscription closed, stopping coordinator")
			}
			s.handleEnvelope(ctx, env)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) handleEnvelope(ctx context.Context, env ports.Envelope) {
	switch env.Kind {
	case escrow.MsgKindContractSubmission:
		s.handleSubmission(ctx, env)
	case escrow.MsgKindDispute:
		s.handleDispute(env)
	}
}

func (s *Service) handleSubmission(ctx context.Context, env ports.Envelope) {
	var msg escrow.ContractSubmission
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.WithError(err).Debug("dropping malformed contract submission")
		return
	}
	contract := msg.Contract
	if env.Sender != contract.NostrIdentities.BuyerPubkey &&
		env.Sender != contract.NostrIdentities.SellerPubkey {
		log.Debug("dropping contract submission from unrelated identity")
		return
	}

	hashHex := contract.HashHex()

	s.lock.Lock()
	defer s.lock.Unlock()

	if trade, ok := s.active[hashHex]; ok {
		// at-least-once delivery, resend the registration to the sender
		s.sendRegistration(ctx, trade, hashHex, env.Sender)
		return
	}

	p, ok := s.pending[hashHex]
	if !ok {
		s.pending[hashHex] = pendingContract{contract, env.Sender}
		log.WithField("contract_hash", hashHex).Debug("received first contract submission")
		return
	}
	if p.submitter == env.Sender {
		return
	}

	// both parties submitted the identical contract, open the escrow
	delete(s.pending, hashHex)
	escrowKey, err := keyring.New()
	if err != nil {
		log.WithError(err).Error("failed to generate escrow key")
		return
	}
	trade := &activeTrade{
		contract:  contract,
		escrowKey: escrowKey,
		startTime: time.Now().Unix(),
	}
	s.active[hashHex] = trade

	log.WithFields(log.Fields{
		"contract_hash": hashHex,
		"amount":        contract.Amount,
		"fee":           s.FeeFor(contract.Amount),
	}).Info("escrow opened")

	for _, recipient := range []string{
		contract.NostrIdentities.BuyerPubkey,
		contract.NostrIdentities.SellerPubkey,
	} {
		s.sendRegistration(ctx, trade, hashHex, recipient)
	}
}

func (s *Service) sendRegistration(
	ctx context.Context, trade *activeTrade, hashHex, recipient string,
) {
	registration := domain.EscrowRegistration{
		EscrowIdHex:          hashHex,
		CoordinatorEscrowKey: trade.escrowKey.PublicKey(),
		EscrowStartTime:      trade.startTime,
	}
	payload, _ := json.Marshal(registration)
	if _, err := s.messaging.Publish(
		ctx, recipient, escrow.MsgKindEscrowRegistration, payload,
	); err != nil {
		log.WithError(err).Warn("failed to publish escrow registration")
	}
}

func (s *Service) handleDispute(env ports.Envelope) {
	var msg escrow.DisputeSubmission
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.WithError(err).Debug("dropping malformed dispute submission")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	hashHex := msg.Bundle.ContractHashHex
	s.disputes[hashHex] = append(s.disputes[hashHex], msg.Bundle)
	log.WithFields(log.Fields{
		"contract_hash":  hashHex,
		"role":           msg.Bundle.Role.String(),
		"evidence_count": len(msg.Bundle.Evidence),
	}).Warn("dispute evidence received")
}

// Disputes returns the evidence bundles collected for a contract hash.
func (s *Service) Disputes(hashHex string) []domain.EvidenceBundle {
	s.lock.Lock()
	defer s.lock.Unlock()
	bundles := make([]domain.EvidenceBundle, len(s.disputes[hashHex]))
	copy(bundles, s.disputes[hashHex])
	return bundles
}

// Rule publishes a signed ruling for a known trade to both parties.
// Arbitration authority rests here: the operator inspects the evidence
// and authorizes the release to one party or the refund to the other.
func (s *Service) Rule(
	ctx context.Context, hashHex string,
	outcome domain.RulingOutcome, recipientPubkey string,
) error {
	s.lock.Lock()
	trade, ok := s.active[hashHex]
	s.lock.Unlock()
	if !ok {
		return fmt.Errorf("unknown trade %s", hashHex)
	}

	ruling := domain.Ruling{
		ContractHashHex: hashHex,
		Outcome:         outcome,
		RecipientPubkey: recipientPubkey,
	}
	sig, err := s.signer.Sign(ruling.SigningDigest())
	if err != nil {
		return err
	}
	ruling.Signature = sig

	payload, _ := json.Marshal(ruling)
	for _, recipient := range []string{
		trade.contract.NostrIdentities.BuyerPubkey,
		trade.contract.NostrIdentities.SellerPubkey,
	} {
		if _, err := s.messaging.Publish(
			ctx, recipient, escrow.MsgKindRuling, payload,
		); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"contract_hash": hashHex,
		"outcome":       outcome.String(),
	}).Info("ruling published")
	return nil
}

// FeeFor returns the coordinator fee for the given trade amount in the
// smallest token unit, rounded down.
func (s *Service) FeeFor(amount uint64) uint64 {
	fee := decimal.NewFromInt(int64(amount)).
		Mul(s.feePercent).
		Div(decimal.NewFromInt(100))
	return uint64(fee.IntPart())
}
