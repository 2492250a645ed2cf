package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/circuitbreaker"
)

const (
	defaultMintAttempts  = 3
	defaultMintBaseDelay = 500 * time.Millisecond
)

// Service drives a single trade session through the escrow protocol:
// Registration, Token Exchange, Duty Fulfillment, terminal outcome. It
// exclusively owns its wallet and messaging collaborators for the
// session lifetime. Stage operations are strictly sequential and every
// suspension is bounded by a deadline derived from the contract time
// limit. Cancelling the context of a suspended operation aborts the
// session into the Disputed stage.
type Service struct {
	wallet      ports.WalletService
	messaging   ports.MessagingService
	repoManager ports.RepoManager

	session   *domain.TradeSession
	messenger *messenger
	token     *ports.Token
	breaker   *gobreaker.CircuitBreaker

	disputeCeilingFactor int
}

// NewService returns a service owning a fresh session in the Created
// stage for the given contract and role. A zero disputeCeilingFactor
// selects the default multiple of the contract time limit.
func NewService(
	contract domain.TradeContract, role domain.Role,
	walletSvc ports.WalletService, messagingSvc ports.MessagingService,
	repoManager ports.RepoManager, disputeCeilingFactor int,
) (*Service, error) {
	if walletSvc == nil {
		return nil, fmt.Errorf("missing wallet service")
	}
	if messagingSvc == nil {
		return nil, fmt.Errorf("missing messaging service")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if role != domain.RoleBuyer && role != domain.RoleSeller {
		return nil, fmt.Errorf("role must be either buyer or seller")
	}

	session, err := domain.NewTradeSession(contract, role)
	if err != nil {
		return nil, err
	}

	if err := repoManager.SessionRepository().AddSession(
		context.Background(), session,
	); err != nil {
		return nil, err
	}

	return &Service{
		wallet:               walletSvc,
		messaging:            messagingSvc,
		repoManager:          repoManager,
		session:              session,
		breaker:              circuitbreaker.NewCircuitBreaker("mint"),
		disputeCeilingFactor: disputeCeilingFactor,
	}, nil
}

// Session returns a snapshot of the current session state.
func (s *Service) Session() domain.TradeSession {
	return *s.session
}

// EscrowedToken returns the token held in escrow by this side, if any.
func (s *Service) EscrowedToken() *ports.Token {
	return s.token
}

// Dispute moves the session to the Disputed stage on the local party's
// initiative, for example when the delivered goods do not match the
// contract description. The dispute must then be escalated with
// ResolveDispute.
func (s *Service) Dispute(reason string) error {
	if err := s.session.Dispute(reason); err != nil {
		return err
	}
	s.persist(context.Background())
	log.WithField("reason", reason).Warnf(
		"%s disputed the session", s.session.Role,
	)
	return nil
}

// RegisterTrade publishes the signed contract to the counterparty and
// the coordinator, then suspends until the counterparty acknowledged
// the identical contract hash and the coordinator opened the escrow,
// or the contract time limit elapses. A mismatched hash disputes the
// session, a timeout expires it.
func (s *Service) RegisterTrade(ctx context.Context) error {
	if s.session.IsTerminal() {
		return domain.ErrSessionTerminal
	}
	if !s.session.IsCreated() {
		return domain.ErrStageAlreadyAdvanced
	}
	if err := s.ensureMessenger(ctx); err != nil {
		return err
	}

	contract := s.session.Contract
	hashHex := contract.HashHex()
	coordinator := contract.NostrIdentities.CoordinatorPubkey
	counterparty := contract.NostrIdentities.Counterparty(s.session.Role)

	submission := ContractSubmission{contract}
	for _, recipient := range []string{coordinator, counterparty} {
		if _, err := s.messenger.send(
			ctx, recipient, MsgKindContractSubmission, submission,
		); err != nil {
			return err
		}
	}
	s.session.AppendEvidence(
		MsgKindContractSubmission, s.messaging.PublicKey(),
		marshalMessage(submission), nil,
	)
	log.WithField("contract_hash", hashHex).Infof(
		"%s submitted contract for registration", s.session.Role,
	)

	var acked bool
	var registration *domain.EscrowRegistration
	started := time.Now()
	for !acked || registration == nil {
		env, err := s.messenger.await(
			ctx, contract.TimeLimit-time.Since(started),
			MsgKindContractSubmission, MsgKindRegistrationAck,
			MsgKindEscrowRegistration,
		)
		if err != nil {
			if errors.Is(err, domain.ErrDeadlineElapsed) {
				return s.expireSession(ctx, "registration")
			}
			if errors.Is(err, domain.ErrSessionAborted) {
				return s.abortSession()
			}
			return err
		}
		s.session.AppendEvidence(env.Kind, env.Sender, env.Payload, env.Signature)

		switch env.Kind {
		case MsgKindContractSubmission:
			if env.Sender != counterparty {
				continue
			}
			var msg ContractSubmission
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				continue
			}
			if theirHash := msg.Contract.HashHex(); theirHash != hashHex {
				return s.disputeMismatch(ctx, theirHash)
			}
			if _, err := s.messenger.send(
				ctx, counterparty, MsgKindRegistrationAck,
				RegistrationAck{hashHex},
			); err != nil {
				return err
			}
			acked = true
		case MsgKindRegistrationAck:
			if env.Sender != counterparty {
				continue
			}
			var msg RegistrationAck
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				continue
			}
			if msg.ContractHashHex != hashHex {
				return s.disputeMismatch(ctx, msg.ContractHashHex)
			}
			acked = true
		case MsgKindEscrowRegistration:
			if env.Sender != coordinator {
				continue
			}
			var reg domain.EscrowRegistration
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				continue
			}
			if reg.EscrowIdHex != hashHex {
				continue
			}
			registration = &reg
		}
	}

	if err := s.session.Register(hashHex, *registration); err != nil {
		return err
	}
	s.persist(ctx)
	log.WithField("contract_hash", hashHex).Infof(
		"%s registered trade", s.session.Role,
	)
	return nil
}

// ExchangeTradeToken advances a registered session through the token
// exchange. The buyer mints a token for exactly the contract amount,
// bound to the seller's token pubkey, and publishes it encrypted to the
// seller. The seller suspends until the token arrives and verifies it
// against the contract and its own mint before accepting.
func (s *Service) ExchangeTradeToken(ctx context.Context) error {
	if s.session.IsTerminal() {
		return domain.ErrSessionTerminal
	}
	if s.session.Stage.Code >= domain.SessionStageCodeTokenExchanged {
		return domain.ErrStageAlreadyAdvanced
	}
	if !s.session.IsRegistered() {
		return domain.ErrSessionMustBeRegistered
	}
	if !s.session.Contract.EcashIdentities.Complete() {
		return domain.ErrContractMissingEcashIdentities
	}
	if err := s.ensureMessenger(ctx); err != nil {
		return err
	}

	if s.session.Role == domain.RoleBuyer {
		return s.sendTradeToken(ctx)
	}
	return s.receiveTradeToken(ctx)
}

func (s *Service) sendTradeToken(ctx context.Context) error {
	contract := s.session.Contract
	lock := ports.TokenLock{
		LockedTo:    contract.EcashIdentities.SellerTokenPubkey,
		RefundTo:    contract.EcashIdentities.BuyerTokenPubkey,
		LockSeconds: uint64(contract.TimeLimit.Seconds()),
	}

	token, err := s.mintWithRetry(ctx, contract.Amount, lock)
	if err != nil {
		return s.failSession(ctx, err)
	}

	msg := TradeTokenMessage{contract.HashHex(), *token}
	if _, err := s.messenger.send(
		ctx, contract.NostrIdentities.SellerPubkey, MsgKindTradeToken, msg,
	); err != nil {
		return s.failSession(ctx, err)
	}
	s.session.AppendEvidence(
		MsgKindTradeToken, s.messaging.PublicKey(), marshalMessage(msg), nil,
	)

	s.token = token
	if err := s.session.ExchangeToken(token.Id); err != nil {
		return err
	}
	s.persist(ctx)
	log.WithField("token_id", token.Id).Info("buyer sent trade token to seller")
	return nil
}

func (s *Service) receiveTradeToken(ctx context.Context) error {
	contract := s.session.Contract
	started := time.Now()

	for {
		env, err := s.messenger.await(
			ctx, contract.TimeLimit-time.Since(started), MsgKindTradeToken,
		)
		if err != nil {
			if errors.Is(err, domain.ErrDeadlineElapsed) {
				return s.disputeTimeout(ctx, "trade token")
			}
			if errors.Is(err, domain.ErrSessionAborted) {
				return s.abortSession()
			}
			return err
		}
		s.session.AppendEvidence(env.Kind, env.Sender, env.Payload, env.Signature)

		if env.Sender != contract.NostrIdentities.BuyerPubkey {
			continue
		}
		var msg TradeTokenMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			continue
		}
		if msg.ContractHashHex != contract.HashHex() {
			continue
		}

		if err := s.verifyWithRetry(ctx, &msg.Token); err != nil {
			var invalidErr *domain.TokenInvalidError
			if errors.As(err, &invalidErr) {
				// the rejected token is already part of the evidence
				if derr := s.session.Dispute(invalidErr.Error()); derr != nil {
					return derr
				}
				s.persist(ctx)
				log.WithError(invalidErr).Warn("seller rejected trade token")
				return invalidErr
			}
			return s.failSession(ctx, err)
		}

		s.token = &msg.Token
		if err := s.session.ExchangeToken(msg.Token.Id); err != nil {
			return err
		}
		s.persist(ctx)
		log.WithField("token_id", msg.Token.Id).Info(
			"seller verified and escrowed trade token",
		)
		return nil
	}
}

// DoTradeDuties completes the trade. The seller publishes a delivery
// notice with the given proof, suspends until the buyer acknowledges,
// then redeems the escrowed token. The buyer suspends until the notice
// arrives and acknowledges it. A missing acknowledgement or notice
// disputes the session with the collected evidence.
func (s *Service) DoTradeDuties(ctx context.Context, deliveryProof string) error {
	if s.session.IsTerminal() {
		return domain.ErrSessionTerminal
	}
	if s.session.Stage.Code >= domain.SessionStageCodeDutiesFulfilled {
		return domain.ErrStageAlreadyAdvanced
	}
	if !s.session.IsTokenExchanged() {
		return domain.ErrSessionMustBeTokenExchanged
	}
	if err := s.ensureMessenger(ctx); err != nil {
		return err
	}

	if s.session.Role == domain.RoleSeller {
		return s.deliverAndRedeem(ctx, deliveryProof)
	}
	return s.awaitDeliveryAndAck(ctx)
}

func (s *Service) deliverAndRedeem(ctx context.Context, deliveryProof string) error {
	contract := s.session.Contract
	hashHex := contract.HashHex()

	notice := DeliveryNotice{hashHex, deliveryProof}
	if _, err := s.messenger.send(
		ctx, contract.NostrIdentities.BuyerPubkey, MsgKindDeliveryNotice, notice,
	); err != nil {
		return s.failSession(ctx, err)
	}
	s.session.AppendEvidence(
		MsgKindDeliveryNotice, s.messaging.PublicKey(), marshalMessage(notice), nil,
	)

	started := time.Now()
	for {
		env, err := s.messenger.await(
			ctx, contract.TimeLimit-time.Since(started), MsgKindDeliveryAck,
		)
		if err != nil {
			if errors.Is(err, domain.ErrDeadlineElapsed) {
				return s.disputeTimeout(ctx, "delivery acknowledgement")
			}
			if errors.Is(err, domain.ErrSessionAborted) {
				return s.abortSession()
			}
			return err
		}
		s.session.AppendEvidence(env.Kind, env.Sender, env.Payload, env.Signature)

		if env.Sender != contract.NostrIdentities.BuyerPubkey {
			continue
		}
		var ack DeliveryAck
		if err := json.Unmarshal(env.Payload, &ack); err != nil ||
			ack.ContractHashHex != hashHex {
			continue
		}
		break
	}

	if err := s.session.FulfillDuties(); err != nil {
		return err
	}
	s.persist(ctx)

	receipt, err := s.redeemWithRetry(ctx, s.token)
	if err != nil {
		return s.failSession(ctx, err)
	}
	if err := s.session.Complete(receipt.Id); err != nil {
		return err
	}
	s.persist(ctx)
	log.WithField("receipt_id", receipt.Id).Info(
		"seller redeemed escrowed token, trade completed",
	)
	return nil
}

func (s *Service) awaitDeliveryAndAck(ctx context.Context) error {
	contract := s.session.Contract
	hashHex := contract.HashHex()
	started := time.Now()

	for {
		env, err := s.messenger.await(
			ctx, contract.TimeLimit-time.Since(started), MsgKindDeliveryNotice,
		)
		if err != nil {
			if errors.Is(err, domain.ErrDeadlineElapsed) {
				return s.disputeTimeout(ctx, "delivery notice")
			}
			if errors.Is(err, domain.ErrSessionAborted) {
				return s.abortSession()
			}
			return err
		}
		s.session.AppendEvidence(env.Kind, env.Sender, env.Payload, env.Signature)

		if env.Sender != contract.NostrIdentities.SellerPubkey {
			continue
		}
		var notice DeliveryNotice
		if err := json.Unmarshal(env.Payload, &notice); err != nil ||
			notice.ContractHashHex != hashHex {
			continue
		}
		break
	}

	ack := DeliveryAck{hashHex}
	if _, err := s.messenger.send(
		ctx, contract.NostrIdentities.SellerPubkey, MsgKindDeliveryAck, ack,
	); err != nil {
		return s.failSession(ctx, err)
	}
	s.session.AppendEvidence(
		MsgKindDeliveryAck, s.messaging.PublicKey(), marshalMessage(ack), nil,
	)

	if err := s.session.FulfillDuties(); err != nil {
		return err
	}
	if err := s.session.Complete(""); err != nil {
		return err
	}
	s.persist(ctx)
	log.Info("buyer acknowledged delivery, trade completed")
	return nil
}

func (s *Service) ensureMessenger(ctx context.Context) error {
	if s.messenger != nil {
		return nil
	}
	m, err := newMessenger(ctx, s.messaging)
	if err != nil {
		return err
	}
	s.messenger = m
	return nil
}

func (s *Service) mintWithRetry(
	ctx context.Context, amount uint64, lock ports.TokenLock,
) (*ports.Token, error) {
	var token *ports.Token
	err := s.retryMintOp(ctx, func() error {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.wallet.Mint(ctx, amount, lock)
		})
		if err != nil {
			return err
		}
		token = res.(*ports.Token)
		return nil
	})
	return token, err
}

func (s *Service) redeemWithRetry(
	ctx context.Context, token *ports.Token,
) (*ports.Receipt, error) {
	var receipt *ports.Receipt
	err := s.retryMintOp(ctx, func() error {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.wallet.Redeem(ctx, token)
		})
		if err != nil {
			return err
		}
		receipt = res.(*ports.Receipt)
		return nil
	})
	return receipt, err
}

func (s *Service) verifyWithRetry(ctx context.Context, token *ports.Token) error {
	contract := s.session.Contract
	expectedLock := ports.TokenLock{
		LockedTo: contract.EcashIdentities.SellerTokenPubkey,
		RefundTo: contract.EcashIdentities.BuyerTokenPubkey,
	}
	return s.retryMintOp(ctx, func() error {
		return VerifyTradeToken(ctx, token, contract.Amount, expectedLock, s.wallet)
	})
}

// retryMintOp retries the given mint operation on transient mint
// failures only, with capped backoff.
func (s *Service) retryMintOp(ctx context.Context, op func() error) error {
	delay := defaultMintBaseDelay
	var lastErr error
	for attempt := 0; attempt < defaultMintAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return domain.ErrSessionAborted
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrMintUnreachable) &&
			!errors.Is(err, gobreaker.ErrOpenState) {
			return err
		}
		lastErr = err
		log.WithError(err).Warnf(
			"mint operation failed, attempt %d of %d", attempt+1, defaultMintAttempts,
		)
	}
	return lastErr
}

func (s *Service) disputeMismatch(ctx context.Context, theirHash string) error {
	// Register with a mismatching hash moves the session to Disputed.
	if err := s.session.Register(theirHash, domain.EscrowRegistration{}); err != nil &&
		!errors.Is(err, domain.ErrContractMismatch) {
		return err
	}
	s.persist(ctx)
	log.WithField("counterparty_hash", theirHash).Warn(
		"counterparty acknowledged a different contract, session disputed",
	)
	return domain.ErrContractMismatch
}

func (s *Service) disputeTimeout(ctx context.Context, what string) error {
	reason := fmt.Sprintf("timed out waiting for %s", what)
	if err := s.session.Dispute(reason); err != nil {
		return err
	}
	s.persist(ctx)
	log.Warnf("%s, session disputed", reason)
	return domain.ErrDeadlineElapsed
}

func (s *Service) expireSession(ctx context.Context, what string) error {
	if err := s.session.Expire(); err != nil {
		return err
	}
	s.persist(ctx)
	log.Warnf("timed out during %s, session expired", what)
	return domain.ErrDeadlineElapsed
}

// abortSession persists with a fresh context since the caller's one is
// already cancelled.
func (s *Service) abortSession() error {
	if err := s.session.Dispute(domain.ErrSessionAborted.Error()); err != nil {
		return err
	}
	s.persist(context.Background())
	log.Warn("session aborted, moved to disputed")
	return domain.ErrSessionAborted
}

func (s *Service) failSession(ctx context.Context, cause error) error {
	if err := s.session.Dispute(cause.Error()); err != nil {
		return err
	}
	s.persist(ctx)
	log.WithError(cause).Warn("session disputed")
	return cause
}

// persist stores a snapshot of the session for audit. Storage failures
// do not alter the protocol outcome.
func (s *Service) persist(ctx context.Context) {
	err := s.repoManager.SessionRepository().UpdateSession(
		ctx, s.session.Id,
		func(_ *domain.TradeSession) (*domain.TradeSession, error) {
			return s.session, nil
		},
	)
	if err != nil {
		log.WithError(err).Warn("failed to persist session snapshot")
	}
}
