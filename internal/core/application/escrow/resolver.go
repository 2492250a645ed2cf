package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

// ResolveDispute escalates a disputed session to the coordinator and
// suspends until a signed ruling arrives or the dispute ceiling (a
// configurable multiple of the contract time limit) elapses. The
// resolver never decides the outcome locally: it only assembles the
// evidence deterministically, publishes it with bounded retries and
// applies the coordinator's verdict, or expires the session when no
// ruling arrives in time.
func (s *Service) ResolveDispute(ctx context.Context) error {
	if !s.session.IsDisputed() {
		if s.session.IsTerminal() {
			return domain.ErrSessionTerminal
		}
		return domain.ErrSessionMustBeDisputed
	}
	if err := s.ensureMessenger(ctx); err != nil {
		return err
	}

	contract := s.session.Contract
	coordinator := contract.NostrIdentities.CoordinatorPubkey
	bundle := s.session.EvidenceBundle()

	submission := DisputeSubmission{bundle}
	if _, err := s.messenger.send(
		ctx, coordinator, MsgKindDispute, submission,
	); err != nil {
		return err
	}
	s.session.AppendEvidence(
		MsgKindDispute, s.messaging.PublicKey(), marshalMessage(submission), nil,
	)
	s.persist(ctx)
	log.WithField("evidence_count", len(bundle.Evidence)).Infof(
		"%s escalated dispute to coordinator", s.session.Role,
	)

	ceiling := s.session.DisputeCeiling(s.disputeCeilingFactor)
	started := time.Now()
	for {
		env, err := s.messenger.await(
			ctx, ceiling-time.Since(started), MsgKindRuling,
		)
		if err != nil {
			if errors.Is(err, domain.ErrDeadlineElapsed) {
				if xerr := s.session.Expire(); xerr != nil {
					return xerr
				}
				s.persist(ctx)
				log.Warn("no coordinator ruling within the dispute ceiling, session expired")
				return domain.ErrDeadlineElapsed
			}
			return err
		}
		s.session.AppendEvidence(env.Kind, env.Sender, env.Payload, env.Signature)

		if env.Sender != coordinator {
			continue
		}
		var ruling domain.Ruling
		if err := json.Unmarshal(env.Payload, &ruling); err != nil {
			continue
		}
		if ruling.ContractHashHex != contract.HashHex() {
			continue
		}
		if !keyring.Verify(coordinator, ruling.SigningDigest(), ruling.Signature) {
			log.Warn("dropping ruling with invalid coordinator signature")
			continue
		}

		if err := s.session.Resolve(ruling.Outcome); err != nil {
			return err
		}
		s.persist(ctx)
		log.WithField("outcome", ruling.Outcome.String()).Info(
			"coordinator ruling applied, dispute resolved",
		)
		return nil
	}
}
