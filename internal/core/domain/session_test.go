package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

func TestSessionRegister(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)

	err := session.Register(session.Contract.HashHex(), randomRegistration())
	require.NoError(t, err)
	require.True(t, session.IsRegistered())
	require.Greater(t, session.RegistrationTime, int64(0))

	// transitions fire exactly once
	err = session.Register(session.Contract.HashHex(), randomRegistration())
	require.EqualError(t, err, domain.ErrStageAlreadyAdvanced.Error())
	require.True(t, session.IsRegistered())
}

func TestFailingSessionRegister(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)
	otherContract := newTestContract(t)

	err := session.Register(otherContract.HashHex(), randomRegistration())
	require.EqualError(t, err, domain.ErrContractMismatch.Error())
	require.True(t, session.IsDisputed())
	require.Equal(t, domain.ErrContractMismatch.Error(), session.DisputeReason)
}

func TestSessionExchangeToken(t *testing.T) {
	t.Parallel()

	session := newSessionRegistered(t)

	err := session.ExchangeToken(randomId())
	require.NoError(t, err)
	require.True(t, session.IsTokenExchanged())
	require.NotEmpty(t, session.TokenRef)

	err = session.ExchangeToken(randomId())
	require.EqualError(t, err, domain.ErrStageAlreadyAdvanced.Error())
}

func TestFailingSessionExchangeToken(t *testing.T) {
	t.Parallel()

	t.Run("not_registered", func(t *testing.T) {
		t.Parallel()

		session := newSessionCreated(t)
		err := session.ExchangeToken(randomId())
		require.EqualError(t, err, domain.ErrSessionMustBeRegistered.Error())
	})

	t.Run("incomplete_ecash_identities", func(t *testing.T) {
		t.Parallel()

		contract, err := domain.NewTradeContract(
			"bitcoin at a premium", 5000, randomNostrIdentities(),
			72*time.Hour, domain.EcashIdentities{},
		)
		require.NoError(t, err)

		session, err := domain.NewTradeSession(*contract, domain.RoleBuyer)
		require.NoError(t, err)
		require.NoError(
			t, session.Register(contract.HashHex(), randomRegistration()),
		)

		err = session.ExchangeToken(randomId())
		require.EqualError(
			t, err, domain.ErrContractMissingEcashIdentities.Error(),
		)
		require.True(t, session.IsRegistered())
	})
}

func TestSessionSnapshotPredicates(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)

	// stage predicates must be callable on a copied snapshot, the way
	// callers read them off Service.Session()
	snapshot := func() domain.TradeSession { return *session }
	require.True(t, snapshot().IsCreated())
	require.False(t, snapshot().IsTerminal())

	require.NoError(
		t, session.Register(session.Contract.HashHex(), randomRegistration()),
	)
	require.True(t, snapshot().IsRegistered())
	require.False(t, snapshot().IsCreated())
}

func TestSessionPipeline(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)

	require.NoError(
		t, session.Register(session.Contract.HashHex(), randomRegistration()),
	)
	require.NoError(t, session.ExchangeToken(randomId()))
	require.NoError(t, session.FulfillDuties())
	require.NoError(t, session.Complete(randomId()))

	require.True(t, session.IsCompleted())
	require.True(t, session.IsTerminal())
	require.False(t, session.Stage.Failed)

	// no operation is permitted on a terminal session
	require.EqualError(
		t,
		session.Register(session.Contract.HashHex(), randomRegistration()),
		domain.ErrSessionTerminal.Error(),
	)
	require.EqualError(
		t, session.Dispute("too late"), domain.ErrSessionTerminal.Error(),
	)
	require.EqualError(t, session.Expire(), domain.ErrSessionTerminal.Error())
}

func TestFailingSessionComplete(t *testing.T) {
	t.Parallel()

	session := newSessionTokenExchanged(t)

	err := session.Complete(randomId())
	require.EqualError(t, err, domain.ErrSessionMustBeDutiesFulfilled.Error())
	require.True(t, session.IsTokenExchanged())
}

func TestSessionDisputeAndResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		outcome    domain.RulingOutcome
		isRefunded bool
	}{
		{
			name:       "refund_buyer",
			outcome:    domain.RulingRefund,
			isRefunded: true,
		},
		{
			name:       "release_to_seller",
			outcome:    domain.RulingRelease,
			isRefunded: false,
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session := newSessionTokenExchanged(t)

			err := session.Dispute("delivery never acknowledged")
			require.NoError(t, err)
			require.True(t, session.IsDisputed())
			require.True(t, session.Stage.Failed)

			err = session.Resolve(tt.outcome)
			require.NoError(t, err)
			require.True(t, session.IsTerminal())
			require.Equal(t, tt.isRefunded, session.IsRefunded())
			require.Equal(t, !tt.isRefunded, session.IsReleased())
			require.Equal(t, tt.outcome, session.RulingOutcome)
		})
	}
}

func TestFailingSessionResolve(t *testing.T) {
	t.Parallel()

	session := newSessionRegistered(t)

	err := session.Resolve(domain.RulingRefund)
	require.EqualError(t, err, domain.ErrSessionMustBeDisputed.Error())
	require.True(t, session.IsRegistered())
}

func TestSessionExpire(t *testing.T) {
	t.Parallel()

	t.Run("from_created", func(t *testing.T) {
		t.Parallel()

		session := newSessionCreated(t)
		require.NoError(t, session.Expire())
		require.True(t, session.IsExpired())
		require.True(t, session.Stage.Failed)
	})

	t.Run("from_disputed", func(t *testing.T) {
		t.Parallel()

		session := newSessionTokenExchanged(t)
		require.NoError(t, session.Dispute("ruling never arrived"))
		require.NoError(t, session.Expire())
		require.True(t, session.IsExpired())
	})

	t.Run("from_registered", func(t *testing.T) {
		t.Parallel()

		session := newSessionRegistered(t)
		err := session.Expire()
		require.EqualError(t, err, domain.ErrSessionNotExpirable.Error())
		require.True(t, session.IsRegistered())
	})
}

func TestSessionEvidenceOrdering(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)

	first := session.AppendEvidence(
		"contract-submission", randomHex(33), randomBytes(64), randomBytes(64),
	)
	second := session.AppendEvidence(
		"registration-ack", randomHex(33), randomBytes(64), randomBytes(64),
	)
	require.Equal(t, uint64(0), first.Seq)
	require.Equal(t, uint64(1), second.Seq)

	// the bundle orders by sequence number even if the raw slice does not
	session.Evidence[0], session.Evidence[1] = session.Evidence[1], session.Evidence[0]
	require.NoError(t, session.Dispute("counterparty vanished"))

	bundle := session.EvidenceBundle()
	require.Equal(t, session.Contract.HashHex(), bundle.ContractHashHex)
	require.Len(t, bundle.Evidence, 2)
	require.Equal(t, uint64(0), bundle.Evidence[0].Seq)
	require.Equal(t, uint64(1), bundle.Evidence[1].Seq)
}

func TestSessionDisputeCeiling(t *testing.T) {
	t.Parallel()

	session := newSessionCreated(t)

	require.Equal(t, 3*session.Contract.TimeLimit, session.DisputeCeiling(3))
	require.Equal(
		t,
		time.Duration(domain.DefaultDisputeCeilingFactor)*session.Contract.TimeLimit,
		session.DisputeCeiling(0),
	)
}

func newSessionCreated(t *testing.T) *domain.TradeSession {
	session, err := domain.NewTradeSession(*newTestContract(t), domain.RoleBuyer)
	require.NoError(t, err)
	return session
}

func newSessionRegistered(t *testing.T) *domain.TradeSession {
	session := newSessionCreated(t)
	err := session.Register(session.Contract.HashHex(), randomRegistration())
	require.NoError(t, err)
	return session
}

func newSessionTokenExchanged(t *testing.T) *domain.TradeSession {
	session := newSessionRegistered(t)
	require.NoError(t, session.ExchangeToken(randomId()))
	return session
}

func randomRegistration() domain.EscrowRegistration {
	return domain.EscrowRegistration{
		EscrowIdHex:          randomHex(32),
		CoordinatorEscrowKey: randomHex(33),
		EscrowStartTime:      time.Now().Unix(),
	}
}
