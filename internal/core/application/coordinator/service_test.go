package coordinator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/application/coordinator"
	"github.com/escrow-network/escrowd/internal/core/application/escrow"
	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	msginmemory "github.com/escrow-network/escrowd/internal/infrastructure/messaging/inmemory"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

func TestCoordinatorOpensEscrow(t *testing.T) {
	t.Parallel()

	bed := newCoordinatorBed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bed.start(t, ctx)

	buyerEvents := bed.subscribe(t, ctx, bed.buyerClient)
	sellerEvents := bed.subscribe(t, ctx, bed.sellerClient)

	// the first submission alone must not open the escrow
	bed.submitContract(t, ctx, bed.buyerClient)
	requireNoEnvelope(t, buyerEvents)

	// a replay from the same party must not either
	bed.submitContract(t, ctx, bed.buyerClient)
	requireNoEnvelope(t, buyerEvents)

	// the counterparty submission opens the escrow for both
	bed.submitContract(t, ctx, bed.sellerClient)
	buyerReg := requireRegistration(t, buyerEvents, bed.contract.HashHex())
	sellerReg := requireRegistration(t, sellerEvents, bed.contract.HashHex())
	require.Equal(t, buyerReg.CoordinatorEscrowKey, sellerReg.CoordinatorEscrowKey)
	require.NotEmpty(t, buyerReg.CoordinatorEscrowKey)

	// late or duplicated submissions get the registration resent
	bed.submitContract(t, ctx, bed.buyerClient)
	lateReg := requireRegistration(t, buyerEvents, bed.contract.HashHex())
	require.Equal(t, buyerReg.CoordinatorEscrowKey, lateReg.CoordinatorEscrowKey)
}

func TestCoordinatorIgnoresUnrelatedSubmitter(t *testing.T) {
	t.Parallel()

	bed := newCoordinatorBed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bed.start(t, ctx)

	buyerEvents := bed.subscribe(t, ctx, bed.buyerClient)

	strangerKeys, err := keyring.New()
	require.NoError(t, err)
	strangerClient := bed.relay.NewClient(strangerKeys)

	bed.submitContract(t, ctx, bed.buyerClient)
	// a submission from an identity outside the contract must not count
	bed.submitContract(t, ctx, strangerClient)
	requireNoEnvelope(t, buyerEvents)
}

func TestCoordinatorRuling(t *testing.T) {
	t.Parallel()

	bed := newCoordinatorBed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bed.start(t, ctx)

	buyerEvents := bed.subscribe(t, ctx, bed.buyerClient)
	sellerEvents := bed.subscribe(t, ctx, bed.sellerClient)

	bed.submitContract(t, ctx, bed.buyerClient)
	bed.submitContract(t, ctx, bed.sellerClient)
	requireRegistration(t, buyerEvents, bed.contract.HashHex())
	requireRegistration(t, sellerEvents, bed.contract.HashHex())

	// evidence arrives from the disputing party
	session, err := domain.NewTradeSession(bed.contract, domain.RoleBuyer)
	require.NoError(t, err)
	require.NoError(t, session.Dispute("goods never shipped"))
	payload, _ := json.Marshal(escrow.DisputeSubmission{
		Bundle: session.EvidenceBundle(),
	})
	_, err = bed.buyerClient.Publish(
		ctx, bed.coordinatorKeys.PublicKey(), escrow.MsgKindDispute, payload,
	)
	require.NoError(t, err)

	hashHex := bed.contract.HashHex()
	require.Eventually(t, func() bool {
		return len(bed.svc.Disputes(hashHex)) > 0
	}, 5*time.Second, 50*time.Millisecond)

	err = bed.svc.Rule(
		ctx, hashHex, domain.RulingRefund,
		bed.contract.EcashIdentities.BuyerTokenPubkey,
	)
	require.NoError(t, err)

	// both parties receive the identical ruling, verifiable against the
	// coordinator pubkey of the contract
	for _, events := range []<-chan ports.Envelope{buyerEvents, sellerEvents} {
		env := requireEnvelope(t, events, escrow.MsgKindRuling)

		var ruling domain.Ruling
		require.NoError(t, json.Unmarshal(env.Payload, &ruling))
		require.Equal(t, hashHex, ruling.ContractHashHex)
		require.Equal(t, domain.RulingRefund, ruling.Outcome)
		require.True(t, keyring.Verify(
			bed.coordinatorKeys.PublicKey(), ruling.SigningDigest(), ruling.Signature,
		))
	}
}

func TestFailingCoordinatorRuling(t *testing.T) {
	t.Parallel()

	bed := newCoordinatorBed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := bed.svc.Rule(
		ctx, bed.contract.HashHex(), domain.RulingRefund,
		bed.contract.EcashIdentities.BuyerTokenPubkey,
	)
	require.Error(t, err)
}

func TestFailingNewCoordinatorService(t *testing.T) {
	t.Parallel()

	relay := msginmemory.NewRelay()
	keys, err := keyring.New()
	require.NoError(t, err)
	otherKeys, err := keyring.New()
	require.NoError(t, err)

	t.Run("mismatching_identity", func(t *testing.T) {
		svc, err := coordinator.NewService(
			relay.NewClient(otherKeys), keys, decimal.Zero,
		)
		require.Error(t, err)
		require.Nil(t, svc)
	})

	t.Run("fee_out_of_range", func(t *testing.T) {
		svc, err := coordinator.NewService(
			relay.NewClient(keys), keys, decimal.NewFromInt(101),
		)
		require.Error(t, err)
		require.Nil(t, svc)
	})
}

func TestCoordinatorFeeFor(t *testing.T) {
	t.Parallel()

	relay := msginmemory.NewRelay()
	keys, err := keyring.New()
	require.NoError(t, err)

	svc, err := coordinator.NewService(
		relay.NewClient(keys), keys, decimal.NewFromFloat(1.5),
	)
	require.NoError(t, err)

	require.Equal(t, uint64(75), svc.FeeFor(5000))
	// rounded down to the smallest unit
	require.Equal(t, uint64(1), svc.FeeFor(99))
	require.Equal(t, uint64(0), svc.FeeFor(10))
}

type coordinatorBed struct {
	relay *msginmemory.Relay
	svc   *coordinator.Service

	contract domain.TradeContract

	coordinatorKeys *keyring.Keyring
	buyerClient     ports.MessagingService
	sellerClient    ports.MessagingService
}

func newCoordinatorBed(t *testing.T) *coordinatorBed {
	relay := msginmemory.NewRelay()

	coordinatorKeys, err := keyring.New()
	require.NoError(t, err)
	buyerKeys, err := keyring.New()
	require.NoError(t, err)
	sellerKeys, err := keyring.New()
	require.NoError(t, err)

	contract, err := domain.NewTradeContractFromFields(
		"bitcoin at a premium", 5000,
		buyerKeys.PublicKey(), sellerKeys.PublicKey(),
		coordinatorKeys.PublicKey(), 72*time.Hour,
		randomTokenPubkey(t), randomTokenPubkey(t),
	)
	require.NoError(t, err)

	svc, err := coordinator.NewService(
		relay.NewClient(coordinatorKeys), coordinatorKeys, decimal.Zero,
	)
	require.NoError(t, err)

	return &coordinatorBed{
		relay:           relay,
		svc:             svc,
		contract:        *contract,
		coordinatorKeys: coordinatorKeys,
		buyerClient:     relay.NewClient(buyerKeys),
		sellerClient:    relay.NewClient(sellerKeys),
	}
}

func (b *coordinatorBed) start(t *testing.T, ctx context.Context) {
	go func() {
		if err := b.svc.Run(ctx); err != nil {
			t.Logf("coordinator stopped: %s", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
}

func (b *coordinatorBed) subscribe(
	t *testing.T, ctx context.Context, client ports.MessagingService,
) <-chan ports.Envelope {
	events, err := client.Subscribe(ctx)
	require.NoError(t, err)
	return events
}

func (b *coordinatorBed) submitContract(
	t *testing.T, ctx context.Context, client ports.MessagingService,
) {
	payload, _ := json.Marshal(escrow.ContractSubmission{Contract: b.contract})
	_, err := client.Publish(
		ctx, b.coordinatorKeys.PublicKey(),
		escrow.MsgKindContractSubmission, payload,
	)
	require.NoError(t, err)
}

func requireEnvelope(
	t *testing.T, events <-chan ports.Envelope, kind string,
) ports.Envelope {
	select {
	case env := <-events:
		require.Equal(t, kind, env.Kind)
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s envelope received in time", kind)
		return ports.Envelope{}
	}
}

func requireRegistration(
	t *testing.T, events <-chan ports.Envelope, hashHex string,
) domain.EscrowRegistration {
	env := requireEnvelope(t, events, escrow.MsgKindEscrowRegistration)

	var registration domain.EscrowRegistration
	require.NoError(t, json.Unmarshal(env.Payload, &registration))
	require.Equal(t, hashHex, registration.EscrowIdHex)
	return registration
}

func requireNoEnvelope(t *testing.T, events <-chan ports.Envelope) {
	select {
	case env := <-events:
		t.Fatalf("unexpected %s envelope", env.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func randomTokenPubkey(t *testing.T) string {
	keys, err := keyring.New()
	require.NoError(t, err)
	return keys.PublicKey()
}
