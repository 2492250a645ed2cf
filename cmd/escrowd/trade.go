package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrowd/internal/config"
	"github.com/escrow-network/escrowd/internal/core/application/escrow"
	"github.com/escrow-network/escrowd/internal/core/domain"
	msgrelay "github.com/escrow-network/escrowd/internal/infrastructure/messaging/relay"
	dbbadger "github.com/escrow-network/escrowd/internal/infrastructure/storage/db/badger"
	"github.com/escrow-network/escrowd/internal/infrastructure/wallet"
	"github.com/escrow-network/escrowd/pkg/keyring"
	"github.com/escrow-network/escrowd/pkg/stats"
)

var tradeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "privkey",
		Usage: "hex messaging private key, generated when omitted",
	},
	&cli.StringFlag{
		Name:  "trade-privkey",
		Usage: "hex one-time token private key, generated when omitted",
	},
	&cli.StringFlag{
		Name:     "description",
		Usage:    "what is being traded",
		Required: true,
	},
	&cli.Uint64Flag{
		Name:     "amount",
		Usage:    "trade amount in the smallest token unit",
		Required: true,
	},
	&cli.DurationFlag{
		Name:  "time-limit",
		Usage: "escrow time limit, defaults to the configured one",
	},
	&cli.StringFlag{
		Name:  "buyer-pubkey",
		Usage: "buyer messaging pubkey, derived from own key for the buyer",
	},
	&cli.StringFlag{
		Name:  "seller-pubkey",
		Usage: "seller messaging pubkey, derived from own key for the seller",
	},
	&cli.StringFlag{
		Name:     "coordinator-pubkey",
		Usage:    "coordinator messaging pubkey",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "buyer-token-pubkey",
		Usage: "buyer token pubkey, derived from own trade key for the buyer",
	},
	&cli.StringFlag{
		Name:  "seller-token-pubkey",
		Usage: "seller token pubkey, derived from own trade key for the seller",
	},
	&cli.StringFlag{
		Name:  "delivery-proof",
		Usage: "reference to the proof of delivery published by the seller",
	},
}

var buyerCmd = cli.Command{
	Name:  "buyer",
	Usage: "run one escrow trade as the buying party",
	Flags: tradeFlags,
	Action: func(ctx *cli.Context) error {
		return runTrade(ctx, domain.RoleBuyer)
	},
}

var sellerCmd = cli.Command{
	Name:  "seller",
	Usage: "run one escrow trade as the selling party",
	Flags: tradeFlags,
	Action: func(ctx *cli.Context) error {
		return runTrade(ctx, domain.RoleSeller)
	},
}

func runTrade(cliCtx *cli.Context, role domain.Role) error {
	keys, err := keysFromFlag(cliCtx.String("privkey"))
	if err != nil {
		return err
	}
	tradeKeys, err := keysFromFlag(cliCtx.String("trade-privkey"))
	if err != nil {
		return err
	}
	log.Infof("messaging pubkey: %s", keys.PublicKey())
	log.Infof("trade token pubkey: %s", tradeKeys.PublicKey())

	contract, err := contractFromFlags(cliCtx, role, keys, tradeKeys)
	if err != nil {
		return err
	}

	mint := wallet.NewMintAuthority(config.GetString(config.MintUrlKey))
	walletSvc, err := wallet.NewService(mint, tradeKeys)
	if err != nil {
		return err
	}
	if role == domain.RoleBuyer {
		// make sure there are enough funds to mint the trade token
		mint.Fund(tradeKeys.PublicKey(), contract.Amount)
	}

	messagingSvc, err := msgrelay.NewClient(
		config.GetString(config.RelayAddrKey), keys,
	)
	if err != nil {
		return err
	}
	defer messagingSvc.Close()

	repoManager, err := dbbadger.NewRepoManager(
		filepath.Join(config.GetDatadir(), config.DbLocation), nil,
	)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	svc, err := escrow.NewService(
		*contract, role, walletSvc, messagingSvc, repoManager,
		config.GetInt(config.DisputeCeilingFactorKey),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	stats.EnableMemoryStatistics(
		ctx, time.Duration(config.GetInt(config.StatsIntervalKey))*time.Second,
	)

	err = runPipeline(ctx, svc, cliCtx.String("delivery-proof"))
	session := svc.Session()
	if session.IsDisputed() {
		log.Warn("session disputed, waiting for coordinator ruling")
		err = svc.ResolveDispute(ctx)
		session = svc.Session()
	}

	outcome := outcomeLabel(session)
	stats.CountSessionOutcome(outcome)
	log.WithFields(log.Fields{
		"contract_hash": session.Contract.HashHex(),
		"outcome":       outcome,
	}).Info("trade finished")

	if err != nil && !errors.Is(err, domain.ErrSessionAborted) {
		return err
	}
	return nil
}

func runPipeline(
	ctx context.Context, svc *escrow.Service, deliveryProof string,
) error {
	if err := svc.RegisterTrade(ctx); err != nil {
		return err
	}
	if err := svc.ExchangeTradeToken(ctx); err != nil {
		return err
	}
	return svc.DoTradeDuties(ctx, deliveryProof)
}

func contractFromFlags(
	cliCtx *cli.Context, role domain.Role,
	keys, tradeKeys *keyring.Keyring,
) (*domain.TradeContract, error) {
	buyerPubkey := cliCtx.String("buyer-pubkey")
	sellerPubkey := cliCtx.String("seller-pubkey")
	buyerTokenPubkey := cliCtx.String("buyer-token-pubkey")
	sellerTokenPubkey := cliCtx.String("seller-token-pubkey")

	switch role {
	case domain.RoleBuyer:
		buyerPubkey = keys.PublicKey()
		buyerTokenPubkey = tradeKeys.PublicKey()
	case domain.RoleSeller:
		sellerPubkey = keys.PublicKey()
		sellerTokenPubkey = tradeKeys.PublicKey()
	}

	timeLimit := cliCtx.Duration("time-limit")
	if timeLimit <= 0 {
		timeLimit = config.GetDuration(config.TradeTimeLimitKey)
	}

	return domain.NewTradeContractFromFields(
		cliCtx.String("description"), cliCtx.Uint64("amount"),
		buyerPubkey, sellerPubkey, cliCtx.String("coordinator-pubkey"),
		timeLimit,
		buyerTokenPubkey, sellerTokenPubkey,
	)
}

func keysFromFlag(privkeyHex string) (*keyring.Keyring, error) {
	if len(privkeyHex) <= 0 {
		return keyring.New()
	}
	return keyring.FromHex(privkeyHex)
}

func outcomeLabel(session domain.TradeSession) string {
	switch {
	case session.IsCompleted():
		return "completed"
	case session.IsRefunded():
		return "refunded"
	case session.IsReleased():
		return "released"
	case session.IsExpired():
		return "expired"
	case session.IsDisputed():
		return "disputed"
	default:
		return fmt.Sprintf("stage_%d", session.Stage.Code)
	}
}
