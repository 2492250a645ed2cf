package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/escrow-network/escrowd/internal/config"
	"github.com/escrow-network/escrowd/internal/core/application/coordinator"
	msgrelay "github.com/escrow-network/escrowd/internal/infrastructure/messaging/relay"
)

var coordinatorCmd = cli.Command{
	Name:  "coordinator",
	Usage: "run the escrow coordinator",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "privkey",
			Usage: "hex coordinator private key, generated when omitted",
		},
		&cli.BoolFlag{
			Name:  "with-relay",
			Usage: "serve an embedded relay alongside the coordinator",
		},
	},
	Action: runCoordinator,
}

func runCoordinator(cliCtx *cli.Context) error {
	keys, err := keysFromFlag(cliCtx.String("privkey"))
	if err != nil {
		return err
	}
	log.Infof("coordinator pubkey: %s", keys.PublicKey())

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cliCtx.Bool("with-relay") {
		// bind before connecting the coordinator client so the relay is
		// guaranteed reachable
		ln, err := net.Listen("tcp", config.GetString(config.RelayAddrKey))
		if err != nil {
			return err
		}
		relay := msgrelay.NewServer(ln.Addr().String())
		g.Go(func() error {
			if err := relay.Serve(ln); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second,
			)
			defer cancel()
			return relay.Shutdown(shutdownCtx)
		})
	}

	messagingSvc, err := msgrelay.NewClient(
		config.GetString(config.RelayAddrKey), keys,
	)
	if err != nil {
		return err
	}
	defer messagingSvc.Close()

	feePercent := decimal.NewFromFloat(
		config.GetFloat(config.CoordinatorFeePercentKey),
	)
	svc, err := coordinator.NewService(messagingSvc, keys, feePercent)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return svc.Run(ctx)
	})
	return g.Wait()
}
