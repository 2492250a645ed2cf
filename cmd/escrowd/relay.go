package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrowd/internal/config"
	msgrelay "github.com/escrow-network/escrowd/internal/infrastructure/messaging/relay"
)

var relayCmd = cli.Command{
	Name:   "relay",
	Usage:  "run a standalone message relay",
	Action: runRelay,
}

func runRelay(_ *cli.Context) error {
	addr := config.GetString(config.RelayAddrKey)
	relay := msgrelay.NewServer(addr)

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("relay listening")
		errCh <- relay.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return relay.Shutdown(shutdownCtx)
}
