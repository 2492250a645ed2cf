package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrowd/internal/config"
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "escrowd"
	app.Usage = "non-custodial ecash escrow over a pubsub messaging network"
	app.Commands = append(
		app.Commands,
		&buyerCmd,
		&sellerCmd,
		&coordinatorCmd,
		&relayCmd,
	)
	app.Before = func(_ *cli.Context) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}
