package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/kestrelwallet/kestreld/internal/config"
)

// kestreld hosts the recovery core of the kestrel wallet: it keeps the
// persisted recovery attempt reconciled against the coordination service
// and exposes the state machine to the embedding application. The hardware
// transport and the UI surface are supplied by the host.
func main() {
	app := &cli.App{
		Name:    "kestreld",
		Usage:   "kestrel wallet recovery daemon",
		Flags:   config.Flags,
		Action:  run,
		Version: version,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.Debugf("config: %s", cfg)

	repo, err := cfg.RepoManager()
	if err != nil {
		return err
	}
	defer repo.Close()

	syncer, err := cfg.StatusSyncer()
	if err != nil {
		return err
	}
	if err := syncer.Start(); err != nil {
		return err
	}
	defer syncer.Stop()

	go func() {
		for event := range syncer.Events() {
			log.Infof(
				"recovery status changed: %s (attempt %s)",
				event.Type, event.Attempt.Id,
			)
		}
	}()

	log.Infof("kestreld started for account %s", cfg.AccountId)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	return nil
}
