package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"courier-driver-agent/auth"
	"courier-driver-agent/config"
	"courier-driver-agent/core"
	"courier-driver-agent/location"
	"courier-driver-agent/shipments/api"
	"courier-driver-agent/shipments/tasklist"
	"courier-driver-agent/store"
	"courier-driver-agent/workers/tasks"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := core.NewLogger(*cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}

	session := auth.NewSession(cfg.Identity, logger)
	client := api.NewClient(cfg.APIURL(), session, logger)

	gpsd := location.NewGpsdSource(cfg.GpsdAddress, logger)
	defer gpsd.Close()
	source := location.NewPolledSource(gpsd.Reader(), time.Second, logger)

	// The broadcast session starts the moment a refresh resolves the driver
	// identity and stays up until sign-out or shutdown. Start is idempotent,
	// so every refresh may hand the identity over again.
	var list *tasklist.List
	broadcast := location.NewSession(location.Options{
		RealtimeURL:    cfg.RealtimeURL(),
		ConnectTimeout: cfg.ConnectTimeout,
	}, location.WebsocketDialer{}, source, func() (string, bool) {
		return list.ActiveTrackingNumber()
	}, logger)

	list = tasklist.NewList(client, st, logger, func(driverID string) {
		if !session.SignedIn() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := broadcast.Start(ctx, driverID); err != nil {
			logger.Warn("Could not start location broadcast", zap.Error(err))
		}
	})
	defer list.Close()

	// Sign-out clears the driver identity, so the broadcast stops with it.
	session.OnSignOut(broadcast.Stop)

	orchestrator := core.NewOrchestrator([]core.Worker{
		tasks.NewWorker(logger, list, st, client),
	})

	c, err := orchestrator.Start(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	defer c.Stop()
	defer broadcast.Stop()

	logger.Info("Courier driver agent started")

	// Wait for termination signal to exit gracefully
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
