package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/bootstrap"
)

func main() {
	app, err := bootstrap.NewApp()
	if err != nil {
		logrus.Fatalf("Failed to initialize whiteboard server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Start()
	app.Log.WithFields(logrus.Fields{
		"port":          app.Config.ServerPort,
		"store_backend": app.Config.StoreBackend,
	}).Info("Whiteboard server started")

	<-ctx.Done()
	app.Log.Info("Shutdown signal received...")
	app.Shutdown()
}
